package bursar_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/types"
)

// TestDocumentationExamples verifies that the package documentation flow works.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		store := memory.New()

		b := bursar.New(store,
			bursar.WithLogger(slog.Default()),
			bursar.WithCurrency("inr"),
			bursar.WithClock(func() time.Time { return time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC) }),
		)

		ctx := context.Background()
		if err := b.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer b.Stop()

		admission, err := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Admission", Frequency: fee.FrequencyOneTime})
		if err != nil {
			t.Fatal(err)
		}
		tuition, err := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Tuition", Frequency: fee.FrequencyMonthly})
		if err != nil {
			t.Fatal(err)
		}

		classID := id.NewClassID()
		for _, in := range []bursar.FeeStructureInput{
			{ClassID: classID, FeeHeadID: admission.ID, Amount: 500000},
			{ClassID: classID, FeeHeadID: tuition.ID, Amount: 200000, DueDay: "10"},
		} {
			if _, err := b.CreateFeeStructure(ctx, in); err != nil {
				t.Fatal(err)
			}
		}

		e, err := b.Enroll(ctx, bursar.EnrollInput{ClassID: classID, Name: "Asha"})
		if err != nil {
			t.Fatal(err)
		}
		if e.Generation.ChargesCreated != 2 {
			t.Fatalf("charges = %d, want 2", e.Generation.ChargesCreated)
		}

		charges, err := b.ListCharges(ctx, e.Student.ID, charge.ListOpts{FeeHeadID: tuition.ID})
		if err != nil {
			t.Fatal(err)
		}

		res, err := b.PayFee(ctx, bursar.PaymentInput{ChargeID: charges[0].ID, Amount: 100000})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success {
			t.Fatalf("payment rejected: %v", res.Rejection)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		m1 := types.New(100, "inr")
		m2 := types.New(200, "inr")
		if got := m1.Add(m2); got.Amount != 300 {
			t.Fatalf("Add = %d", got.Amount)
		}
		if !m1.LessThan(m2) {
			t.Fatal("expected m1 < m2")
		}
		if got := m1.FormatMajor(); got != "1.00" {
			t.Fatalf("FormatMajor = %q", got)
		}
	})
}
