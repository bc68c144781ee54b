package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/observability"
	"github.com/xraph/bursar/store/memory"
)

func TestMetricsFollowBilling(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	ext := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	b := bursar.New(memory.New(), bursar.WithPlugin(ext))
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	classID := id.NewClassID()
	admission, err := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Admission", Frequency: fee.FrequencyOneTime})
	if err != nil {
		t.Fatal(err)
	}
	tuition, err := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Tuition", Frequency: fee.FrequencyMonthly})
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []bursar.FeeStructureInput{
		{ClassID: classID, FeeHeadID: admission.ID, Amount: 5000},
		{ClassID: classID, FeeHeadID: tuition.ID, Amount: 2000, DueDay: "10"},
	} {
		if _, err := b.CreateFeeStructure(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	e, err := b.Enroll(ctx, bursar.EnrollInput{ClassID: classID, Name: "Asha", Month: 3, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	cs, err := b.ListCharges(ctx, e.Student.ID, charge.ListOpts{FeeHeadID: admission.ID})
	if err != nil || len(cs) != 1 {
		t.Fatalf("admission charge: %v, %d", err, len(cs))
	}

	if res, err := b.PayFee(ctx, bursar.PaymentInput{ChargeID: cs[0].ID, Amount: 5000}); err != nil || !res.Success {
		t.Fatalf("pay: %v, %+v", err, res)
	}
	if res, err := b.PayFee(ctx, bursar.PaymentInput{ChargeID: cs[0].ID, Amount: 1}); err != nil || res.Success {
		t.Fatalf("overpay: %v, %+v", err, res)
	}

	tests := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"enrolled", ext.StudentsEnrolled, 1},
		{"generations", ext.GenerationsCommitted, 1},
		{"charges", ext.ChargesCreated, 2},
		{"billed", ext.AmountBilled, 7000},
		{"applied", ext.PaymentsApplied, 1},
		{"rejected", ext.PaymentsRejected, 1},
		{"settled", ext.ChargesSettled, 1},
		{"collected", ext.AmountCollected, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testutil.ToFloat64(tt.c.(prometheus.Counter))
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("bursar.charge.created")
	if again := f.Counter("bursar.charge.created"); again != c {
		t.Error("same name should return the same counter")
	}
	c.Inc()

	// A second factory on the same registry shares the collector.
	other := observability.NewPrometheusFactory(reg).Counter("bursar.charge.created")
	other.Inc()

	n, err := testutil.GatherAndCount(reg, "bursar_charge_created")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(c.(prometheus.Counter)); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
}
