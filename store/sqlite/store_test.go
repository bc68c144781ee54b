package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/sqlite"
	"github.com/xraph/bursar/store/storetest"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "bursar.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return open(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := open(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// The engine end to end on SQLite: enrollment, a payment and a clean audit.
func TestEngineOnSQLite(t *testing.T) {
	ctx := context.Background()
	b := bursar.New(open(t),
		bursar.WithClock(func() time.Time { return time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC) }),
	)

	head, err := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Admission", Frequency: fee.FrequencyOneTime})
	if err != nil {
		t.Fatal(err)
	}
	classID := id.NewClassID()
	if _, err := b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: classID, FeeHeadID: head.ID, Amount: 5000}); err != nil {
		t.Fatal(err)
	}
	enr, err := b.Enroll(ctx, bursar.EnrollInput{Name: "Asha", ClassID: classID})
	if err != nil {
		t.Fatal(err)
	}
	if enr.Account.Balance.Amount != 5000 || len(enr.Generation.Charges) != 1 {
		t.Fatalf("balance = %d charges = %d", enr.Account.Balance.Amount, len(enr.Generation.Charges))
	}

	res, err := b.PayFee(ctx, bursar.PaymentInput{ChargeID: enr.Generation.Charges[0].ID, Amount: 2000})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Remaining.Amount != 3000 {
		t.Fatalf("payment = %+v", res)
	}

	v, err := b.VerifyAccount(ctx, enr.Account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Consistent || v.Stored.Amount != 3000 {
		t.Fatalf("verification = %+v", v)
	}
}
