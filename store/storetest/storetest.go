// Package storetest is a conformance suite for store.Store implementations.
// Every case creates its own IDs and names, so a suite can run against a
// database that already holds data.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// Factory returns a migrated, empty-or-shared store. The suite does not
// close it.
type Factory func(t *testing.T) store.Store

// Run runs every conformance case against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"RollsBackOnError", testRollback},
		{"UniqueChargePeriod", testUniquePeriod},
		{"ChargePaymentCompareAndSwap", testChargeCAS},
		{"AccountVersion", testAccountVersion},
		{"TransactionsNewestFirst", testTransactionOrder},
		{"Catalog", testCatalog},
		{"ListBillable", testListBillable},
		{"ListCharges", testListCharges},
		{"ListAllCharges", testListAllCharges},
		{"AllTransactionsNewestFirst", testAllTransactions},
		{"OverrideInUnit", testOverrideInUnit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var epoch = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	student *student.Student
	account *account.Account
	head    *fee.Head
}

func seed(t *testing.T, s store.Store) fixture {
	t.Helper()
	ctx := context.Background()

	head := &fee.Head{
		Entity:    types.NewEntity(epoch),
		ID:        id.NewFeeHeadID(),
		Name:      "Tuition " + id.NewFeeHeadID().Suffix(),
		Frequency: fee.FrequencyMonthly,
	}
	if err := s.CreateFeeHead(ctx, head); err != nil {
		t.Fatal(err)
	}

	stu := &student.Student{
		Entity:  types.NewEntity(epoch),
		ID:      id.NewStudentID(),
		ClassID: id.NewClassID(),
		Name:    "Asha",
		Status:  student.StatusActive,
	}
	acct := &account.Account{
		Entity:    types.NewEntity(epoch),
		ID:        id.NewAccountID(),
		StudentID: stu.ID,
		Balance:   types.Zero("inr"),
	}
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateStudent(ctx, stu); err != nil {
			return err
		}
		return tx.CreateAccount(ctx, acct)
	})
	if err != nil {
		t.Fatal(err)
	}
	return fixture{student: stu, account: acct, head: head}
}

func (f fixture) charge(period string, month int) *charge.Charge {
	return &charge.Charge{
		Entity:      types.NewEntity(epoch),
		ID:          id.NewChargeID(),
		StudentID:   f.student.ID,
		FeeHeadID:   f.head.ID,
		FeeHeadName: f.head.Name,
		Frequency:   fee.FrequencyMonthly,
		Amount:      types.New(2000, "inr"),
		PaidAmount:  types.Zero("inr"),
		Status:      charge.StatusPending,
		Period:      period,
		Month:       month,
		Year:        2025,
		DueDate:     time.Date(2025, time.Month(month), 10, 0, 0, 0, 0, time.UTC),
	}
}

func debit(a *account.Account, amount int64) *account.Transaction {
	return &account.Transaction{
		ID:          id.NewTxnID(),
		AccountID:   a.ID,
		Amount:      types.New(amount, "inr"),
		Type:        account.TxDebit,
		Description: "test",
		CreatedAt:   epoch,
	}
}

func insert(t *testing.T, s store.Store, c *charge.Charge) error {
	t.Helper()
	return s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCharge(ctx, c)
	})
}

func testRollback(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertCharge(ctx, f.charge("2025-03", 3)); err != nil {
			return err
		}
		a, err := tx.LockAccount(ctx, f.account.ID)
		if err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, a, debit(a, 2000)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	got, err := s.GetAccount(ctx, f.account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance.Amount != 0 || got.Version != 0 {
		t.Fatalf("balance = %d version = %d after rollback", got.Balance.Amount, got.Version)
	}
	cs, err := s.ListCharges(ctx, f.student.ID, charge.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 0 {
		t.Fatalf("charges = %d after rollback", len(cs))
	}
	txns, err := s.ListTransactions(ctx, f.account.ID, account.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 0 {
		t.Fatalf("transactions = %d after rollback", len(txns))
	}
}

func testUniquePeriod(t *testing.T, s store.Store) {
	f := seed(t, s)

	if err := insert(t, s, f.charge("2025-03", 3)); err != nil {
		t.Fatal(err)
	}
	if err := insert(t, s, f.charge("2025-03", 3)); !errors.Is(err, bursar.ErrDuplicateCharge) {
		t.Fatalf("err = %v, want ErrDuplicateCharge", err)
	}
	if err := insert(t, s, f.charge("2025-04", 4)); err != nil {
		t.Fatal(err)
	}

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		exists, err := tx.ChargeExists(ctx, f.student.ID, f.head.ID, "2025-03")
		if err != nil {
			return err
		}
		if !exists {
			t.Error("ChargeExists = false for an inserted period")
		}
		exists, err = tx.ChargeExists(ctx, f.student.ID, f.head.ID, "2025-05")
		if err != nil {
			return err
		}
		if exists {
			t.Error("ChargeExists = true for an empty period")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testChargeCAS(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()
	c := f.charge("2025-03", 3)
	if err := insert(t, s, c); err != nil {
		t.Fatal(err)
	}

	pay := func(expected, paid int64) error {
		return s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			next := *c
			next.PaidAmount = types.New(paid, "inr")
			next.Status = charge.StatusFor(next.PaidAmount, next.Amount)
			return tx.UpdateChargePayment(ctx, &next, expected)
		})
	}
	if err := pay(0, 500); err != nil {
		t.Fatal(err)
	}
	if err := pay(0, 700); !errors.Is(err, bursar.ErrConcurrencyConflict) {
		t.Fatalf("stale write err = %v, want ErrConcurrencyConflict", err)
	}

	got, err := s.GetCharge(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaidAmount.Amount != 500 || got.Status != charge.StatusPartiallyPaid {
		t.Fatalf("paid = %d status = %s", got.PaidAmount.Amount, got.Status)
	}
	if got.Period != "2025-03" || got.Month != 3 || got.Year != 2025 {
		t.Fatalf("period = %s month = %d year = %d", got.Period, got.Month, got.Year)
	}
	if got.DueDate.Day() != 10 {
		t.Fatalf("due = %s", got.DueDate)
	}
}

func testAccountVersion(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()

	stale := *f.account
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAccount(ctx, f.account.ID)
		if err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, a, debit(a, 100)); err != nil {
			return err
		}
		if a.Balance.Amount != 100 || a.Version != 1 {
			t.Errorf("in-place update: balance = %d version = %d", a.Balance.Amount, a.Version)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AppendTransaction(ctx, &stale, debit(&stale, 100))
	})
	if !errors.Is(err, bursar.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want ErrConcurrencyConflict", err)
	}

	got, err := s.GetAccount(ctx, f.account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance.Amount != 100 || got.Version != 1 {
		t.Fatalf("balance = %d version = %d", got.Balance.Amount, got.Version)
	}
}

func testTransactionOrder(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()

	var ids []id.TxnID
	for _, amount := range []int64{100, 200, 300} {
		err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			a, err := tx.LockAccountByStudent(ctx, f.student.ID)
			if err != nil {
				return err
			}
			txn := debit(a, amount)
			ids = append(ids, txn.ID)
			return tx.AppendTransaction(ctx, a, txn)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	txns, err := s.ListTransactions(ctx, f.account.ID, account.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 3 {
		t.Fatalf("transactions = %d", len(txns))
	}
	for i, txn := range txns {
		if txn.ID != ids[len(ids)-1-i] {
			t.Fatalf("transaction %d = %s, want newest first", i, txn.ID)
		}
	}
	if got := account.Replay("inr", txns); got.Amount != 600 {
		t.Fatalf("replay = %d", got.Amount)
	}

	paged, err := s.ListTransactions(ctx, f.account.ID, account.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != ids[1] {
		t.Fatalf("paged = %+v", paged)
	}
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	classID := id.NewClassID()
	name := "Transport " + id.NewFeeHeadID().Suffix()

	head := &fee.Head{Entity: types.NewEntity(epoch), ID: id.NewFeeHeadID(), Name: name, Frequency: fee.FrequencyMonthly}
	if err := s.CreateFeeHead(ctx, head); err != nil {
		t.Fatal(err)
	}
	dupName := &fee.Head{Entity: types.NewEntity(epoch), ID: id.NewFeeHeadID(), Name: name, Frequency: fee.FrequencyMonthly}
	if err := s.CreateFeeHead(ctx, dupName); !errors.Is(err, bursar.ErrAlreadyExists) {
		t.Fatalf("duplicate name err = %v", err)
	}
	if _, err := s.GetFeeHead(ctx, id.NewFeeHeadID()); !errors.Is(err, bursar.ErrFeeHeadNotFound) {
		t.Fatalf("missing head err = %v", err)
	}

	fs := &fee.Structure{Entity: types.NewEntity(epoch), ID: id.NewStructureID(), ClassID: classID, FeeHeadID: head.ID, Amount: types.New(2000, "inr"), DueDay: "10"}
	if err := s.CreateStructure(ctx, fs); err != nil {
		t.Fatal(err)
	}
	dup := &fee.Structure{Entity: types.NewEntity(epoch), ID: id.NewStructureID(), ClassID: classID, FeeHeadID: head.ID, Amount: types.New(1, "inr")}
	if err := s.CreateStructure(ctx, dup); !errors.Is(err, bursar.ErrAlreadyExists) {
		t.Fatalf("duplicate structure err = %v", err)
	}
	orphan := &fee.Structure{Entity: types.NewEntity(epoch), ID: id.NewStructureID(), ClassID: classID, FeeHeadID: id.NewFeeHeadID(), Amount: types.New(1, "inr")}
	if err := s.CreateStructure(ctx, orphan); !errors.Is(err, bursar.ErrFeeHeadNotFound) {
		t.Fatalf("orphan structure err = %v", err)
	}

	structures, err := s.ListStructures(ctx, fee.ListOpts{ClassID: classID})
	if err != nil {
		t.Fatal(err)
	}
	if len(structures) != 1 || structures[0].DueDay != "10" || structures[0].Amount.Amount != 2000 {
		t.Fatalf("structures = %+v", structures)
	}

	stuID := id.NewStudentID()
	o := &fee.Override{Entity: types.NewEntity(epoch), ID: id.NewOverrideID(), StudentID: stuID, FeeHeadID: head.ID, Amount: types.New(1500, "inr")}
	if err := s.SetOverride(ctx, o); err != nil {
		t.Fatal(err)
	}
	firstID := o.ID
	o2 := &fee.Override{Entity: types.NewEntity(epoch.Add(time.Hour)), ID: id.NewOverrideID(), StudentID: stuID, FeeHeadID: head.ID, Amount: types.New(1200, "inr")}
	if err := s.SetOverride(ctx, o2); err != nil {
		t.Fatal(err)
	}
	if o2.ID != firstID {
		t.Error("override upsert should keep the original ID")
	}
	ovs, err := s.ListOverrides(ctx, stuID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ovs) != 1 || ovs[0].Amount.Amount != 1200 {
		t.Fatalf("overrides = %+v", ovs)
	}
	if err := s.DeleteOverride(ctx, stuID, id.NewFeeHeadID()); !errors.Is(err, bursar.ErrOverrideNotFound) {
		t.Fatalf("delete missing override err = %v", err)
	}

	if err := s.DeleteFeeHead(ctx, head.ID); err != nil {
		t.Fatal(err)
	}
	structures, err = s.ListStructures(ctx, fee.ListOpts{ClassID: classID})
	if err != nil {
		t.Fatal(err)
	}
	if len(structures) != 0 {
		t.Fatalf("structures = %d after head delete", len(structures))
	}
	ovs, err = s.ListOverrides(ctx, stuID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ovs) != 0 {
		t.Fatalf("overrides = %d after head delete", len(ovs))
	}
	if err := s.DeleteFeeHead(ctx, head.ID); !errors.Is(err, bursar.ErrFeeHeadNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func testListBillable(t *testing.T, s store.Store) {
	ctx := context.Background()

	statuses := []student.Status{student.StatusActive, student.StatusInactive, student.StatusActive, student.StatusGraduated}
	created := make(map[id.StudentID]student.Status, len(statuses))
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, st := range statuses {
			stu := &student.Student{Entity: types.NewEntity(epoch), ID: id.NewStudentID(), ClassID: id.NewClassID(), Status: st}
			if err := tx.CreateStudent(ctx, stu); err != nil {
				return err
			}
			created[stu.ID] = st
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	billable, err := s.ListBillable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for studentID, st := range created {
		if got := slices.Contains(billable, studentID); got != (st == student.StatusActive) {
			t.Errorf("student with status %s billable = %v", st, got)
		}
	}
}

func testListCharges(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()

	for month := 1; month <= 4; month++ {
		period := charge.PeriodKey(fee.FrequencyMonthly, time.Month(month), 2025)
		if err := insert(t, s, f.charge(period, month)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListCharges(ctx, f.student.ID, charge.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Month != 4 || all[3].Month != 1 {
		t.Fatalf("charges not newest first: %d", len(all))
	}

	march, err := s.ListCharges(ctx, f.student.ID, charge.ListOpts{Month: 3, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if len(march) != 1 || march[0].Period != "2025-03" {
		t.Fatalf("march = %+v", march)
	}

	paged, err := s.ListCharges(ctx, f.student.ID, charge.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 2 || paged[0].Month != 3 {
		t.Fatalf("paged = %d", len(paged))
	}

	used, err := s.HeadInUse(ctx, f.head.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !used {
		t.Error("HeadInUse = false with charges")
	}
	if err := s.DeleteFeeHead(ctx, f.head.ID); !errors.Is(err, bursar.ErrFeeHeadInUse) {
		t.Fatalf("delete head with charges err = %v, want ErrFeeHeadInUse", err)
	}
	if _, err := s.GetFeeHead(ctx, f.head.ID); err != nil {
		t.Fatalf("head gone after refused delete: %v", err)
	}
}

func testListAllCharges(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()

	classmate := &student.Student{Entity: types.NewEntity(epoch), ID: id.NewStudentID(), ClassID: f.student.ClassID, Name: "Ravi", Status: student.StatusActive}
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateStudent(ctx, classmate)
	})
	if err != nil {
		t.Fatal(err)
	}
	for month := 1; month <= 3; month++ {
		period := charge.PeriodKey(fee.FrequencyMonthly, time.Month(month), 2025)
		if err := insert(t, s, f.charge(period, month)); err != nil {
			t.Fatal(err)
		}
	}
	theirs := f.charge("2025-02", 2)
	theirs.StudentID = classmate.ID
	if err := insert(t, s, theirs); err != nil {
		t.Fatal(err)
	}

	// On 10 February the January charge is overdue and February's is due today.
	asOf := time.Date(2025, time.February, 10, 15, 0, 0, 0, time.UTC)
	class := f.student.ClassID

	tests := []struct {
		name      string
		opts      charge.FeeListOpts
		wantLen   int
		wantTotal int
	}{
		{"class", charge.FeeListOpts{ClassID: class}, 4, 4},
		{"student in class", charge.FeeListOpts{ClassID: class, StudentID: classmate.ID}, 1, 1},
		{"month", charge.FeeListOpts{ClassID: class, Month: 2, Year: 2025}, 2, 2},
		{"stored pending", charge.FeeListOpts{ClassID: class, Status: charge.StatusPending}, 4, 4},
		{"pending as of", charge.FeeListOpts{ClassID: class, Status: charge.StatusPending, AsOf: asOf}, 3, 3},
		{"overdue as of", charge.FeeListOpts{ClassID: class, Status: charge.StatusOverdue, AsOf: asOf}, 1, 1},
		{"paid", charge.FeeListOpts{ClassID: class, Status: charge.StatusPaid, AsOf: asOf}, 0, 0},
		{"page", charge.FeeListOpts{ClassID: class, Limit: 2, Offset: 1}, 2, 4},
		{"past the end", charge.FeeListOpts{ClassID: class, Offset: 10}, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListAllCharges(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.wantLen || total != tt.wantTotal {
				t.Fatalf("len = %d total = %d, want %d and %d", len(got), total, tt.wantLen, tt.wantTotal)
			}
			for i := 1; i < len(got); i++ {
				if charge.Day(got[i].DueDate).Before(charge.Day(got[i-1].DueDate)) {
					t.Fatalf("charge %d due before charge %d", i, i-1)
				}
			}
		})
	}

	overdue, _, err := s.ListAllCharges(ctx, charge.FeeListOpts{ClassID: class, Status: charge.StatusOverdue, AsOf: asOf})
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 1 || overdue[0].Month != 1 {
		t.Fatalf("overdue month = %d, want 1", overdue[0].Month)
	}
}

func testAllTransactions(t *testing.T, s store.Store) {
	first := seed(t, s)
	second := seed(t, s)
	ctx := context.Background()

	// Later than anything an earlier case wrote, so these lead the list.
	at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	var ids []id.TxnID
	for i, f := range []fixture{first, second, first} {
		err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			a, err := tx.LockAccount(ctx, f.account.ID)
			if err != nil {
				return err
			}
			txn := debit(a, 100)
			txn.CreatedAt = at.Add(time.Duration(i) * time.Second)
			ids = append(ids, txn.ID)
			return tx.AppendTransaction(ctx, a, txn)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	txns, err := s.ListAllTransactions(ctx, account.ListOpts{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 3 {
		t.Fatalf("transactions = %d", len(txns))
	}
	for i, txn := range txns {
		if txn.ID != ids[len(ids)-1-i] {
			t.Fatalf("transaction %d = %s, want newest first", i, txn.ID)
		}
	}
	if txns[1].AccountID != second.account.ID {
		t.Fatalf("middle transaction account = %s", txns[1].AccountID)
	}

	paged, err := s.ListAllTransactions(ctx, account.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != ids[1] {
		t.Fatalf("paged = %+v", paged)
	}
}

func testOverrideInUnit(t *testing.T, s store.Store) {
	f := seed(t, s)
	ctx := context.Background()
	errAbort := errors.New("abort")

	override := func() *fee.Override {
		return &fee.Override{Entity: types.NewEntity(epoch), ID: id.NewOverrideID(), StudentID: f.student.ID, FeeHeadID: f.head.ID, Amount: types.New(700, "inr")}
	}

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetOverride(ctx, override()); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("err = %v, want abort", err)
	}
	ovs, err := s.ListOverrides(ctx, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ovs) != 0 {
		t.Fatalf("overrides = %d after rollback", len(ovs))
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetOverride(ctx, override()); err != nil {
			return err
		}
		inUnit, err := tx.ListOverrides(ctx, f.student.ID)
		if err != nil {
			return err
		}
		if len(inUnit) != 1 {
			t.Errorf("overrides seen in unit = %d", len(inUnit))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ovs, err = s.ListOverrides(ctx, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ovs) != 1 || ovs[0].Amount.Amount != 700 {
		t.Fatalf("overrides = %+v", ovs)
	}
}
