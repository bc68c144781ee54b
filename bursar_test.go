package bursar_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/student"
)

type fixture struct {
	b         *bursar.Bursar
	store     *memory.Store
	now       atomic.Pointer[time.Time]
	classID   id.ClassID
	admission *fee.Head
	tuition   *fee.Head
}

func (f *fixture) setNow(t time.Time) { f.now.Store(&t) }

// newFixture builds a class with one one-time head (5000) and one monthly
// head (2000, due on the 10th), with the clock on 1 March 2025.
func newFixture(t *testing.T, opts ...bursar.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{store: memory.New(), classID: id.NewClassID()}
	f.setNow(time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))

	opts = append([]bursar.Option{
		bursar.WithClock(func() time.Time { return *f.now.Load() }),
		bursar.WithRetry(10, time.Millisecond),
	}, opts...)
	f.b = bursar.New(f.store, opts...)
	if err := f.b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.b.Stop() })

	var err error
	f.admission, err = f.b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Admission", Frequency: fee.FrequencyOneTime})
	if err != nil {
		t.Fatal(err)
	}
	f.tuition, err = f.b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Tuition", Frequency: fee.FrequencyMonthly})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: f.classID, FeeHeadID: f.admission.ID, Amount: 5000}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: f.classID, FeeHeadID: f.tuition.ID, Amount: 2000, DueDay: "10"}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) enroll(t *testing.T) *bursar.Enrollment {
	t.Helper()
	e, err := f.b.Enroll(context.Background(), bursar.EnrollInput{ClassID: f.classID, Name: "Asha", Month: 3, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func (f *fixture) chargeFor(t *testing.T, studentID id.StudentID, headID id.FeeHeadID) *charge.Charge {
	t.Helper()
	cs, err := f.b.ListCharges(context.Background(), studentID, charge.ListOpts{FeeHeadID: headID})
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 {
		t.Fatalf("charges for head = %d, want 1", len(cs))
	}
	return cs[0]
}

func (f *fixture) balance(t *testing.T, studentID id.StudentID) int64 {
	t.Helper()
	a, err := f.b.GetStudentAccount(context.Background(), studentID)
	if err != nil {
		t.Fatal(err)
	}
	return a.Balance.Amount
}

func (f *fixture) assertConsistent(t *testing.T, studentID id.StudentID) {
	t.Helper()
	a, err := f.b.GetStudentAccount(context.Background(), studentID)
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.b.VerifyAccount(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Consistent {
		t.Fatalf("balance %s, transactions imply %s", v.Stored, v.Computed)
	}
}

func TestAdmissionThenPartialPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enroll(t)
	if e.Generation.ChargesCreated != 2 {
		t.Fatalf("charges created = %d, want 2", e.Generation.ChargesCreated)
	}
	if got := f.balance(t, e.Student.ID); got != 7000 {
		t.Fatalf("balance = %d, want 7000", got)
	}
	if e.Generation.Transaction == nil || e.Generation.Transaction.Amount.Amount != 7000 {
		t.Fatalf("expected one aggregated debit of 7000, got %+v", e.Generation.Transaction)
	}
	if e.Generation.Transaction.Description != "Fee Generation for Admission" {
		t.Errorf("description = %q", e.Generation.Transaction.Description)
	}

	tuition := f.chargeFor(t, e.Student.ID, f.tuition.ID)
	res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: tuition.ID, Amount: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("payment rejected: %v", res.Rejection)
	}
	if res.NewStatus != charge.StatusPartiallyPaid {
		t.Errorf("status = %s, want partially_paid", res.NewStatus)
	}
	if res.PaidAmount.Amount != 1000 || res.Remaining.Amount != 1000 {
		t.Errorf("paid = %d remaining = %d", res.PaidAmount.Amount, res.Remaining.Amount)
	}
	if got := f.balance(t, e.Student.ID); got != 6000 {
		t.Fatalf("balance = %d, want 6000", got)
	}
	if res.Transaction.ChargeID != tuition.ID {
		t.Errorf("credit not linked to charge")
	}
	if res.Transaction.Description != "Payment for Tuition (03/2025)" {
		t.Errorf("description = %q", res.Transaction.Description)
	}
	f.assertConsistent(t, e.Student.ID)
}

func TestPeriodicRerunCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	tuition := f.chargeFor(t, e.Student.ID, f.tuition.ID)
	if _, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: tuition.ID, Amount: 1000}); err != nil {
		t.Fatal(err)
	}

	res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerPeriodic, Month: 3, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChargesCreated != 0 || res.Transaction != nil {
		t.Fatalf("rerun created %d charges, txn %v", res.ChargesCreated, res.Transaction)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != f.tuition.ID {
		t.Errorf("skipped = %v", res.Skipped)
	}
	if got := f.balance(t, e.Student.ID); got != 6000 {
		t.Fatalf("balance = %d, want 6000", got)
	}
}

func TestOverpaymentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	tuition := f.chargeFor(t, e.Student.ID, f.tuition.ID)
	if _, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: tuition.ID, Amount: 1000}); err != nil {
		t.Fatal(err)
	}

	res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: tuition.ID, Amount: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejection == nil {
		t.Fatal("expected rejection")
	}
	if res.Rejection.Code != bursar.RejectAmountExceedsRemaining {
		t.Errorf("code = %s", res.Rejection.Code)
	}
	if res.Rejection.Remaining == nil || res.Rejection.Remaining.Amount != 1000 {
		t.Errorf("remaining = %v", res.Rejection.Remaining)
	}
	if _, ok := bursar.IsRejection(res.Err()); !ok {
		t.Error("Err() should unwrap to a rejection")
	}

	if got := f.balance(t, e.Student.ID); got != 6000 {
		t.Fatalf("balance = %d, want 6000", got)
	}
	after := f.chargeFor(t, e.Student.ID, f.tuition.ID)
	if after.PaidAmount.Amount != 1000 || after.Status != charge.StatusPartiallyPaid {
		t.Fatalf("charge changed: paid %d status %s", after.PaidAmount.Amount, after.Status)
	}
}

func TestPaymentStatusLaw(t *testing.T) {
	tests := []struct {
		name   string
		pays   []int64
		status charge.Status
		paid   int64
	}{
		{"exact remaining", []int64{2000}, charge.StatusPaid, 2000},
		{"partial", []int64{1}, charge.StatusPartiallyPaid, 1},
		{"partial then settle", []int64{500, 1500}, charge.StatusPaid, 2000},
		{"two partials", []int64{500, 500}, charge.StatusPartiallyPaid, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			e := f.enroll(t)
			c := f.chargeFor(t, e.Student.ID, f.tuition.ID)

			var last *bursar.PaymentResult
			for _, amt := range tt.pays {
				res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: c.ID, Amount: amt})
				if err != nil {
					t.Fatal(err)
				}
				if !res.Success {
					t.Fatalf("rejected: %v", res.Rejection)
				}
				last = res
			}
			if last.NewStatus != tt.status {
				t.Errorf("status = %s, want %s", last.NewStatus, tt.status)
			}
			if last.PaidAmount.Amount != tt.paid {
				t.Errorf("paid = %d, want %d", last.PaidAmount.Amount, tt.paid)
			}
			f.assertConsistent(t, e.Student.ID)
		})
	}
}

func TestPaymentRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)
	c := f.chargeFor(t, e.Student.ID, f.tuition.ID)

	tests := []struct {
		name string
		in   bursar.PaymentInput
		code bursar.RejectionCode
	}{
		{"unknown charge", bursar.PaymentInput{ChargeID: id.NewChargeID(), Amount: 100}, bursar.RejectFeeNotFound},
		{"zero amount", bursar.PaymentInput{ChargeID: c.ID, Amount: 0}, bursar.RejectInvalidAmount},
		{"negative amount", bursar.PaymentInput{ChargeID: c.ID, Amount: -5}, bursar.RejectInvalidAmount},
		{"over remaining", bursar.PaymentInput{ChargeID: c.ID, Amount: 2001}, bursar.RejectAmountExceedsRemaining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.b.PayFee(ctx, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if res.Success {
				t.Fatal("expected rejection")
			}
			if res.Rejection.Code != tt.code {
				t.Errorf("code = %s, want %s", res.Rejection.Code, tt.code)
			}
		})
	}

	if got := f.balance(t, e.Student.ID); got != 7000 {
		t.Fatalf("balance = %d, want 7000", got)
	}
}

func TestPaymentAccountMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A charge whose student has no account can only come from data written
	// outside the engine.
	stuID := id.NewStudentID()
	if err := f.store.UpsertStudent(ctx, &student.Student{ID: stuID, ClassID: f.classID, Name: "Ravi", Status: student.StatusActive}); err != nil {
		t.Fatal(err)
	}
	orphan := &charge.Charge{
		ID:         id.NewChargeID(),
		StudentID:  stuID,
		FeeHeadID:  f.tuition.ID,
		Frequency:  fee.FrequencyMonthly,
		Amount:     bursar.NewMoney(2000, "inr"),
		PaidAmount: bursar.Zero("inr"),
		Status:     charge.StatusPending,
		Period:     "2025-03",
	}
	err := f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCharge(ctx, orphan)
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: orphan.ID, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejection.Code != bursar.RejectAccountMissing {
		t.Fatalf("result = %+v", res)
	}
	after, err := f.b.GetCharge(ctx, orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.PaidAmount.Amount != 0 {
		t.Fatalf("paid = %d, want 0", after.PaidAmount.Amount)
	}
}

func TestAdmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	for range 2 {
		res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerAdmission, Month: 3, Year: 2025})
		if err != nil {
			t.Fatal(err)
		}
		if res.ChargesCreated != 0 {
			t.Fatalf("second admission created %d charges", res.ChargesCreated)
		}
	}

	// One-time heads are never charged again, whatever the month.
	res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerAdmission, Month: 4, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChargesCreated != 1 || res.Charges[0].FeeHeadID != f.tuition.ID {
		t.Fatalf("April admission: %d charges", res.ChargesCreated)
	}

	txns, err := f.b.ListTransactions(ctx, e.Account.ID, account.ListOpts{Type: account.TxDebit})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 2 {
		t.Fatalf("debits = %d, want 2", len(txns))
	}
	f.assertConsistent(t, e.Student.ID)
}

func TestPeriodicGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerPeriodic, Month: 4, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChargesCreated != 1 {
		t.Fatalf("charges = %d, want 1", res.ChargesCreated)
	}
	c := res.Charges[0]
	if c.Period != "2025-04" || c.Month != 4 || c.Year != 2025 {
		t.Errorf("period = %s month = %d year = %d", c.Period, c.Month, c.Year)
	}
	if want := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC); !c.DueDate.Equal(want) {
		t.Errorf("due = %s, want %s", c.DueDate, want)
	}
	if res.Transaction.Description != "Fee Generation for 04/2025" {
		t.Errorf("description = %q", res.Transaction.Description)
	}
	if got := f.balance(t, e.Student.ID); got != 9000 {
		t.Fatalf("balance = %d, want 9000", got)
	}
}

func TestGenerateDefaultsToCurrentMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	f.setNow(time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC))
	res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerPeriodic})
	if err != nil {
		t.Fatal(err)
	}
	if res.Month != time.June || res.Year != 2025 || res.ChargesCreated != 1 {
		t.Fatalf("generated %d for %d/%d", res.ChargesCreated, res.Month, res.Year)
	}
}

func TestGenerateNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: id.NewStudentID(), Trigger: bursar.TriggerPeriodic})
	if !errors.Is(err, bursar.ErrStudentNotFound) {
		t.Fatalf("err = %v, want ErrStudentNotFound", err)
	}

	stuID := id.NewStudentID()
	if err := f.store.UpsertStudent(ctx, &student.Student{ID: stuID, ClassID: f.classID, Name: "No Account", Status: student.StatusActive}); err != nil {
		t.Fatal(err)
	}
	_, err = f.b.Generate(ctx, bursar.GenerateInput{StudentID: stuID, Trigger: bursar.TriggerPeriodic})
	if !errors.Is(err, bursar.ErrAccountNotFound) || !bursar.IsNotFound(err) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   bursar.GenerateInput
	}{
		{"missing student", bursar.GenerateInput{Trigger: bursar.TriggerPeriodic}},
		{"unknown trigger", bursar.GenerateInput{StudentID: id.NewStudentID(), Trigger: "weekly"}},
		{"month too large", bursar.GenerateInput{StudentID: id.NewStudentID(), Trigger: bursar.TriggerPeriodic, Month: 13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.b.Generate(ctx, tt.in)
			if !errors.Is(err, bursar.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestOverrideReplacesStructureAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	if _, err := f.b.SetOverride(ctx, bursar.OverrideInput{StudentID: e.Student.ID, FeeHeadID: f.tuition.ID, Amount: 1500}); err != nil {
		t.Fatal(err)
	}
	lines, err := f.b.Resolve(ctx, e.Student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	for _, l := range lines {
		switch l.FeeHeadID {
		case f.tuition.ID:
			if l.Amount.Amount != 1500 || !l.Overridden {
				t.Errorf("tuition line = %+v", l)
			}
		case f.admission.ID:
			if l.Amount.Amount != 5000 || l.Overridden {
				t.Errorf("admission line = %+v", l)
			}
		}
	}

	res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerPeriodic, Month: 4, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if res.Transaction.Amount.Amount != 1500 {
		t.Fatalf("debit = %d, want 1500", res.Transaction.Amount.Amount)
	}

	if err := f.b.RemoveOverride(ctx, e.Student.ID, f.tuition.ID); err != nil {
		t.Fatal(err)
	}
	lines, _ = f.b.Resolve(ctx, e.Student.ID)
	for _, l := range lines {
		if l.FeeHeadID == f.tuition.ID && l.Overridden {
			t.Error("override still applied after removal")
		}
	}
}

func TestResolveUnknownStudent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.b.Resolve(context.Background(), id.NewStudentID()); !bursar.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)
	c := f.chargeFor(t, e.Student.ID, f.tuition.ID)

	const workers = 10
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		applied   atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: c.ID, Amount: 300})
			if err != nil {
				t.Error(err)
				return
			}
			if res.Success {
				succeeded.Add(1)
				applied.Add(300)
			}
		}()
	}
	wg.Wait()

	if applied.Load() > 2000 {
		t.Fatalf("applied %d to a charge of 2000", applied.Load())
	}
	if succeeded.Load() != 6 {
		t.Errorf("succeeded = %d, want 6", succeeded.Load())
	}
	after := f.chargeFor(t, e.Student.ID, f.tuition.ID)
	if after.PaidAmount.Amount != applied.Load() {
		t.Errorf("paid = %d, applied = %d", after.PaidAmount.Amount, applied.Load())
	}
	if got := f.balance(t, e.Student.ID); got != 7000-applied.Load() {
		t.Errorf("balance = %d", got)
	}
	f.assertConsistent(t, e.Student.ID)
}

func TestConcurrentGenerationCreatesOneCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	var (
		wg      sync.WaitGroup
		created atomic.Int64
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.b.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerPeriodic, Month: 5, Year: 2025})
			if err != nil {
				t.Error(err)
				return
			}
			created.Add(int64(res.ChargesCreated))
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1", created.Load())
	}
	if got := f.balance(t, e.Student.ID); got != 9000 {
		t.Fatalf("balance = %d, want 9000", got)
	}
}

func TestDebitCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	if _, err := f.b.Debit(ctx, e.Account.ID, 0, "nothing"); !errors.Is(err, bursar.ErrNonPositive) {
		t.Fatalf("err = %v, want ErrNonPositive", err)
	}
	if _, err := f.b.Credit(ctx, e.Account.ID, -1, "nothing", id.Nil); !errors.Is(err, bursar.ErrNonPositive) {
		t.Fatalf("err = %v, want ErrNonPositive", err)
	}

	if _, err := f.b.Debit(ctx, e.Account.ID, 250, "Library fine"); err != nil {
		t.Fatal(err)
	}
	txn, err := f.b.Credit(ctx, e.Account.ID, 50, "Fine waived", id.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Type != account.TxCredit || txn.Amount.Amount != 50 {
		t.Errorf("txn = %+v", txn)
	}
	if got := f.balance(t, e.Student.ID); got != 7200 {
		t.Fatalf("balance = %d, want 7200", got)
	}
	if _, err := f.b.Debit(ctx, id.NewAccountID(), 10, "x"); !errors.Is(err, bursar.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	f.assertConsistent(t, e.Student.ID)
}

func TestDeleteFeeHeadInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t)

	if err := f.b.DeleteFeeHead(ctx, f.tuition.ID); !errors.Is(err, bursar.ErrFeeHeadInUse) {
		t.Fatalf("err = %v, want ErrFeeHeadInUse", err)
	}
	if inUse, err := f.b.FeeHeadInUse(ctx, f.tuition.ID); err != nil || !inUse {
		t.Fatalf("FeeHeadInUse = %v, %v", inUse, err)
	}

	transport, err := f.b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Transport", Frequency: fee.FrequencyMonthly})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.b.DeleteFeeHead(ctx, transport.ID); err != nil {
		t.Fatal(err)
	}
}

func TestOverdueIsDerived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	overdue, err := f.b.ListCharges(ctx, e.Student.ID, charge.ListOpts{Status: charge.StatusOverdue})
	if err != nil {
		t.Fatal(err)
	}
	// The admission charge has no due day, so it falls due on 31 March.
	if len(overdue) != 0 {
		t.Fatalf("overdue on 1 March = %d", len(overdue))
	}

	f.setNow(time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC))
	overdue, err = f.b.ListCharges(ctx, e.Student.ID, charge.ListOpts{Status: charge.StatusOverdue})
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 1 || overdue[0].FeeHeadID != f.tuition.ID {
		t.Fatalf("overdue on 11 March = %d", len(overdue))
	}

	stats, err := f.b.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Overdue.Amount != 2000 || stats.Pending.Amount != 5000 || stats.Collected.Amount != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	// Paying an overdue charge in full still settles it.
	res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: overdue[0].ID, Amount: 2000})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewStatus != charge.StatusPaid {
		t.Fatalf("status = %s", res.NewStatus)
	}
	stats, _ = f.b.Stats(ctx)
	if stats.Collected.Amount != 2000 || stats.Overdue.Amount != 0 {
		t.Fatalf("stats after payment = %+v", stats)
	}
}

func TestStatement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)
	c := f.chargeFor(t, e.Student.ID, f.admission.ID)
	if _, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: c.ID, Amount: 5000, Reference: "BANK-42"}); err != nil {
		t.Fatal(err)
	}

	st, err := f.b.Statement(ctx, e.Student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Charges) != 2 || len(st.Transactions) != 2 {
		t.Fatalf("charges = %d txns = %d", len(st.Charges), len(st.Transactions))
	}
	if st.Outstanding.Amount != 2000 || st.Account.Balance.Amount != 2000 {
		t.Fatalf("outstanding = %d balance = %d", st.Outstanding.Amount, st.Account.Balance.Amount)
	}
	if !st.Verification.Consistent {
		t.Fatal("statement not consistent")
	}
	if st.Transactions[0].Reference != "BANK-42" {
		t.Errorf("newest txn reference = %q", st.Transactions[0].Reference)
	}
}

func TestReferencePrefix(t *testing.T) {
	f := newFixture(t, bursar.WithReferencePrefix("FEE-"))
	ctx := context.Background()
	e := f.enroll(t)
	c := f.chargeFor(t, e.Student.ID, f.tuition.ID)

	res, err := f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: c.ID, Amount: 100})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Transaction.Reference; len(got) != len("FEE-")+10 || got[:4] != "FEE-" {
		t.Fatalf("reference = %q", got)
	}

	f.b.SetReferencePrefix("RCPT-")
	res, _ = f.b.PayFee(ctx, bursar.PaymentInput{ChargeID: c.ID, Amount: 100})
	if got := res.Transaction.Reference; got[:5] != "RCPT-" {
		t.Fatalf("reference = %q", got)
	}
}

func TestEnrollDuplicateStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	_, err := f.b.Enroll(ctx, bursar.EnrollInput{StudentID: e.Student.ID, ClassID: f.classID, Name: "Asha"})
	if !errors.Is(err, bursar.ErrStudentExists) {
		t.Fatalf("err = %v, want ErrStudentExists", err)
	}
	if got := f.balance(t, e.Student.ID); got != 7000 {
		t.Fatalf("balance = %d, want 7000", got)
	}
}

func TestEnrollWithOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.b.Enroll(ctx, bursar.EnrollInput{
		ClassID:   f.classID,
		Name:      "Kiran",
		Month:     3,
		Year:      2025,
		Overrides: []bursar.OverrideLine{{FeeHeadID: f.tuition.ID, Amount: 1000}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Generation.Transaction == nil || e.Generation.Transaction.Amount.Amount != 6000 {
		t.Fatalf("admission debit = %+v, want 6000", e.Generation.Transaction)
	}
	if got := f.chargeFor(t, e.Student.ID, f.tuition.ID).Amount.Amount; got != 1000 {
		t.Fatalf("tuition charge = %d, want 1000", got)
	}
	overrides, err := f.store.ListOverrides(ctx, e.Student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(overrides) != 1 || overrides[0].FeeHeadID != f.tuition.ID || overrides[0].Amount.Amount != 1000 {
		t.Fatalf("overrides = %+v", overrides)
	}
	f.assertConsistent(t, e.Student.ID)
}

func TestEnrollRejectsOversizedOverride(t *testing.T) {
	f := newFixture(t)
	_, err := f.b.Enroll(context.Background(), bursar.EnrollInput{
		ClassID:   f.classID,
		Name:      "Kiran",
		Overrides: []bursar.OverrideLine{{FeeHeadID: f.tuition.ID, Amount: bursar.MaxAmount + 1}},
	})
	if !errors.Is(err, bursar.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAmountBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		amount  int64
		wantErr bool
	}{
		{"zero", 0, false},
		{"max", bursar.MaxAmount, false},
		{"above max", bursar.MaxAmount + 1, true},
		{"negative", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: id.NewClassID(), FeeHeadID: f.tuition.ID, Amount: tt.amount})
			if tt.wantErr != errors.Is(err, bursar.ErrInvalidInput) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateCurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	usd := bursar.New(f.store,
		bursar.WithClock(func() time.Time { return *f.now.Load() }),
		bursar.WithCurrency("usd"),
	)
	studentID := id.NewStudentID()
	_, err := usd.Enroll(ctx, bursar.EnrollInput{StudentID: studentID, ClassID: f.classID, Name: "Sam", Month: 3, Year: 2025})
	if !errors.Is(err, bursar.ErrCurrency) {
		t.Fatalf("err = %v, want ErrCurrency", err)
	}
	if _, err := f.store.GetStudent(ctx, studentID); !errors.Is(err, bursar.ErrStudentNotFound) {
		t.Fatalf("student kept after failed enrollment: %v", err)
	}

	e := f.enroll(t)
	_, err = usd.Generate(ctx, bursar.GenerateInput{StudentID: e.Student.ID, Trigger: bursar.TriggerPeriodic, Month: 4, Year: 2025})
	if err != nil {
		t.Fatalf("inr structures on an inr account: %v", err)
	}
	if _, err := usd.Statement(ctx, e.Student.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := usd.Stats(ctx); !errors.Is(err, bursar.ErrCurrency) {
		t.Fatalf("stats err = %v, want ErrCurrency", err)
	}
}

func TestListChargesPendingExcludesOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)
	f.setNow(time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC))

	pending, err := f.b.ListCharges(ctx, e.Student.ID, charge.ListOpts{Status: charge.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].FeeHeadID != f.admission.ID {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Status != charge.StatusPending {
		t.Fatalf("status = %s", pending[0].Status)
	}

	all, err := f.b.ListCharges(ctx, e.Student.ID, charge.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
}

func TestListAllCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t)
	if _, err := f.b.Enroll(ctx, bursar.EnrollInput{ClassID: f.classID, Name: "Ravi", Month: 3, Year: 2025}); err != nil {
		t.Fatal(err)
	}
	other := id.NewClassID()
	if _, err := f.b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: other, FeeHeadID: f.tuition.ID, Amount: 900}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.b.Enroll(ctx, bursar.EnrollInput{ClassID: other, Name: "Meera", Month: 3, Year: 2025}); err != nil {
		t.Fatal(err)
	}
	f.setNow(time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name      string
		opts      charge.FeeListOpts
		wantLen   int
		wantTotal int
	}{
		{"school", charge.FeeListOpts{}, 5, 5},
		{"class", charge.FeeListOpts{ClassID: f.classID}, 4, 4},
		{"class page", charge.FeeListOpts{ClassID: f.classID, Limit: 3, Offset: 2}, 2, 4},
		{"overdue", charge.FeeListOpts{Status: charge.StatusOverdue}, 2, 2},
		{"pending", charge.FeeListOpts{Status: charge.StatusPending}, 3, 3},
		{"head", charge.FeeListOpts{FeeHeadID: f.admission.ID}, 2, 2},
		{"other month", charge.FeeListOpts{Month: 4, Year: 2025}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := f.b.ListAllCharges(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(list.Charges) != tt.wantLen || list.Total != tt.wantTotal {
				t.Fatalf("len = %d total = %d, want %d and %d", len(list.Charges), list.Total, tt.wantLen, tt.wantTotal)
			}
			for i := 1; i < len(list.Charges); i++ {
				if list.Charges[i].DueDate.Before(list.Charges[i-1].DueDate) {
					t.Fatalf("charge %d due before charge %d", i, i-1)
				}
			}
			if tt.opts.Status != "" {
				for _, c := range list.Charges {
					if c.Status != tt.opts.Status {
						t.Fatalf("status = %s, want %s", c.Status, tt.opts.Status)
					}
				}
			}
		})
	}

	if _, err := f.b.ListAllCharges(ctx, charge.FeeListOpts{Month: 13}); !errors.Is(err, bursar.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestListAllTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.enroll(t)
	second, err := f.b.Enroll(ctx, bursar.EnrollInput{ClassID: f.classID, Name: "Ravi", Month: 3, Year: 2025})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.b.Credit(ctx, first.Account.ID, 100, "Scholarship", id.Nil); err != nil {
		t.Fatal(err)
	}

	txns, err := f.b.ListAllTransactions(ctx, account.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 3 {
		t.Fatalf("transactions = %d, want 3", len(txns))
	}
	if txns[0].Type != account.TxCredit || txns[0].AccountID != first.Account.ID {
		t.Fatalf("newest = %+v", txns[0])
	}
	if txns[1].AccountID != second.Account.ID || txns[2].AccountID != first.Account.ID {
		t.Fatal("transactions not newest first")
	}

	debits, err := f.b.ListAllTransactions(ctx, account.ListOpts{Type: account.TxDebit, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(debits) != 1 || debits[0].AccountID != second.Account.ID {
		t.Fatalf("debits = %+v", debits)
	}
}
