package memory

import (
	"context"
	"fmt"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
)

var _ store.Tx = (*tx)(nil)

// tx writes to a private copy of the state. The store's writer lock is held
// for its whole life, so LockAccount has nothing further to do.
type tx struct {
	st *state
}

func (t *tx) GetStudent(_ context.Context, studentID id.StudentID) (*student.Student, error) {
	return getStudent(t.st, studentID)
}

func (t *tx) CreateStudent(_ context.Context, s *student.Student) error {
	if _, ok := t.st.students[s.ID.String()]; ok {
		return bursar.ErrStudentExists
	}
	cp := *s
	t.st.students[s.ID.String()] = &cp
	return nil
}

func (t *tx) GetFeeHead(_ context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return getFeeHead(t.st, headID)
}

func (t *tx) ListStructures(_ context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return listStructures(t.st, opts), nil
}

func (t *tx) ListOverrides(_ context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return listOverrides(t.st, studentID), nil
}

func (t *tx) SetOverride(_ context.Context, o *fee.Override) error {
	return setOverride(t.st, o)
}

func (t *tx) CreateAccount(_ context.Context, a *account.Account) error {
	if _, ok := t.st.byStudent[a.StudentID.String()]; ok {
		return bursar.ErrAccountExists
	}
	cp := *a
	t.st.accounts[a.ID.String()] = &cp
	t.st.byStudent[a.StudentID.String()] = a.ID.String()
	return nil
}

func (t *tx) LockAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	return getAccount(t.st, accountID)
}

func (t *tx) LockAccountByStudent(_ context.Context, studentID id.StudentID) (*account.Account, error) {
	return getAccountByStudent(t.st, studentID)
}

func (t *tx) AppendTransaction(_ context.Context, a *account.Account, txn *account.Transaction) error {
	stored, ok := t.st.accounts[a.ID.String()]
	if !ok {
		return bursar.ErrAccountNotFound
	}
	if stored.Version != a.Version {
		return fmt.Errorf("account %s version %d, have %d: %w", a.ID, stored.Version, a.Version, bursar.ErrConcurrencyConflict)
	}

	next := *stored
	next.Balance = stored.Balance.Add(txn.Signed())
	next.Version++
	next.UpdatedAt = txn.CreatedAt
	t.st.accounts[a.ID.String()] = &next

	cp := *txn
	t.st.txns = append(t.st.txns, &cp)

	*a = next
	return nil
}

func periodKey(studentID id.StudentID, headID id.FeeHeadID, period string) string {
	return studentID.String() + "|" + headID.String() + "|" + period
}

func (t *tx) ChargeExists(_ context.Context, studentID id.StudentID, headID id.FeeHeadID, period string) (bool, error) {
	_, ok := t.st.periods[periodKey(studentID, headID, period)]
	return ok, nil
}

func (t *tx) InsertCharge(_ context.Context, c *charge.Charge) error {
	if _, ok := t.st.heads[c.FeeHeadID.String()]; !ok {
		return bursar.ErrFeeHeadNotFound
	}
	key := periodKey(c.StudentID, c.FeeHeadID, c.Period)
	if _, ok := t.st.periods[key]; ok {
		return bursar.ErrDuplicateCharge
	}
	cp := *c
	t.st.charges[c.ID.String()] = &cp
	t.st.periods[key] = c.ID.String()
	return nil
}

func (t *tx) GetCharge(_ context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return getCharge(t.st, chargeID)
}

func (t *tx) UpdateChargePayment(_ context.Context, c *charge.Charge, expectedPaid int64) error {
	stored, ok := t.st.charges[c.ID.String()]
	if !ok {
		return bursar.ErrChargeNotFound
	}
	if stored.PaidAmount.Amount != expectedPaid {
		return bursar.ErrConcurrencyConflict
	}
	next := *stored
	next.PaidAmount = c.PaidAmount
	next.Status = c.Status
	next.UpdatedAt = c.UpdatedAt
	t.st.charges[c.ID.String()] = &next
	return nil
}
