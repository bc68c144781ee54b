package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/internal/sqlmodel"
	"github.com/xraph/bursar/student"
)

var _ store.Tx = (*txn)(nil)

// txn needs no row locks: the store has a single connection, so one unit
// runs at a time.
type txn struct {
	q *sqlx.Tx
}

func (t *txn) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return getStudent(ctx, t.q, studentID)
}

func (t *txn) CreateStudent(ctx context.Context, s *student.Student) error {
	_, err := t.q.NamedExecContext(ctx,
		`INSERT INTO bursar_students (`+sqlmodel.StudentColumns+`)
VALUES (:id, :class_id, :name, :admission_no, :status, :created_at, :updated_at)`,
		sqlmodel.ToStudent(s))
	return mapErr(err, bursar.ErrStudentExists)
}

func (t *txn) GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return getFeeHead(ctx, t.q, headID)
}

func (t *txn) ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return listStructures(ctx, t.q, opts)
}

func (t *txn) ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return listOverrides(ctx, t.q, studentID)
}

func (t *txn) SetOverride(ctx context.Context, o *fee.Override) error {
	return setOverride(ctx, t.q, o)
}

func (t *txn) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := t.q.NamedExecContext(ctx,
		`INSERT INTO bursar_accounts (`+sqlmodel.AccountColumns+`)
VALUES (:id, :student_id, :balance, :currency, :version, :created_at, :updated_at)`,
		sqlmodel.ToAccount(a))
	return mapErr(err, bursar.ErrAccountExists)
}

func (t *txn) LockAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return getAccount(ctx, t.q, accountID)
}

func (t *txn) LockAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return getAccountByStudent(ctx, t.q, studentID)
}

func (t *txn) AppendTransaction(ctx context.Context, a *account.Account, tr *account.Transaction) error {
	res, err := t.q.ExecContext(ctx, `
UPDATE bursar_accounts
SET balance = balance + ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ?`,
		tr.Signed().Amount, tr.CreatedAt, a.ID.String(), a.Version)
	if err != nil {
		return mapErr(err, nil)
	}
	if err := affected(res, bursar.ErrConcurrencyConflict); err != nil {
		if _, gerr := getAccount(ctx, t.q, a.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("account %s version %d is stale: %w", a.ID, a.Version, err)
	}

	if _, err := t.q.NamedExecContext(ctx,
		`INSERT INTO bursar_transactions (`+sqlmodel.TransactionColumns+`)
VALUES (:id, :account_id, :amount, :currency, :type, :description, :reference, :charge_id, :created_at)`,
		sqlmodel.ToTransaction(tr)); err != nil {
		return mapErr(err, nil)
	}

	stored, err := getAccount(ctx, t.q, a.ID)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

func (t *txn) ChargeExists(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID, period string) (bool, error) {
	var exists bool
	err := t.q.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM bursar_charges WHERE student_id = ? AND fee_head_id = ? AND period = ?)`,
		studentID.String(), headID.String(), period)
	return exists, err
}

func (t *txn) InsertCharge(ctx context.Context, c *charge.Charge) error {
	_, err := t.q.NamedExecContext(ctx,
		`INSERT INTO bursar_charges (`+sqlmodel.ChargeColumns+`)
VALUES (:id, :student_id, :fee_head_id, :fee_head_name, :frequency, :amount, :paid_amount, :currency,
        :status, :due_date, :month, :year, :period, :created_at, :updated_at)`,
		sqlmodel.ToCharge(c))
	return mapErr(err, bursar.ErrDuplicateCharge)
}

func (t *txn) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return getCharge(ctx, t.q, chargeID)
}

func (t *txn) UpdateChargePayment(ctx context.Context, c *charge.Charge, expectedPaid int64) error {
	res, err := t.q.ExecContext(ctx, `
UPDATE bursar_charges
SET paid_amount = ?, status = ?, updated_at = ?
WHERE id = ? AND paid_amount = ?`,
		c.PaidAmount.Amount, string(c.Status), c.UpdatedAt, c.ID.String(), expectedPaid)
	if err != nil {
		return mapErr(err, nil)
	}
	if err := affected(res, bursar.ErrConcurrencyConflict); err != nil {
		if _, gerr := getCharge(ctx, t.q, c.ID); gerr != nil {
			return gerr
		}
		return err
	}
	return nil
}
