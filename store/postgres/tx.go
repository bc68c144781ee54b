package postgres

import (
	"context"
	"errors"
	"fmt"

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

type txn struct {
	q querier
}

func (t *txn) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return getStudent(ctx, t.q, studentID)
}

func (t *txn) CreateStudent(ctx context.Context, s *student.Student) error {
	m := sqlmodel.ToStudent(s)
	_, err := t.q.Exec(ctx,
		`INSERT INTO bursar_students (`+sqlmodel.StudentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ClassID, m.Name, m.AdmissionNo, m.Status, m.CreatedAt, m.UpdatedAt)
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

// CreateAccount reports a lost race on the student's account as both
// ErrAccountExists and a retryable conflict.
func (t *txn) CreateAccount(ctx context.Context, a *account.Account) error {
	m := sqlmodel.ToAccount(a)
	_, err := t.q.Exec(ctx,
		`INSERT INTO bursar_accounts (`+sqlmodel.AccountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.StudentID, m.Balance, m.Currency, m.Version, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		mapped := mapErr(err, bursar.ErrAccountExists)
		if errors.Is(mapped, bursar.ErrAccountExists) {
			return fmt.Errorf("%w: %w", mapped, bursar.ErrConcurrencyConflict)
		}
		return mapped
	}
	return nil
}

func (t *txn) LockAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return one(ctx, t.q, bursar.ErrAccountNotFound, sqlmodel.FromAccount,
		`SELECT `+sqlmodel.AccountColumns+` FROM bursar_accounts WHERE id = $1 FOR UPDATE`, accountID.String())
}

func (t *txn) LockAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return one(ctx, t.q, bursar.ErrAccountNotFound, sqlmodel.FromAccount,
		`SELECT `+sqlmodel.AccountColumns+` FROM bursar_accounts WHERE student_id = $1 FOR UPDATE`, studentID.String())
}

func (t *txn) AppendTransaction(ctx context.Context, a *account.Account, tr *account.Transaction) error {
	delta := tr.Signed().Amount
	var balance, version int64
	err := t.q.QueryRow(ctx, `
UPDATE bursar_accounts
SET balance = balance + $1, version = version + 1, updated_at = $2
WHERE id = $3 AND version = $4
RETURNING balance, version`,
		delta, tr.CreatedAt, a.ID.String(), a.Version,
	).Scan(&balance, &version)
	if err != nil {
		if isNoRows(err) {
			if _, gerr := t.LockAccount(ctx, a.ID); gerr != nil {
				return gerr
			}
			return fmt.Errorf("account %s version %d is stale: %w", a.ID, a.Version, bursar.ErrConcurrencyConflict)
		}
		return mapErr(err, nil)
	}

	m := sqlmodel.ToTransaction(tr)
	_, err = t.q.Exec(ctx,
		`INSERT INTO bursar_transactions (`+sqlmodel.TransactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.AccountID, m.Amount, m.Currency, m.Type, m.Description, m.Reference, m.ChargeID, m.CreatedAt)
	if err != nil {
		return mapErr(err, nil)
	}

	a.Balance.Amount = balance
	a.Version = version
	a.UpdatedAt = tr.CreatedAt
	return nil
}

func (t *txn) ChargeExists(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID, period string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bursar_charges WHERE student_id = $1 AND fee_head_id = $2 AND period = $3)`,
		studentID.String(), headID.String(), period,
	).Scan(&exists)
	return exists, mapErr(err, nil)
}

func (t *txn) InsertCharge(ctx context.Context, c *charge.Charge) error {
	m := sqlmodel.ToCharge(c)
	_, err := t.q.Exec(ctx,
		`INSERT INTO bursar_charges (`+sqlmodel.ChargeColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.StudentID, m.FeeHeadID, m.FeeHeadName, m.Frequency, m.Amount, m.PaidAmount, m.Currency,
		m.Status, m.DueDate, m.Month, m.Year, m.Period, m.CreatedAt, m.UpdatedAt)
	return mapErr(err, bursar.ErrDuplicateCharge)
}

func (t *txn) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return getCharge(ctx, t.q, chargeID)
}

func (t *txn) UpdateChargePayment(ctx context.Context, c *charge.Charge, expectedPaid int64) error {
	tag, err := t.q.Exec(ctx, `
UPDATE bursar_charges
SET paid_amount = $1, status = $2, updated_at = $3
WHERE id = $4 AND paid_amount = $5`,
		c.PaidAmount.Amount, string(c.Status), c.UpdatedAt, c.ID.String(), expectedPaid)
	if err != nil {
		return mapErr(err, nil)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getCharge(ctx, t.q, c.ID); err != nil {
			return err
		}
		return bursar.ErrConcurrencyConflict
	}
	return nil
}
