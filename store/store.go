// Package store defines the persistence contract for Bursar. Backends live in
// the subpackages.
package store

import (
	"context"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
)

// Store is the unified storage interface for all Bursar entities.
type Store interface {
	fee.Store
	charge.Store
	account.Store
	student.Store

	// RunInTx runs fn as one atomic unit. Either every write fn made through
	// tx is committed or none is. A commit failure is reported wrapped in
	// bursar.ErrAtomicityFailure.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the view of the store inside an atomic unit. Units that touch a
// student's account lock it first, and only then touch that student's
// charges.
type Tx interface {
	GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error)
	CreateStudent(ctx context.Context, s *student.Student) error

	// Catalog reads, consistent with the rest of the unit.
	GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error)
	ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error)
	ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error)
	// SetOverride inserts or replaces the (student, head) override, like
	// fee.Store.SetOverride, within the unit.
	SetOverride(ctx context.Context, o *fee.Override) error

	CreateAccount(ctx context.Context, a *account.Account) error
	// LockAccount returns the account and holds it exclusively until the unit
	// ends.
	LockAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
	LockAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error)
	// AppendTransaction writes t and moves a.Balance by t's signed amount.
	// It fails with bursar.ErrConcurrencyConflict when a.Version is stale.
	// On success a is updated in place.
	AppendTransaction(ctx context.Context, a *account.Account, t *account.Transaction) error

	ChargeExists(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID, period string) (bool, error)
	// InsertCharge fails with bursar.ErrDuplicateCharge when a charge for the
	// same student, head and period exists.
	InsertCharge(ctx context.Context, c *charge.Charge) error
	GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error)
	// UpdateChargePayment stores c.PaidAmount and c.Status provided the stored
	// paid amount still equals expectedPaid, else bursar.ErrConcurrencyConflict.
	UpdateChargePayment(ctx context.Context, c *charge.Charge, expectedPaid int64) error
}
