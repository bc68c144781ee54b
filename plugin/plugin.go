// Package plugin provides an extensible plugin system for Bursar.
// Plugins hook into lifecycle and billing events; they observe committed
// changes and can never veto or alter them.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, b interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Student hooks
// ──────────────────────────────────────────────────

// OnStudentEnrolled is called after a student, their account and their
// admission charges are committed together.
type OnStudentEnrolled interface {
	Plugin
	OnStudentEnrolled(ctx context.Context, s *student.Student, a *account.Account) error
}

// ──────────────────────────────────────────────────
// Fee generation hooks
// ──────────────────────────────────────────────────

// OnChargesGenerated is called after a generation created at least one
// charge. txn is the single aggregated debit.
type OnChargesGenerated interface {
	Plugin
	OnChargesGenerated(ctx context.Context, studentID id.StudentID, charges []*charge.Charge, txn *account.Transaction) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnAccountDebited is called after a debit is committed.
type OnAccountDebited interface {
	Plugin
	OnAccountDebited(ctx context.Context, a *account.Account, txn *account.Transaction) error
}

// OnAccountCredited is called after a credit is committed.
type OnAccountCredited interface {
	Plugin
	OnAccountCredited(ctx context.Context, a *account.Account, txn *account.Transaction) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentApplied is called after a payment is committed.
type OnPaymentApplied interface {
	Plugin
	OnPaymentApplied(ctx context.Context, c *charge.Charge, txn *account.Transaction) error
}

// OnPaymentRejected is called when a payment is refused. code is one of the
// rejection codes; nothing was written.
type OnPaymentRejected interface {
	Plugin
	OnPaymentRejected(ctx context.Context, chargeID id.ChargeID, code, message string) error
}

// ──────────────────────────────────────────────────
// Runner hooks
// ──────────────────────────────────────────────────

// OnBillingRunCompleted is called when a periodic billing run finishes.
type OnBillingRunCompleted interface {
	Plugin
	OnBillingRunCompleted(ctx context.Context, runID id.RunID, month time.Month, year, succeeded, failed int, elapsed time.Duration) error
}
