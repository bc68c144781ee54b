// Package audithook bridges Bursar billing events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/student"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnStudentEnrolled     = (*Extension)(nil)
	_ plugin.OnChargesGenerated    = (*Extension)(nil)
	_ plugin.OnAccountDebited      = (*Extension)(nil)
	_ plugin.OnAccountCredited     = (*Extension)(nil)
	_ plugin.OnPaymentApplied      = (*Extension)(nil)
	_ plugin.OnPaymentRejected     = (*Extension)(nil)
	_ plugin.OnBillingRunCompleted = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Bursar billing events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Student hooks
// ──────────────────────────────────────────────────

// OnStudentEnrolled implements plugin.OnStudentEnrolled.
func (e *Extension) OnStudentEnrolled(ctx context.Context, s *student.Student, a *account.Account) error {
	return e.record(ctx, ActionStudentEnrolled, SeverityInfo, OutcomeSuccess,
		ResourceStudent, s.ID.String(), CategoryEnrollment, nil,
		"class_id", s.ClassID.String(),
		"account_id", a.ID.String(),
		"admission_no", s.AdmissionNo,
	)
}

// ──────────────────────────────────────────────────
// Generation hooks
// ──────────────────────────────────────────────────

// OnChargesGenerated implements plugin.OnChargesGenerated.
func (e *Extension) OnChargesGenerated(ctx context.Context, studentID id.StudentID, charges []*charge.Charge, txn *account.Transaction) error {
	ids := make([]string, len(charges))
	for i, c := range charges {
		ids[i] = c.ID.String()
	}
	kv := []any{
		"student_id", studentID.String(),
		"charge_ids", ids,
	}
	if txn != nil {
		kv = append(kv, "txn_id", txn.ID.String(), "amount", txn.Amount.Amount, "currency", txn.Amount.Currency)
	}
	return e.record(ctx, ActionChargesGenerated, SeverityInfo, OutcomeSuccess,
		ResourceStudent, studentID.String(), CategoryBilling, nil,
		kv...,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnAccountDebited implements plugin.OnAccountDebited.
func (e *Extension) OnAccountDebited(ctx context.Context, a *account.Account, txn *account.Transaction) error {
	return e.ledger(ctx, ActionAccountDebited, a, txn)
}

// OnAccountCredited implements plugin.OnAccountCredited.
func (e *Extension) OnAccountCredited(ctx context.Context, a *account.Account, txn *account.Transaction) error {
	return e.ledger(ctx, ActionAccountCredited, a, txn)
}

func (e *Extension) ledger(ctx context.Context, action string, a *account.Account, txn *account.Transaction) error {
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryLedger, nil,
		"txn_id", txn.ID.String(),
		"amount", txn.Amount.Amount,
		"currency", txn.Amount.Currency,
		"balance", a.Balance.Amount,
		"version", a.Version,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (e *Extension) OnPaymentApplied(ctx context.Context, c *charge.Charge, txn *account.Transaction) error {
	return e.record(ctx, ActionPaymentApplied, SeverityInfo, OutcomeSuccess,
		ResourceCharge, c.ID.String(), CategoryPayment, nil,
		"student_id", c.StudentID.String(),
		"txn_id", txn.ID.String(),
		"amount", txn.Amount.Amount,
		"reference", txn.Reference,
		"status", string(c.Status),
		"paid_amount", c.PaidAmount.Amount,
	)
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (e *Extension) OnPaymentRejected(ctx context.Context, chargeID id.ChargeID, code, message string) error {
	return e.record(ctx, ActionPaymentRejected, SeverityWarning, OutcomeFailure,
		ResourceCharge, chargeID.String(), CategoryPayment, fmt.Errorf("%s: %s", code, message),
		"code", code,
	)
}

// ──────────────────────────────────────────────────
// Runner hooks
// ──────────────────────────────────────────────────

// OnBillingRunCompleted implements plugin.OnBillingRunCompleted.
func (e *Extension) OnBillingRunCompleted(ctx context.Context, runID id.RunID, month time.Month, year, succeeded, failed int, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if failed > 0 {
		severity, outcome = SeverityError, OutcomePartial
		if succeeded == 0 {
			outcome = OutcomeFailure
		}
	}
	return e.record(ctx, ActionBillingRunCompleted, severity, outcome,
		ResourceRun, runID.String(), CategoryBilling, nil,
		"month", int(month),
		"year", year,
		"succeeded", succeeded,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
