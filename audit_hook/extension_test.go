package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	audithook "github.com/xraph/bursar/audit_hook"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, e *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func TestLedgerEvent(t *testing.T) {
	rec := &sink{}
	ext := audithook.New(rec)

	a := &account.Account{ID: id.NewAccountID(), Balance: types.New(3000, "INR"), Version: 2}
	txn := &account.Transaction{ID: id.NewTxnID(), AccountID: a.ID, Amount: types.New(2000, "INR"), Type: account.TxCredit}
	if err := ext.OnAccountCredited(context.Background(), a, txn); err != nil {
		t.Fatal(err)
	}

	if len(rec.events) != 1 {
		t.Fatalf("events = %d", len(rec.events))
	}
	e := rec.events[0]
	if e.Action != audithook.ActionAccountCredited || e.ResourceID != a.ID.String() {
		t.Errorf("event = %+v", e)
	}
	if e.Metadata["balance"] != int64(3000) || e.Metadata["txn_id"] != txn.ID.String() {
		t.Errorf("metadata = %v", e.Metadata)
	}
}

func TestRejectionIsFailure(t *testing.T) {
	rec := &sink{}
	ext := audithook.New(rec)

	chargeID := id.NewChargeID()
	if err := ext.OnPaymentRejected(context.Background(), chargeID, "amount_exceeds_remaining", "too much"); err != nil {
		t.Fatal(err)
	}
	e := rec.events[0]
	if e.Outcome != audithook.OutcomeFailure || e.Severity != audithook.SeverityWarning {
		t.Errorf("event = %+v", e)
	}
	if e.Reason != "amount_exceeds_remaining: too much" {
		t.Errorf("reason = %q", e.Reason)
	}
}

func TestRunOutcome(t *testing.T) {
	tests := []struct {
		name              string
		succeeded, failed int
		want              string
	}{
		{"clean", 10, 0, audithook.OutcomeSuccess},
		{"partial", 8, 2, audithook.OutcomePartial},
		{"failed", 0, 3, audithook.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &sink{}
			ext := audithook.New(rec)
			err := ext.OnBillingRunCompleted(context.Background(), id.NewRunID(), time.March, 2025, tt.succeeded, tt.failed, time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if got := rec.events[0].Outcome; got != tt.want {
				t.Errorf("outcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	chargeID := id.NewChargeID()

	rec := &sink{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionPaymentApplied))
	_ = ext.OnPaymentRejected(ctx, chargeID, "fee_not_found", "fee not found")
	if len(rec.events) != 0 {
		t.Errorf("disabled action recorded: %+v", rec.events[0])
	}

	rec = &sink{}
	ext = audithook.New(rec, audithook.WithDisabledActions(audithook.ActionPaymentRejected))
	_ = ext.OnPaymentRejected(ctx, chargeID, "fee_not_found", "fee not found")
	_ = ext.OnBillingRunCompleted(ctx, id.NewRunID(), time.March, 2025, 1, 0, time.Millisecond)
	if len(rec.events) != 1 || rec.events[0].Action != audithook.ActionBillingRunCompleted {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	if err := ext.OnPaymentRejected(context.Background(), id.NewChargeID(), "fee_not_found", "fee not found"); err != nil {
		t.Fatalf("hook returned %v", err)
	}
}
