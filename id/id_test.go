package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/bursar/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"StudentID", id.NewStudentID, "stu_"},
		{"ClassID", id.NewClassID, "cls_"},
		{"FeeHeadID", id.NewFeeHeadID, "fhd_"},
		{"StructureID", id.NewStructureID, "fst_"},
		{"OverrideID", id.NewOverrideID, "fov_"},
		{"ChargeID", id.NewChargeID, "sfee_"},
		{"AccountID", id.NewAccountID, "acct_"},
		{"TxnID", id.NewTxnID, "txn_"},
		{"RunID", id.NewRunID, "run_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"StudentID", id.NewStudentID, id.ParseStudentID},
		{"ClassID", id.NewClassID, id.ParseClassID},
		{"FeeHeadID", id.NewFeeHeadID, id.ParseFeeHeadID},
		{"ChargeID", id.NewChargeID, id.ParseChargeID},
		{"AccountID", id.NewAccountID, id.ParseAccountID},
		{"TxnID", id.NewTxnID, id.ParseTxnID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseChargeID(id.NewAccountID().String()); err == nil {
		t.Error("ParseChargeID accepted an account ID")
	}
	if _, err := id.ParseAccountID(id.NewChargeID().String()); err == nil {
		t.Error("ParseAccountID accepted a charge ID")
	}
}

func TestSuffix(t *testing.T) {
	i := id.NewChargeID()
	if got := "sfee_" + i.Suffix(); got != i.String() {
		t.Errorf("suffix mismatch: %q != %q", got, i.String())
	}
	if id.Nil.Suffix() != "" {
		t.Error("nil ID should have an empty suffix")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}

	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("nil ID should store as NULL, got %v (%v)", v, err)
	}
}

func TestScan(t *testing.T) {
	original := id.NewTxnID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("mismatch: %q != %q", fromString.String(), original.String())
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("Scan(nil) should yield Nil, got %q (%v)", fromNil.String(), err)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}
