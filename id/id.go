// Package id defines TypeID-based identity types for every Bursar entity.
//
// All entities share a single ID struct whose prefix names the entity type.
// IDs are K-sortable (UUIDv7-based), globally unique and URL-safe in the
// format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all Bursar entity types.
const (
	PrefixStudent   Prefix = "stu"  // Student projection
	PrefixClass     Prefix = "cls"  // School class
	PrefixFeeHead   Prefix = "fhd"  // Fee head (Tuition, Admission, ...)
	PrefixStructure Prefix = "fst"  // Class-level fee structure
	PrefixOverride  Prefix = "fov"  // Per-student fee override
	PrefixCharge    Prefix = "sfee" // Student fee (charge)
	PrefixAccount   Prefix = "acct" // Student account
	PrefixTxn       Prefix = "txn"  // Ledger transaction
	PrefixRun       Prefix = "run"  // Periodic billing run
)

// ID is the primary identifier type for all Bursar entities.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g. "sfee_01h2xcejqtf2nbrexx3vqjhp41").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and checks its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Typed aliases
// ──────────────────────────────────────────────────

// StudentID identifies a student (prefix: "stu").
type StudentID = ID

// ClassID identifies a class (prefix: "cls").
type ClassID = ID

// FeeHeadID identifies a fee head (prefix: "fhd").
type FeeHeadID = ID

// StructureID identifies a fee structure (prefix: "fst").
type StructureID = ID

// OverrideID identifies a fee override (prefix: "fov").
type OverrideID = ID

// ChargeID identifies a student fee charge (prefix: "sfee").
type ChargeID = ID

// AccountID identifies a student account (prefix: "acct").
type AccountID = ID

// TxnID identifies a ledger transaction (prefix: "txn").
type TxnID = ID

// RunID identifies a periodic billing run (prefix: "run").
type RunID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

func NewStudentID() ID   { return New(PrefixStudent) }
func NewClassID() ID     { return New(PrefixClass) }
func NewFeeHeadID() ID   { return New(PrefixFeeHead) }
func NewStructureID() ID { return New(PrefixStructure) }
func NewOverrideID() ID  { return New(PrefixOverride) }
func NewChargeID() ID    { return New(PrefixCharge) }
func NewAccountID() ID   { return New(PrefixAccount) }
func NewTxnID() ID       { return New(PrefixTxn) }
func NewRunID() ID       { return New(PrefixRun) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

func ParseStudentID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixStudent) }
func ParseClassID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixClass) }
func ParseFeeHeadID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixFeeHead) }
func ParseStructureID(s string) (ID, error) { return ParseWithPrefix(s, PrefixStructure) }
func ParseOverrideID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixOverride) }
func ParseChargeID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixCharge) }
func ParseAccountID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixAccount) }
func ParseTxnID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixTxn) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// Suffix returns the base32 suffix without the prefix.
func (i ID) Suffix() string {
	if !i.valid {
		return ""
	}

	return strings.TrimPrefix(i.inner.String(), i.inner.Prefix()+"_")
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer. The Nil ID is stored as NULL so optional
// references such as a transaction's charge stay empty.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
