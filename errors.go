package bursar

import (
	"errors"
	"fmt"

	"github.com/xraph/bursar/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("bursar: not found")
	ErrAlreadyExists = errors.New("bursar: already exists")
	ErrInvalidInput  = errors.New("bursar: invalid input")

	// Catalog errors
	ErrFeeHeadNotFound   = errors.New("bursar: fee head not found")
	ErrStructureNotFound = errors.New("bursar: fee structure not found")
	ErrOverrideNotFound  = errors.New("bursar: fee override not found")
	ErrClassNotFound     = errors.New("bursar: class not found")
	ErrFeeHeadInUse      = errors.New("bursar: fee head is referenced by charges")

	// Student and account errors
	ErrStudentNotFound = errors.New("bursar: student not found")
	ErrStudentExists   = errors.New("bursar: student already exists")
	ErrAccountNotFound = errors.New("bursar: account not found")
	ErrAccountExists   = errors.New("bursar: account already exists")
	ErrNonPositive     = errors.New("bursar: amount must be positive")
	ErrCurrency        = errors.New("bursar: currency mismatch")
	ErrAmountTooLarge  = errors.New("bursar: amount too large")

	// Charge errors
	ErrChargeNotFound  = errors.New("bursar: charge not found")
	ErrDuplicateCharge = errors.New("bursar: charge already exists for period")

	// Store errors
	ErrConcurrencyConflict = errors.New("bursar: concurrent modification")
	ErrAtomicityFailure    = errors.New("bursar: atomic unit failed to commit")
	ErrStoreClosed         = errors.New("bursar: store is closed")
	ErrMigrationFailed     = errors.New("bursar: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("bursar: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// ──────────────────────────────────────────────────
// Payment rejections
// ──────────────────────────────────────────────────

// RejectionCode classifies a refused payment.
type RejectionCode string

const (
	RejectFeeNotFound            RejectionCode = "fee_not_found"
	RejectAccountMissing         RejectionCode = "account_missing"
	RejectAmountExceedsRemaining RejectionCode = "amount_exceeds_remaining"
	RejectInvalidAmount          RejectionCode = "invalid_amount"
)

// Rejection is a business refusal of a payment. Nothing was changed when a
// payment is rejected. Remaining is set for RejectAmountExceedsRemaining.
type Rejection struct {
	Code      RejectionCode `json:"code"`
	Message   string        `json:"message"`
	Remaining *types.Money  `json:"remaining,omitempty"`
}

func (r *Rejection) Error() string {
	return "bursar: payment rejected: " + r.Message
}

func rejectFeeNotFound() *Rejection {
	return &Rejection{Code: RejectFeeNotFound, Message: "fee not found"}
}

func rejectAccountMissing() *Rejection {
	return &Rejection{Code: RejectAccountMissing, Message: "student account not found"}
}

func rejectExceeds(remaining types.Money) *Rejection {
	return &Rejection{
		Code:      RejectAmountExceedsRemaining,
		Message:   "amount exceeds remaining fee balance of " + remaining.String(),
		Remaining: &remaining,
	}
}

func rejectInvalidAmount(msg string) *Rejection {
	return &Rejection{Code: RejectInvalidAmount, Message: msg}
}

// ──────────────────────────────────────────────────
// Classification
// ──────────────────────────────────────────────────

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrFeeHeadNotFound) ||
		errors.Is(err, ErrStructureNotFound) ||
		errors.Is(err, ErrOverrideNotFound) ||
		errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}

// IsConflict returns true if the error came from a lost race with another
// writer.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrDuplicateCharge)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return IsConflict(err)
}

// IsRejection reports whether err is a payment rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
