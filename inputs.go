package bursar

import (
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
)

// MaxAmount bounds every configured fee amount, in minor units, so that sums
// of them stay far inside int64. It matches the max tags below.
const MaxAmount = 1_000_000_000_000_000

// Trigger selects which fee heads a generation considers.
type Trigger string

const (
	// TriggerAdmission charges one-time heads and the first month of every
	// monthly head.
	TriggerAdmission Trigger = "admission"
	// TriggerPeriodic charges monthly heads only.
	TriggerPeriodic Trigger = "periodic"
)

// GenerateInput asks for the charges of one student for one trigger.
// Month and Year default to the current calendar month when zero.
type GenerateInput struct {
	StudentID id.StudentID `json:"student_id" validate:"required"`
	Trigger   Trigger      `json:"trigger"    validate:"required,oneof=admission periodic"`
	Month     int          `json:"month"      validate:"min=0,max=12"`
	Year      int          `json:"year"       validate:"min=0,max=9999"`
}

// PaymentInput applies Amount, in minor units, to one charge. Reference is
// generated from the engine's reference prefix when empty.
type PaymentInput struct {
	ChargeID  id.ChargeID `json:"charge_id" validate:"required"`
	Amount    int64       `json:"amount"`
	Method    string      `json:"method,omitempty"    validate:"omitempty,max=32"`
	Reference string      `json:"reference,omitempty" validate:"omitempty,max=64"`
}

// EnrollInput creates a student, their account and their admission charges
// together. Overrides apply before the admission charges are generated.
type EnrollInput struct {
	StudentID   id.StudentID   `json:"student_id,omitempty"`
	ClassID     id.ClassID     `json:"class_id"            validate:"required"`
	Name        string         `json:"name"                validate:"required,max=200"`
	AdmissionNo string         `json:"admission_no"        validate:"omitempty,max=64"`
	Month       int            `json:"month"               validate:"min=0,max=12"`
	Year        int            `json:"year"                validate:"min=0,max=9999"`
	Overrides   []OverrideLine `json:"overrides,omitempty" validate:"omitempty,max=100,dive"`
}

// OverrideLine is one student-specific amount given at enrollment.
type OverrideLine struct {
	FeeHeadID id.FeeHeadID `json:"fee_head_id" validate:"required"`
	Amount    int64        `json:"amount"      validate:"gte=0,max=1000000000000000"`
}

// FeeHeadInput creates a fee head.
type FeeHeadInput struct {
	Name        string        `json:"name"        validate:"required,max=100"`
	Description string        `json:"description" validate:"omitempty,max=500"`
	Frequency   fee.Frequency `json:"frequency"   validate:"required,oneof=one_time monthly"`
}

// FeeStructureInput attaches a head to a class with a default amount.
type FeeStructureInput struct {
	ClassID   id.ClassID   `json:"class_id"    validate:"required"`
	FeeHeadID id.FeeHeadID `json:"fee_head_id" validate:"required"`
	Amount    int64        `json:"amount"      validate:"gte=0,max=1000000000000000"`
	DueDay    string       `json:"due_day"     validate:"omitempty,max=16"`
}

// OverrideInput sets one student's amount for one head.
type OverrideInput struct {
	StudentID id.StudentID `json:"student_id"  validate:"required"`
	FeeHeadID id.FeeHeadID `json:"fee_head_id" validate:"required"`
	Amount    int64        `json:"amount"      validate:"gte=0,max=1000000000000000"`
}
