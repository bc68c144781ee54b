// Package charge models a student fee: one amount owed for one fee head and,
// for recurring heads, one billing period.
package charge

import (
	"fmt"
	"time"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// Status of a charge.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	// StatusOverdue is never stored; see EffectiveStatus.
	StatusOverdue Status = "overdue"
)

// PeriodOnce is the period key of every one-time charge.
const PeriodOnce = "once"

// Charge is a StudentFee. Amount never changes after creation; PaidAmount and
// Status change only through payments.
type Charge struct {
	types.Entity
	ID          id.ChargeID   `json:"id"`
	StudentID   id.StudentID  `json:"student_id"`
	FeeHeadID   id.FeeHeadID  `json:"fee_head_id"`
	FeeHeadName string        `json:"fee_head_name"`
	Frequency   fee.Frequency `json:"frequency"`
	Amount      types.Money   `json:"amount"`
	PaidAmount  types.Money   `json:"paid_amount"`
	Status      Status        `json:"status"`
	DueDate     time.Time     `json:"due_date"`
	Month       int           `json:"month,omitempty"` // billing month it was generated for, 1-12
	Year        int           `json:"year,omitempty"`
	Period      string        `json:"period"`
}

// Remaining is Amount - PaidAmount.
func (c *Charge) Remaining() types.Money {
	return c.Amount.Subtract(c.PaidAmount)
}

// EffectiveStatus is Status, except that an unsettled charge whose due date
// falls before now's calendar day reads as StatusOverdue.
func (c *Charge) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusPaid {
		return c.Status
	}
	if Day(c.DueDate).Before(Day(now)) {
		return StatusOverdue
	}
	return c.Status
}

// Day is t's calendar day, in t's own location, as midnight UTC. Due dates
// are compared by day in this form.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StatusFor derives the stored status from paid against amount.
func StatusFor(paid, amount types.Money) Status {
	switch {
	case paid.Amount <= 0:
		return StatusPending
	case paid.Amount >= amount.Amount:
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

// PeriodKey returns the idempotency period of a charge for frequency f.
func PeriodKey(f fee.Frequency, month time.Month, year int) string {
	if f == fee.FrequencyOneTime {
		return PeriodOnce
	}
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// ListOpts filters a student's charges. Zero values match everything.
type ListOpts struct {
	Status    Status
	FeeHeadID id.FeeHeadID
	Month     int
	Year      int
	// AsOf makes Status match what EffectiveStatus(AsOf) reports: pending
	// then excludes overdue charges and overdue becomes filterable. When zero,
	// Status matches the stored status.
	AsOf   time.Time
	Limit  int
	Offset int
}

// ForStudent widens o to the school-wide filter of one student.
func (o ListOpts) ForStudent(studentID id.StudentID) FeeListOpts {
	return FeeListOpts{
		StudentID: studentID,
		FeeHeadID: o.FeeHeadID,
		Status:    o.Status,
		Month:     o.Month,
		Year:      o.Year,
		AsOf:      o.AsOf,
		Limit:     o.Limit,
		Offset:    o.Offset,
	}
}

// FeeListOpts filters charges across all students. Zero values match
// everything. Status and AsOf behave as in ListOpts.
type FeeListOpts struct {
	StudentID id.StudentID
	ClassID   id.ClassID // the student's current class
	FeeHeadID id.FeeHeadID
	Status    Status
	Month     int
	Year      int
	AsOf      time.Time
	Limit     int
	Offset    int
}

// Match is the status filter of o over stored columns.
func (o FeeListOpts) Match() StatusMatch {
	switch {
	case o.Status == "":
		return StatusMatch{}
	case o.AsOf.IsZero(), o.Status == StatusPaid:
		return StatusMatch{Status: o.Status}
	case o.Status == StatusOverdue:
		return StatusMatch{Unpaid: true, DueBefore: Day(o.AsOf)}
	default:
		return StatusMatch{Status: o.Status, DueFrom: Day(o.AsOf)}
	}
}

// StatusMatch is a status filter expressed on stored columns. Zero fields
// match everything; due dates compare by Day.
type StatusMatch struct {
	Status    Status    // stored status equals
	Unpaid    bool      // stored status is not paid
	DueBefore time.Time // due day before
	DueFrom   time.Time // due day on or after
}

// Matches applies m to one charge.
func (m StatusMatch) Matches(c *Charge) bool {
	if m.Status != "" && c.Status != m.Status {
		return false
	}
	if m.Unpaid && c.Status == StatusPaid {
		return false
	}
	due := Day(c.DueDate)
	if !m.DueBefore.IsZero() && !due.Before(m.DueBefore) {
		return false
	}
	if !m.DueFrom.IsZero() && due.Before(m.DueFrom) {
		return false
	}
	return true
}
