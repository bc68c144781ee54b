// Package fee holds the fee catalog: heads, class-level structures and
// per-student overrides, plus the resolved line the generator consumes.
package fee

import (
	"strconv"
	"strings"
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// Frequency says how often a head is charged.
type Frequency string

const (
	FrequencyOneTime Frequency = "one_time"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	return f == FrequencyOneTime || f == FrequencyMonthly
}

// Head is a named category of charge. A head is immutable once a charge
// references it.
type Head struct {
	types.Entity
	ID          id.FeeHeadID `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Frequency   Frequency    `json:"frequency"`
}

// Structure is what a class normally owes for one head.
type Structure struct {
	types.Entity
	ID        id.StructureID `json:"id"`
	ClassID   id.ClassID     `json:"class_id"`
	FeeHeadID id.FeeHeadID   `json:"fee_head_id"`
	Amount    types.Money    `json:"amount"`
	DueDay    DueDay         `json:"due_day,omitempty"`
}

// Override replaces a structure amount for one student.
type Override struct {
	types.Entity
	ID        id.OverrideID `json:"id"`
	StudentID id.StudentID  `json:"student_id"`
	FeeHeadID id.FeeHeadID  `json:"fee_head_id"`
	Amount    types.Money   `json:"amount"`
}

// Line is one chargeable definition for a student after override resolution.
type Line struct {
	StructureID id.StructureID `json:"structure_id"`
	FeeHeadID   id.FeeHeadID   `json:"fee_head_id"`
	FeeHeadName string         `json:"fee_head_name"`
	Frequency   Frequency      `json:"frequency"`
	Amount      types.Money    `json:"amount"`
	DueDay      DueDay         `json:"due_day,omitempty"`
	Overridden  bool           `json:"overridden"`
}

// DueDay is the due-day-of-month descriptor carried by a structure: a day
// number such as "5", or anything else (including "") meaning end of month.
type DueDay string

// Day returns the parsed day of month, or false when the descriptor is not a
// positive integer.
func (d DueDay) Day() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(d)))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// DueDate computes the due date in month/year. Days beyond the end of the
// month clamp to its last day; a non-numeric descriptor means the last day.
func (d DueDay) DueDate(year int, month time.Month, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	last := LastDayOfMonth(year, month)
	day, ok := d.Day()
	if !ok || day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// LastDayOfMonth returns 28..31.
func LastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
