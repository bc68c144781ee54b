// Package student is the billing engine's projection of a student. Profile
// data lives with the student-lifecycle collaborator; billing needs only the
// class and whether the student is billable.
package student

import (
	"context"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// Status of a student record.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusGraduated Status = "graduated"
	StatusSuspended Status = "suspended"
)

type Student struct {
	types.Entity
	ID          id.StudentID `json:"id"`
	ClassID     id.ClassID   `json:"class_id"`
	Name        string       `json:"name"`
	AdmissionNo string       `json:"admission_no,omitempty"`
	Status      Status       `json:"status"`
}

// Billable reports whether periodic billing applies to the student.
func (s *Student) Billable() bool {
	return s.Status == StatusActive
}

// Store reads student projections.
type Store interface {
	GetStudent(ctx context.Context, studentID id.StudentID) (*Student, error)
	// ListBillable returns the IDs of every active student.
	ListBillable(ctx context.Context) ([]id.StudentID, error)
}
