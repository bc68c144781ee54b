package fee

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store persists the fee catalog. The catalog is configuration: the billing
// core only reads it.
type Store interface {
	CreateFeeHead(ctx context.Context, h *Head) error
	GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*Head, error)
	ListFeeHeads(ctx context.Context) ([]*Head, error)
	// DeleteFeeHead cascades to the head's structures and overrides. It fails
	// with bursar.ErrFeeHeadInUse while any charge references the head.
	DeleteFeeHead(ctx context.Context, headID id.FeeHeadID) error

	CreateStructure(ctx context.Context, s *Structure) error
	ListStructures(ctx context.Context, opts ListOpts) ([]*Structure, error)
	DeleteStructure(ctx context.Context, structureID id.StructureID) error

	// SetOverride inserts or replaces the (student, head) override.
	SetOverride(ctx context.Context, o *Override) error
	ListOverrides(ctx context.Context, studentID id.StudentID) ([]*Override, error)
	DeleteOverride(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID) error
}

// ListOpts filters structures. Zero values match everything.
type ListOpts struct {
	ClassID   id.ClassID
	FeeHeadID id.FeeHeadID
}
