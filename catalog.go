package bursar

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// catalogReader is satisfied by both store.Store and store.Tx.
type catalogReader interface {
	GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error)
	ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error)
	ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error)
}

// ──────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────

// Resolve returns what a student owes per fee head of their class: the
// student's override amount where one exists, else the class default.
func (b *Bursar) Resolve(ctx context.Context, studentID id.StudentID) ([]fee.Line, error) {
	stu, err := b.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return resolveLines(ctx, b.store, stu)
}

func resolveLines(ctx context.Context, r catalogReader, stu *student.Student) ([]fee.Line, error) {
	if stu.ClassID.IsNil() {
		return nil, fmt.Errorf("student %s: %w", stu.ID, ErrClassNotFound)
	}

	structures, err := r.ListStructures(ctx, fee.ListOpts{ClassID: stu.ClassID})
	if err != nil {
		return nil, fmt.Errorf("list structures for class %s: %w", stu.ClassID, err)
	}

	overrides, err := r.ListOverrides(ctx, stu.ID)
	if err != nil {
		return nil, fmt.Errorf("list overrides for student %s: %w", stu.ID, err)
	}
	byHead := make(map[id.FeeHeadID]*fee.Override, len(overrides))
	for _, o := range overrides {
		byHead[o.FeeHeadID] = o
	}

	lines := make([]fee.Line, 0, len(structures))
	for _, fs := range structures {
		head, err := r.GetFeeHead(ctx, fs.FeeHeadID)
		if err != nil {
			return nil, fmt.Errorf("fee head %s: %w", fs.FeeHeadID, err)
		}

		line := fee.Line{
			StructureID: fs.ID,
			FeeHeadID:   head.ID,
			FeeHeadName: head.Name,
			Frequency:   head.Frequency,
			Amount:      fs.Amount,
			DueDay:      fs.DueDay,
		}
		if o, ok := byHead[fs.FeeHeadID]; ok {
			line.Amount = o.Amount
			line.Overridden = true
		}
		lines = append(lines, line)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Frequency != lines[j].Frequency {
			return lines[i].Frequency == fee.FrequencyOneTime
		}
		return lines[i].FeeHeadName < lines[j].FeeHeadName
	})

	return lines, nil
}

// ──────────────────────────────────────────────────
// Catalog configuration
// ──────────────────────────────────────────────────

// CreateFeeHead creates a new fee head.
func (b *Bursar) CreateFeeHead(ctx context.Context, in FeeHeadInput) (*fee.Head, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}

	h := &fee.Head{
		Entity:      types.NewEntity(b.Now()),
		ID:          id.NewFeeHeadID(),
		Name:        in.Name,
		Description: in.Description,
		Frequency:   in.Frequency,
	}
	if err := b.store.CreateFeeHead(ctx, h); err != nil {
		return nil, err
	}

	b.logger.Info("fee head created", "fee_head_id", h.ID.String(), "name", h.Name, "frequency", h.Frequency)
	return h, nil
}

// GetFeeHead retrieves a fee head by ID.
func (b *Bursar) GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return b.store.GetFeeHead(ctx, headID)
}

// ListFeeHeads returns every fee head ordered by name.
func (b *Bursar) ListFeeHeads(ctx context.Context) ([]*fee.Head, error) {
	return b.store.ListFeeHeads(ctx)
}

// DeleteFeeHead removes a head with its structures and overrides. A head
// that any charge references cannot be deleted: the store refuses with
// ErrFeeHeadInUse in the same step as the delete.
func (b *Bursar) DeleteFeeHead(ctx context.Context, headID id.FeeHeadID) error {
	return b.store.DeleteFeeHead(ctx, headID)
}

// FeeHeadInUse reports whether any charge references the head, that is,
// whether DeleteFeeHead would be refused.
func (b *Bursar) FeeHeadInUse(ctx context.Context, headID id.FeeHeadID) (bool, error) {
	return b.store.HeadInUse(ctx, headID)
}

// CreateFeeStructure attaches a fee head to a class.
func (b *Bursar) CreateFeeStructure(ctx context.Context, in FeeStructureInput) (*fee.Structure, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}

	fs := &fee.Structure{
		Entity:    types.NewEntity(b.Now()),
		ID:        id.NewStructureID(),
		ClassID:   in.ClassID,
		FeeHeadID: in.FeeHeadID,
		Amount:    b.money(in.Amount),
		DueDay:    fee.DueDay(in.DueDay),
	}
	if err := b.store.CreateStructure(ctx, fs); err != nil {
		return nil, err
	}
	return fs, nil
}

// ListFeeStructures lists structures, optionally for one class or head.
func (b *Bursar) ListFeeStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return b.store.ListStructures(ctx, opts)
}

// DeleteFeeStructure detaches a head from a class. Charges already created
// from it are untouched.
func (b *Bursar) DeleteFeeStructure(ctx context.Context, structureID id.StructureID) error {
	return b.store.DeleteStructure(ctx, structureID)
}

// SetOverride sets the amount one student owes for one head, replacing any
// previous override.
func (b *Bursar) SetOverride(ctx context.Context, in OverrideInput) (*fee.Override, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}
	if _, err := b.store.GetStudent(ctx, in.StudentID); err != nil {
		return nil, err
	}

	o := &fee.Override{
		Entity:    types.NewEntity(b.Now()),
		ID:        id.NewOverrideID(),
		StudentID: in.StudentID,
		FeeHeadID: in.FeeHeadID,
		Amount:    b.money(in.Amount),
	}
	if err := b.store.SetOverride(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// RemoveOverride restores the class default for a student and head.
func (b *Bursar) RemoveOverride(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID) error {
	err := b.store.DeleteOverride(ctx, studentID, headID)
	if errors.Is(err, ErrOverrideNotFound) {
		return nil
	}
	return err
}
