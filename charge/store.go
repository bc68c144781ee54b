package charge

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store is the read side of charges. Writes go through store.Tx so that they
// share an atomic unit with the ledger.
type Store interface {
	GetCharge(ctx context.Context, chargeID id.ChargeID) (*Charge, error)
	// ListCharges returns newest period first.
	ListCharges(ctx context.Context, studentID id.StudentID, opts ListOpts) ([]*Charge, error)
	// ListAllCharges returns charges across students, earliest due first,
	// with the number of matching charges before paging.
	ListAllCharges(ctx context.Context, opts FeeListOpts) ([]*Charge, int, error)
	// ListUnsettled returns every charge not yet paid, across all students.
	ListUnsettled(ctx context.Context) ([]*Charge, error)
	// SumPaid returns Σ paid_amount over all charges, in minor units.
	SumPaid(ctx context.Context) (int64, error)
	// HeadInUse reports whether any charge references the head.
	HeadInUse(ctx context.Context, headID id.FeeHeadID) (bool, error)
}
