package bursar

import (
	"context"
	"fmt"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// ──────────────────────────────────────────────────
// Read models
// ──────────────────────────────────────────────────

// GetAccount retrieves an account by ID.
func (b *Bursar) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return b.store.GetAccount(ctx, accountID)
}

// GetStudentAccount retrieves a student's account.
func (b *Bursar) GetStudentAccount(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return b.store.GetAccountByStudent(ctx, studentID)
}

// GetCharge retrieves a charge with its effective status.
func (b *Bursar) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	c, err := b.store.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	c.Status = c.EffectiveStatus(b.Now())
	return c, nil
}

// ListCharges lists a student's charges, newest first, reporting overdue
// charges as charge.StatusOverdue. A Status filter matches that reported
// status: pending excludes overdue charges and overdue can be asked for.
func (b *Bursar) ListCharges(ctx context.Context, studentID id.StudentID, opts charge.ListOpts) ([]*charge.Charge, error) {
	now := b.Now()
	if opts.AsOf.IsZero() {
		opts.AsOf = now
	}
	charges, err := b.store.ListCharges(ctx, studentID, opts)
	if err != nil {
		return nil, err
	}
	for _, c := range charges {
		c.Status = c.EffectiveStatus(opts.AsOf)
	}
	return charges, nil
}

// FeeList is one page of school-wide charges.
type FeeList struct {
	Charges []*charge.Charge `json:"charges"`
	Total   int              `json:"total"`
}

// ListAllCharges lists charges across the school, earliest due first, with
// the same status semantics as ListCharges. Total counts every match.
func (b *Bursar) ListAllCharges(ctx context.Context, opts charge.FeeListOpts) (*FeeList, error) {
	if opts.Limit < 0 || opts.Offset < 0 || opts.Month < 0 || opts.Month > 12 {
		return nil, ValidationError{Field: "FeeListOpts", Message: "negative paging or month out of range"}
	}
	if opts.AsOf.IsZero() {
		opts.AsOf = b.Now()
	}
	charges, total, err := b.store.ListAllCharges(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, c := range charges {
		c.Status = c.EffectiveStatus(opts.AsOf)
	}
	return &FeeList{Charges: charges, Total: total}, nil
}

// ListTransactions lists an account's transactions, newest first.
func (b *Bursar) ListTransactions(ctx context.Context, accountID id.AccountID, opts account.ListOpts) ([]*account.Transaction, error) {
	return b.store.ListTransactions(ctx, accountID, opts)
}

// ListAllTransactions lists transactions of every account, newest first.
func (b *Bursar) ListAllTransactions(ctx context.Context, opts account.ListOpts) ([]*account.Transaction, error) {
	return b.store.ListAllTransactions(ctx, opts)
}

// Statement is everything a student owes and has paid.
type Statement struct {
	Account      *account.Account       `json:"account"`
	Charges      []*charge.Charge       `json:"charges"`
	Transactions []*account.Transaction `json:"transactions"`
	Outstanding  types.Money            `json:"outstanding"`
	Verification *Verification          `json:"verification"`
}

// Statement assembles the student's account, charges and transactions.
func (b *Bursar) Statement(ctx context.Context, studentID id.StudentID) (*Statement, error) {
	acct, err := b.store.GetAccountByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	charges, err := b.ListCharges(ctx, studentID, charge.ListOpts{})
	if err != nil {
		return nil, err
	}

	v, err := b.VerifyAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	txns, err := b.store.ListTransactions(ctx, acct.ID, account.ListOpts{})
	if err != nil {
		return nil, err
	}

	outstanding := types.Zero(acct.Balance.Currency)
	for _, c := range charges {
		if outstanding, err = addMoney(outstanding, c.Remaining()); err != nil {
			return nil, fmt.Errorf("charge %s: %w", c.ID, err)
		}
	}

	return &Statement{
		Account:      v.account,
		Charges:      charges,
		Transactions: txns,
		Outstanding:  outstanding,
		Verification: v,
	}, nil
}

// Verification compares a stored balance with the balance its transaction
// log implies.
type Verification struct {
	AccountID    id.AccountID `json:"account_id"`
	Stored       types.Money  `json:"stored"`
	Computed     types.Money  `json:"computed"`
	Transactions int          `json:"transactions"`
	Consistent   bool         `json:"consistent"`

	account *account.Account
}

// VerifyAccount recomputes Σ debits - Σ credits for the account and compares
// it with the stored balance.
func (b *Bursar) VerifyAccount(ctx context.Context, accountID id.AccountID) (*Verification, error) {
	const attempts = 3
	for range attempts {
		before, err := b.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		txns, err := b.store.ListTransactions(ctx, accountID, account.ListOpts{})
		if err != nil {
			return nil, err
		}
		after, err := b.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if before.Version != after.Version {
			continue
		}

		computed := account.Replay(after.Balance.Currency, txns)
		v := &Verification{
			AccountID:    accountID,
			Stored:       after.Balance,
			Computed:     computed,
			Transactions: len(txns),
			Consistent:   computed.Equal(after.Balance) && int64(len(txns)) == after.Version,
			account:      after,
		}
		if !v.Consistent {
			b.logger.Error("account balance disagrees with transactions",
				"account_id", accountID.String(),
				"stored", after.Balance.String(),
				"computed", computed.String(),
				"transactions", len(txns),
				"version", after.Version,
			)
		}
		return v, nil
	}
	return nil, fmt.Errorf("verify account %s: %w", accountID, ErrConcurrencyConflict)
}

// Stats are school-wide fee totals. Pending and Overdue are what remains on
// unsettled charges, split by due date.
type Stats struct {
	Collected     types.Money `json:"collected"`
	Pending       types.Money `json:"pending"`
	Overdue       types.Money `json:"overdue"`
	PendingCount  int         `json:"pending_count"`
	OverdueCount  int         `json:"overdue_count"`
	CollectionPct float64     `json:"collection_pct"`
}

// Stats computes collected, pending and overdue totals over all charges.
func (b *Bursar) Stats(ctx context.Context) (*Stats, error) {
	paid, err := b.store.SumPaid(ctx)
	if err != nil {
		return nil, err
	}
	unsettled, err := b.store.ListUnsettled(ctx)
	if err != nil {
		return nil, err
	}

	now := b.Now()
	s := &Stats{
		Collected: b.money(paid),
		Pending:   b.money(0),
		Overdue:   b.money(0),
	}
	for _, c := range unsettled {
		if c.EffectiveStatus(now) == charge.StatusOverdue {
			if s.Overdue, err = addMoney(s.Overdue, c.Remaining()); err != nil {
				return nil, fmt.Errorf("charge %s: %w", c.ID, err)
			}
			s.OverdueCount++
			continue
		}
		if s.Pending, err = addMoney(s.Pending, c.Remaining()); err != nil {
			return nil, fmt.Errorf("charge %s: %w", c.ID, err)
		}
		s.PendingCount++
	}

	billed := s.Collected.Amount + s.Pending.Amount + s.Overdue.Amount
	if billed > 0 {
		s.CollectionPct = float64(s.Collected.Amount) * 100 / float64(billed)
	}
	return s, nil
}
