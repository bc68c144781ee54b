package bursar

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// OpenAccount creates the zero-balance account of an existing student. If the
// student already has one it is returned unchanged.
func (b *Bursar) OpenAccount(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	var acct *account.Account
	err := b.atomically(ctx, "open_account", func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetStudent(ctx, studentID); err != nil {
			return err
		}
		existing, err := tx.LockAccountByStudent(ctx, studentID)
		if err == nil {
			acct = existing
			return nil
		}
		if !IsNotFound(err) {
			return err
		}
		acct = b.newAccount(studentID)
		return tx.CreateAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (b *Bursar) newAccount(studentID id.StudentID) *account.Account {
	return &account.Account{
		Entity:    types.NewEntity(b.Now()),
		ID:        id.NewAccountID(),
		StudentID: studentID,
		Balance:   b.money(0),
	}
}

// ──────────────────────────────────────────────────
// Ledger primitives
// ──────────────────────────────────────────────────

// Debit increases what the account owes by amount and records one debit
// transaction, atomically.
func (b *Bursar) Debit(ctx context.Context, accountID id.AccountID, amount int64, description string) (*account.Transaction, error) {
	return b.postOne(ctx, accountID, account.TxDebit, amount, description, id.Nil)
}

// Credit decreases what the account owes by amount and records one credit
// transaction, atomically. It does not check any charge: callers settling a
// charge go through PayFee.
func (b *Bursar) Credit(ctx context.Context, accountID id.AccountID, amount int64, description string, chargeID id.ChargeID) (*account.Transaction, error) {
	return b.postOne(ctx, accountID, account.TxCredit, amount, description, chargeID)
}

func (b *Bursar) postOne(ctx context.Context, accountID id.AccountID, typ account.TxType, amount int64, description string, chargeID id.ChargeID) (*account.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%s of %d: %w", typ, amount, ErrNonPositive)
	}

	var (
		acct *account.Account
		txn  *account.Transaction
	)
	err := b.atomically(ctx, string(typ), func(ctx context.Context, tx store.Tx) error {
		var err error
		acct, err = tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		txn, err = b.post(ctx, tx, acct, typ, b.money(amount), description, "", chargeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if typ == account.TxDebit {
		b.plugins.EmitAccountDebited(ctx, acct, txn)
	} else {
		b.plugins.EmitAccountCredited(ctx, acct, txn)
	}
	return txn, nil
}

// addMoney is checked addition with engine errors: ErrCurrency for a
// currency mismatch and ErrAmountTooLarge for overflow.
func addMoney(a, b types.Money) (types.Money, error) {
	sum, err := a.CheckedAdd(b)
	switch {
	case errors.Is(err, types.ErrCurrencyMismatch):
		return a, fmt.Errorf("%s amount on %s total: %w", b.Currency, a.Currency, ErrCurrency)
	case err != nil:
		return a, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
	}
	return sum, nil
}

// post is the single place a balance moves. acct must have been locked in
// the same unit; it is updated in place.
func (b *Bursar) post(
	ctx context.Context,
	tx store.Tx,
	acct *account.Account,
	typ account.TxType,
	amount types.Money,
	description, reference string,
	chargeID id.ChargeID,
) (*account.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s of %s: %w", typ, amount, ErrNonPositive)
	}
	if !amount.SameCurrency(acct.Balance) {
		return nil, fmt.Errorf("%s in %s on %s account: %w", typ, amount.Currency, acct.Balance.Currency, ErrCurrency)
	}

	txn := &account.Transaction{
		ID:          id.NewTxnID(),
		AccountID:   acct.ID,
		Amount:      amount,
		Type:        typ,
		Description: description,
		Reference:   reference,
		ChargeID:    chargeID,
		CreatedAt:   b.Now(),
	}
	if err := tx.AppendTransaction(ctx, acct, txn); err != nil {
		return nil, err
	}
	return txn, nil
}
