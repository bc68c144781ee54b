package account

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store is the read side of accounts. Balances change only through
// store.Tx.AppendTransaction.
type Store interface {
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	GetAccountByStudent(ctx context.Context, studentID id.StudentID) (*Account, error)
	ListTransactions(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Transaction, error)
	// ListAllTransactions returns transactions of every account, newest first.
	ListAllTransactions(ctx context.Context, opts ListOpts) ([]*Transaction, error)
}
