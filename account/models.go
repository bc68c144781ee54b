// Package account models the student account and its append-only
// transaction log.
package account

import (
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// Account holds what a student owes. Balance always equals Σ debits - Σ
// credits over the account's transactions.
type Account struct {
	types.Entity
	ID        id.AccountID `json:"id"`
	StudentID id.StudentID `json:"student_id"`
	Balance   types.Money  `json:"balance"`
	Version   int64        `json:"version"`
}

// TxType is the direction of a transaction.
type TxType string

const (
	// TxDebit increases what the student owes.
	TxDebit TxType = "debit"
	// TxCredit decreases what the student owes.
	TxCredit TxType = "credit"
)

// Transaction is immutable once written.
type Transaction struct {
	ID          id.TxnID     `json:"id"`
	AccountID   id.AccountID `json:"account_id"`
	Amount      types.Money  `json:"amount"` // always positive
	Type        TxType       `json:"type"`
	Description string       `json:"description"`
	Reference   string       `json:"reference,omitempty"`
	ChargeID    id.ChargeID  `json:"charge_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Signed returns the balance delta this transaction applies.
func (t *Transaction) Signed() types.Money {
	if t.Type == TxCredit {
		return t.Amount.Negate()
	}
	return t.Amount
}

// Replay folds transactions into the balance they imply.
func Replay(currency string, txns []*Transaction) types.Money {
	total := types.Zero(currency)
	for _, t := range txns {
		total = total.Add(t.Signed())
	}
	return total
}

// ListOpts pages a transaction log, newest first.
type ListOpts struct {
	Type   TxType
	Limit  int
	Offset int
}
