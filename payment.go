package bursar

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// PaymentResult reports one PayFee call. When Success is false Rejection says
// which precondition failed and nothing was written.
type PaymentResult struct {
	Success     bool                 `json:"success"`
	ChargeID    id.ChargeID          `json:"charge_id"`
	NewStatus   charge.Status        `json:"new_status,omitempty"`
	PaidAmount  types.Money          `json:"paid_amount"`
	Remaining   types.Money          `json:"remaining"`
	Transaction *account.Transaction `json:"transaction,omitempty"`
	Rejection   *Rejection           `json:"rejection,omitempty"`
}

// Err returns the rejection as an error, or nil on success.
func (r *PaymentResult) Err() error {
	if r.Rejection == nil {
		return nil
	}
	return r.Rejection
}

// PayFee applies a full or partial payment to a charge and credits the
// student's account by the same amount, atomically. Payments larger than
// what remains on the charge are rejected.
func (b *Bursar) PayFee(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}
	prefix := b.referencePrefix()

	if in.Amount <= 0 {
		return b.rejected(ctx, in.ChargeID, rejectInvalidAmount(fmt.Sprintf("amount must be positive, got %d", in.Amount))), nil
	}

	var (
		res *PaymentResult
		rej *Rejection
		c   *charge.Charge
	)
	err := b.atomically(ctx, "pay_fee", func(ctx context.Context, tx store.Tx) error {
		res, rej, c = nil, nil, nil

		// The charge names the student, whose account must be locked
		// before the charge is read for update.
		peek, err := tx.GetCharge(ctx, in.ChargeID)
		if IsNotFound(err) {
			rej = rejectFeeNotFound()
			return nil
		}
		if err != nil {
			return err
		}

		acct, err := tx.LockAccountByStudent(ctx, peek.StudentID)
		if IsNotFound(err) {
			rej = rejectAccountMissing()
			return nil
		}
		if err != nil {
			return err
		}

		c, err = tx.GetCharge(ctx, in.ChargeID)
		if err != nil {
			return err
		}

		amount := types.New(in.Amount, c.Amount.Currency)
		remaining := c.Remaining()
		if amount.GreaterThan(remaining) {
			rej = rejectExceeds(remaining)
			return nil
		}

		expected := c.PaidAmount.Amount
		c.PaidAmount = c.PaidAmount.Add(amount)
		c.Status = charge.StatusFor(c.PaidAmount, c.Amount)
		c.Touch(b.Now())
		if err := tx.UpdateChargePayment(ctx, c, expected); err != nil {
			return err
		}

		ref := in.Reference
		if ref == "" {
			ref = newReference(prefix)
		}
		txn, err := b.post(ctx, tx, acct, account.TxCredit, amount, paymentDescription(c), ref, c.ID)
		if err != nil {
			return err
		}

		res = &PaymentResult{
			Success:     true,
			ChargeID:    c.ID,
			NewStatus:   c.Status,
			PaidAmount:  c.PaidAmount,
			Remaining:   c.Remaining(),
			Transaction: txn,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rej != nil {
		return b.rejected(ctx, in.ChargeID, rej), nil
	}

	b.logger.Info("payment applied",
		"charge_id", c.ID.String(),
		"student_id", c.StudentID.String(),
		"amount", res.Transaction.Amount.String(),
		"status", c.Status,
		"reference", res.Transaction.Reference,
		"method", in.Method,
	)
	b.plugins.EmitPaymentApplied(ctx, c, res.Transaction)
	return res, nil
}

func (b *Bursar) rejected(ctx context.Context, chargeID id.ChargeID, rej *Rejection) *PaymentResult {
	b.logger.Warn("payment rejected",
		"charge_id", chargeID.String(),
		"code", rej.Code,
		"reason", rej.Message,
	)
	b.plugins.EmitPaymentRejected(ctx, chargeID, string(rej.Code), rej.Message)

	res := &PaymentResult{ChargeID: chargeID, Rejection: rej}
	if rej.Remaining != nil {
		res.Remaining = *rej.Remaining
	}
	return res
}

func paymentDescription(c *charge.Charge) string {
	if c.Frequency == fee.FrequencyMonthly && c.Month != 0 {
		return fmt.Sprintf("Payment for %s (%02d/%04d)", c.FeeHeadName, c.Month, c.Year)
	}
	return "Payment for " + c.FeeHeadName
}

// newReference builds a receipt reference such as "RCPT-01JB6Z3Q8V".
func newReference(prefix string) string {
	suffix := strings.ToUpper(id.NewTxnID().Suffix())
	if len(suffix) > 10 {
		suffix = suffix[len(suffix)-10:]
	}
	return prefix + suffix
}
