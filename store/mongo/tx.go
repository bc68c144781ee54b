package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
)

var _ store.Tx = (*txn)(nil)

// txn runs on the session context handed to it by RunInTx, so every
// operation joins the session transaction.
type txn struct {
	s *Store
}

func (t *txn) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return t.s.GetStudent(ctx, studentID)
}

func (t *txn) CreateStudent(ctx context.Context, stu *student.Student) error {
	if _, err := t.s.col(colStudents).InsertOne(ctx, toStudentModel(stu)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrStudentExists
		}
		return fmt.Errorf("bursar/mongo: create student: %w", err)
	}
	return nil
}

func (t *txn) GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return t.s.GetFeeHead(ctx, headID)
}

func (t *txn) ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return t.s.ListStructures(ctx, opts)
}

func (t *txn) ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return t.s.ListOverrides(ctx, studentID)
}

func (t *txn) SetOverride(ctx context.Context, o *fee.Override) error {
	return t.s.SetOverride(ctx, o)
}

func (t *txn) CreateAccount(ctx context.Context, a *account.Account) error {
	if _, err := t.s.col(colAccounts).InsertOne(ctx, toAccountModel(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", bursar.ErrAccountExists, bursar.ErrConcurrencyConflict)
		}
		return fmt.Errorf("bursar/mongo: create account: %w", err)
	}
	return nil
}

// lock bumps the account's lock counter. A second unit writing the same
// document before this one commits fails with a transient write conflict
// and the session transaction is retried.
func (t *txn) lock(ctx context.Context, filter bson.M) (*account.Account, error) {
	var m accountModel
	err := t.s.col(colAccounts).FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{"lock": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrAccountNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: lock account: %w", err)
	}
	return fromAccountModel(&m)
}

func (t *txn) LockAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return t.lock(ctx, bson.M{"_id": accountID.String()})
}

func (t *txn) LockAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return t.lock(ctx, bson.M{"student_id": studentID.String()})
}

func (t *txn) AppendTransaction(ctx context.Context, a *account.Account, tr *account.Transaction) error {
	var m accountModel
	err := t.s.col(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"_id": a.ID.String(), "version": a.Version},
		bson.M{
			"$inc": bson.M{"balance": tr.Signed().Amount, "version": 1},
			"$set": bson.M{"updated_at": tr.CreatedAt},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if !isNoDocuments(err) {
			return fmt.Errorf("bursar/mongo: update account: %w", err)
		}
		if _, gerr := t.s.GetAccount(ctx, a.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("account %s version %d is stale: %w", a.ID, a.Version, bursar.ErrConcurrencyConflict)
	}

	if _, err := t.s.col(colTransactions).InsertOne(ctx, toTransactionModel(tr, m.Version)); err != nil {
		return fmt.Errorf("bursar/mongo: insert transaction: %w", err)
	}

	stored, err := fromAccountModel(&m)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

func (t *txn) ChargeExists(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID, period string) (bool, error) {
	return exists(ctx, t.s.col(colCharges), bson.M{
		"student_id":  studentID.String(),
		"fee_head_id": headID.String(),
		"period":      period,
	})
}

func (t *txn) InsertCharge(ctx context.Context, c *charge.Charge) error {
	if _, err := t.s.col(colCharges).InsertOne(ctx, toChargeModel(c)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrDuplicateCharge
		}
		return fmt.Errorf("bursar/mongo: insert charge: %w", err)
	}
	return nil
}

func (t *txn) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return t.s.GetCharge(ctx, chargeID)
}

func (t *txn) UpdateChargePayment(ctx context.Context, c *charge.Charge, expectedPaid int64) error {
	res, err := t.s.col(colCharges).UpdateOne(ctx,
		bson.M{"_id": c.ID.String(), "paid_amount": expectedPaid},
		bson.M{"$set": bson.M{
			"paid_amount": c.PaidAmount.Amount,
			"status":      string(c.Status),
			"updated_at":  c.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("bursar/mongo: update charge: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, gerr := t.s.GetCharge(ctx, c.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("charge %s paid amount moved from %d: %w", c.ID, expectedPaid, bursar.ErrConcurrencyConflict)
	}
	return nil
}
