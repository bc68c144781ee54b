// Package mongo is the MongoDB Bursar store. Atomic units are multi-document
// transactions, which need a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

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

// Collection name constants.
const (
	colFeeHeads     = "bursar_fee_heads"
	colStructures   = "bursar_fee_structures"
	colOverrides    = "bursar_fee_overrides"
	colStudents     = "bursar_students"
	colAccounts     = "bursar_accounts"
	colTransactions = "bursar_transactions"
	colCharges      = "bursar_charges"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store on database name of an existing client.
func New(client *mongo.Client, name string, opts ...Option) *Store {
	s := &Store{client: client, db: client.Database(name), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and returns a store on database name that owns the
// client.
func Open(uri, name string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: connect: %w", err)
	}
	return New(client, name, opts...), nil
}

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

// Migrate creates indexes for all bursar collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("bursar/mongo: migrate %s indexes: %w: %w", col, bursar.ErrMigrationFailed, err)
		}
		s.logger.Info("indexes ensured", "collection", col, "count", len(models))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// RunInTx runs fn in a session transaction. The driver retries fn on
// transient transaction errors such as write conflicts.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("bursar/mongo: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	var fnErr error
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		fnErr = fn(ctx, &txn{s: s})
		return nil, fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		return fmt.Errorf("bursar/mongo: commit: %w: %w", bursar.ErrAtomicityFailure, err)
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func findOne[M, T any](ctx context.Context, c *mongo.Collection, filter any, notFound error, fn func(*M) (T, error)) (T, error) {
	var (
		zero T
		m    M
	)
	if err := c.FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return zero, notFound
		}
		return zero, fmt.Errorf("bursar/mongo: find %s: %w", c.Name(), err)
	}
	return fn(&m)
}

func findMany[M, T any](ctx context.Context, c *mongo.Collection, filter any, opts *options.FindOptionsBuilder, fn func(*M) (T, error)) ([]T, error) {
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: find %s: %w", c.Name(), err)
	}
	var ms []M
	if err := cur.All(ctx, &ms); err != nil {
		return nil, fmt.Errorf("bursar/mongo: decode %s: %w", c.Name(), err)
	}
	return each(ms, fn)
}

func exists(ctx context.Context, c *mongo.Collection, filter any) (bool, error) {
	n, err := c.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("bursar/mongo: count %s: %w", c.Name(), err)
	}
	return n > 0, nil
}

// ==================== Fee catalog ====================

func (s *Store) CreateFeeHead(ctx context.Context, h *fee.Head) error {
	if _, err := s.col(colFeeHeads).InsertOne(ctx, toFeeHeadModel(h)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrAlreadyExists
		}
		return fmt.Errorf("bursar/mongo: create fee head: %w", err)
	}
	return nil
}

func (s *Store) GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return findOne(ctx, s.col(colFeeHeads), bson.M{"_id": headID.String()}, bursar.ErrFeeHeadNotFound, fromFeeHeadModel)
}

func (s *Store) ListFeeHeads(ctx context.Context) ([]*fee.Head, error) {
	return findMany(ctx, s.col(colFeeHeads), bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}), fromFeeHeadModel)
}

// DeleteFeeHead removes the head with its structures and overrides in one
// transaction, refusing while any charge references it.
func (s *Store) DeleteFeeHead(ctx context.Context, headID id.FeeHeadID) error {
	return s.RunInTx(ctx, func(ctx context.Context, _ store.Tx) error {
		key := headID.String()
		inUse, err := exists(ctx, s.col(colCharges), bson.M{"fee_head_id": key})
		if err != nil {
			return err
		}
		if inUse {
			return bursar.ErrFeeHeadInUse
		}
		res, err := s.col(colFeeHeads).DeleteOne(ctx, bson.M{"_id": key})
		if err != nil {
			return fmt.Errorf("bursar/mongo: delete fee head: %w", err)
		}
		if res.DeletedCount == 0 {
			return bursar.ErrFeeHeadNotFound
		}
		if _, err := s.col(colStructures).DeleteMany(ctx, bson.M{"fee_head_id": key}); err != nil {
			return fmt.Errorf("bursar/mongo: delete structures: %w", err)
		}
		if _, err := s.col(colOverrides).DeleteMany(ctx, bson.M{"fee_head_id": key}); err != nil {
			return fmt.Errorf("bursar/mongo: delete overrides: %w", err)
		}
		return nil
	})
}

func (s *Store) headExists(ctx context.Context, headID id.FeeHeadID) error {
	ok, err := exists(ctx, s.col(colFeeHeads), bson.M{"_id": headID.String()})
	if err != nil {
		return err
	}
	if !ok {
		return bursar.ErrFeeHeadNotFound
	}
	return nil
}

func (s *Store) CreateStructure(ctx context.Context, fs *fee.Structure) error {
	if err := s.headExists(ctx, fs.FeeHeadID); err != nil {
		return err
	}
	if _, err := s.col(colStructures).InsertOne(ctx, toStructureModel(fs)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrAlreadyExists
		}
		return fmt.Errorf("bursar/mongo: create structure: %w", err)
	}
	return nil
}

func (s *Store) ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	filter := bson.M{}
	if !opts.ClassID.IsNil() {
		filter["class_id"] = opts.ClassID.String()
	}
	if !opts.FeeHeadID.IsNil() {
		filter["fee_head_id"] = opts.FeeHeadID.String()
	}
	return findMany(ctx, s.col(colStructures), filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), fromStructureModel)
}

func (s *Store) DeleteStructure(ctx context.Context, structureID id.StructureID) error {
	res, err := s.col(colStructures).DeleteOne(ctx, bson.M{"_id": structureID.String()})
	if err != nil {
		return fmt.Errorf("bursar/mongo: delete structure: %w", err)
	}
	if res.DeletedCount == 0 {
		return bursar.ErrStructureNotFound
	}
	return nil
}

// SetOverride upserts on (student, head). It runs inside a unit when ctx is
// the unit's session context.
func (s *Store) SetOverride(ctx context.Context, o *fee.Override) error {
	if err := s.headExists(ctx, o.FeeHeadID); err != nil {
		return err
	}
	filter := bson.M{"student_id": o.StudentID.String(), "fee_head_id": o.FeeHeadID.String()}
	update := bson.M{
		"$set": bson.M{
			"amount":     o.Amount.Amount,
			"currency":   o.Amount.Currency,
			"updated_at": o.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":        o.ID.String(),
			"created_at": o.CreatedAt,
		},
	}
	var m overrideModel
	err := s.col(colOverrides).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return fmt.Errorf("bursar/mongo: set override: %w", err)
	}
	stored, err := fromOverrideModel(&m)
	if err != nil {
		return err
	}
	o.ID = stored.ID
	o.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return findMany(ctx, s.col(colOverrides), bson.M{"student_id": studentID.String()},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), fromOverrideModel)
}

func (s *Store) DeleteOverride(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID) error {
	res, err := s.col(colOverrides).DeleteOne(ctx, bson.M{"student_id": studentID.String(), "fee_head_id": headID.String()})
	if err != nil {
		return fmt.Errorf("bursar/mongo: delete override: %w", err)
	}
	if res.DeletedCount == 0 {
		return bursar.ErrOverrideNotFound
	}
	return nil
}

// ==================== Charges ====================

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return findOne(ctx, s.col(colCharges), bson.M{"_id": chargeID.String()}, bursar.ErrChargeNotFound, fromChargeModel)
}

func (s *Store) ListCharges(ctx context.Context, studentID id.StudentID, opts charge.ListOpts) ([]*charge.Charge, error) {
	filter, err := s.chargeFilter(ctx, opts.ForStudent(studentID))
	if err != nil {
		return nil, err
	}
	find := options.Find().SetSort(bson.D{{Key: "due_date", Value: -1}, {Key: "_id", Value: -1}})
	return findMany(ctx, s.col(colCharges), filter, page(find, opts.Limit, opts.Offset), fromChargeModel)
}

func (s *Store) ListAllCharges(ctx context.Context, opts charge.FeeListOpts) ([]*charge.Charge, int, error) {
	filter, err := s.chargeFilter(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.col(colCharges).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("bursar/mongo: count charges: %w", err)
	}
	find := options.Find().SetSort(bson.D{{Key: "due_date", Value: 1}, {Key: "_id", Value: 1}})
	out, err := findMany(ctx, s.col(colCharges), filter, page(find, opts.Limit, opts.Offset), fromChargeModel)
	if err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

// chargeFilter renders opts as a charge filter. A class filter is resolved
// to the class's student IDs first. Due dates are stored as "2006-01-02"
// strings, so days compare as strings.
func (s *Store) chargeFilter(ctx context.Context, opts charge.FeeListOpts) (bson.M, error) {
	filter := bson.M{}
	if !opts.StudentID.IsNil() {
		filter["student_id"] = opts.StudentID.String()
	}
	if !opts.ClassID.IsNil() {
		ids, err := s.classStudents(ctx, opts.ClassID)
		if err != nil {
			return nil, err
		}
		if sid, ok := filter["student_id"]; ok {
			filter["$and"] = bson.A{bson.M{"student_id": sid}, bson.M{"student_id": bson.M{"$in": ids}}}
			delete(filter, "student_id")
		} else {
			filter["student_id"] = bson.M{"$in": ids}
		}
	}
	if !opts.FeeHeadID.IsNil() {
		filter["fee_head_id"] = opts.FeeHeadID.String()
	}
	if opts.Month != 0 {
		filter["month"] = opts.Month
	}
	if opts.Year != 0 {
		filter["year"] = opts.Year
	}

	m := opts.Match()
	switch {
	case m.Status != "":
		filter["status"] = string(m.Status)
	case m.Unpaid:
		filter["status"] = bson.M{"$ne": string(charge.StatusPaid)}
	}
	due := bson.M{}
	if !m.DueBefore.IsZero() {
		due["$lt"] = m.DueBefore.Format(time.DateOnly)
	}
	if !m.DueFrom.IsZero() {
		due["$gte"] = m.DueFrom.Format(time.DateOnly)
	}
	if len(due) > 0 {
		filter["due_date"] = due
	}
	return filter, nil
}

func (s *Store) classStudents(ctx context.Context, classID id.ClassID) (bson.A, error) {
	cur, err := s.col(colStudents).Find(ctx, bson.M{"class_id": classID.String()},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: class students: %w", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("bursar/mongo: class students: %w", err)
	}
	ids := make(bson.A, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func page(find *options.FindOptionsBuilder, limit, offset int) *options.FindOptionsBuilder {
	if limit > 0 {
		find = find.SetLimit(int64(limit))
	}
	if offset > 0 {
		find = find.SetSkip(int64(offset))
	}
	return find
}

func (s *Store) ListUnsettled(ctx context.Context) ([]*charge.Charge, error) {
	return findMany(ctx, s.col(colCharges), bson.M{"status": bson.M{"$ne": string(charge.StatusPaid)}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), fromChargeModel)
}

func (s *Store) SumPaid(ctx context.Context) (int64, error) {
	cur, err := s.col(colCharges).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$paid_amount"}}},
		}}},
	})
	if err != nil {
		return 0, fmt.Errorf("bursar/mongo: sum paid: %w", err)
	}
	var out []struct {
		Total int64 `bson:"total"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return 0, fmt.Errorf("bursar/mongo: sum paid: %w", err)
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].Total, nil
}

func (s *Store) HeadInUse(ctx context.Context, headID id.FeeHeadID) (bool, error) {
	return exists(ctx, s.col(colCharges), bson.M{"fee_head_id": headID.String()})
}

// ==================== Accounts ====================

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return findOne(ctx, s.col(colAccounts), bson.M{"_id": accountID.String()}, bursar.ErrAccountNotFound, fromAccountModel)
}

func (s *Store) GetAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return findOne(ctx, s.col(colAccounts), bson.M{"student_id": studentID.String()}, bursar.ErrAccountNotFound, fromAccountModel)
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts account.ListOpts) ([]*account.Transaction, error) {
	filter := bson.M{"account_id": accountID.String()}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	find := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	return findMany(ctx, s.col(colTransactions), filter, page(find, opts.Limit, opts.Offset), fromTransactionModel)
}

// ListAllTransactions orders by creation time, then by ID, which is
// time-ordered within the same instant.
func (s *Store) ListAllTransactions(ctx context.Context, opts account.ListOpts) ([]*account.Transaction, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	find := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return findMany(ctx, s.col(colTransactions), filter, page(find, opts.Limit, opts.Offset), fromTransactionModel)
}

// ==================== Students ====================

func (s *Store) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return findOne(ctx, s.col(colStudents), bson.M{"_id": studentID.String()}, bursar.ErrStudentNotFound, fromStudentModel)
}

func (s *Store) ListBillable(ctx context.Context) ([]id.StudentID, error) {
	find := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	cur, err := s.col(colStudents).Find(ctx, bson.M{"status": string(student.StatusActive)}, find)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: list billable: %w", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("bursar/mongo: list billable: %w", err)
	}
	out := make([]id.StudentID, 0, len(rows))
	for _, r := range rows {
		studentID, err := id.ParseStudentID(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, studentID)
	}
	return out, nil
}

// UpsertStudent stores a student projection outside an atomic unit.
func (s *Store) UpsertStudent(ctx context.Context, stu *student.Student) error {
	m := toStudentModel(stu)
	_, err := s.col(colStudents).UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{
			"$set": bson.M{
				"class_id":     m.ClassID,
				"name":         m.Name,
				"admission_no": m.AdmissionNo,
				"status":       m.Status,
				"updated_at":   m.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("bursar/mongo: upsert student: %w", err)
	}
	return nil
}

// migrationIndexes returns the index definitions for all bursar collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colFeeHeads: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colStructures: {
			{
				Keys:    bson.D{{Key: "class_id", Value: 1}, {Key: "fee_head_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "fee_head_id", Value: 1}}},
		},
		colOverrides: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "fee_head_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "fee_head_id", Value: 1}}},
		},
		colStudents: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "class_id", Value: 1}}},
		},
		colAccounts: {
			{Keys: bson.D{{Key: "student_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "seq", Value: -1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		},
		colCharges: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "fee_head_id", Value: 1}, {Key: "period", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "due_date", Value: -1}}},
			{Keys: bson.D{{Key: "due_date", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "fee_head_id", Value: 1}}},
		},
	}
}
