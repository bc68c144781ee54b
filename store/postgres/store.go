// Package postgres is the PostgreSQL Bursar store, built on a pgx connection
// pool. Atomic units are database transactions; account rows are locked with
// SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/internal/sqlmodel"
	"github.com/xraph/bursar/student"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and returns a store that owns the pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("bursar/postgres: connect: %w", err)
	}
	return New(pool, opts...), nil
}

// Pool returns the underlying pgx pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx runs fn in a READ COMMITTED transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("bursar/postgres: begin: %w", mapErr(err, nil))
	}
	defer func() { _ = pgtx.Rollback(context.WithoutCancel(ctx)) }() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &txn{q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("bursar/postgres: commit: %w: %w", bursar.ErrAtomicityFailure, mapErr(err, nil))
	}
	return nil
}

// mapErr translates PostgreSQL error codes into Bursar sentinels. A unique
// violation becomes onUnique when it is set.
func mapErr(err error, onUnique error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if onUnique != nil {
			return fmt.Errorf("%w: %s", onUnique, pgErr.ConstraintName)
		}
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", bursar.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func one[M, T any](ctx context.Context, q querier, notFound error, fn func(*M) (T, error), sql string, args ...any) (T, error) {
	var zero T
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return zero, mapErr(err, nil)
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[M])
	if err != nil {
		if isNoRows(err) {
			return zero, notFound
		}
		return zero, mapErr(err, nil)
	}
	return fn(m)
}

func many[M, T any](ctx context.Context, q querier, fn func(*M) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, nil)
	}
	ms, err := pgx.CollectRows(rows, pgx.RowToStructByName[M])
	if err != nil {
		return nil, mapErr(err, nil)
	}
	return sqlmodel.Each(ms, fn)
}

// ==================== Fee catalog ====================

func (s *Store) CreateFeeHead(ctx context.Context, h *fee.Head) error {
	m := sqlmodel.ToFeeHead(h)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bursar_fee_heads (`+sqlmodel.FeeHeadColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Description, m.Frequency, m.CreatedAt, m.UpdatedAt)
	return mapErr(err, bursar.ErrAlreadyExists)
}

func (s *Store) GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return getFeeHead(ctx, s.pool, headID)
}

func getFeeHead(ctx context.Context, q querier, headID id.FeeHeadID) (*fee.Head, error) {
	return one(ctx, q, bursar.ErrFeeHeadNotFound, sqlmodel.FromFeeHead,
		`SELECT `+sqlmodel.FeeHeadColumns+` FROM bursar_fee_heads WHERE id = $1`, headID.String())
}

func (s *Store) ListFeeHeads(ctx context.Context) ([]*fee.Head, error) {
	return many(ctx, s.pool, sqlmodel.FromFeeHead,
		`SELECT `+sqlmodel.FeeHeadColumns+` FROM bursar_fee_heads ORDER BY name`)
}

func (s *Store) DeleteFeeHead(ctx context.Context, headID id.FeeHeadID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bursar_fee_heads WHERE id = $1`, headID.String())
	if err != nil {
		if isForeignKey(err) {
			return bursar.ErrFeeHeadInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return bursar.ErrFeeHeadNotFound
	}
	return nil
}

func (s *Store) CreateStructure(ctx context.Context, fs *fee.Structure) error {
	m := sqlmodel.ToStructure(fs)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bursar_fee_structures (`+sqlmodel.StructureColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ClassID, m.FeeHeadID, m.Amount, m.Currency, m.DueDay, m.CreatedAt, m.UpdatedAt)
	if isForeignKey(err) {
		return bursar.ErrFeeHeadNotFound
	}
	return mapErr(err, bursar.ErrAlreadyExists)
}

func (s *Store) ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return listStructures(ctx, s.pool, opts)
}

func listStructures(ctx context.Context, q querier, opts fee.ListOpts) ([]*fee.Structure, error) {
	query := `SELECT ` + sqlmodel.StructureColumns + ` FROM bursar_fee_structures WHERE true`
	var args []any
	if !opts.ClassID.IsNil() {
		args = append(args, opts.ClassID.String())
		query += fmt.Sprintf(" AND class_id = $%d", len(args))
	}
	if !opts.FeeHeadID.IsNil() {
		args = append(args, opts.FeeHeadID.String())
		query += fmt.Sprintf(" AND fee_head_id = $%d", len(args))
	}
	query += " ORDER BY id"
	return many(ctx, q, sqlmodel.FromStructure, query, args...)
}

func (s *Store) DeleteStructure(ctx context.Context, structureID id.StructureID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bursar_fee_structures WHERE id = $1`, structureID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bursar.ErrStructureNotFound
	}
	return nil
}

func (s *Store) SetOverride(ctx context.Context, o *fee.Override) error {
	return setOverride(ctx, s.pool, o)
}

func setOverride(ctx context.Context, q querier, o *fee.Override) error {
	m := sqlmodel.ToOverride(o)
	var (
		keptID  string
		created = m.CreatedAt
	)
	err := q.QueryRow(ctx, `
INSERT INTO bursar_fee_overrides (`+sqlmodel.OverrideColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (student_id, fee_head_id) DO UPDATE
SET amount = EXCLUDED.amount, currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at
RETURNING id, created_at`,
		m.ID, m.StudentID, m.FeeHeadID, m.Amount, m.Currency, m.CreatedAt, m.UpdatedAt,
	).Scan(&keptID, &created)
	if err != nil {
		if isForeignKey(err) {
			return bursar.ErrFeeHeadNotFound
		}
		return mapErr(err, nil)
	}
	overrideID, err := id.ParseOverrideID(keptID)
	if err != nil {
		return err
	}
	o.ID = overrideID
	o.CreatedAt = created.UTC()
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return listOverrides(ctx, s.pool, studentID)
}

func listOverrides(ctx context.Context, q querier, studentID id.StudentID) ([]*fee.Override, error) {
	return many(ctx, q, sqlmodel.FromOverride,
		`SELECT `+sqlmodel.OverrideColumns+` FROM bursar_fee_overrides WHERE student_id = $1 ORDER BY id`,
		studentID.String())
}

func (s *Store) DeleteOverride(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bursar_fee_overrides WHERE student_id = $1 AND fee_head_id = $2`,
		studentID.String(), headID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bursar.ErrOverrideNotFound
	}
	return nil
}

// ==================== Charges ====================

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return getCharge(ctx, s.pool, chargeID)
}

func getCharge(ctx context.Context, q querier, chargeID id.ChargeID) (*charge.Charge, error) {
	return one(ctx, q, bursar.ErrChargeNotFound, sqlmodel.FromCharge,
		`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges WHERE id = $1`, chargeID.String())
}

func (s *Store) ListCharges(ctx context.Context, studentID id.StudentID, opts charge.ListOpts) ([]*charge.Charge, error) {
	where, args := chargeWhere(opts.ForStudent(studentID))
	query, args := paged(`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges`+where+
		` ORDER BY due_date DESC, id DESC`, args, opts.Limit, opts.Offset)
	return many(ctx, s.pool, sqlmodel.FromCharge, query, args...)
}

func (s *Store) ListAllCharges(ctx context.Context, opts charge.FeeListOpts) ([]*charge.Charge, int, error) {
	where, args := chargeWhere(opts)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bursar_charges`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err, nil)
	}

	query, args := paged(`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges`+where+
		` ORDER BY due_date, id`, args, opts.Limit, opts.Offset)
	out, err := many(ctx, s.pool, sqlmodel.FromCharge, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// chargeWhere renders opts as a WHERE clause with numbered placeholders.
func chargeWhere(opts charge.FeeListOpts) (string, []any) {
	where := " WHERE true"
	var args []any
	and := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}

	if !opts.StudentID.IsNil() {
		and("student_id = $%d", opts.StudentID.String())
	}
	if !opts.ClassID.IsNil() {
		and("student_id IN (SELECT id FROM bursar_students WHERE class_id = $%d)", opts.ClassID.String())
	}
	if !opts.FeeHeadID.IsNil() {
		and("fee_head_id = $%d", opts.FeeHeadID.String())
	}
	if opts.Month != 0 {
		and("month = $%d", opts.Month)
	}
	if opts.Year != 0 {
		and("year = $%d", opts.Year)
	}

	m := opts.Match()
	if m.Status != "" {
		and("status = $%d", string(m.Status))
	}
	if m.Unpaid {
		and("status <> $%d", string(charge.StatusPaid))
	}
	if !m.DueBefore.IsZero() {
		and("due_date < $%d", m.DueBefore)
	}
	if !m.DueFrom.IsZero() {
		and("due_date >= $%d", m.DueFrom)
	}
	return where, args
}

func paged(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func (s *Store) ListUnsettled(ctx context.Context) ([]*charge.Charge, error) {
	return many(ctx, s.pool, sqlmodel.FromCharge,
		`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges WHERE status <> $1 ORDER BY id`,
		string(charge.StatusPaid))
}

func (s *Store) SumPaid(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(paid_amount), 0)::BIGINT FROM bursar_charges`).Scan(&total)
	return total, err
}

func (s *Store) HeadInUse(ctx context.Context, headID id.FeeHeadID) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bursar_charges WHERE fee_head_id = $1)`, headID.String(),
	).Scan(&used)
	return used, err
}

// ==================== Accounts ====================

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return one(ctx, s.pool, bursar.ErrAccountNotFound, sqlmodel.FromAccount,
		`SELECT `+sqlmodel.AccountColumns+` FROM bursar_accounts WHERE id = $1`, accountID.String())
}

func (s *Store) GetAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return one(ctx, s.pool, bursar.ErrAccountNotFound, sqlmodel.FromAccount,
		`SELECT `+sqlmodel.AccountColumns+` FROM bursar_accounts WHERE student_id = $1`, studentID.String())
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts account.ListOpts) ([]*account.Transaction, error) {
	query := `SELECT ` + sqlmodel.TransactionColumns + ` FROM bursar_transactions WHERE account_id = $1`
	args := []any{accountID.String()}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query, args = paged(query+" ORDER BY seq DESC", args, opts.Limit, opts.Offset)
	return many(ctx, s.pool, sqlmodel.FromTransaction, query, args...)
}

func (s *Store) ListAllTransactions(ctx context.Context, opts account.ListOpts) ([]*account.Transaction, error) {
	query := `SELECT ` + sqlmodel.TransactionColumns + ` FROM bursar_transactions`
	var args []any
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += " WHERE type = $1"
	}
	query, args = paged(query+" ORDER BY seq DESC", args, opts.Limit, opts.Offset)
	return many(ctx, s.pool, sqlmodel.FromTransaction, query, args...)
}

// ==================== Students ====================

func (s *Store) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return getStudent(ctx, s.pool, studentID)
}

func getStudent(ctx context.Context, q querier, studentID id.StudentID) (*student.Student, error) {
	return one(ctx, q, bursar.ErrStudentNotFound, sqlmodel.FromStudent,
		`SELECT `+sqlmodel.StudentColumns+` FROM bursar_students WHERE id = $1`, studentID.String())
}

func (s *Store) ListBillable(ctx context.Context) ([]id.StudentID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM bursar_students WHERE status = $1 ORDER BY id`, string(student.StatusActive))
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return sqlmodel.Each(raw, func(v *string) (id.StudentID, error) { return id.ParseStudentID(*v) })
}

// UpsertStudent stores a student projection outside an atomic unit.
func (s *Store) UpsertStudent(ctx context.Context, stu *student.Student) error {
	m := sqlmodel.ToStudent(stu)
	_, err := s.pool.Exec(ctx, `
INSERT INTO bursar_students (`+sqlmodel.StudentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET class_id = EXCLUDED.class_id, name = EXCLUDED.name, admission_no = EXCLUDED.admission_no,
    status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		m.ID, m.ClassID, m.Name, m.AdmissionNo, m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}
