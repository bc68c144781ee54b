// Package sqlite is the embedded SQLite Bursar store (modernc.org/sqlite, no
// cgo). The pool is pinned to one connection so atomic units are serialised
// and never meet SQLITE_BUSY from each other.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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

// Store implements store.Store on SQLite.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps an open database handle.
func New(db *sqlx.DB, opts ...Option) *Store {
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database file at path, creating it if needed, with foreign
// keys enforced.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("bursar/sqlite: open %s: %w", path, err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying handle for direct access.
func (s *Store) DB() *sqlx.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn in a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqltx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return bursar.ErrStoreClosed
		}
		return fmt.Errorf("bursar/sqlite: begin: %w", mapErr(err, nil))
	}
	defer func() { _ = sqltx.Rollback() }() //nolint:errcheck // ErrTxDone after commit

	if err := fn(ctx, &txn{q: sqltx}); err != nil {
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return fmt.Errorf("bursar/sqlite: commit: %w: %w", bursar.ErrAtomicityFailure, mapErr(err, nil))
	}
	return nil
}

// mapErr translates SQLite result codes into Bursar sentinels. A unique
// violation becomes onUnique when it is set.
func mapErr(err error, onUnique error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		if onUnique != nil {
			return fmt.Errorf("%w: %s", onUnique, sqlErr.Error())
		}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %s", bursar.ErrConcurrencyConflict, sqlErr.Error())
	}
	return err
}

func isForeignKey(err error) bool {
	var sqlErr *sqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func one[M, T any](ctx context.Context, q sqlx.QueryerContext, notFound error, fn func(*M) (T, error), query string, args ...any) (T, error) {
	var (
		zero T
		m    M
	)
	if err := sqlx.GetContext(ctx, q, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, notFound
		}
		return zero, mapErr(err, nil)
	}
	return fn(&m)
}

func many[M, T any](ctx context.Context, q sqlx.QueryerContext, fn func(*M) (T, error), query string, args ...any) ([]T, error) {
	var ms []M
	if err := sqlx.SelectContext(ctx, q, &ms, query, args...); err != nil {
		return nil, mapErr(err, nil)
	}
	return sqlmodel.Each(ms, fn)
}

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// ==================== Fee catalog ====================

func (s *Store) CreateFeeHead(ctx context.Context, h *fee.Head) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO bursar_fee_heads (`+sqlmodel.FeeHeadColumns+`)
VALUES (:id, :name, :description, :frequency, :created_at, :updated_at)`,
		sqlmodel.ToFeeHead(h))
	return mapErr(err, bursar.ErrAlreadyExists)
}

func (s *Store) GetFeeHead(ctx context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return getFeeHead(ctx, s.db, headID)
}

func getFeeHead(ctx context.Context, q sqlx.QueryerContext, headID id.FeeHeadID) (*fee.Head, error) {
	return one(ctx, q, bursar.ErrFeeHeadNotFound, sqlmodel.FromFeeHead,
		`SELECT `+sqlmodel.FeeHeadColumns+` FROM bursar_fee_heads WHERE id = ?`, headID.String())
}

func (s *Store) ListFeeHeads(ctx context.Context) ([]*fee.Head, error) {
	return many(ctx, s.db, sqlmodel.FromFeeHead,
		`SELECT `+sqlmodel.FeeHeadColumns+` FROM bursar_fee_heads ORDER BY name`)
}

func (s *Store) DeleteFeeHead(ctx context.Context, headID id.FeeHeadID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bursar_fee_heads WHERE id = ?`, headID.String())
	if err != nil {
		if isForeignKey(err) {
			return bursar.ErrFeeHeadInUse
		}
		return err
	}
	return affected(res, bursar.ErrFeeHeadNotFound)
}

func (s *Store) CreateStructure(ctx context.Context, fs *fee.Structure) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO bursar_fee_structures (`+sqlmodel.StructureColumns+`)
VALUES (:id, :class_id, :fee_head_id, :amount, :currency, :due_day, :created_at, :updated_at)`,
		sqlmodel.ToStructure(fs))
	if isForeignKey(err) {
		return bursar.ErrFeeHeadNotFound
	}
	return mapErr(err, bursar.ErrAlreadyExists)
}

func (s *Store) ListStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return listStructures(ctx, s.db, opts)
}

func listStructures(ctx context.Context, q sqlx.QueryerContext, opts fee.ListOpts) ([]*fee.Structure, error) {
	query := `SELECT ` + sqlmodel.StructureColumns + ` FROM bursar_fee_structures WHERE 1 = 1`
	var args []any
	if !opts.ClassID.IsNil() {
		query += " AND class_id = ?"
		args = append(args, opts.ClassID.String())
	}
	if !opts.FeeHeadID.IsNil() {
		query += " AND fee_head_id = ?"
		args = append(args, opts.FeeHeadID.String())
	}
	query += " ORDER BY id"
	return many(ctx, q, sqlmodel.FromStructure, query, args...)
}

func (s *Store) DeleteStructure(ctx context.Context, structureID id.StructureID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bursar_fee_structures WHERE id = ?`, structureID.String())
	if err != nil {
		return err
	}
	return affected(res, bursar.ErrStructureNotFound)
}

// SetOverride upserts on (student, head) and copies the surviving row's ID
// and creation time back into o.
func (s *Store) SetOverride(ctx context.Context, o *fee.Override) error {
	return setOverride(ctx, s.db, o)
}

func setOverride(ctx context.Context, q sqlx.QueryerContext, o *fee.Override) error {
	m := sqlmodel.ToOverride(o)
	var kept sqlmodel.Override
	err := sqlx.GetContext(ctx, q, &kept, `
INSERT INTO bursar_fee_overrides (`+sqlmodel.OverrideColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (student_id, fee_head_id) DO UPDATE
SET amount = excluded.amount, currency = excluded.currency, updated_at = excluded.updated_at
RETURNING `+sqlmodel.OverrideColumns,
		m.ID, m.StudentID, m.FeeHeadID, m.Amount, m.Currency, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isForeignKey(err) {
			return bursar.ErrFeeHeadNotFound
		}
		return mapErr(err, nil)
	}
	stored, err := sqlmodel.FromOverride(&kept)
	if err != nil {
		return err
	}
	o.ID = stored.ID
	o.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return listOverrides(ctx, s.db, studentID)
}

func listOverrides(ctx context.Context, q sqlx.QueryerContext, studentID id.StudentID) ([]*fee.Override, error) {
	return many(ctx, q, sqlmodel.FromOverride,
		`SELECT `+sqlmodel.OverrideColumns+` FROM bursar_fee_overrides WHERE student_id = ? ORDER BY id`,
		studentID.String())
}

func (s *Store) DeleteOverride(ctx context.Context, studentID id.StudentID, headID id.FeeHeadID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bursar_fee_overrides WHERE student_id = ? AND fee_head_id = ?`,
		studentID.String(), headID.String())
	if err != nil {
		return err
	}
	return affected(res, bursar.ErrOverrideNotFound)
}

// ==================== Charges ====================

func (s *Store) GetCharge(ctx context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return getCharge(ctx, s.db, chargeID)
}

func getCharge(ctx context.Context, q sqlx.QueryerContext, chargeID id.ChargeID) (*charge.Charge, error) {
	return one(ctx, q, bursar.ErrChargeNotFound, sqlmodel.FromCharge,
		`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges WHERE id = ?`, chargeID.String())
}

func (s *Store) ListCharges(ctx context.Context, studentID id.StudentID, opts charge.ListOpts) ([]*charge.Charge, error) {
	where, args := chargeWhere(opts.ForStudent(studentID))
	query, args := paged(`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges`+where+
		` ORDER BY due_date DESC, id DESC`, args, opts.Limit, opts.Offset)
	return many(ctx, s.db, sqlmodel.FromCharge, query, args...)
}

func (s *Store) ListAllCharges(ctx context.Context, opts charge.FeeListOpts) ([]*charge.Charge, int, error) {
	where, args := chargeWhere(opts)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM bursar_charges`+where, args...); err != nil {
		return nil, 0, mapErr(err, nil)
	}

	query, args := paged(`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges`+where+
		` ORDER BY due_date, id`, args, opts.Limit, opts.Offset)
	out, err := many(ctx, s.db, sqlmodel.FromCharge, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// chargeWhere renders opts as a WHERE clause. Due dates are stored as text
// that starts with the calendar day, so days compare on that prefix.
func chargeWhere(opts charge.FeeListOpts) (string, []any) {
	where := " WHERE 1 = 1"
	var args []any
	and := func(cond string, v any) {
		where += " AND " + cond
		args = append(args, v)
	}

	if !opts.StudentID.IsNil() {
		and("student_id = ?", opts.StudentID.String())
	}
	if !opts.ClassID.IsNil() {
		and("student_id IN (SELECT id FROM bursar_students WHERE class_id = ?)", opts.ClassID.String())
	}
	if !opts.FeeHeadID.IsNil() {
		and("fee_head_id = ?", opts.FeeHeadID.String())
	}
	if opts.Month != 0 {
		and("month = ?", opts.Month)
	}
	if opts.Year != 0 {
		and("year = ?", opts.Year)
	}

	m := opts.Match()
	if m.Status != "" {
		and("status = ?", string(m.Status))
	}
	if m.Unpaid {
		and("status <> ?", string(charge.StatusPaid))
	}
	if !m.DueBefore.IsZero() {
		and("substr(due_date, 1, 10) < ?", m.DueBefore.Format(time.DateOnly))
	}
	if !m.DueFrom.IsZero() {
		and("substr(due_date, 1, 10) >= ?", m.DueFrom.Format(time.DateOnly))
	}
	return where, args
}

// paged appends LIMIT and OFFSET; SQLite needs a LIMIT before any OFFSET.
func paged(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return query, args
	}
	if limit <= 0 {
		limit = -1
	}
	return query + " LIMIT ? OFFSET ?", append(args, limit, offset)
}

func (s *Store) ListUnsettled(ctx context.Context) ([]*charge.Charge, error) {
	return many(ctx, s.db, sqlmodel.FromCharge,
		`SELECT `+sqlmodel.ChargeColumns+` FROM bursar_charges WHERE status <> ? ORDER BY id`,
		string(charge.StatusPaid))
}

func (s *Store) SumPaid(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(paid_amount), 0) FROM bursar_charges`)
	return total, err
}

func (s *Store) HeadInUse(ctx context.Context, headID id.FeeHeadID) (bool, error) {
	var used bool
	err := s.db.GetContext(ctx, &used,
		`SELECT EXISTS (SELECT 1 FROM bursar_charges WHERE fee_head_id = ?)`, headID.String())
	return used, err
}

// ==================== Accounts ====================

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return getAccount(ctx, s.db, accountID)
}

func getAccount(ctx context.Context, q sqlx.QueryerContext, accountID id.AccountID) (*account.Account, error) {
	return one(ctx, q, bursar.ErrAccountNotFound, sqlmodel.FromAccount,
		`SELECT `+sqlmodel.AccountColumns+` FROM bursar_accounts WHERE id = ?`, accountID.String())
}

func (s *Store) GetAccountByStudent(ctx context.Context, studentID id.StudentID) (*account.Account, error) {
	return getAccountByStudent(ctx, s.db, studentID)
}

func getAccountByStudent(ctx context.Context, q sqlx.QueryerContext, studentID id.StudentID) (*account.Account, error) {
	return one(ctx, q, bursar.ErrAccountNotFound, sqlmodel.FromAccount,
		`SELECT `+sqlmodel.AccountColumns+` FROM bursar_accounts WHERE student_id = ?`, studentID.String())
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts account.ListOpts) ([]*account.Transaction, error) {
	query := `SELECT ` + sqlmodel.TransactionColumns + ` FROM bursar_transactions WHERE account_id = ?`
	args := []any{accountID.String()}
	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, string(opts.Type))
	}
	query, args = paged(query+" ORDER BY rowid DESC", args, opts.Limit, opts.Offset)
	return many(ctx, s.db, sqlmodel.FromTransaction, query, args...)
}

func (s *Store) ListAllTransactions(ctx context.Context, opts account.ListOpts) ([]*account.Transaction, error) {
	query := `SELECT ` + sqlmodel.TransactionColumns + ` FROM bursar_transactions`
	var args []any
	if opts.Type != "" {
		query += " WHERE type = ?"
		args = append(args, string(opts.Type))
	}
	query, args = paged(query+" ORDER BY rowid DESC", args, opts.Limit, opts.Offset)
	return many(ctx, s.db, sqlmodel.FromTransaction, query, args...)
}

// ==================== Students ====================

func (s *Store) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	return getStudent(ctx, s.db, studentID)
}

func getStudent(ctx context.Context, q sqlx.QueryerContext, studentID id.StudentID) (*student.Student, error) {
	return one(ctx, q, bursar.ErrStudentNotFound, sqlmodel.FromStudent,
		`SELECT `+sqlmodel.StudentColumns+` FROM bursar_students WHERE id = ?`, studentID.String())
}

func (s *Store) ListBillable(ctx context.Context) ([]id.StudentID, error) {
	var raw []string
	if err := s.db.SelectContext(ctx, &raw,
		`SELECT id FROM bursar_students WHERE status = ? ORDER BY id`, string(student.StatusActive)); err != nil {
		return nil, err
	}
	return sqlmodel.Each(raw, func(v *string) (id.StudentID, error) { return id.ParseStudentID(*v) })
}

// UpsertStudent stores a student projection outside an atomic unit.
func (s *Store) UpsertStudent(ctx context.Context, stu *student.Student) error {
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO bursar_students (`+sqlmodel.StudentColumns+`)
VALUES (:id, :class_id, :name, :admission_no, :status, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE
SET class_id = excluded.class_id, name = excluded.name, admission_no = excluded.admission_no,
    status = excluded.status, updated_at = excluded.updated_at`,
		sqlmodel.ToStudent(stu))
	return err
}
