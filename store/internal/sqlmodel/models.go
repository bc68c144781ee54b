// Package sqlmodel holds the row shapes shared by the SQL backends. Fields are
// tagged for both pgx's RowToStructByName and sqlx.
package sqlmodel

import (
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// Column lists, in row field order.
const (
	FeeHeadColumns     = "id, name, description, frequency, created_at, updated_at"
	StructureColumns   = "id, class_id, fee_head_id, amount, currency, due_day, created_at, updated_at"
	OverrideColumns    = "id, student_id, fee_head_id, amount, currency, created_at, updated_at"
	StudentColumns     = "id, class_id, name, admission_no, status, created_at, updated_at"
	AccountColumns     = "id, student_id, balance, currency, version, created_at, updated_at"
	TransactionColumns = "id, account_id, amount, currency, type, description, reference, charge_id, created_at"
	ChargeColumns      = "id, student_id, fee_head_id, fee_head_name, frequency, amount, paid_amount, currency, status, due_date, month, year, period, created_at, updated_at"
)

// ==================== Fee heads ====================

type FeeHead struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Frequency   string    `db:"frequency"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func ToFeeHead(h *fee.Head) *FeeHead {
	return &FeeHead{
		ID:          h.ID.String(),
		Name:        h.Name,
		Description: h.Description,
		Frequency:   string(h.Frequency),
		CreatedAt:   h.CreatedAt,
		UpdatedAt:   h.UpdatedAt,
	}
}

func FromFeeHead(m *FeeHead) (*fee.Head, error) {
	headID, err := id.ParseFeeHeadID(m.ID)
	if err != nil {
		return nil, err
	}
	return &fee.Head{
		Entity:      entity(m.CreatedAt, m.UpdatedAt),
		ID:          headID,
		Name:        m.Name,
		Description: m.Description,
		Frequency:   fee.Frequency(m.Frequency),
	}, nil
}

// ==================== Fee structures ====================

type Structure struct {
	ID        string    `db:"id"`
	ClassID   string    `db:"class_id"`
	FeeHeadID string    `db:"fee_head_id"`
	Amount    int64     `db:"amount"`
	Currency  string    `db:"currency"`
	DueDay    string    `db:"due_day"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func ToStructure(s *fee.Structure) *Structure {
	return &Structure{
		ID:        s.ID.String(),
		ClassID:   s.ClassID.String(),
		FeeHeadID: s.FeeHeadID.String(),
		Amount:    s.Amount.Amount,
		Currency:  s.Amount.Currency,
		DueDay:    string(s.DueDay),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func FromStructure(m *Structure) (*fee.Structure, error) {
	structureID, err := id.ParseStructureID(m.ID)
	if err != nil {
		return nil, err
	}
	classID, err := id.ParseClassID(m.ClassID)
	if err != nil {
		return nil, err
	}
	headID, err := id.ParseFeeHeadID(m.FeeHeadID)
	if err != nil {
		return nil, err
	}
	return &fee.Structure{
		Entity:    entity(m.CreatedAt, m.UpdatedAt),
		ID:        structureID,
		ClassID:   classID,
		FeeHeadID: headID,
		Amount:    types.New(m.Amount, m.Currency),
		DueDay:    fee.DueDay(m.DueDay),
	}, nil
}

// ==================== Fee overrides ====================

type Override struct {
	ID        string    `db:"id"`
	StudentID string    `db:"student_id"`
	FeeHeadID string    `db:"fee_head_id"`
	Amount    int64     `db:"amount"`
	Currency  string    `db:"currency"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func ToOverride(o *fee.Override) *Override {
	return &Override{
		ID:        o.ID.String(),
		StudentID: o.StudentID.String(),
		FeeHeadID: o.FeeHeadID.String(),
		Amount:    o.Amount.Amount,
		Currency:  o.Amount.Currency,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func FromOverride(m *Override) (*fee.Override, error) {
	overrideID, err := id.ParseOverrideID(m.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	headID, err := id.ParseFeeHeadID(m.FeeHeadID)
	if err != nil {
		return nil, err
	}
	return &fee.Override{
		Entity:    entity(m.CreatedAt, m.UpdatedAt),
		ID:        overrideID,
		StudentID: studentID,
		FeeHeadID: headID,
		Amount:    types.New(m.Amount, m.Currency),
	}, nil
}

// ==================== Students ====================

type Student struct {
	ID          string    `db:"id"`
	ClassID     string    `db:"class_id"`
	Name        string    `db:"name"`
	AdmissionNo string    `db:"admission_no"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func ToStudent(s *student.Student) *Student {
	return &Student{
		ID:          s.ID.String(),
		ClassID:     s.ClassID.String(),
		Name:        s.Name,
		AdmissionNo: s.AdmissionNo,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func FromStudent(m *Student) (*student.Student, error) {
	studentID, err := id.ParseStudentID(m.ID)
	if err != nil {
		return nil, err
	}
	classID, err := id.ParseClassID(m.ClassID)
	if err != nil {
		return nil, err
	}
	return &student.Student{
		Entity:      entity(m.CreatedAt, m.UpdatedAt),
		ID:          studentID,
		ClassID:     classID,
		Name:        m.Name,
		AdmissionNo: m.AdmissionNo,
		Status:      student.Status(m.Status),
	}, nil
}

// ==================== Accounts ====================

type Account struct {
	ID        string    `db:"id"`
	StudentID string    `db:"student_id"`
	Balance   int64     `db:"balance"`
	Currency  string    `db:"currency"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func ToAccount(a *account.Account) *Account {
	return &Account{
		ID:        a.ID.String(),
		StudentID: a.StudentID.String(),
		Balance:   a.Balance.Amount,
		Currency:  a.Balance.Currency,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func FromAccount(m *Account) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:    entity(m.CreatedAt, m.UpdatedAt),
		ID:        accountID,
		StudentID: studentID,
		Balance:   types.New(m.Balance, m.Currency),
		Version:   m.Version,
	}, nil
}

// ==================== Transactions ====================

type Transaction struct {
	ID          string    `db:"id"`
	AccountID   string    `db:"account_id"`
	Amount      int64     `db:"amount"`
	Currency    string    `db:"currency"`
	Type        string    `db:"type"`
	Description string    `db:"description"`
	Reference   string    `db:"reference"`
	ChargeID    *string   `db:"charge_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func ToTransaction(t *account.Transaction) *Transaction {
	m := &Transaction{
		ID:          t.ID.String(),
		AccountID:   t.AccountID.String(),
		Amount:      t.Amount.Amount,
		Currency:    t.Amount.Currency,
		Type:        string(t.Type),
		Description: t.Description,
		Reference:   t.Reference,
		CreatedAt:   t.CreatedAt,
	}
	if !t.ChargeID.IsNil() {
		s := t.ChargeID.String()
		m.ChargeID = &s
	}
	return m
}

func FromTransaction(m *Transaction) (*account.Transaction, error) {
	txnID, err := id.ParseTxnID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	var chargeID id.ChargeID
	if m.ChargeID != nil && *m.ChargeID != "" {
		if chargeID, err = id.ParseChargeID(*m.ChargeID); err != nil {
			return nil, err
		}
	}
	return &account.Transaction{
		ID:          txnID,
		AccountID:   accountID,
		Amount:      types.New(m.Amount, m.Currency),
		Type:        account.TxType(m.Type),
		Description: m.Description,
		Reference:   m.Reference,
		ChargeID:    chargeID,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

// ==================== Charges ====================

type Charge struct {
	ID          string    `db:"id"`
	StudentID   string    `db:"student_id"`
	FeeHeadID   string    `db:"fee_head_id"`
	FeeHeadName string    `db:"fee_head_name"`
	Frequency   string    `db:"frequency"`
	Amount      int64     `db:"amount"`
	PaidAmount  int64     `db:"paid_amount"`
	Currency    string    `db:"currency"`
	Status      string    `db:"status"`
	DueDate     time.Time `db:"due_date"`
	Month       int       `db:"month"`
	Year        int       `db:"year"`
	Period      string    `db:"period"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func ToCharge(c *charge.Charge) *Charge {
	return &Charge{
		ID:          c.ID.String(),
		StudentID:   c.StudentID.String(),
		FeeHeadID:   c.FeeHeadID.String(),
		FeeHeadName: c.FeeHeadName,
		Frequency:   string(c.Frequency),
		Amount:      c.Amount.Amount,
		PaidAmount:  c.PaidAmount.Amount,
		Currency:    c.Amount.Currency,
		Status:      string(c.Status),
		DueDate:     c.DueDate,
		Month:       c.Month,
		Year:        c.Year,
		Period:      c.Period,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func FromCharge(m *Charge) (*charge.Charge, error) {
	chargeID, err := id.ParseChargeID(m.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	headID, err := id.ParseFeeHeadID(m.FeeHeadID)
	if err != nil {
		return nil, err
	}
	return &charge.Charge{
		Entity:      entity(m.CreatedAt, m.UpdatedAt),
		ID:          chargeID,
		StudentID:   studentID,
		FeeHeadID:   headID,
		FeeHeadName: m.FeeHeadName,
		Frequency:   fee.Frequency(m.Frequency),
		Amount:      types.New(m.Amount, m.Currency),
		PaidAmount:  types.New(m.PaidAmount, m.Currency),
		Status:      charge.Status(m.Status),
		DueDate:     DateOnly(m.DueDate),
		Month:       m.Month,
		Year:        m.Year,
		Period:      m.Period,
	}, nil
}

// DateOnly keeps the calendar day of t at midnight UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func entity(created, updated time.Time) types.Entity {
	return types.Entity{CreatedAt: created.UTC(), UpdatedAt: updated.UTC()}
}

// Each converts every row with fn, stopping at the first error.
func Each[M, T any](rows []M, fn func(*M) (T, error)) ([]T, error) {
	out := make([]T, len(rows))
	for i := range rows {
		v, err := fn(&rows[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
