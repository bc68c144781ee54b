package mongo

import (
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// ==================== Fee catalog models ====================

type feeHeadModel struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description,omitempty"`
	Frequency   string    `bson:"frequency"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toFeeHeadModel(h *fee.Head) *feeHeadModel {
	return &feeHeadModel{
		ID:          h.ID.String(),
		Name:        h.Name,
		Description: h.Description,
		Frequency:   string(h.Frequency),
		CreatedAt:   h.CreatedAt,
		UpdatedAt:   h.UpdatedAt,
	}
}

func fromFeeHeadModel(m *feeHeadModel) (*fee.Head, error) {
	headID, err := id.ParseFeeHeadID(m.ID)
	if err != nil {
		return nil, err
	}
	return &fee.Head{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          headID,
		Name:        m.Name,
		Description: m.Description,
		Frequency:   fee.Frequency(m.Frequency),
	}, nil
}

type structureModel struct {
	ID        string    `bson:"_id"`
	ClassID   string    `bson:"class_id"`
	FeeHeadID string    `bson:"fee_head_id"`
	Amount    int64     `bson:"amount"`
	Currency  string    `bson:"currency"`
	DueDay    string    `bson:"due_day,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toStructureModel(s *fee.Structure) *structureModel {
	return &structureModel{
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

func fromStructureModel(m *structureModel) (*fee.Structure, error) {
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
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        structureID,
		ClassID:   classID,
		FeeHeadID: headID,
		Amount:    types.New(m.Amount, m.Currency),
		DueDay:    fee.DueDay(m.DueDay),
	}, nil
}

type overrideModel struct {
	ID        string    `bson:"_id"`
	StudentID string    `bson:"student_id"`
	FeeHeadID string    `bson:"fee_head_id"`
	Amount    int64     `bson:"amount"`
	Currency  string    `bson:"currency"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func fromOverrideModel(m *overrideModel) (*fee.Override, error) {
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
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        overrideID,
		StudentID: studentID,
		FeeHeadID: headID,
		Amount:    types.New(m.Amount, m.Currency),
	}, nil
}

// ==================== Student models ====================

type studentModel struct {
	ID          string    `bson:"_id"`
	ClassID     string    `bson:"class_id"`
	Name        string    `bson:"name"`
	AdmissionNo string    `bson:"admission_no,omitempty"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toStudentModel(s *student.Student) *studentModel {
	return &studentModel{
		ID:          s.ID.String(),
		ClassID:     s.ClassID.String(),
		Name:        s.Name,
		AdmissionNo: s.AdmissionNo,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromStudentModel(m *studentModel) (*student.Student, error) {
	studentID, err := id.ParseStudentID(m.ID)
	if err != nil {
		return nil, err
	}
	classID, err := id.ParseClassID(m.ClassID)
	if err != nil {
		return nil, err
	}
	return &student.Student{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          studentID,
		ClassID:     classID,
		Name:        m.Name,
		AdmissionNo: m.AdmissionNo,
		Status:      student.Status(m.Status),
	}, nil
}

// ==================== Account models ====================

// accountModel carries a lock counter that LockAccount bumps so that a
// concurrent unit touching the same account hits a write conflict.
type accountModel struct {
	ID        string    `bson:"_id"`
	StudentID string    `bson:"student_id"`
	Balance   int64     `bson:"balance"`
	Currency  string    `bson:"currency"`
	Version   int64     `bson:"version"`
	Lock      int64     `bson:"lock"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:        a.ID.String(),
		StudentID: a.StudentID.String(),
		Balance:   a.Balance.Amount,
		Currency:  a.Balance.Currency,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        accountID,
		StudentID: studentID,
		Balance:   types.New(m.Balance, m.Currency),
		Version:   m.Version,
	}, nil
}

// transactionModel.Seq is the account version the transaction produced.
type transactionModel struct {
	ID          string    `bson:"_id"`
	AccountID   string    `bson:"account_id"`
	Seq         int64     `bson:"seq"`
	Amount      int64     `bson:"amount"`
	Currency    string    `bson:"currency"`
	Type        string    `bson:"type"`
	Description string    `bson:"description"`
	Reference   string    `bson:"reference,omitempty"`
	ChargeID    string    `bson:"charge_id,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

func toTransactionModel(t *account.Transaction, seq int64) *transactionModel {
	return &transactionModel{
		ID:          t.ID.String(),
		AccountID:   t.AccountID.String(),
		Seq:         seq,
		Amount:      t.Amount.Amount,
		Currency:    t.Amount.Currency,
		Type:        string(t.Type),
		Description: t.Description,
		Reference:   t.Reference,
		ChargeID:    t.ChargeID.String(),
		CreatedAt:   t.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*account.Transaction, error) {
	txnID, err := id.ParseTxnID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	var chargeID id.ChargeID
	if m.ChargeID != "" {
		if chargeID, err = id.ParseChargeID(m.ChargeID); err != nil {
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
		CreatedAt:   m.CreatedAt,
	}, nil
}

// ==================== Charge models ====================

// chargeModel keeps the due date as a calendar day so it survives the
// round trip through UTC datetimes.
type chargeModel struct {
	ID          string    `bson:"_id"`
	StudentID   string    `bson:"student_id"`
	FeeHeadID   string    `bson:"fee_head_id"`
	FeeHeadName string    `bson:"fee_head_name"`
	Frequency   string    `bson:"frequency"`
	Amount      int64     `bson:"amount"`
	PaidAmount  int64     `bson:"paid_amount"`
	Currency    string    `bson:"currency"`
	Status      string    `bson:"status"`
	DueDate     string    `bson:"due_date"`
	Month       int       `bson:"month"`
	Year        int       `bson:"year"`
	Period      string    `bson:"period"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toChargeModel(c *charge.Charge) *chargeModel {
	return &chargeModel{
		ID:          c.ID.String(),
		StudentID:   c.StudentID.String(),
		FeeHeadID:   c.FeeHeadID.String(),
		FeeHeadName: c.FeeHeadName,
		Frequency:   string(c.Frequency),
		Amount:      c.Amount.Amount,
		PaidAmount:  c.PaidAmount.Amount,
		Currency:    c.Amount.Currency,
		Status:      string(c.Status),
		DueDate:     c.DueDate.Format(time.DateOnly),
		Month:       c.Month,
		Year:        c.Year,
		Period:      c.Period,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func fromChargeModel(m *chargeModel) (*charge.Charge, error) {
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
	due, err := time.Parse(time.DateOnly, m.DueDate)
	if err != nil {
		return nil, err
	}
	return &charge.Charge{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          chargeID,
		StudentID:   studentID,
		FeeHeadID:   headID,
		FeeHeadName: m.FeeHeadName,
		Frequency:   fee.Frequency(m.Frequency),
		Amount:      types.New(m.Amount, m.Currency),
		PaidAmount:  types.New(m.PaidAmount, m.Currency),
		Status:      charge.Status(m.Status),
		DueDate:     due,
		Month:       m.Month,
		Year:        m.Year,
		Period:      m.Period,
	}, nil
}

func each[M, T any](ms []M, fn func(*M) (T, error)) ([]T, error) {
	out := make([]T, len(ms))
	for i := range ms {
		v, err := fn(&ms[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
