package bursar

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// GenerateResult reports one generation. Transaction is the aggregated debit
// and is nil when no charge was created.
type GenerateResult struct {
	StudentID      id.StudentID         `json:"student_id"`
	Trigger        Trigger              `json:"trigger"`
	Month          time.Month           `json:"month"`
	Year           int                  `json:"year"`
	ChargesCreated int                  `json:"charges_created"`
	Charges        []*charge.Charge     `json:"charges"`
	Transaction    *account.Transaction `json:"transaction,omitempty"`
	Skipped        []id.FeeHeadID       `json:"skipped,omitempty"`
}

// Total is the sum of the created charges.
func (r *GenerateResult) Total() types.Money {
	if r.Transaction != nil {
		return r.Transaction.Amount
	}
	return types.Money{}
}

// Generate creates the student's charges for the trigger and month, skipping
// any already generated, and debits their sum to the student's account in one
// transaction. Re-running it for the same arguments creates nothing.
func (b *Bursar) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}
	month, year := b.targetPeriod(in.Month, in.Year)

	var res *GenerateResult
	err := b.atomically(ctx, "generate", func(ctx context.Context, tx store.Tx) error {
		stu, err := tx.GetStudent(ctx, in.StudentID)
		if err != nil {
			return err
		}
		acct, err := tx.LockAccountByStudent(ctx, stu.ID)
		if err != nil {
			return fmt.Errorf("student %s: %w", stu.ID, err)
		}
		res, err = b.generateIn(ctx, tx, stu, acct, in.Trigger, month, year)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.generated(ctx, res)
	return res, nil
}

// Enrollment is the outcome of Enroll.
type Enrollment struct {
	Student    *student.Student `json:"student"`
	Account    *account.Account `json:"account"`
	Generation *GenerateResult  `json:"generation"`
}

// Enroll creates an active student, their fee overrides, their zero-balance
// account and their admission charges as one atomic unit.
func (b *Bursar) Enroll(ctx context.Context, in EnrollInput) (*Enrollment, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}
	month, year := b.targetPeriod(in.Month, in.Year)

	studentID := in.StudentID
	if studentID.IsNil() {
		studentID = id.NewStudentID()
	}

	var out *Enrollment
	err := b.atomically(ctx, "enroll", func(ctx context.Context, tx store.Tx) error {
		stu := &student.Student{
			Entity:      types.NewEntity(b.Now()),
			ID:          studentID,
			ClassID:     in.ClassID,
			Name:        in.Name,
			AdmissionNo: in.AdmissionNo,
			Status:      student.StatusActive,
		}
		if err := tx.CreateStudent(ctx, stu); err != nil {
			return err
		}

		for _, line := range in.Overrides {
			o := &fee.Override{
				Entity:    types.NewEntity(b.Now()),
				ID:        id.NewOverrideID(),
				StudentID: stu.ID,
				FeeHeadID: line.FeeHeadID,
				Amount:    b.money(line.Amount),
			}
			if err := tx.SetOverride(ctx, o); err != nil {
				return fmt.Errorf("override for fee head %s: %w", line.FeeHeadID, err)
			}
		}

		acct := b.newAccount(stu.ID)
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return err
		}

		gen, err := b.generateIn(ctx, tx, stu, acct, TriggerAdmission, month, year)
		if err != nil {
			return err
		}
		out = &Enrollment{Student: stu, Account: acct, Generation: gen}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("student enrolled",
		"student_id", out.Student.ID.String(),
		"class_id", out.Student.ClassID.String(),
		"account_id", out.Account.ID.String(),
	)
	b.plugins.EmitStudentEnrolled(ctx, out.Student, out.Account)
	b.generated(ctx, out.Generation)
	return out, nil
}

// generateIn runs inside a unit that has already locked acct.
func (b *Bursar) generateIn(
	ctx context.Context,
	tx store.Tx,
	stu *student.Student,
	acct *account.Account,
	trigger Trigger,
	month time.Month,
	year int,
) (*GenerateResult, error) {
	lines, err := resolveLines(ctx, tx, stu)
	if err != nil {
		return nil, err
	}

	res := &GenerateResult{
		StudentID: stu.ID,
		Trigger:   trigger,
		Month:     month,
		Year:      year,
		Charges:   make([]*charge.Charge, 0, len(lines)),
	}
	now := b.Now()
	total := types.Zero(acct.Balance.Currency)

	for _, line := range lines {
		if trigger == TriggerPeriodic && line.Frequency != fee.FrequencyMonthly {
			continue
		}

		period := charge.PeriodKey(line.Frequency, month, year)
		exists, err := tx.ChargeExists(ctx, stu.ID, line.FeeHeadID, period)
		if err != nil {
			return nil, err
		}
		if exists {
			b.logger.Debug("charge already generated",
				"student_id", stu.ID.String(),
				"fee_head_id", line.FeeHeadID.String(),
				"period", period,
			)
			res.Skipped = append(res.Skipped, line.FeeHeadID)
			continue
		}
		if !line.Amount.IsPositive() {
			res.Skipped = append(res.Skipped, line.FeeHeadID)
			continue
		}
		sum, err := addMoney(total, line.Amount)
		if err != nil {
			return nil, fmt.Errorf("fee head %s: %w", line.FeeHeadID, err)
		}
		total = sum

		c := &charge.Charge{
			Entity:      types.NewEntity(now),
			ID:          id.NewChargeID(),
			StudentID:   stu.ID,
			FeeHeadID:   line.FeeHeadID,
			FeeHeadName: line.FeeHeadName,
			Frequency:   line.Frequency,
			Amount:      line.Amount,
			PaidAmount:  types.Zero(line.Amount.Currency),
			Status:      charge.StatusPending,
			DueDate:     line.DueDay.DueDate(year, month, b.location),
			Month:       int(month),
			Year:        year,
			Period:      period,
		}
		if err := tx.InsertCharge(ctx, c); err != nil {
			return nil, err
		}
		res.Charges = append(res.Charges, c)
	}

	res.ChargesCreated = len(res.Charges)
	if res.ChargesCreated == 0 {
		return res, nil
	}

	txn, err := b.post(ctx, tx, acct, account.TxDebit, total, generationDescription(trigger, month, year), "", id.Nil)
	if err != nil {
		return nil, err
	}
	res.Transaction = txn
	return res, nil
}

func (b *Bursar) generated(ctx context.Context, res *GenerateResult) {
	if res.ChargesCreated == 0 {
		b.logger.Debug("no new charges",
			"student_id", res.StudentID.String(),
			"trigger", res.Trigger,
			"skipped", len(res.Skipped),
		)
		return
	}

	b.logger.Info("charges generated",
		"student_id", res.StudentID.String(),
		"trigger", res.Trigger,
		"month", int(res.Month),
		"year", res.Year,
		"charges", res.ChargesCreated,
		"total", res.Transaction.Amount.String(),
	)
	b.plugins.EmitChargesGenerated(ctx, res.StudentID, res.Charges, res.Transaction)
}

func generationDescription(trigger Trigger, month time.Month, year int) string {
	if trigger == TriggerAdmission {
		return "Fee Generation for Admission"
	}
	return fmt.Sprintf("Fee Generation for %02d/%04d", int(month), year)
}

// targetPeriod fills a zero month or year from the engine clock.
func (b *Bursar) targetPeriod(month, year int) (time.Month, int) {
	now := b.Now()
	m := time.Month(month)
	if month == 0 {
		m = now.Month()
	}
	if year == 0 {
		year = now.Year()
	}
	return m, year
}
