// Package bursar provides a school fee ledger and billing engine for Go
// applications.
//
// Bursar is designed as a library, not a service. Import it into the
// application that owns students and classes. It provides:
//
//   - Fee catalog resolution: class-level fee structures with per-student
//     overrides
//   - Idempotent fee generation at admission and once per billing month
//   - A double-entry style ledger where every balance change is a recorded
//     transaction
//   - Full and partial payments with structured rejections
//   - A periodic billing runner that isolates failures per student
//   - Storage backends for memory, PostgreSQL, SQLite and MongoDB
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/bursar"
//	    "github.com/xraph/bursar/store/postgres"
//	)
//
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	b := bursar.New(store, bursar.WithCurrency("inr"))
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
// # Core Concepts
//
// Fee heads name what is charged and how often:
//
//	admission, _ := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Admission", Frequency: fee.FrequencyOneTime})
//	tuition, _ := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Tuition", Frequency: fee.FrequencyMonthly})
//
// Structures attach heads to a class with a default amount and due day:
//
//	b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: classID, FeeHeadID: tuition.ID, Amount: 200000, DueDay: "10"})
//
// Enrolling a student opens their account and charges admission fees in one
// atomic unit:
//
//	e, err := b.Enroll(ctx, bursar.EnrollInput{ClassID: classID, Name: "Asha"})
//
// Each month, the runner charges every active student once:
//
//	report, err := runner.ForEngine(b).Run(ctx, time.March, 2025)
//
// Payments may be partial and never exceed what remains on a charge:
//
//	res, err := b.PayFee(ctx, bursar.PaymentInput{ChargeID: chargeID, Amount: 100000})
//	if !res.Success {
//	    // res.Rejection.Code is fee_not_found, account_missing,
//	    // amount_exceeds_remaining or invalid_amount
//	}
//
// # Invariants
//
// For every account, balance equals the sum of its debits minus the sum of its
// credits; VerifyAccount recomputes it. For every charge, 0 ≤ paid ≤ amount.
//
// All monetary calculations use integer arithmetic in the currency's minor
// unit (paise for INR, cents for USD).
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	stu_01h2xcejqtf2nbrexx3vqjhp41   // Student ID
//	sfee_01h2xcejqtf2nbrexx3vqjhp41  // Charge (student fee) ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction ID
package bursar
