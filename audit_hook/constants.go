package audithook

// Action constants for audit events.
const (
	// Student actions
	ActionStudentEnrolled = "student.enrolled"

	// Generation actions
	ActionChargesGenerated = "charges.generated"

	// Ledger actions
	ActionAccountDebited  = "account.debited"
	ActionAccountCredited = "account.credited"

	// Payment actions
	ActionPaymentApplied  = "payment.applied"
	ActionPaymentRejected = "payment.rejected"

	// Runner actions
	ActionBillingRunCompleted = "billing_run.completed"
)

// Resource constants for audit events.
const (
	ResourceStudent = "student"
	ResourceAccount = "account"
	ResourceCharge  = "charge"
	ResourceRun     = "billing_run"
)

// Category constants for audit events.
const (
	CategoryEnrollment = "enrollment"
	CategoryBilling    = "billing"
	CategoryLedger     = "ledger"
	CategoryPayment    = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
