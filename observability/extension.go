// Package observability provides a metrics extension for Bursar that records
// billing event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/student"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnStudentEnrolled     = (*MetricsExtension)(nil)
	_ plugin.OnChargesGenerated    = (*MetricsExtension)(nil)
	_ plugin.OnAccountDebited      = (*MetricsExtension)(nil)
	_ plugin.OnAccountCredited     = (*MetricsExtension)(nil)
	_ plugin.OnPaymentApplied      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRejected     = (*MetricsExtension)(nil)
	_ plugin.OnBillingRunCompleted = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records billing metrics.
// Register it as a Bursar plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Enrollment metrics
	StudentsEnrolled Counter

	// Generation metrics
	GenerationsCommitted Counter
	ChargesCreated       Counter
	ChargesPerGeneration Histogram
	AmountBilled         Counter

	// Ledger metrics
	AccountDebits  Counter
	AccountCredits Counter

	// Payment metrics
	PaymentsApplied  Counter
	PaymentsRejected Counter
	ChargesSettled   Counter
	AmountCollected  Counter
	PaymentAmount    Histogram

	// Runner metrics
	BillingRuns       Counter
	RunStudentsBilled Counter
	RunStudentsFailed Counter
	RunLatency        Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided
// MetricFactory. Use NewPrometheusFactory for a Prometheus registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		StudentsEnrolled: factory.Counter("bursar.student.enrolled"),

		GenerationsCommitted: factory.Counter("bursar.generation.committed"),
		ChargesCreated:       factory.Counter("bursar.charge.created"),
		ChargesPerGeneration: factory.Histogram("bursar.generation.charges"),
		AmountBilled:         factory.Counter("bursar.amount.billed_minor"),

		AccountDebits:  factory.Counter("bursar.account.debits"),
		AccountCredits: factory.Counter("bursar.account.credits"),

		PaymentsApplied:  factory.Counter("bursar.payment.applied"),
		PaymentsRejected: factory.Counter("bursar.payment.rejected"),
		ChargesSettled:   factory.Counter("bursar.charge.settled"),
		AmountCollected:  factory.Counter("bursar.amount.collected_minor"),
		PaymentAmount:    factory.Histogram("bursar.payment.amount_minor"),

		BillingRuns:       factory.Counter("bursar.run.completed"),
		RunStudentsBilled: factory.Counter("bursar.run.students.succeeded"),
		RunStudentsFailed: factory.Counter("bursar.run.students.failed"),
		RunLatency:        factory.Histogram("bursar.run.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// OnStudentEnrolled implements plugin.OnStudentEnrolled.
func (m *MetricsExtension) OnStudentEnrolled(_ context.Context, _ *student.Student, _ *account.Account) error {
	m.StudentsEnrolled.Inc()
	return nil
}

// OnChargesGenerated implements plugin.OnChargesGenerated.
func (m *MetricsExtension) OnChargesGenerated(_ context.Context, _ id.StudentID, charges []*charge.Charge, txn *account.Transaction) error {
	n := float64(len(charges))
	m.GenerationsCommitted.Inc()
	m.ChargesCreated.Add(n)
	m.ChargesPerGeneration.Observe(n)
	if txn != nil {
		m.AmountBilled.Add(float64(txn.Amount.Amount))
	}
	return nil
}

// OnAccountDebited implements plugin.OnAccountDebited.
func (m *MetricsExtension) OnAccountDebited(_ context.Context, _ *account.Account, _ *account.Transaction) error {
	m.AccountDebits.Inc()
	return nil
}

// OnAccountCredited implements plugin.OnAccountCredited.
func (m *MetricsExtension) OnAccountCredited(_ context.Context, _ *account.Account, _ *account.Transaction) error {
	m.AccountCredits.Inc()
	return nil
}

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (m *MetricsExtension) OnPaymentApplied(_ context.Context, c *charge.Charge, txn *account.Transaction) error {
	m.PaymentsApplied.Inc()
	m.AmountCollected.Add(float64(txn.Amount.Amount))
	m.PaymentAmount.Observe(float64(txn.Amount.Amount))
	if c.Status == charge.StatusPaid {
		m.ChargesSettled.Inc()
	}
	return nil
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (m *MetricsExtension) OnPaymentRejected(_ context.Context, _ id.ChargeID, _, _ string) error {
	m.PaymentsRejected.Inc()
	return nil
}

// OnBillingRunCompleted implements plugin.OnBillingRunCompleted.
func (m *MetricsExtension) OnBillingRunCompleted(_ context.Context, _ id.RunID, _ time.Month, _, succeeded, failed int, elapsed time.Duration) error {
	m.BillingRuns.Inc()
	m.RunStudentsBilled.Add(float64(succeeded))
	m.RunStudentsFailed.Add(float64(failed))
	m.RunLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}
