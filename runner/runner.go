// Package runner is the periodic billing runner: it charges every billable
// student for a month, one student at a time per worker, and tallies the
// outcome instead of stopping at the first failure.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
)

// Generator creates a student's charges. *bursar.Bursar implements it.
type Generator interface {
	Generate(ctx context.Context, in bursar.GenerateInput) (*bursar.GenerateResult, error)
}

// Roster lists the students to bill. Every store.Store implements it.
type Roster interface {
	ListBillable(ctx context.Context) ([]id.StudentID, error)
}

// Runner runs periodic generation over the roster.
type Runner struct {
	gen         Generator
	roster      Roster
	plugins     *plugin.Registry
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithPlugins sets the registry notified when a run completes.
func WithPlugins(reg *plugin.Registry) Option {
	return func(r *Runner) { r.plugins = reg }
}

// WithConcurrency bounds how many students are billed at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithStudentTimeout bounds the generation of a single student.
func WithStudentTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// New creates a Runner.
func New(gen Generator, roster Roster, opts ...Option) *Runner {
	r := &Runner{
		gen:         gen,
		roster:      roster,
		logger:      slog.Default(),
		concurrency: 8,
		timeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForEngine creates a Runner that bills with b over b's store and reports to
// b's plugins.
func ForEngine(b *bursar.Bursar, opts ...Option) *Runner {
	opts = append([]Option{WithLogger(b.Logger()), WithPlugins(b.Plugins())}, opts...)
	return New(b, b.Store(), opts...)
}

// Failure is one student the run could not bill.
type Failure struct {
	StudentID id.StudentID `json:"student_id"`
	Error     string       `json:"error"`
}

// Report is the outcome of one run.
type Report struct {
	RunID          id.RunID      `json:"run_id"`
	Month          time.Month    `json:"month"`
	Year           int           `json:"year"`
	Processed      int           `json:"processed"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	ChargesCreated int           `json:"charges_created"`
	Failures       []Failure     `json:"failures,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Run bills every billable student for month/year. A student whose
// generation fails is counted and logged; the others are still billed.
// Failed students are not retried within the run. Run only returns an error
// when the roster cannot be read or ctx ends.
func (r *Runner) Run(ctx context.Context, month time.Month, year int) (*Report, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("runner: month %d: %w", month, bursar.ErrInvalidInput)
	}

	report := &Report{
		RunID:     id.NewRunID(),
		Month:     month,
		Year:      year,
		StartedAt: time.Now(),
	}

	students, err := r.roster.ListBillable(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: list billable students: %w", err)
	}
	report.Processed = len(students)

	r.logger.Info("billing run started",
		"run_id", report.RunID.String(),
		"month", int(month),
		"year", year,
		"students", len(students),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, studentID := range students {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			created, err := r.billOne(gctx, studentID, month, year)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Failures = append(report.Failures, Failure{StudentID: studentID, Error: err.Error()})
				r.logger.Error("billing failed for student",
					"run_id", report.RunID.String(),
					"student_id", studentID.String(),
					"error", err,
				)
				return nil
			}
			report.Succeeded++
			report.ChargesCreated += created
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	report.Elapsed = time.Since(report.StartedAt)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("runner: run %s interrupted: %w", report.RunID, err)
	}

	r.logger.Info("billing run completed",
		"run_id", report.RunID.String(),
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"charges", report.ChargesCreated,
		"elapsed_ms", report.Elapsed.Milliseconds(),
	)
	if r.plugins != nil {
		r.plugins.EmitBillingRunCompleted(ctx, report.RunID, month, year, report.Succeeded, report.Failed, report.Elapsed)
	}

	return report, nil
}

func (r *Runner) billOne(ctx context.Context, studentID id.StudentID, month time.Month, year int) (created int, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	res, err := r.gen.Generate(ctx, bursar.GenerateInput{
		StudentID: studentID,
		Trigger:   bursar.TriggerPeriodic,
		Month:     int(month),
		Year:      year,
	})
	if err != nil {
		return 0, err
	}
	return res.ChargesCreated, nil
}
