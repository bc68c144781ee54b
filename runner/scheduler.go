package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs at 02:00 on the first day of every month.
const DefaultSchedule = "0 2 1 * *"

// Scheduler triggers a Runner on a cron schedule for the calendar month the
// trigger fires in.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	logger  *slog.Logger
	loc     *time.Location
	timeout time.Duration
	entry   cron.EntryID
}

// NewScheduler registers r under spec, a standard five-field cron expression.
func NewScheduler(r *Runner, spec string, loc *time.Location, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		runner:  r,
		logger:  r.logger,
		loc:     loc,
		timeout: timeout,
	}

	entry, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, err
	}
	s.entry = entry
	return s, nil
}

func (s *Scheduler) fire() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	now := time.Now().In(s.loc)
	if _, err := s.runner.Run(ctx, now.Month(), now.Year()); err != nil {
		s.logger.Error("scheduled billing run failed", "error", err)
	}
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("billing scheduler started", "next", s.Next())
}

// Stop stops firing and returns a context done when a running job finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the next time the schedule fires.
func (s *Scheduler) Next() time.Time {
	e := s.cron.Entry(s.entry)
	if e.Schedule == nil {
		return time.Time{}
	}
	return e.Schedule.Next(time.Now().In(s.loc))
}
