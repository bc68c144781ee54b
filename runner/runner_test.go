package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/runner"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/student"
)

type recorder struct {
	mu        sync.Mutex
	succeeded int
	failed    int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnBillingRunCompleted(_ context.Context, _ id.RunID, _ time.Month, _, succeeded, failed int, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded, r.failed = succeeded, failed
	return nil
}

func TestRunIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := &recorder{}
	b := bursar.New(store,
		bursar.WithClock(func() time.Time { return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC) }),
		bursar.WithPlugin(rec),
	)

	classID := id.NewClassID()
	tuition, err := b.CreateFeeHead(ctx, bursar.FeeHeadInput{Name: "Tuition", Frequency: fee.FrequencyMonthly})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.CreateFeeStructure(ctx, bursar.FeeStructureInput{ClassID: classID, FeeHeadID: tuition.ID, Amount: 2000}); err != nil {
		t.Fatal(err)
	}

	for range 5 {
		if _, err := b.Enroll(ctx, bursar.EnrollInput{ClassID: classID, Name: "Student", Month: 3, Year: 2025}); err != nil {
			t.Fatal(err)
		}
	}
	// Billable but without an account.
	if err := store.UpsertStudent(ctx, &student.Student{ID: id.NewStudentID(), ClassID: classID, Status: student.StatusActive}); err != nil {
		t.Fatal(err)
	}
	// Not billable.
	if err := store.UpsertStudent(ctx, &student.Student{ID: id.NewStudentID(), ClassID: classID, Status: student.StatusGraduated}); err != nil {
		t.Fatal(err)
	}

	r := runner.ForEngine(b, runner.WithConcurrency(3))

	report, err := r.Run(ctx, time.April, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 6 || report.Succeeded != 5 || report.Failed != 1 {
		t.Fatalf("processed %d succeeded %d failed %d", report.Processed, report.Succeeded, report.Failed)
	}
	if report.ChargesCreated != 5 {
		t.Errorf("charges = %d, want 5", report.ChargesCreated)
	}
	if len(report.Failures) != 1 || !strings.Contains(report.Failures[0].Error, "account not found") {
		t.Errorf("failures = %+v", report.Failures)
	}

	rec.mu.Lock()
	if rec.succeeded != 5 || rec.failed != 1 {
		t.Errorf("hook saw succeeded %d failed %d", rec.succeeded, rec.failed)
	}
	rec.mu.Unlock()

	// A second run for the same month succeeds for everyone with an account
	// and creates nothing.
	again, err := r.Run(ctx, time.April, 2025)
	if err != nil {
		t.Fatal(err)
	}
	if again.Succeeded != 5 || again.ChargesCreated != 0 {
		t.Fatalf("rerun succeeded %d charges %d", again.Succeeded, again.ChargesCreated)
	}
}

type flakyGenerator struct {
	fail map[id.StudentID]bool
}

func (g *flakyGenerator) Generate(_ context.Context, in bursar.GenerateInput) (*bursar.GenerateResult, error) {
	if g.fail[in.StudentID] {
		return nil, errors.New("boom")
	}
	if in.Trigger != bursar.TriggerPeriodic {
		return nil, errors.New("runner must use the periodic trigger")
	}
	return &bursar.GenerateResult{StudentID: in.StudentID, ChargesCreated: 1}, nil
}

type panickyGenerator struct{}

func (panickyGenerator) Generate(context.Context, bursar.GenerateInput) (*bursar.GenerateResult, error) {
	panic("unexpected")
}

type staticRoster []id.StudentID

func (s staticRoster) ListBillable(context.Context) ([]id.StudentID, error) { return s, nil }

type brokenRoster struct{}

func (brokenRoster) ListBillable(context.Context) ([]id.StudentID, error) {
	return nil, errors.New("db down")
}

func TestRunWithFakes(t *testing.T) {
	ctx := context.Background()
	a, b, c := id.NewStudentID(), id.NewStudentID(), id.NewStudentID()

	tests := []struct {
		name      string
		gen       runner.Generator
		roster    runner.Roster
		succeeded int
		failed    int
		wantErr   bool
	}{
		{"all succeed", &flakyGenerator{}, staticRoster{a, b, c}, 3, 0, false},
		{"one fails", &flakyGenerator{fail: map[id.StudentID]bool{b: true}}, staticRoster{a, b, c}, 2, 1, false},
		{"panic is a failure", panickyGenerator{}, staticRoster{a, b}, 0, 2, false},
		{"empty roster", &flakyGenerator{}, staticRoster{}, 0, 0, false},
		{"roster error", &flakyGenerator{}, brokenRoster{}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := runner.New(tt.gen, tt.roster).Run(ctx, time.March, 2025)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if report.Succeeded != tt.succeeded || report.Failed != tt.failed {
				t.Fatalf("succeeded %d failed %d", report.Succeeded, report.Failed)
			}
		})
	}
}

func TestRunRejectsBadMonth(t *testing.T) {
	_, err := runner.New(&flakyGenerator{}, staticRoster{}).Run(context.Background(), 13, 2025)
	if !errors.Is(err, bursar.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestSchedulerNext(t *testing.T) {
	s, err := runner.NewScheduler(runner.New(&flakyGenerator{}, staticRoster{}), "", time.UTC, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	next := s.Next()
	if next.Day() != 1 || next.Hour() != 2 {
		t.Fatalf("next = %s", next)
	}

	if _, err := runner.NewScheduler(runner.New(&flakyGenerator{}, staticRoster{}), "not a cron", nil, 0); err == nil {
		t.Fatal("expected error for bad schedule")
	}
}
