package extension

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/xraph/bursar/store/dial"
	"github.com/xraph/bursar/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{Currency: "usd"})
	want := DefaultConfig()
	want.Currency = "usd"
	if got != want {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		Store:          dial.Config{Driver: dial.SQLite, DSN: "/var/lib/bursar.db"},
		RunnerSchedule: "0 3 1 * *",
	}
	prog := Config{
		Store:          dial.Config{Driver: dial.Postgres, DSN: "postgres://x"},
		Currency:       "kes",
		RunnerSchedule: "0 4 1 * *",
		DisableRunner:  true,
		RetryInterval:  time.Second,
	}

	got := mergeConfigurations(yaml, prog)

	tests := []struct {
		name      string
		got, want any
	}{
		{"yaml store wins", got.Store.Driver, dial.SQLite},
		{"yaml schedule wins", got.RunnerSchedule, "0 3 1 * *"},
		{"programmatic fills currency", got.Currency, "kes"},
		{"programmatic fills retry", got.RetryInterval, time.Second},
		{"programmatic bool", got.DisableRunner, true},
		{"default timezone", got.Timezone, "UTC"},
		{"default attempts", got.MaxAttempts, uint(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	e := New(WithStore(memory.New()), WithTimezone("Asia/Kolkata"), WithRunnerSchedule("*/5 * * * *"))
	e.config = mergeWithDefaults(e.config)

	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Engine() == nil || e.Runner() == nil || e.scheduler == nil {
		t.Fatal("engine, runner and scheduler should be built")
	}
	if loc := e.Engine().Now().Location().String(); loc != "Asia/Kolkata" {
		t.Errorf("engine location = %s", loc)
	}
	if e.scheduler.Next().IsZero() {
		t.Error("scheduler has no next run")
	}
}

func TestBuildRejectsBadSchedule(t *testing.T) {
	e := New(WithStore(memory.New()), WithRunnerSchedule("every tuesday"))
	e.config = mergeWithDefaults(e.config)

	if err := e.build(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestBuildWithoutRunner(t *testing.T) {
	e := New(WithStore(memory.New()), WithDisableRunner())
	e.config = mergeWithDefaults(e.config)

	if err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.scheduler != nil {
		t.Error("scheduler built with runner disabled")
	}
	if err := e.Health(context.Background()); err != nil {
		t.Errorf("health: %v", err)
	}
}
