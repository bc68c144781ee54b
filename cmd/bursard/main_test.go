package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/bursar/runner"
	"github.com/xraph/bursar/store/dial"
)

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("BURSAR_CURRENCY", "usd")
	t.Setenv("BURSAR_STORE_DRIVER", "sqlite")
	t.Setenv("BURSAR_RUNNER_CONCURRENCY", "3")

	cfg, err := loadConfig("test", []string{"--currency", "kes", "--env-file", ""})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		got, want any
	}{
		{"flag beats env", cfg.Engine.Currency, "kes"},
		{"env beats default", cfg.Engine.Store.Driver, dial.SQLite},
		{"env int", cfg.Engine.RunnerConcurrency, 3},
		{"default", cfg.Engine.RunnerSchedule, runner.DefaultSchedule},
		{"default duration", cfg.Engine.RetryInterval, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bursar.yaml")
	body := "store:\n  driver: postgres\n  dsn: postgres://localhost/bursar\ntimezone: Africa/Nairobi\nkafka_brokers: [\"k1:9092\", \"k2:9092\"]\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig("test", []string{"--config", file, "--env-file", ""})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Store.Driver != dial.Postgres || cfg.Engine.Store.DSN != "postgres://localhost/bursar" {
		t.Errorf("store = %+v", cfg.Engine.Store)
	}
	if cfg.Engine.Timezone != "Africa/Nairobi" {
		t.Errorf("timezone = %q", cfg.Engine.Timezone)
	}
	if len(cfg.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Brokers)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(file, []byte("BURSAR_REFERENCE_PREFIX=FEE-\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("BURSAR_REFERENCE_PREFIX") })

	cfg, err := loadConfig("test", []string{"--env-file", file})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.ReferencePrefix != "FEE-" {
		t.Errorf("prefix = %q", cfg.Engine.ReferencePrefix)
	}
}

func TestRunCommands(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "bursar.db")
	common := []string{"--store.driver", "sqlite", "--store.dsn", dsn, "--env-file", ""}

	if err := run(ctx, append([]string{"migrate"}, common...), &bytes.Buffer{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var out bytes.Buffer
	if err := run(ctx, append([]string{"run", "--month", "3", "--year", "2025"}, common...), &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var report runner.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report %q: %v", out.String(), err)
	}
	if report.Month != time.March || report.Year != 2025 || report.Processed != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"bill-everyone"}, &out)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "Usage: bursard") {
		t.Errorf("usage not printed: %q", out.String())
	}
}
