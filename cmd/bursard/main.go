// Command bursard runs the Bursar periodic billing schedule against a
// configured store, or a single billing run, or the store migrations.
//
//	bursard serve   --store.driver postgres --store.dsn postgres://...
//	bursard run     --month 3 --year 2025
//	bursard migrate --store.driver sqlite --store.dsn ./bursar.db
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/xraph/bursar"
	audithook "github.com/xraph/bursar/audit_hook"
	"github.com/xraph/bursar/kafkahook"
	"github.com/xraph/bursar/observability"
	"github.com/xraph/bursar/runner"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/dial"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "bursard: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bursard [serve|run|migrate] [flags]")
	fmt.Fprintln(w, "  serve    run the periodic billing schedule (default)")
	fmt.Fprintln(w, "  run      bill every active student once for --month/--year")
	fmt.Fprintln(w, "  migrate  create or upgrade the store schema")
	fmt.Fprintln(w)
	fmt.Fprint(w, flagSet("bursard").FlagUsages())
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve", "run", "migrate":
	case "help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return errors.Errorf("unknown command %q", cmd)
	}

	cfg, err := loadConfig("bursard "+cmd, args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	st, err := dial.Open(ctx, cfg.Engine.Store, logger)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}

	if cmd == "migrate" {
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return errors.Wrap(err, "migrating store")
		}
		logger.Info("store migrated", "driver", cfg.Engine.Store.Driver)
		return nil
	}

	d, err := newDaemon(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer d.engine.Stop()

	if !cfg.Engine.DisableMigrate {
		if err := d.engine.Start(ctx); err != nil {
			return errors.Wrap(err, "starting engine")
		}
	}

	if cmd == "run" {
		return d.runOnce(ctx, cfg.Month, cfg.Year, stdout)
	}
	return d.serve(ctx)
}

type daemon struct {
	cfg      *config
	logger   *slog.Logger
	engine   *bursar.Bursar
	runner   *runner.Runner
	registry *prometheus.Registry
}

func newDaemon(cfg *config, st store.Store, logger *slog.Logger) (*daemon, error) {
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", cfg.Engine.Timezone)
	}

	d := &daemon{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []bursar.Option{
		bursar.WithLogger(logger),
		bursar.WithLocation(loc),
		bursar.WithCurrency(cfg.Engine.Currency),
		bursar.WithReferencePrefix(cfg.Engine.ReferencePrefix),
		bursar.WithRetry(cfg.Engine.MaxAttempts, cfg.Engine.RetryInterval),
		bursar.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(d.registry))),
	}
	if len(cfg.Brokers) > 0 {
		opts = append(opts, bursar.WithPlugin(kafkahook.New(cfg.Brokers,
			kafkahook.WithTopic(cfg.Topic),
			kafkahook.WithLogger(logger),
		)))
	}
	if cfg.Audit {
		opts = append(opts, bursar.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))))
	}

	d.engine = bursar.New(st, opts...)
	d.runner = runner.ForEngine(d.engine, runner.WithConcurrency(cfg.Engine.RunnerConcurrency))
	return d, nil
}

// runOnce bills month/year, defaulting to the current month, and prints the
// report as JSON.
func (d *daemon) runOnce(ctx context.Context, month, year int, stdout io.Writer) error {
	now := d.engine.Now()
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Engine.RunnerTimeout)
	defer cancel()

	report, err := d.runner.Run(ctx, time.Month(month), year)
	if err != nil {
		return errors.Wrap(err, "billing run")
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "writing report")
	}
	if report.Failed > 0 {
		return errors.Errorf("%d of %d students failed", report.Failed, report.Processed)
	}
	return nil
}

// serve runs the schedule, and the metrics endpoint when configured, until
// ctx ends.
func (d *daemon) serve(ctx context.Context) error {
	if d.cfg.Engine.DisableRunner {
		return errors.New("runner disabled; nothing to serve")
	}

	loc, _ := time.LoadLocation(d.cfg.Engine.Timezone)
	sched, err := runner.NewScheduler(d.runner, d.cfg.Engine.RunnerSchedule, loc, d.cfg.Engine.RunnerTimeout)
	if err != nil {
		return errors.Wrapf(err, "runner schedule %q", d.cfg.Engine.RunnerSchedule)
	}

	var srv *http.Server
	if d.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := d.engine.Store().Ping(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		srv = &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("metrics server failed", "addr", d.cfg.MetricsAddr, "error", err)
			}
		}()
		d.logger.Info("metrics listening", "addr", d.cfg.MetricsAddr)
	}

	sched.Start()
	<-ctx.Done()
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		d.logger.Warn("billing run still in progress at shutdown")
	}
	if srv != nil {
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

func newLogger(cfg *config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// auditLog records audit events as log lines.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, e *audithook.AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", e.Action),
			slog.String("resource", e.Resource),
			slog.String("resource_id", e.ResourceID),
			slog.String("outcome", e.Outcome),
			slog.String("severity", e.Severity),
			slog.Any("metadata", e.Metadata),
		)
		return nil
	}
}
