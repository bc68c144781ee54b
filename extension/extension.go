// Package extension provides the Forge extension adapter for Bursar.
//
// It implements the forge.Extension interface to integrate Bursar
// into a Forge application with DI registration, lifecycle management and
// the periodic billing schedule.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.bursar" or "bursar" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/runner"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/dial"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "bursar"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "School fee billing and student ledger engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Bursar as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *bursar.Bursar
	store      store.Store
	runner     *runner.Runner
	scheduler  *runner.Scheduler
	bursarOpts []bursar.Option
	runnerOpts []runner.Option
}

// New creates a new Bursar Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Bursar instance.
// This is nil until Register is called.
func (e *Extension) Engine() *bursar.Bursar { return e.engine }

// Runner returns the periodic billing runner.
// This is nil until Register is called.
func (e *Extension) Runner() *runner.Runner { return e.runner }

// Register implements [forge.Extension]. It loads configuration,
// initializes the bursar engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(context.Background()); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*bursar.Bursar, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	return vessel.Provide(fapp.Container(), func() (*runner.Runner, error) {
		return e.runner, nil
	})
}

// build opens the configured store when none was given and wires the engine,
// runner and scheduler from the resolved config.
func (e *Extension) build(ctx context.Context) error {
	if e.store == nil {
		s, err := dial.Open(ctx, e.config.Store, nil)
		if err != nil {
			return fmt.Errorf("bursar: open store: %w", err)
		}
		e.store = s
	}

	opts, err := e.buildBursarOpts()
	if err != nil {
		return err
	}
	e.engine = bursar.New(e.store, opts...)

	ropts := append([]runner.Option{runner.WithConcurrency(e.config.RunnerConcurrency)}, e.runnerOpts...)
	e.runner = runner.ForEngine(e.engine, ropts...)

	if e.config.DisableRunner {
		return nil
	}
	loc, err := time.LoadLocation(e.config.Timezone)
	if err != nil {
		return fmt.Errorf("bursar: timezone %q: %w", e.config.Timezone, err)
	}
	e.scheduler, err = runner.NewScheduler(e.runner, e.config.RunnerSchedule, loc, e.config.RunnerTimeout)
	if err != nil {
		return fmt.Errorf("bursar: runner schedule %q: %w", e.config.RunnerSchedule, err)
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("bursar: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	if e.scheduler != nil {
		e.scheduler.Start()
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension]. It waits for a running billing run to
// finish, or for ctx to end, before closing the store.
func (e *Extension) Stop(ctx context.Context) error {
	if e.scheduler != nil {
		select {
		case <-e.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("bursar: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildBursarOpts constructs bursar.Option values from the resolved config.
func (e *Extension) buildBursarOpts() ([]bursar.Option, error) {
	opts := make([]bursar.Option, 0, len(e.bursarOpts)+4)

	loc, err := time.LoadLocation(e.config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bursar: timezone %q: %w", e.config.Timezone, err)
	}
	opts = append(opts,
		bursar.WithLocation(loc),
		bursar.WithCurrency(e.config.Currency),
		bursar.WithReferencePrefix(e.config.ReferencePrefix),
		bursar.WithRetry(e.config.MaxAttempts, e.config.RetryInterval),
	)

	// Append any pass-through bursar options.
	opts = append(opts, e.bursarOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("bursar: configuration is required but not found in config files; " +
				"ensure 'extensions.bursar' or 'bursar' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("bursar: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("currency", e.config.Currency),
		forge.F("timezone", e.config.Timezone),
		forge.F("max_attempts", e.config.MaxAttempts),
		forge.F("disable_runner", e.config.DisableRunner),
		forge.F("runner_schedule", e.config.RunnerSchedule),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.bursar", "bursar"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("bursar: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("bursar: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaults.Timezone
	}
	if cfg.ReferencePrefix == "" {
		cfg.ReferencePrefix = defaults.ReferencePrefix
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.RunnerSchedule == "" {
		cfg.RunnerSchedule = defaults.RunnerSchedule
	}
	if cfg.RunnerConcurrency == 0 {
		cfg.RunnerConcurrency = defaults.RunnerConcurrency
	}
	if cfg.RunnerTimeout == 0 {
		cfg.RunnerTimeout = defaults.RunnerTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableRunner {
		yamlConfig.DisableRunner = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.Timezone == "" {
		yamlConfig.Timezone = programmaticConfig.Timezone
	}
	if yamlConfig.ReferencePrefix == "" {
		yamlConfig.ReferencePrefix = programmaticConfig.ReferencePrefix
	}
	if yamlConfig.RunnerSchedule == "" {
		yamlConfig.RunnerSchedule = programmaticConfig.RunnerSchedule
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MaxAttempts == 0 {
		yamlConfig.MaxAttempts = programmaticConfig.MaxAttempts
	}
	if yamlConfig.RetryInterval == 0 {
		yamlConfig.RetryInterval = programmaticConfig.RetryInterval
	}
	if yamlConfig.RunnerConcurrency == 0 {
		yamlConfig.RunnerConcurrency = programmaticConfig.RunnerConcurrency
	}
	if yamlConfig.RunnerTimeout == 0 {
		yamlConfig.RunnerTimeout = programmaticConfig.RunnerTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
