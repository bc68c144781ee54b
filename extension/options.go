package extension

import (
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/runner"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/dial"
)

// Option configures the Bursar Forge extension.
type Option func(*Extension)

// WithStore sets the store for the bursar engine. Config.Store is then
// ignored.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithStoreConfig selects the backend the extension opens.
func WithStoreConfig(cfg dial.Config) Option {
	return func(e *Extension) { e.config.Store = cfg }
}

// WithBursarOption passes a bursar.Option through to the underlying engine.
func WithBursarOption(opt bursar.Option) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, opt)
	}
}

// WithRunnerOption passes a runner.Option through to the billing runner.
func WithRunnerOption(opt runner.Option) Option {
	return func(e *Extension) {
		e.runnerOpts = append(e.runnerOpts, opt)
	}
}

// WithPlugin registers a bursar plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, bursar.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableRunner stops the extension from scheduling periodic billing.
func WithDisableRunner() Option {
	return func(e *Extension) { e.config.DisableRunner = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithCurrency sets the engine currency.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithTimezone sets the IANA zone for billing months and the schedule.
func WithTimezone(name string) Option {
	return func(e *Extension) { e.config.Timezone = name }
}

// WithRunnerSchedule sets the cron expression of the periodic billing run.
func WithRunnerSchedule(spec string) Option {
	return func(e *Extension) { e.config.RunnerSchedule = spec }
}

// WithRunnerTimeout bounds one whole billing run.
func WithRunnerTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.RunnerTimeout = d }
}
