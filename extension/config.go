package extension

import (
	"time"

	"github.com/xraph/bursar/runner"
	"github.com/xraph/bursar/store/dial"
	"github.com/xraph/bursar/types"
)

// Config holds the Bursar extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.bursar" or "bursar" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Store selects the backend when no store was given with WithStore
	// (default: memory).
	Store dial.Config `json:"store" mapstructure:"store" yaml:"store"`

	// Currency is the ISO 4217 code of every amount (default: inr).
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// Timezone is the IANA zone used for billing months and due dates
	// (default: UTC).
	Timezone string `json:"timezone" mapstructure:"timezone" yaml:"timezone"`

	// ReferencePrefix starts every generated receipt reference
	// (default: RCPT-).
	ReferencePrefix string `json:"reference_prefix" mapstructure:"reference_prefix" yaml:"reference_prefix"`

	// MaxAttempts bounds the retries of an atomic unit that lost a race
	// (default: 5).
	MaxAttempts uint `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`

	// RetryInterval is the first backoff between attempts (default: 10ms).
	RetryInterval time.Duration `json:"retry_interval" mapstructure:"retry_interval" yaml:"retry_interval"`

	// DisableRunner stops the extension from scheduling periodic billing.
	DisableRunner bool `json:"disable_runner" mapstructure:"disable_runner" yaml:"disable_runner"`

	// RunnerSchedule is the five-field cron expression of the periodic
	// billing run (default: 02:00 on the 1st).
	RunnerSchedule string `json:"runner_schedule" mapstructure:"runner_schedule" yaml:"runner_schedule"`

	// RunnerConcurrency bounds how many students are billed at once
	// (default: 8).
	RunnerConcurrency int `json:"runner_concurrency" mapstructure:"runner_concurrency" yaml:"runner_concurrency"`

	// RunnerTimeout bounds one whole run (default: 1h).
	RunnerTimeout time.Duration `json:"runner_timeout" mapstructure:"runner_timeout" yaml:"runner_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store:             dial.Config{Driver: dial.Memory},
		Currency:          types.DefaultCurrency,
		Timezone:          "UTC",
		ReferencePrefix:   "RCPT-",
		MaxAttempts:       5,
		RetryInterval:     10 * time.Millisecond,
		RunnerSchedule:    runner.DefaultSchedule,
		RunnerConcurrency: 8,
		RunnerTimeout:     time.Hour,
	}
}
