package bursar

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// Bursar is the fee ledger and billing engine.
type Bursar struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	validate *validator.Validate

	clock    func() time.Time
	location *time.Location
	currency string

	// Retry of atomic units that lost a race.
	maxAttempts     uint
	initialInterval time.Duration

	refMu     sync.RWMutex
	refPrefix string

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a new Bursar instance.
func New(s store.Store, opts ...Option) *Bursar {
	b := &Bursar{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           time.Now,
		location:        time.UTC,
		currency:        types.DefaultCurrency,
		maxAttempts:     5,
		initialInterval: 10 * time.Millisecond,
		refPrefix:       "RCPT-",
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.validate == nil {
		b.validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return b
}

// Option configures a Bursar instance.
type Option func(*Bursar)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bursar) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Bursar) {
		_ = b.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bursar) {
		b.clock = now
	}
}

// WithLocation sets the time zone used to compute due dates.
func WithLocation(loc *time.Location) Option {
	return func(b *Bursar) {
		if loc != nil {
			b.location = loc
		}
	}
}

// WithCurrency sets the currency every amount is kept in.
func WithCurrency(currency string) Option {
	return func(b *Bursar) {
		b.currency = strings.ToLower(currency)
	}
}

// WithRetry bounds the retries of an atomic unit that lost a race with a
// concurrent writer. maxAttempts counts the first try.
func WithRetry(maxAttempts uint, initialInterval time.Duration) Option {
	return func(b *Bursar) {
		if maxAttempts > 0 {
			b.maxAttempts = maxAttempts
		}
		b.initialInterval = initialInterval
	}
}

// WithReferencePrefix sets the prefix of generated payment references.
func WithReferencePrefix(prefix string) Option {
	return func(b *Bursar) {
		b.refPrefix = prefix
	}
}

// WithValidator replaces the input validator.
func WithValidator(v *validator.Validate) Option {
	return func(b *Bursar) {
		b.validate = v
	}
}

// SetReferencePrefix changes the reference prefix at runtime. Calls already
// in flight keep the prefix they started with.
func (b *Bursar) SetReferencePrefix(prefix string) {
	b.refMu.Lock()
	b.refPrefix = prefix
	b.refMu.Unlock()
}

func (b *Bursar) referencePrefix() string {
	b.refMu.RLock()
	defer b.refMu.RUnlock()
	return b.refPrefix
}

// Store returns the underlying store.
func (b *Bursar) Store() store.Store { return b.store }

// Plugins returns the plugin registry.
func (b *Bursar) Plugins() *plugin.Registry { return b.plugins }

// Logger returns the engine logger.
func (b *Bursar) Logger() *slog.Logger { return b.logger }

// Currency returns the engine currency.
func (b *Bursar) Currency() string { return b.currency }

// Now returns the engine clock reading in the engine time zone.
func (b *Bursar) Now() time.Time { return b.clock().In(b.location) }

// Start migrates the store and initialises plugins.
func (b *Bursar) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		if err = b.store.Migrate(ctx); err != nil {
			return
		}

		b.plugins.EmitInit(ctx, b)

		b.logger.Info("bursar started",
			"currency", b.currency,
			"location", b.location.String(),
			"max_attempts", b.maxAttempts,
			"plugins", b.plugins.Count(),
		)
	})
	return err
}

// Stop shuts down plugins and closes the store.
func (b *Bursar) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.plugins.EmitShutdown(context.Background())
		err = b.store.Close()
	})
	return err
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// atomically runs fn as one atomic unit, retrying it from scratch with
// exponential backoff while it fails with a concurrency conflict.
func (b *Bursar) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initialInterval
	bo.MaxInterval = 50 * b.initialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := b.store.RunInTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if IsConflict(err) {
			b.logger.Debug("atomic unit conflicted, retrying",
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(b.maxAttempts),
	)
	return err
}

func (b *Bursar) money(amount int64) types.Money {
	return types.New(amount, b.currency)
}

// checkInput runs struct validation and reports the first failing field as
// a ValidationError.
func (b *Bursar) checkInput(in any) error {
	err := b.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return ValidationError{Field: fe.Field(), Message: "failed on " + fe.Tag()}
	}
	return ValidationError{Field: "input", Message: err.Error()}
}
