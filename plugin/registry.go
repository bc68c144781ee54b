package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onStudentEnrolled     []OnStudentEnrolled
	onChargesGenerated    []OnChargesGenerated
	onAccountDebited      []OnAccountDebited
	onAccountCredited     []OnAccountCredited
	onPaymentApplied      []OnPaymentApplied
	onPaymentRejected     []OnPaymentRejected
	onBillingRunCompleted []OnBillingRunCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnStudentEnrolled); ok {
		r.onStudentEnrolled = append(r.onStudentEnrolled, v)
	}
	if v, ok := p.(OnChargesGenerated); ok {
		r.onChargesGenerated = append(r.onChargesGenerated, v)
	}
	if v, ok := p.(OnAccountDebited); ok {
		r.onAccountDebited = append(r.onAccountDebited, v)
	}
	if v, ok := p.(OnAccountCredited); ok {
		r.onAccountCredited = append(r.onAccountCredited, v)
	}
	if v, ok := p.(OnPaymentApplied); ok {
		r.onPaymentApplied = append(r.onPaymentApplied, v)
	}
	if v, ok := p.(OnPaymentRejected); ok {
		r.onPaymentRejected = append(r.onPaymentRejected, v)
	}
	if v, ok := p.(OnBillingRunCompleted); ok {
		r.onBillingRunCompleted = append(r.onBillingRunCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnStudentEnrolled)(nil)).Elem(), "OnStudentEnrolled")
	checkInterface(reflect.TypeOf((*OnChargesGenerated)(nil)).Elem(), "OnChargesGenerated")
	checkInterface(reflect.TypeOf((*OnAccountDebited)(nil)).Elem(), "OnAccountDebited")
	checkInterface(reflect.TypeOf((*OnAccountCredited)(nil)).Elem(), "OnAccountCredited")
	checkInterface(reflect.TypeOf((*OnPaymentApplied)(nil)).Elem(), "OnPaymentApplied")
	checkInterface(reflect.TypeOf((*OnPaymentRejected)(nil)).Elem(), "OnPaymentRejected")
	checkInterface(reflect.TypeOf((*OnBillingRunCompleted)(nil)).Elem(), "OnBillingRunCompleted")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, b interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, b)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitStudentEnrolled notifies OnStudentEnrolled plugins.
func (r *Registry) EmitStudentEnrolled(ctx context.Context, s *student.Student, a *account.Account) {
	r.mu.RLock()
	plugins := r.onStudentEnrolled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnStudentEnrolled", func() error {
			return p.OnStudentEnrolled(ctx, s, a)
		})
	}
}

// EmitChargesGenerated notifies OnChargesGenerated plugins.
func (r *Registry) EmitChargesGenerated(ctx context.Context, studentID id.StudentID, charges []*charge.Charge, txn *account.Transaction) {
	r.mu.RLock()
	plugins := r.onChargesGenerated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnChargesGenerated", func() error {
			return p.OnChargesGenerated(ctx, studentID, charges, txn)
		})
	}
}

// EmitAccountDebited notifies OnAccountDebited plugins.
func (r *Registry) EmitAccountDebited(ctx context.Context, a *account.Account, txn *account.Transaction) {
	r.mu.RLock()
	plugins := r.onAccountDebited
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnAccountDebited", func() error {
			return p.OnAccountDebited(ctx, a, txn)
		})
	}
}

// EmitAccountCredited notifies OnAccountCredited plugins.
func (r *Registry) EmitAccountCredited(ctx context.Context, a *account.Account, txn *account.Transaction) {
	r.mu.RLock()
	plugins := r.onAccountCredited
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnAccountCredited", func() error {
			return p.OnAccountCredited(ctx, a, txn)
		})
	}
}

// EmitPaymentApplied notifies OnPaymentApplied plugins.
func (r *Registry) EmitPaymentApplied(ctx context.Context, c *charge.Charge, txn *account.Transaction) {
	r.mu.RLock()
	plugins := r.onPaymentApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPaymentApplied", func() error {
			return p.OnPaymentApplied(ctx, c, txn)
		})
	}
}

// EmitPaymentRejected notifies OnPaymentRejected plugins.
func (r *Registry) EmitPaymentRejected(ctx context.Context, chargeID id.ChargeID, code, message string) {
	r.mu.RLock()
	plugins := r.onPaymentRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPaymentRejected", func() error {
			return p.OnPaymentRejected(ctx, chargeID, code, message)
		})
	}
}

// EmitBillingRunCompleted notifies OnBillingRunCompleted plugins.
func (r *Registry) EmitBillingRunCompleted(ctx context.Context, runID id.RunID, month time.Month, year, succeeded, failed int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onBillingRunCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnBillingRunCompleted", func() error {
			return p.OnBillingRunCompleted(ctx, runID, month, year, succeeded, failed, elapsed)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
