package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/logger"
	"github.com/raaihank/medgateway/internal/provider"
	"github.com/raaihank/medgateway/internal/settings"
)

// Status is a provider lifecycle step reported to the UI
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusChecking     Status = "checking"
	StatusFallback     Status = "fallback"
	StatusWarming      Status = "warming"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// StatusEvent describes a provider lifecycle step
type StatusEvent struct {
	Status   Status `json:"status"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Builder creates a backend instance. An empty model selects the default.
type Builder func(kind provider.Kind, model string) (provider.Provider, error)

// FactoryOptions configures a Factory
type FactoryOptions struct {
	// Order is the candidate list. The first local entry doubles as the
	// extraction backend.
	Order  []provider.Kind
	Active provider.Kind
}

type binding struct {
	version  uint64
	provider provider.Provider
	leases   atomic.Int64
}

// Lease pins the backend a call started with. A switch installs a new
// binding and never affects calls holding a lease on the old one.
type Lease struct {
	b        *binding
	released atomic.Bool
}

// Provider returns the leased backend
func (l *Lease) Provider() provider.Provider { return l.b.provider }

// Version identifies the binding the lease was taken on
func (l *Lease) Version() uint64 { return l.b.version }

// Release returns the lease. Extra calls are ignored.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.b.leases.Add(-1)
	}
}

// Factory owns the backend instances, at most one per kind, and the
// active selection.
type Factory struct {
	build    Builder
	opts     FactoryOptions
	store    settings.Store
	notify   func(StatusEvent)
	logger   *logger.Logger
	switchMu sync.Mutex

	mu        sync.RWMutex
	instances map[provider.Kind]*binding
	active    *binding
	version   uint64
	saved     settings.Selection
}

// NewFactory creates a factory. store may be nil; notify may be nil.
func NewFactory(build Builder, opts FactoryOptions, store settings.Store, notify func(StatusEvent), log *logger.Logger) (*Factory, error) {
	if len(opts.Order) == 0 {
		return nil, errors.New("at least one provider candidate is required")
	}
	for _, k := range opts.Order {
		if err := provider.ValidateKind(k); err != nil {
			return nil, err
		}
	}
	if opts.Active == "" {
		opts.Active = opts.Order[0]
	}
	if store == nil {
		store = settings.NewMemoryStore()
	}
	if notify == nil {
		notify = func(StatusEvent) {}
	}

	return &Factory{
		build:     build,
		opts:      opts,
		store:     store,
		notify:    notify,
		logger:    log.WithComponent("factory"),
		instances: make(map[provider.Kind]*binding),
	}, nil
}

// Initialize selects the first usable backend, starting at the saved or
// configured one. A failing local backend falls back once to the next cloud
// backend. A failing cloud backend is terminal. Initialize never saves the
// selection, so a fallback lasts until the next start.
func (f *Factory) Initialize(ctx context.Context) error {
	f.switchMu.Lock()
	defer f.switchMu.Unlock()

	first := f.opts.Active
	saved, err := f.store.Load(ctx)
	switch {
	case err == nil:
		f.mu.Lock()
		f.saved = saved
		f.mu.Unlock()
		if k := provider.Kind(saved.Provider); f.inOrder(k) {
			first = k
		}
	case !errors.Is(err, settings.ErrNoSelection):
		f.logger.Warn("Could not load saved provider selection", zap.Error(err))
	}

	f.notify(StatusEvent{Status: StatusInitializing, Provider: string(first)})

	b, err := f.verify(ctx, first, f.savedModel(first))
	if err == nil {
		f.commit(ctx, first, b, false)
		return nil
	}
	f.logger.Warn("Provider unusable at startup", zap.String("provider", string(first)), zap.Error(err))

	if !first.IsLocal() {
		f.notify(StatusEvent{Status: StatusError, Provider: string(first), Message: err.Error()})
		return fmt.Errorf("initialize %s: %w", first, err)
	}

	next, ok := f.nextCloud(first)
	if !ok {
		f.notify(StatusEvent{Status: StatusError, Provider: string(first), Message: err.Error()})
		return fmt.Errorf("initialize %s: %w", first, err)
	}

	f.notify(StatusEvent{Status: StatusFallback, Provider: string(next), Message: fmt.Sprintf("%s unavailable, falling back to %s", first, next)})
	b, fallbackErr := f.verify(ctx, next, f.savedModel(next))
	if fallbackErr != nil {
		f.notify(StatusEvent{Status: StatusError, Provider: string(next), Message: fallbackErr.Error()})
		return fmt.Errorf("initialize %s: %w; fallback %s: %w", first, err, next, fallbackErr)
	}

	f.commit(ctx, next, b, false)
	f.logger.Info("Fell back to cloud provider",
		zap.String("from", string(first)),
		zap.String("to", string(next)),
	)
	return nil
}

// SwitchProvider verifies a fresh instance of kind, makes it active and
// saves it as the selection. On any failure the previous backend stays
// active.
func (f *Factory) SwitchProvider(ctx context.Context, kind provider.Kind, modelHint string) error {
	if err := provider.ValidateKind(kind); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	f.switchMu.Lock()
	defer f.switchMu.Unlock()

	model := modelHint
	if model == "" {
		model = f.currentModel(kind)
	}

	b, err := f.verify(ctx, kind, model)
	if err != nil {
		f.notify(StatusEvent{Status: StatusError, Provider: string(kind), Model: model, Message: err.Error()})
		return fmt.Errorf("switch to %s: %w", kind, err)
	}

	f.commit(ctx, kind, b, true)
	return nil
}

// verify builds an instance and runs its connectivity check and warm-up.
func (f *Factory) verify(ctx context.Context, kind provider.Kind, model string) (*binding, error) {
	p, err := f.build(kind, model)
	if err != nil {
		return nil, err
	}
	if !p.IsConfigured() {
		return nil, provider.ErrNotConfigured
	}

	f.notify(StatusEvent{Status: StatusChecking, Provider: p.Name(), Model: p.Model()})
	if ok, msg := p.CheckConnection(ctx); !ok {
		return nil, &ProbeError{Provider: p.Name(), Stage: "check", Message: msg}
	}

	f.notify(StatusEvent{Status: StatusWarming, Provider: p.Name(), Model: p.Model()})
	if ok, msg := p.Warmup(ctx); !ok {
		return nil, &ProbeError{Provider: p.Name(), Stage: "warmup", Message: msg}
	}

	return &binding{provider: p}, nil
}

func (f *Factory) commit(ctx context.Context, kind provider.Kind, b *binding, persist bool) {
	f.mu.Lock()
	f.version++
	b.version = f.version
	f.instances[kind] = b
	f.active = b
	var sel settings.Selection
	if persist {
		sel = f.selectionLocked()
		f.saved = sel
	}
	f.mu.Unlock()

	if persist {
		if err := f.store.Save(ctx, sel); err != nil {
			f.logger.Warn("Could not persist provider selection", zap.Error(err))
		}
	}

	p := b.provider
	f.logger.Info("Provider active",
		zap.String("provider", p.Name()),
		zap.String("model", p.Model()),
		zap.Bool("local", p.IsLocal()),
		zap.Uint64("version", b.version),
	)
	f.notify(StatusEvent{Status: StatusReady, Provider: p.Name(), Model: p.Model()})
}

func (f *Factory) selectionLocked() settings.Selection {
	sel := settings.Selection{
		LocalModel: f.saved.LocalModel,
		CloudModel: f.saved.CloudModel,
	}
	if f.active != nil {
		sel.Provider = f.active.provider.Name()
	}
	for kind, b := range f.instances {
		if kind.IsLocal() {
			sel.LocalModel = b.provider.Model()
		} else {
			sel.CloudModel = b.provider.Model()
		}
	}
	return sel
}

// Acquire leases the active backend. Callers must Release the lease.
func (f *Factory) Acquire() (*Lease, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.active == nil {
		return nil, ErrNoActiveProvider
	}
	f.active.leases.Add(1)
	return &Lease{b: f.active}, nil
}

// LocalProvider returns the local instance, creating it on first use
// without probing it.
func (f *Factory) LocalProvider() (provider.Provider, error) {
	kind, ok := f.localKind()
	if !ok {
		return nil, ErrNoLocalProvider
	}

	f.mu.RLock()
	b := f.instances[kind]
	f.mu.RUnlock()
	if b != nil {
		return b.provider, nil
	}

	p, err := f.build(kind, f.savedModel(kind))
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if b := f.instances[kind]; b != nil {
		return b.provider, nil
	}
	f.version++
	f.instances[kind] = &binding{version: f.version, provider: p}
	return p, nil
}

// LocalAvailable probes the local backend
func (f *Factory) LocalAvailable(ctx context.Context) bool {
	p, err := f.LocalProvider()
	if err != nil {
		return false
	}
	ok, _ := p.CheckConnection(ctx)
	return ok
}

// ListLocalModels returns the models installed on the local backend
func (f *Factory) ListLocalModels(ctx context.Context) ([]string, error) {
	p, err := f.LocalProvider()
	if err != nil {
		return nil, err
	}
	lister, ok := p.(provider.ModelLister)
	if !ok {
		return nil, fmt.Errorf("%s cannot list models", p.Name())
	}
	return lister.ListModels(ctx)
}

// GetActiveProviderName returns the active backend name, or "" before
// Initialize succeeded.
func (f *Factory) GetActiveProviderName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.active == nil {
		return ""
	}
	return f.active.provider.Name()
}

// GetActiveModelName returns the active backend model
func (f *Factory) GetActiveModelName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.active == nil {
		return ""
	}
	return f.active.provider.Model()
}

// Active describes the active backend
func (f *Factory) Active() (provider.Descriptor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.active == nil {
		return provider.Descriptor{}, false
	}
	return f.active.provider.Descriptor(), true
}

// Candidate is a backend kind as listed for clients
type Candidate struct {
	Name    string `json:"name"`
	IsLocal bool   `json:"is_local"`
	Model   string `json:"model,omitempty"`
	Active  bool   `json:"active"`
}

// Candidates lists the configured backends in fallback order
func (f *Factory) Candidates() []Candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Candidate, 0, len(f.opts.Order))
	for _, k := range f.opts.Order {
		c := Candidate{Name: string(k), IsLocal: k.IsLocal(), Model: f.saved.ModelFor(k.IsLocal())}
		if b := f.instances[k]; b != nil {
			c.Model = b.provider.Model()
			c.Active = b == f.active
		}
		out = append(out, c)
	}
	return out
}

// Leases returns the number of outstanding leases per binding version.
func (f *Factory) Leases() map[uint64]int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[uint64]int64, len(f.instances))
	for _, b := range f.instances {
		out[b.version] = b.leases.Load()
	}
	return out
}

func (f *Factory) inOrder(kind provider.Kind) bool {
	for _, k := range f.opts.Order {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *Factory) nextCloud(after provider.Kind) (provider.Kind, bool) {
	for _, k := range f.opts.Order {
		if k != after && !k.IsLocal() {
			return k, true
		}
	}
	return "", false
}

func (f *Factory) localKind() (provider.Kind, bool) {
	for _, k := range f.opts.Order {
		if k.IsLocal() {
			return k, true
		}
	}
	return "", false
}

func (f *Factory) savedModel(kind provider.Kind) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.saved.ModelFor(kind.IsLocal())
}

func (f *Factory) currentModel(kind provider.Kind) string {
	f.mu.RLock()
	b := f.instances[kind]
	f.mu.RUnlock()
	if b != nil {
		return b.provider.Model()
	}
	return f.savedModel(kind)
}
