package matter

import (
	"context"
	"fmt"
	"sync"
)

// Logger is the minimal logging interface the environment needs.
// Satisfied by *logging.Logger; a no-op logger is used when nil.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EnvironmentConfig configures the fabric environment.
type EnvironmentConfig struct {
	// Name is the bridge name advertised in basic information.
	Name string

	// VendorID and ProductID identify the bridge product.
	VendorID  uint16
	ProductID uint16

	// Store persists endpoint state and fabric records across restarts.
	// Optional; nil keeps everything in memory only.
	Store Store

	// Logger receives lifecycle events. Optional.
	Logger Logger
}

// Environment owns the fabric side of the bridge: node identity, the
// aggregator tree, and persisted commissioning state.
//
// Thread Safety: all methods are safe for concurrent use.
type Environment struct {
	cfg    EnvironmentConfig
	store  Store
	logger Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	aggregators []*Aggregator
}

// NewEnvironment creates an environment from configuration.
// The environment does nothing until Start is called.
func NewEnvironment(cfg EnvironmentConfig) *Environment {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Environment{
		cfg:    cfg,
		store:  cfg.Store,
		logger: logger,
	}
}

// Start brings the environment up. It must be called before endpoints
// are attached. Starting an already started or stopped environment is
// an error.
func (e *Environment) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return fmt.Errorf("matter: environment already started")
	}

	if e.store != nil {
		if err := e.store.Ping(ctx); err != nil {
			return fmt.Errorf("matter: store unavailable: %w", err)
		}
	}

	e.started = true
	e.logger.Info("matter environment started",
		"name", e.cfg.Name,
		"vendor_id", e.cfg.VendorID,
		"product_id", e.cfg.ProductID,
	)
	return nil
}

// Stop tears the environment down. All aggregators are closed, which
// detaches and closes every endpoint. Stop is idempotent.
func (e *Environment) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.started = false
	aggregators := e.aggregators
	e.aggregators = nil
	e.mu.Unlock()

	for _, agg := range aggregators {
		agg.close()
	}

	e.logger.Info("matter environment stopped", "name", e.cfg.Name)
	return nil
}

// NewAggregator creates an aggregator endpoint rooted in this
// environment. Bridged device endpoints attach beneath it.
func (e *Environment) NewAggregator(name string) (*Aggregator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, ErrStopped
	}
	if !e.started {
		return nil, ErrNotStarted
	}

	agg := &Aggregator{
		name:      name,
		env:       e,
		endpoints: make(map[string]*Endpoint),
	}
	e.aggregators = append(e.aggregators, agg)
	e.logger.Debug("aggregator created", "name", name)
	return agg, nil
}

// AddFabric records a commissioning fabric. Commissioning controllers
// call this once an administrator joins the bridge to a fabric so the
// membership survives restarts.
func (e *Environment) AddFabric(ctx context.Context, fabricID, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if !e.started {
		return ErrNotStarted
	}
	if fabricID == "" {
		return fmt.Errorf("matter: fabric id must not be empty")
	}

	if e.store != nil {
		if err := e.store.SaveFabric(ctx, fabricID, label); err != nil {
			return fmt.Errorf("matter: recording fabric %q: %w", fabricID, err)
		}
	}

	e.logger.Info("fabric commissioned", "fabric_id", fabricID, "label", label)
	return nil
}

// Fabrics returns the ids of all recorded commissioning fabrics.
// Without a store it returns nil.
func (e *Environment) Fabrics(ctx context.Context) ([]string, error) {
	if e.store == nil {
		return nil, nil
	}
	ids, err := e.store.ListFabrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("matter: listing fabrics: %w", err)
	}
	return ids, nil
}

// Store returns the persistence backend, or nil when running in-memory.
func (e *Environment) Store() Store {
	return e.store
}
