package agency

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ConfigStore persists agency configuration rows.
type ConfigStore interface {
	LoadAgencyConfigs(ctx context.Context) ([]Config, error)
	SaveAgencyConfig(ctx context.Context, cfg Config) error
}

// Registry maps agency ids to adapters and their configuration.
// Configuration is loaded lazily on first use.
type Registry struct {
	store    ConfigStore
	builtins []Adapter
	logger   *otelzap.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
	configs  map[string]Config

	// updateMu serializes config writes so a slower persist never overwrites a newer one.
	updateMu sync.Mutex

	initGroup   singleflight.Group
	initialized atomic.Bool
}

// NewRegistry creates a registry backed by store with the given built-in adapters.
func NewRegistry(store ConfigStore, logger *otelzap.Logger, builtins ...Adapter) *Registry {
	return &Registry{
		store:    store,
		builtins: builtins,
		logger:   logger,
		adapters: make(map[string]Adapter),
		configs:  make(map[string]Config),
	}
}

// EnsureInitialized loads persisted configuration and registers the built-in
// adapters exactly once. Concurrent first callers share a single load. A load
// failure is logged and leaves every built-in agency disabled.
func (r *Registry) EnsureInitialized(ctx context.Context) {
	if r.initialized.Load() {
		return
	}
	_, _, _ = r.initGroup.Do("init", func() (interface{}, error) {
		if r.initialized.Load() {
			return nil, nil
		}
		r.load(ctx)
		r.initialized.Store(true)
		return nil, nil
	})
}

func (r *Registry) load(ctx context.Context) {
	adapters := make(map[string]Adapter, len(r.builtins))
	configs := make(map[string]Config, len(r.builtins))
	for _, a := range r.builtins {
		adapters[a.Name()] = a
		configs[a.Name()] = Config{
			ID:   a.Name(),
			Name: a.Name(),
		}
	}

	var persisted []Config
	var err error
	if r.store != nil {
		persisted, err = r.store.LoadAgencyConfigs(ctx)
	}
	if err != nil {
		r.logger.Error("Failed to load agency configuration, starting with all agencies disabled",
			zap.Error(err),
		)
		persisted = nil
	}

	for _, cfg := range persisted {
		if _, ok := adapters[cfg.ID]; !ok {
			r.logger.Warn("Agency configured without an adapter",
				zap.String("agency", cfg.ID),
			)
		}
		configs[cfg.ID] = cfg
	}

	r.mu.Lock()
	r.adapters = adapters
	r.configs = configs
	r.mu.Unlock()

	r.logger.Info("Agency registry initialized",
		zap.Int("adapters", len(adapters)),
		zap.Int("configs", len(persisted)),
	)
}

// Register adds or replaces an adapter. It is intended for tests and plugins
// registered after start-up; the adapter starts disabled unless configured.
func (r *Registry) Register(a Adapter) {
	r.EnsureInitialized(context.Background())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	if _, ok := r.configs[a.Name()]; !ok {
		r.configs[a.Name()] = Config{ID: a.Name(), Name: a.Name()}
	}
}

// GetAgency returns the adapter for id. The boolean is false when unknown.
func (r *Registry) GetAgency(ctx context.Context, id string) (Adapter, bool) {
	r.EnsureInitialized(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// GetAgencyConfig returns the configuration for id. The boolean is false when unknown.
func (r *Registry) GetAgencyConfig(ctx context.Context, id string) (Config, bool) {
	r.EnsureInitialized(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// IsAgencyEnabled reports whether id has an adapter and is switched on.
func (r *Registry) IsAgencyEnabled(ctx context.Context, id string) bool {
	r.EnsureInitialized(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, hasAdapter := r.adapters[id]
	return hasAdapter && r.configs[id].Enabled
}

// GetEnabledAgencies returns the configurations of all enabled agencies, ordered by id.
func (r *Registry) GetEnabledAgencies(ctx context.Context) []Config {
	all := r.All(ctx)
	enabled := make([]Config, 0, len(all))
	for _, cfg := range all {
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}
	return enabled
}

// All returns every known configuration, ordered by id.
func (r *Registry) All(ctx context.Context) []Config {
	r.EnsureInitialized(ctx)
	r.mu.RLock()
	result := make([]Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		result = append(result, cfg)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// UpdateAgencyConfig merges update into the configuration of id and persists
// it. The in-memory configuration only changes after the write succeeds.
func (r *Registry) UpdateAgencyConfig(ctx context.Context, id string, update ConfigUpdate) (Config, error) {
	r.EnsureInitialized(ctx)

	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	current, ok := r.GetAgencyConfig(ctx, id)
	if !ok {
		return Config{}, NotFoundError(id)
	}

	merged := update.Apply(current)
	if merged.Enabled {
		if err := ValidateCredentials(id, merged.Credentials); err != nil {
			return Config{}, err
		}
	}

	if err := r.persist(ctx, merged); err != nil {
		return Config{}, err
	}

	r.logger.Info("Agency configuration updated",
		zap.String("agency", id),
		zap.Bool("enabled", merged.Enabled),
	)
	return merged, nil
}

// MarkSynced records the time of the last sync run touching id.
func (r *Registry) MarkSynced(ctx context.Context, id string, at time.Time) error {
	r.EnsureInitialized(ctx)

	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	current, ok := r.GetAgencyConfig(ctx, id)
	if !ok {
		return NotFoundError(id)
	}
	current.LastSync = &at
	return r.persist(ctx, current)
}

func (r *Registry) persist(ctx context.Context, cfg Config) error {
	if r.store != nil {
		if err := r.store.SaveAgencyConfig(ctx, cfg); err != nil {
			return fmt.Errorf("saving agency %s config: %w", cfg.ID, err)
		}
	}
	r.mu.Lock()
	r.configs[cfg.ID] = cfg
	r.mu.Unlock()
	return nil
}

// TestConnection checks the stored credentials of id against the agency.
func (r *Registry) TestConnection(ctx context.Context, id string) error {
	adapter, ok := r.GetAgency(ctx, id)
	if !ok {
		return NotFoundError(id)
	}
	cfg, _ := r.GetAgencyConfig(ctx, id)
	if err := ValidateCredentials(id, cfg.Credentials); err != nil {
		return err
	}
	return adapter.TestConnection(ctx, cfg.Credentials)
}

// TestAllConnections tests every enabled agency in parallel.
// The result maps agency id to its error, nil on success.
func (r *Registry) TestAllConnections(ctx context.Context) map[string]error {
	enabled := r.GetEnabledAgencies(ctx)
	results := make(map[string]error, len(enabled))
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)
	for _, cfg := range enabled {
		id := cfg.ID
		g.Go(func() error {
			err := r.TestConnection(ctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return nil // errors are collected per agency
		})
	}

	_ = g.Wait()
	return results
}
