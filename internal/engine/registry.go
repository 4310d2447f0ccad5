package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/session"
	"storefront-cart/internal/storage"
)

// DefaultIdleTimeout is how long an unused engine stays in memory.
const DefaultIdleTimeout = 30 * time.Minute

// BackendFactory returns a backend that authenticates with the given token source.
type BackendFactory func(ts adapter.TokenSource) adapter.Backend

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	NewBackend BackendFactory
	// Storage is shared by all sessions; each engine gets its own namespace.
	Storage     storage.Store
	Settings    Settings
	IdleTimeout time.Duration
}

type entry struct {
	engine   *Engine
	lastSeen time.Time
}

// Registry keeps one engine per browser session.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	engines map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	logger := cfg.Settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		engines: make(map[string]*entry),
	}
}

// NewID returns a fresh session ID.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like a session ID issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Acquire returns the engine for id, building it on first use. An engine
// rebuilt after eviction or restart finds its cart again through storage.
func (r *Registry) Acquire(id string) (*Engine, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ent, ok := r.engines[id]; ok {
		ent.lastSeen = r.now()
		return ent.engine, nil
	}

	sess := session.New()
	e := New(Config{
		ID:       id,
		Backend:  r.cfg.NewBackend(sess),
		Session:  sess,
		Storage:  storage.Namespace(r.cfg.Storage, id),
		Settings: r.cfg.Settings,
	})
	r.engines[id] = &entry{engine: e, lastSeen: r.now()}
	r.logger.Debug("session engine created", slog.String("session_id", id))
	return e, nil
}

// Remove closes and forgets the engine for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	ent, ok := r.engines[id]
	delete(r.engines, id)
	r.mu.Unlock()

	if ok {
		ent.engine.Close()
	}
}

// Sweep closes engines idle for longer than the idle timeout. Engines with a
// submission in progress are kept. It returns how many were closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var stale []*Engine
	for id, ent := range r.engines {
		if ent.lastSeen.Before(cutoff) && !ent.engine.Lock.Held() {
			stale = append(stale, ent.engine)
			delete(r.engines, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("idle session engines closed", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close closes every engine.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*entry)
	r.mu.Unlock()

	for _, ent := range engines {
		ent.engine.Close()
	}
}
