// Package fieldsync keeps one editable field in sync with the backend.
//
// Local edits are validated immediately and written after the field has been
// quiet for the debounce window. Only the last value of a burst is written,
// and a value equal to the last known remote value is not written at all.
// Errors are scoped to the field; they never become cart-wide failures.
package fieldsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storefront-cart/internal/debounce"
)

// ErrSkip is returned by a validator to drop a value without reporting an error.
var ErrSkip = errors.New("fieldsync: skip value")

const defaultWriteTimeout = 30 * time.Second

// Config wires a Synchronizer.
type Config[T comparable] struct {
	// Field names the field; it is also the debounce key and must be unique
	// within the group.
	Field string
	Group *debounce.Group

	// Validate rejects values that must not be written. Optional.
	Validate func(T) error
	// Load reads the remote value for Hydrate. Optional.
	Load func(ctx context.Context) (T, error)
	// Save writes a value to the backend.
	Save func(ctx context.Context, v T) error

	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Synchronizer is a debounced two-way binding between a local value and the backend.
//
// Thread-safety: all methods are safe for concurrent use.
type Synchronizer[T comparable] struct {
	cfg    Config[T]
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes Save calls.
	writeMu sync.Mutex

	mu       sync.Mutex
	seq      uint64 // bumped per scheduled write and per Reset
	started  uint64 // seq of the newest write that ran
	local    T
	remote   T
	hydrated bool
	err      error
	closed   bool
	writes   int
}

// New creates a synchronizer.
func New[T comparable](cfg Config[T]) *Synchronizer[T] {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer[T]{
		cfg:    cfg,
		logger: logger.With(slog.String("field", cfg.Field)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Hydrate seeds the local value from the backend. It runs at most once and
// never overwrites something the user has already typed.
func (s *Synchronizer[T]) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.hydrated || s.cfg.Load == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	v, err := s.cfg.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	s.hydrated = true
	s.remote = v
	if s.local == zero {
		s.local = v
	}
	return nil
}

// Change records a local edit and schedules the write.
func (s *Synchronizer[T]) Change(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.local = v

	if s.cfg.Validate != nil {
		if err := s.cfg.Validate(v); err != nil {
			// An invalid value supersedes whatever was pending.
			s.cfg.Group.Cancel(s.cfg.Field)
			if errors.Is(err, ErrSkip) {
				s.err = nil
			} else {
				s.err = err
			}
			return
		}
	}
	s.err = nil

	if v == s.remote {
		s.cfg.Group.Cancel(s.cfg.Field)
		return
	}

	s.seq++
	seq := s.seq
	s.cfg.Group.Schedule(s.cfg.Field, func() { s.write(v, seq) })
}

// write runs on the debounce clock once the field went quiet. Writes never
// overlap, and one that lost the race to a newer value is dropped.
func (s *Synchronizer[T]) write(v T, seq uint64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed || seq <= s.started {
		s.mu.Unlock()
		return
	}
	s.started = seq
	s.writes++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()

	err := s.cfg.Save(ctx, v)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started != seq {
		// Reset while the write was in flight.
		return
	}
	if err != nil {
		if errors.Is(err, ErrSkip) {
			return
		}
		s.logger.Warn("field write failed", slog.String("error", err.Error()))
		// A newer local edit owns the error slot.
		if s.local == v {
			s.err = err
		}
		return
	}
	s.remote = v
}

// Flush writes a pending value now instead of waiting for the window.
// It reports whether a write ran.
func (s *Synchronizer[T]) Flush() bool {
	return s.cfg.Group.Flush(s.cfg.Field)
}

// Value returns the local value.
func (s *Synchronizer[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Remote returns the last value known to be stored remotely.
func (s *Synchronizer[T]) Remote() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Err returns the field's validation or write error.
func (s *Synchronizer[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending reports whether a write is waiting for the window to elapse.
func (s *Synchronizer[T]) Pending() bool {
	return s.cfg.Group.Pending(s.cfg.Field)
}

// Writes returns how many remote writes have been started.
func (s *Synchronizer[T]) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Reset forgets the local and remote values and drops the pending write,
// as when a different customer takes over the session. A write in flight
// finishes but its result is ignored.
func (s *Synchronizer[T]) Reset() {
	s.mu.Lock()
	var zero T
	s.local = zero
	s.remote = zero
	s.err = nil
	s.hydrated = false
	s.seq++
	s.started = s.seq
	s.mu.Unlock()

	s.cfg.Group.Cancel(s.cfg.Field)
}

// Close cancels the pending write and any write in flight. No write starts after Close.
func (s *Synchronizer[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cfg.Group.Cancel(s.cfg.Field)
	s.cancel()
}
