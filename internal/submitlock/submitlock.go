// Package submitlock guards order placement against double submission.
//
// The lock is an in-memory flag mirrored by a durable marker so a reloaded
// session still sees a submission in progress. A hard timeout releases a
// lock whose holder never came back.
package submitlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storefront-cart/internal/debounce"
	"storefront-cart/internal/storage"
)

// DefaultTimeout bounds how long a submission can hold the lock.
const DefaultTimeout = 120 * time.Second

// Config wires a Lock.
type Config struct {
	Storage storage.Store
	Clock   debounce.Clock
	Timeout time.Duration
	Logger  *slog.Logger

	// OnExpire runs when the timeout releases the lock.
	OnExpire func()
}

// Token identifies one hold of the lock. Only the current holder's token
// releases it.
type Token uint64

// Lock is the submission lock for one session.
//
// Thread-safety: all methods are safe for concurrent use.
type Lock struct {
	storage  storage.Store
	clock    debounce.Clock
	timeout  time.Duration
	logger   *slog.Logger
	onExpire func()

	mu    sync.Mutex
	held  bool
	gen   uint64 // timer generation
	owner Token  // token of the current hold
	timer debounce.Timer
}

// New creates an unlocked lock.
func New(cfg Config) *Lock {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = debounce.RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Lock{
		storage:  cfg.Storage,
		clock:    cfg.Clock,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		onExpire: cfg.OnExpire,
	}
}

// TryLock takes the lock and returns the token that releases it. ok is false
// if a submission is already in progress.
// Failing to write the durable marker is logged; the in-memory lock still holds.
func (l *Lock) TryLock(ctx context.Context) (tok Token, ok bool, err error) {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return 0, false, nil
	}
	tok = l.armLocked()
	l.mu.Unlock()

	marker := l.clock.Now().UTC().Format(time.RFC3339)
	if err := l.storage.Set(ctx, storage.KeySubmitLock, marker, l.timeout); err != nil {
		l.logger.Warn("writing submission marker failed", slog.String("error", err.Error()))
	}
	return tok, true, nil
}

// Release clears the flag, the marker and the timeout when tok is the current
// hold. A token from a hold that already timed out releases nothing, so a
// placement that outlived its lock cannot free a later placement's lock.
func (l *Lock) Release(ctx context.Context, tok Token) {
	l.mu.Lock()
	if !l.held || tok != l.owner {
		l.mu.Unlock()
		l.logger.Debug("ignoring release of a stale submission lock")
		return
	}
	l.disarmLocked()
	l.mu.Unlock()

	if err := l.storage.Delete(ctx, storage.KeySubmitLock); err != nil {
		l.logger.Warn("clearing submission marker failed", slog.String("error", err.Error()))
	}
}

// Restore re-arms the lock when a durable marker survives from an earlier
// mount, with a fresh timeout. It reports whether the lock is now held.
func (l *Lock) Restore(ctx context.Context) (bool, error) {
	_, err := l.storage.Get(ctx, storage.KeySubmitLock)
	if errors.Is(err, storage.ErrNotFound) {
		return l.Held(), nil
	}
	if err != nil {
		return l.Held(), err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		l.logger.Info("restoring submission lock from marker")
		l.armLocked()
	}
	return true, nil
}

// Held reports whether a submission is in progress.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Close stops the timeout without touching the marker, so another mount can restore it.
func (l *Lock) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
}

func (l *Lock) armLocked() Token {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.held = true
	l.owner++
	l.gen++
	gen := l.gen
	l.timer = l.clock.AfterFunc(l.timeout, func() { l.expire(gen) })
	return l.owner
}

func (l *Lock) disarmLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.held = false
	l.gen++
}

func (l *Lock) expire(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || !l.held {
		l.mu.Unlock()
		return
	}
	l.disarmLocked()
	l.mu.Unlock()

	l.logger.Warn("submission lock timed out", slog.Duration("timeout", l.timeout))
	if err := l.storage.Delete(context.Background(), storage.KeySubmitLock); err != nil {
		l.logger.Warn("clearing submission marker failed", slog.String("error", err.Error()))
	}
	if l.onExpire != nil {
		l.onExpire()
	}
}
