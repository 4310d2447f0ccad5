// Package engine composes the components of one storefront session: auth
// state, cart store, field synchronizers, address auto-save, submission lock
// and checkout orchestrator, all sharing one notice bus and debounce group.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/autosave"
	"storefront-cart/internal/cart"
	"storefront-cart/internal/checkout"
	"storefront-cart/internal/debounce"
	"storefront-cart/internal/fieldsync"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/session"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/submitlock"
)

// syncTimeout bounds the background re-derivation of the checkout state.
const syncTimeout = 15 * time.Second

// Settings are the per-session knobs shared by every engine of a process.
type Settings struct {
	RegionID          string
	DebounceWindow    time.Duration
	SubmitLockTimeout time.Duration
	NoticeCapacity    int

	// Clock drives debounce and lock timers. Defaults to the real clock.
	Clock  debounce.Clock
	Logger *slog.Logger
}

// Config wires an Engine.
type Config struct {
	ID      string
	Backend adapter.Backend
	Session *session.State
	// Storage is the session's durable store; keys are not namespaced further.
	Storage  storage.Store
	Settings Settings
}

// Engine is one session's storefront state.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	ID       string
	Session  *session.State
	Storage  storage.Store
	Notices  *notify.Bus
	Cart     *cart.Store
	Email    *fieldsync.Synchronizer[string]
	Address  *autosave.Saver
	Lock     *submitlock.Lock
	Checkout *checkout.Orchestrator

	group  *debounce.Group
	logger *slog.Logger
}

// New builds an engine. Nothing is loaded until the first call that needs the cart.
func New(cfg Config) *Engine {
	st := cfg.Settings
	if st.Clock == nil {
		st.Clock = debounce.RealClock()
	}
	logger := st.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", cfg.ID))

	sess := cfg.Session
	if sess == nil {
		sess = session.New()
	}

	e := &Engine{
		ID:      cfg.ID,
		Session: sess,
		Storage: cfg.Storage,
		Notices: notify.New(st.NoticeCapacity, logger),
		group:   debounce.New(st.DebounceWindow, st.Clock),
		logger:  logger,
	}

	e.Cart = cart.New(cart.Config{
		Backend:  cfg.Backend,
		Session:  sess,
		Storage:  cfg.Storage,
		Notices:  e.Notices,
		Logger:   logger,
		RegionID: st.RegionID,
	})
	e.Email = fieldsync.NewEmail(e.group, e.Cart, logger)
	e.Address = autosave.New(autosave.Config{
		Group:     e.group,
		Backend:   cfg.Backend,
		Cart:      e.Cart,
		Storage:   cfg.Storage,
		Notices:   e.Notices,
		Logger:    logger,
		OnApplied: e.addressApplied,
	})
	e.Lock = submitlock.New(submitlock.Config{
		Storage:  cfg.Storage,
		Clock:    st.Clock,
		Timeout:  st.SubmitLockTimeout,
		Logger:   logger,
		OnExpire: e.lockExpired,
	})
	e.Checkout = checkout.New(checkout.Config{
		Backend:      cfg.Backend,
		Cart:         e.Cart,
		Session:      sess,
		Lock:         e.Lock,
		Storage:      cfg.Storage,
		Notices:      e.Notices,
		Clock:        st.Clock,
		Logger:       logger,
		BeforeSubmit: e.flushFields,
	})
	sess.OnClear(e.forgetCustomer)
	return e
}

// SignIn stores the customer's token and evaluates address auto-save.
func (e *Engine) SignIn(ctx context.Context, token string) (*session.User, error) {
	user, err := e.Session.SignIn(token)
	if err != nil {
		return nil, err
	}
	if _, err := e.Address.Start(ctx); err != nil {
		e.logger.Warn("evaluating address auto-save failed", slog.String("error", err.Error()))
	}
	return user, nil
}

// SignOut clears the session and the cart.
func (e *Engine) SignOut(ctx context.Context) {
	e.Session.Clear()
	e.Cart.Reset(ctx)
}

// forgetCustomer drops everything tied to the signed-out customer: pending
// and synced field values, the auto-saved address and the checkout progress.
// It runs on every session clear, including a backend 401.
func (e *Engine) forgetCustomer() {
	e.Email.Reset()
	e.Address.Reset()
	e.Checkout.Reset()
	e.logger.Debug("customer state reset")
}

// flushFields writes pending email and address edits before an order is placed.
func (e *Engine) flushFields(ctx context.Context) {
	if e.Email.Flush() {
		e.logger.Debug("flushed pending email before submit")
	}
	if e.Address.Flush() {
		e.logger.Debug("flushed pending address before submit")
	}
}

// addressApplied moves checkout forward once auto-save bound an address to the cart.
func (e *Engine) addressApplied(ctx context.Context, _ *model.Cart) {
	e.sync(ctx)
}

// lockExpired re-derives the checkout state after a stuck submission was released.
func (e *Engine) lockExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	if _, err := e.Cart.Ensure(ctx); err != nil {
		e.logger.Warn("reloading cart after lock timeout failed", slog.String("error", err.Error()))
		return
	}
	e.sync(ctx)
}

func (e *Engine) sync(ctx context.Context) {
	err := e.Checkout.Sync(ctx)
	if err != nil && !errors.Is(err, checkout.ErrCartEmpty) {
		e.logger.Warn("syncing checkout state failed", slog.String("error", err.Error()))
	}
}

// Close stops every timer and drops pending edits. A submission in progress
// keeps its durable marker.
func (e *Engine) Close() {
	e.Email.Close()
	e.Address.Close()
	e.Checkout.Close()
	e.group.Close()
}
