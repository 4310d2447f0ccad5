// Package cart is the single source of truth for the session's cart.
//
// The Store mirrors the server cart: every successful mutation replaces the
// local copy with the backend's response, and every failure leaves it as it
// was. Mutations are serialized; selectors read a snapshot and never wait on
// the network.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/reconcile"
	"storefront-cart/internal/storage"
)

// noticeSource tags notices published by the store.
const noticeSource = "cart"

// ErrCartReset is returned by a load that finished after the cart was reset.
var ErrCartReset = model.NewConflictError("cart was reset while loading")

// Status describes the store's last known condition.
type Status string

const (
	StatusIdle    Status = "idle"    // nothing loaded yet
	StatusLoading Status = "loading" // first load in flight
	StatusReady   Status = "ready"
	StatusError   Status = "error" // no cart could be loaded
)

// Backend is the slice of adapter.Backend the store calls.
type Backend interface {
	adapter.Carts
	AddShippingMethod(ctx context.Context, cartID, optionID string) (*model.Cart, error)
}

// Session is cleared when the backend rejects the session's token.
type Session interface {
	Clear()
}

// Config wires a Store.
type Config struct {
	Backend  Backend
	Session  Session
	Storage  storage.Store
	Notices  *notify.Bus
	Logger   *slog.Logger
	RegionID string
}

// AddLineItem is a request to add a variant.
type AddLineItem struct {
	VariantID string
	Quantity  int
	Metadata  map[string]string
}

// UpdateLineItem is a request to change an existing line.
type UpdateLineItem struct {
	LineID   string
	Quantity int
	Metadata map[string]string
}

// Store holds one session's cart.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	backend  Backend
	session  Session
	storage  storage.Store
	notices  *notify.Bus
	logger   *slog.Logger
	regionID string

	ensureGroup singleflight.Group

	// opMu serializes backend mutations so responses apply in request order.
	opMu sync.Mutex

	mu      sync.RWMutex
	cart    *model.Cart
	cartID  string
	status  Status
	lastErr error
	epoch   uint64 // bumped whenever the cart is dropped
}

// New creates a store. Backend, Storage and Notices are required.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  cfg.Backend,
		session:  cfg.Session,
		storage:  cfg.Storage,
		notices:  cfg.Notices,
		logger:   logger,
		regionID: cfg.RegionID,
		status:   StatusIdle,
	}
}

// === Loading ===

// Ensure returns the session's cart, creating one when none exists.
// Concurrent callers share one in-flight request.
func (s *Store) Ensure(ctx context.Context) (*model.Cart, error) {
	if c := s.Cart(); c != nil {
		return c, nil
	}

	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	// The shared call must not die with whichever caller happened to start it.
	// Callers arriving after a reset never join a load started before it.
	sharedCtx := context.WithoutCancel(ctx)
	ch := s.ensureGroup.DoChan(fmt.Sprintf("ensure-%d", epoch), func() (any, error) {
		return s.ensure(sharedCtx, epoch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Cart).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensure loads or creates the cart. A result that arrives after the cart was
// dropped (sign-out, rejected session) is discarded with ErrCartReset.
func (s *Store) ensure(ctx context.Context, epoch uint64) (*model.Cart, error) {
	if c := s.Cart(); c != nil {
		return c, nil
	}

	s.mu.Lock()
	if s.cart == nil && s.status != StatusError {
		s.status = StatusLoading
	}
	s.mu.Unlock()

	if id := s.cachedID(ctx); id != "" {
		c, err := s.backend.GetCart(ctx, id)
		switch {
		case err == nil:
			if !s.setCartAt(c, epoch) {
				return nil, ErrCartReset
			}
			return c, nil
		case errors.Is(err, model.ErrNotFound):
			s.logger.Info("cached cart is gone, creating a new one", slog.String("cart_id", id))
		case errors.Is(err, model.ErrUnauthorized):
			s.resetAuth(ctx)
		default:
			// Transient failure: keep the cached ID rather than orphaning the cart.
			s.setErr(err)
			return nil, err
		}
	}

	c, err := s.backend.CreateCart(ctx, &adapter.CreateCartRequest{RegionID: s.regionID})
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			s.resetAuth(ctx)
		}
		s.setErr(err)
		return nil, err
	}

	if !s.setCartAt(c, epoch) {
		s.logger.Info("discarding cart created before a reset", slog.String("cart_id", c.ID))
		return nil, ErrCartReset
	}
	s.logger.Debug("cart created", slog.String("cart_id", c.ID))
	return c, nil
}

// cachedID returns the in-memory cart ID, falling back to durable storage.
func (s *Store) cachedID(ctx context.Context) string {
	s.mu.RLock()
	id := s.cartID
	s.mu.RUnlock()
	if id != "" {
		return id
	}

	id, err := s.storage.Get(ctx, storage.KeyCartID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("reading cached cart id failed", slog.String("error", err.Error()))
		}
		return ""
	}
	return id
}

// Fetch refreshes the cart from the backend. A missing cart is replaced
// by a new one through Ensure.
func (s *Store) Fetch(ctx context.Context, cartID string) (*model.Cart, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if cartID == "" {
		cartID = s.ID()
	}
	if cartID == "" {
		return s.Ensure(ctx)
	}

	c, err := s.backend.GetCart(ctx, cartID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			s.drop(ctx)
			return s.Ensure(ctx)
		case errors.Is(err, model.ErrUnauthorized):
			s.resetAuth(ctx)
		}
		s.fail(err, options{})
		return nil, err
	}

	s.setCart(c)
	return c.Clone(), nil
}

// === Mutations ===

// AddLineItem adds a variant, creating the cart first if needed.
func (s *Store) AddLineItem(ctx context.Context, req AddLineItem, opts ...Option) (*model.Cart, error) {
	if req.VariantID == "" {
		return nil, model.NewValidationError("variant_id", "is required")
	}
	if req.Quantity < 1 {
		return nil, model.NewValidationError("quantity", "must be at least 1")
	}

	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		return s.backend.AddLineItem(ctx, cartID, &adapter.LineItemInput{
			VariantID: req.VariantID,
			Quantity:  req.Quantity,
			Metadata:  req.Metadata,
		})
	})
}

// UpdateLineItem changes a line's quantity or metadata. Quantities below one
// are rejected; use DeleteLineItem or SetQuantity to remove a line.
func (s *Store) UpdateLineItem(ctx context.Context, req UpdateLineItem, opts ...Option) (*model.Cart, error) {
	if req.Quantity < 1 {
		return nil, model.NewValidationError("quantity", "must be at least 1")
	}

	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		return s.backend.UpdateLineItem(ctx, cartID, req.LineID, &adapter.LineItemUpdate{
			Quantity: req.Quantity,
			Metadata: req.Metadata,
		})
	})
}

// SetQuantity routes a quantity of zero or less to DeleteLineItem.
func (s *Store) SetQuantity(ctx context.Context, lineID string, qty int, opts ...Option) (*model.Cart, error) {
	if qty <= 0 {
		return s.DeleteLineItem(ctx, lineID, opts...)
	}
	return s.UpdateLineItem(ctx, UpdateLineItem{LineID: lineID, Quantity: qty}, opts...)
}

// DeleteLineItem removes a line and re-fetches the cart.
func (s *Store) DeleteLineItem(ctx context.Context, lineID string, opts ...Option) (*model.Cart, error) {
	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		if err := s.backend.DeleteLineItem(ctx, cartID, lineID); err != nil {
			return nil, err
		}
		return s.backend.GetCart(ctx, cartID)
	})
}

// Replace makes the cart hold exactly desired, issuing only the calls the
// diff requires (remove, then update, then add).
func (s *Store) Replace(ctx context.Context, desired []reconcile.DesiredItem, opts ...Option) (*model.Cart, error) {
	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		current, err := s.backend.GetCart(ctx, cartID)
		if err != nil {
			return nil, err
		}

		items := make([]reconcile.CurrentItem, 0, len(current.Items))
		for _, item := range current.Items {
			items = append(items, reconcile.CurrentItem{
				LineID:    item.ID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
				Metadata:  item.Metadata,
			})
		}

		diff := reconcile.DiffLineItems(items, desired)
		if diff.IsEmpty() {
			return current, nil
		}
		s.logger.Debug("replacing cart contents",
			slog.String("cart_id", cartID),
			slog.Int("remove", len(diff.ToRemove)),
			slog.Int("update", len(diff.ToUpdate)),
			slog.Int("add", len(diff.ToAdd)))

		if err := s.applyDiff(ctx, cartID, diff); err != nil {
			// Some calls may have landed; resync so local state matches the server.
			if latest, gerr := s.backend.GetCart(ctx, cartID); gerr == nil {
				s.setCart(latest)
			}
			return nil, err
		}
		return s.backend.GetCart(ctx, cartID)
	})
}

func (s *Store) applyDiff(ctx context.Context, cartID string, diff *reconcile.LineItemDiff) error {
	for _, item := range diff.ToRemove {
		if err := s.backend.DeleteLineItem(ctx, cartID, item.LineID); err != nil {
			return fmt.Errorf("removing %s: %w", item.VariantID, err)
		}
	}
	for _, item := range diff.ToUpdate {
		req := &adapter.LineItemUpdate{Quantity: item.NewQuantity, Metadata: item.Metadata}
		if _, err := s.backend.UpdateLineItem(ctx, cartID, item.LineID, req); err != nil {
			return fmt.Errorf("updating %s: %w", item.VariantID, err)
		}
	}
	for _, item := range diff.ToAdd {
		req := &adapter.LineItemInput{VariantID: item.VariantID, Quantity: item.Quantity, Metadata: item.Metadata}
		if _, err := s.backend.AddLineItem(ctx, cartID, req); err != nil {
			return fmt.Errorf("adding %s: %w", item.VariantID, err)
		}
	}
	return nil
}

// SetEmail sets the cart's contact email.
func (s *Store) SetEmail(ctx context.Context, email string, opts ...Option) (*model.Cart, error) {
	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		return s.backend.UpdateCart(ctx, cartID, &adapter.CartUpdate{Email: &email})
	})
}

// SetAddresses binds shipping and billing addresses. A nil billing address
// mirrors shipping.
func (s *Store) SetAddresses(ctx context.Context, shipping, billing *model.Address, opts ...Option) (*model.Cart, error) {
	if shipping == nil {
		return nil, model.NewValidationError("shipping_address", "is required")
	}
	if billing == nil {
		billing = shipping
	}

	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		return s.backend.UpdateCart(ctx, cartID, &adapter.CartUpdate{
			ShippingAddress: shipping,
			BillingAddress:  billing,
		})
	})
}

// SetShippingMethod binds a shipping option to the cart.
func (s *Store) SetShippingMethod(ctx context.Context, optionID string, opts ...Option) (*model.Cart, error) {
	if optionID == "" {
		return nil, model.NewValidationError("shipping_option", "is required")
	}
	return s.mutate(ctx, opts, func(ctx context.Context, cartID string) (*model.Cart, error) {
		return s.backend.AddShippingMethod(ctx, cartID, optionID)
	})
}

// Reset drops the local cart and its persisted ID. The next Ensure creates
// a new cart. Used on sign-out and after an order is placed.
func (s *Store) Reset(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.drop(ctx)
	s.mu.Lock()
	s.status = StatusIdle
	s.lastErr = nil
	s.mu.Unlock()
}

// mutate runs fn against the ensured cart under the mutation lock and applies
// its result. Failures leave the cart untouched and are published unless
// the caller asked for silence.
func (s *Store) mutate(ctx context.Context, opts []Option, fn func(ctx context.Context, cartID string) (*model.Cart, error)) (*model.Cart, error) {
	o := applyOptions(opts)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	c, err := s.Ensure(ctx)
	if err != nil {
		s.fail(err, o)
		return nil, err
	}

	updated, err := fn(ctx, c.ID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUnauthorized):
			s.resetAuth(ctx)
		case errors.Is(err, model.ErrNotFound):
			// The cart may be gone; make the next Ensure re-fetch it.
			s.mu.Lock()
			s.cart = nil
			s.mu.Unlock()
		}
		s.fail(err, o)
		return nil, err
	}

	s.setCart(updated)
	if o.success != "" {
		s.notices.Success(noticeSource, o.success)
	}
	return updated.Clone(), nil
}

// fail records err and publishes it. Validation errors belong to the
// field that produced them and are never published.
func (s *Store) fail(err error, o options) {
	s.logger.Warn("cart operation failed", slog.String("error", err.Error()))
	s.setErr(err)

	if o.silent || errors.Is(err, model.ErrInvalidRequest) || errors.Is(err, context.Canceled) {
		return
	}
	s.notices.Error(noticeSource, model.UserMessage(err))
}

// resetAuth clears the session and every trace of the session's cart.
func (s *Store) resetAuth(ctx context.Context) {
	s.logger.Info("session rejected by backend, resetting auth and cart")
	if s.session != nil {
		s.session.Clear()
	}
	s.drop(ctx)
}

func (s *Store) drop(ctx context.Context) {
	s.mu.Lock()
	s.cart = nil
	s.cartID = ""
	s.epoch++
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, storage.KeyCartID); err != nil {
		s.logger.Warn("clearing cached cart id failed", slog.String("error", err.Error()))
	}
}

// setCart replaces the local cart with c and persists its ID when it changed.
func (s *Store) setCart(c *model.Cart) {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()
	s.setCartAt(c, epoch)
}

// setCartAt is setCart for a response to a request issued at epoch. It
// reports false, leaving the store untouched, when the cart was dropped since.
func (s *Store) setCartAt(c *model.Cart, epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	changed := s.cartID != c.ID
	s.cart = c.Clone()
	s.cartID = c.ID
	s.status = StatusReady
	s.lastErr = nil
	s.mu.Unlock()

	if !changed {
		return true
	}

	// Only the ID is persisted, never the cart body.
	ctx := context.Background()
	if err := s.storage.Set(ctx, storage.KeyCartID, c.ID, 0); err != nil {
		s.logger.Warn("persisting cart id failed", slog.String("cart_id", c.ID), slog.String("error", err.Error()))
	}
	s.mu.RLock()
	dropped := s.epoch != epoch
	s.mu.RUnlock()
	if dropped {
		// A reset raced the write; its delete may have landed first.
		s.storage.Delete(ctx, storage.KeyCartID)
	}
	return true
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if s.cart == nil {
		s.status = StatusError
	}
}

// === Selectors ===

// Cart returns a copy of the current cart, or nil before the first load.
func (s *Store) Cart() *model.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

// ID returns the current cart ID.
func (s *Store) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cartID
}

// Items returns a copy of the line items.
func (s *Store) Items() []model.LineItem {
	c := s.Cart()
	if c == nil {
		return nil
	}
	return c.Items
}

// Totals returns server totals, or locally computed display totals when the
// backend has not sent any.
func (s *Store) Totals() model.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return model.Totals{}
	}
	return s.cart.DisplayTotals()
}

// ItemCount is the sum of line quantities.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return 0
	}
	return s.cart.ItemCount()
}

// Status returns the store's condition.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Loaded reports whether a cart has been loaded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart != nil
}

// Err returns the error from the last failed operation, cleared by the next success.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
