// Package checkout sequences a session's checkout: address, shipping,
// payment and order placement.
//
// The Orchestrator is a state machine whose state is derived from the cart.
// Order placement is gated by the submission lock so a second trigger while
// a placement is running does nothing, and the lock is released on every
// exit path.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/cart"
	"storefront-cart/internal/debounce"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/reconcile"
	"storefront-cart/internal/session"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/submitlock"
)

const noticeSource = "checkout"

// State is the checkout step the session is on.
type State string

const (
	StateAwaitingCart      State = "awaiting_cart"
	StateAddressSelection  State = "address_selection"
	StateShippingSelection State = "shipping_selection"
	StatePaymentSelection  State = "payment_selection"
	StateSubmitting        State = "submitting"
	StateSubmitted         State = "submitted"
	StateFailed            State = "failed"
	// StateExited means the cart became empty; the presentation layer leaves checkout.
	StateExited State = "exited"
)

var (
	// ErrSubmissionInProgress is returned when an order placement is already running.
	ErrSubmissionInProgress = errors.New("checkout: submission in progress")
	// ErrCartEmpty is returned once a loaded cart has no items.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrAlreadySubmitted is returned by steps attempted after the order was placed.
	ErrAlreadySubmitted = errors.New("checkout: order already placed")
)

// Step names the part of order placement that failed.
type Step string

const (
	StepPaymentCollection Step = "payment_collection"
	StepPaymentSession    Step = "payment_session"
	StepComplete          Step = "complete"
)

// StepError reports a failed placement step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Session is the auth state checkout depends on.
type Session interface {
	Authenticated() bool
	Clear()
}

// Config wires an Orchestrator.
type Config struct {
	Backend adapter.Checkout
	Cart    *cart.Store
	Session Session
	Lock    *submitlock.Lock
	Storage storage.Store
	Notices *notify.Bus
	Clock   debounce.Clock
	Logger  *slog.Logger

	// BeforeSubmit runs before order placement, e.g. to flush debounced field writes.
	BeforeSubmit func(ctx context.Context)
}

// Orchestrator drives one session's checkout.
//
// Thread-safety: all methods are safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	options    []model.ShippingOption
	providerID string
	lastErr    error
	order      *model.OrderSummary
	closed     bool
}

// New creates an orchestrator in StateAwaitingCart.
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = debounce.RealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		state:  StateAwaitingCart,
	}
}

// Start opens checkout: it requires a signed-in customer, restores an
// interrupted submission, loads the cart and derives the state from it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.cfg.Session.Authenticated() {
		return session.ErrNotAuthenticated
	}

	held, err := o.cfg.Lock.Restore(ctx)
	if err != nil {
		o.logger.Warn("restoring submission lock failed", slog.String("error", err.Error()))
	}
	if held {
		o.setState(StateSubmitting)
		return nil
	}

	// A finished checkout (placed, abandoned or failed) starts over.
	o.mu.Lock()
	switch o.state {
	case StateSubmitted, StateExited, StateFailed:
		o.resetLocked()
	}
	o.mu.Unlock()

	if _, err := o.cfg.Cart.Ensure(ctx); err != nil {
		return err
	}
	return o.Sync(ctx)
}

// Sync re-derives the state from the cart. Called after anything outside
// the orchestrator changed the cart, such as an auto-saved address.
func (o *Orchestrator) Sync(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateSubmitted:
		o.mu.Unlock()
		return nil
	case StateSubmitting:
		if o.cfg.Lock.Held() {
			o.mu.Unlock()
			return nil
		}
	}
	o.mu.Unlock()

	c := o.cfg.Cart.Cart()
	if c == nil {
		o.setState(StateAwaitingCart)
		return nil
	}
	if len(c.Items) == 0 {
		o.setState(StateExited)
		return ErrCartEmpty
	}

	switch {
	case c.ShippingAddress == nil:
		o.setState(StateAddressSelection)
	case !c.HasShippingMethod():
		o.setState(StateShippingSelection)
		if len(o.ShippingOptions()) == 0 {
			return o.loadShippingOptions(ctx, c.ID)
		}
	default:
		o.setState(StatePaymentSelection)
	}
	return nil
}

// SelectAddress binds the shipping address, and billing (or a copy of
// shipping when nil), then loads shipping options.
func (o *Orchestrator) SelectAddress(ctx context.Context, shipping, billing *model.Address) error {
	if err := o.checkEditable(); err != nil {
		return err
	}
	if shipping == nil {
		return model.NewValidationError("shipping_address", "is required")
	}
	if missing := shipping.MissingFields(); len(missing) > 0 {
		return model.NewValidationError("shipping_address", fmt.Sprintf("missing %v", missing))
	}

	c, err := o.cfg.Cart.SetAddresses(ctx, shipping, billing)
	if err != nil {
		o.handleAuth(ctx, err)
		return err
	}
	if err := o.guardEmpty(c); err != nil {
		return err
	}

	o.mu.Lock()
	o.options = nil
	o.mu.Unlock()

	o.setState(StateShippingSelection)
	return o.loadShippingOptions(ctx, c.ID)
}

func (o *Orchestrator) loadShippingOptions(ctx context.Context, cartID string) error {
	opts, err := o.cfg.Backend.ListShippingOptions(ctx, cartID)
	if err != nil {
		o.handleAuth(ctx, err)
		o.cfg.Notices.Error(noticeSource, model.UserMessage(err))
		return err
	}

	o.mu.Lock()
	o.options = opts
	o.mu.Unlock()
	return nil
}

// ShippingOptions returns the last fetched shipping options.
func (o *Orchestrator) ShippingOptions() []model.ShippingOption {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.ShippingOption(nil), o.options...)
}

// SelectShippingOption binds a shipping method to the cart.
func (o *Orchestrator) SelectShippingOption(ctx context.Context, optionID string) error {
	if err := o.checkEditable(); err != nil {
		return err
	}

	opts := o.ShippingOptions()
	if len(opts) > 0 && !containsOption(opts, optionID) {
		return model.NewValidationError("shipping_option", "is not available for this address")
	}

	c := o.cfg.Cart.Cart()
	if c == nil {
		return model.NewConflictError("cart is not loaded")
	}
	if c.ShippingAddress == nil {
		return model.NewValidationError("shipping_address", "select an address first")
	}

	current := ""
	if len(c.ShippingMethods) > 0 {
		current = c.ShippingMethods[len(c.ShippingMethods)-1].OptionID
	}
	if reconcile.ShippingChanged(current, optionID) {
		updated, err := o.cfg.Cart.SetShippingMethod(ctx, optionID)
		if err != nil {
			o.handleAuth(ctx, err)
			return err
		}
		c = updated
	}
	if err := o.guardEmpty(c); err != nil {
		return err
	}

	o.setState(StatePaymentSelection)
	return nil
}

func containsOption(opts []model.ShippingOption, id string) bool {
	for _, opt := range opts {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// PaymentProviders lists the providers enabled for the cart's region.
func (o *Orchestrator) PaymentProviders(ctx context.Context) ([]model.PaymentProvider, error) {
	c := o.cfg.Cart.Cart()
	if c == nil {
		return nil, model.NewConflictError("cart is not loaded")
	}

	providers, err := o.cfg.Backend.ListPaymentProviders(ctx, c.RegionID)
	if err != nil {
		o.handleAuth(ctx, err)
		o.cfg.Notices.Error(noticeSource, model.UserMessage(err))
		return nil, err
	}
	return providers, nil
}

// SelectPaymentProvider records the provider used at placement.
func (o *Orchestrator) SelectPaymentProvider(providerID string) error {
	if err := o.checkEditable(); err != nil {
		return err
	}
	if providerID == "" {
		return model.NewValidationError("payment_provider", "is required")
	}

	o.mu.Lock()
	o.providerID = providerID
	o.mu.Unlock()
	return nil
}

// PlaceOrder places the order. A call made while another placement holds the
// submission lock returns ErrSubmissionInProgress without touching the backend.
func (o *Orchestrator) PlaceOrder(ctx context.Context) (summary *model.OrderSummary, err error) {
	o.mu.Lock()
	if o.state == StateSubmitted {
		o.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	providerID := o.providerID
	prev := o.state
	o.mu.Unlock()

	if providerID == "" {
		return nil, model.NewValidationError("payment_provider", "select a payment method")
	}

	tok, ok, err := o.cfg.Lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSubmissionInProgress
	}

	releaseCtx := context.WithoutCancel(ctx)
	defer o.cfg.Lock.Release(releaseCtx, tok)
	defer func() {
		if r := recover(); r != nil {
			o.fail(&StepError{Step: StepComplete, Err: fmt.Errorf("panic: %v", r)})
			panic(r)
		}
	}()

	o.setState(StateSubmitting)
	if o.cfg.BeforeSubmit != nil {
		o.cfg.BeforeSubmit(ctx)
	}

	c := o.cfg.Cart.Cart()
	if c == nil {
		o.setState(prev)
		return nil, model.NewConflictError("cart is not loaded")
	}
	if len(c.Items) == 0 {
		o.setState(StateExited)
		return nil, ErrCartEmpty
	}
	if c.ShippingAddress == nil || !c.HasShippingMethod() {
		o.setState(prev)
		return nil, model.NewValidationError("checkout", "address and shipping method are required")
	}

	logger := o.logger.With(slog.String("cart_id", c.ID), slog.String("provider_id", providerID))
	logger.Info("placing order")

	collectionID := c.PaymentCollectionID
	if collectionID == "" {
		pc, err := o.cfg.Backend.CreatePaymentCollection(ctx, c.ID)
		if err != nil {
			return nil, o.fail(&StepError{Step: StepPaymentCollection, Err: err})
		}
		collectionID = pc.ID
	}

	if _, err := o.cfg.Backend.InitPaymentSession(ctx, collectionID, providerID); err != nil {
		return nil, o.fail(&StepError{Step: StepPaymentSession, Err: err})
	}

	order, err := o.cfg.Backend.CompleteCart(ctx, c.ID)
	if err != nil {
		return nil, o.fail(&StepError{Step: StepComplete, Err: err})
	}

	placed := model.SummarizeOrder(order, o.cfg.Clock.Now())
	if err := storage.SetJSON(releaseCtx, o.cfg.Storage, storage.KeyLastOrder, placed, 0); err != nil {
		logger.Warn("storing order summary failed", slog.String("error", err.Error()))
	}
	o.cfg.Cart.Reset(releaseCtx)

	o.mu.Lock()
	o.state = StateSubmitted
	o.order = &placed
	o.lastErr = nil
	o.mu.Unlock()

	logger.Info("order placed", slog.String("order_id", order.ID), slog.Int("display_id", order.DisplayID))
	o.cfg.Notices.Success(noticeSource, "Order placed")
	return &placed, nil
}

// fail moves to StateFailed, publishes the failure and returns err.
func (o *Orchestrator) fail(err *StepError) error {
	o.logger.Warn("order placement failed",
		slog.String("step", string(err.Step)),
		slog.String("error", err.Err.Error()))

	o.mu.Lock()
	o.state = StateFailed
	o.lastErr = err
	o.mu.Unlock()

	o.handleAuth(context.Background(), err)
	o.cfg.Notices.Error(noticeSource, model.UserMessage(err))
	return err
}

// handleAuth clears the session and cart when the backend rejected the token.
func (o *Orchestrator) handleAuth(ctx context.Context, err error) {
	if !errors.Is(err, model.ErrUnauthorized) {
		return
	}
	o.cfg.Session.Clear()
	o.cfg.Cart.Reset(ctx)
}

func (o *Orchestrator) checkEditable() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return model.NewConflictError("checkout is closed")
	case o.state == StateSubmitting && o.cfg.Lock.Held():
		return ErrSubmissionInProgress
	case o.state == StateSubmitted:
		return ErrAlreadySubmitted
	}
	return nil
}

// Reset drops the per-checkout state: step, shipping options, payment
// provider, last failure and placed order. It does nothing while a
// submission holds the lock.
func (o *Orchestrator) Reset() {
	if o.cfg.Lock.Held() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func (o *Orchestrator) resetLocked() {
	o.state = StateAwaitingCart
	o.options = nil
	o.providerID = ""
	o.lastErr = nil
	o.order = nil
}

func (o *Orchestrator) guardEmpty(c *model.Cart) error {
	if c != nil && len(c.Items) == 0 {
		o.setState(StateExited)
		return ErrCartEmpty
	}
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != s {
		o.logger.Debug("checkout state changed", slog.String("from", string(o.state)), slog.String("to", string(s)))
	}
	o.state = s
}

// State returns the current step.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the last placement failure.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// PaymentProviderID returns the selected provider.
func (o *Orchestrator) PaymentProviderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.providerID
}

// Order returns the placed order, or nil before placement succeeded.
func (o *Orchestrator) Order() *model.OrderSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.order == nil {
		return nil
	}
	cp := *o.order
	return &cp
}

// LastOrder reads the summary the confirmation page shows.
func LastOrder(ctx context.Context, s storage.Store) (*model.OrderSummary, error) {
	return storage.GetJSON[model.OrderSummary](ctx, s, storage.KeyLastOrder)
}

// Close ends the checkout session. A submission in progress keeps its durable
// marker so a later Start restores it.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cfg.Lock.Close()
}
