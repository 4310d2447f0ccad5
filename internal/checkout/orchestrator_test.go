package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/cart"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/session"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/submitlock"
	"storefront-cart/internal/testutil"
)

type fakeSession struct {
	authenticated atomic.Bool
	cleared       atomic.Int32
}

func (s *fakeSession) Authenticated() bool { return s.authenticated.Load() }
func (s *fakeSession) Clear() {
	s.cleared.Add(1)
	s.authenticated.Store(false)
}

type testEnv struct {
	orch      *Orchestrator
	backend   *adapter.Mock
	store     *cart.Store
	lock      *submitlock.Lock
	storage   *storage.Memory
	notices   *notify.Bus
	session   *fakeSession
	clock     *testutil.ManualClock
	completes atomic.Int32

	mu   sync.Mutex
	cart *model.Cart
}

func address() *model.Address {
	return &model.Address{
		FirstName: "Asha", Phone: "9999999999", Street: "12 MG Road",
		City: "Pune", Province: "MH", PostalCode: "411001", CountryCode: "in",
	}
}

func newTestEnv(t *testing.T, items ...model.LineItem) *testEnv {
	t.Helper()
	env := &testEnv{
		storage: storage.NewMemory(),
		notices: notify.New(16, nil),
		session: &fakeSession{},
		clock:   testutil.NewManualClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)),
		cart:    &model.Cart{ID: "cart_1", RegionID: "reg_1", Items: items, TotalsKnown: true},
	}
	env.session.authenticated.Store(true)

	snapshot := func() *model.Cart {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.cart.Clone()
	}

	env.backend = &adapter.Mock{
		CreateCartFunc: func(ctx context.Context, req *adapter.CreateCartRequest) (*model.Cart, error) {
			return snapshot(), nil
		},
		GetCartFunc: func(ctx context.Context, cartID string) (*model.Cart, error) {
			return snapshot(), nil
		},
		UpdateCartFunc: func(ctx context.Context, cartID string, req *adapter.CartUpdate) (*model.Cart, error) {
			env.mu.Lock()
			env.cart.ShippingAddress = req.ShippingAddress
			env.cart.BillingAddress = req.BillingAddress
			env.mu.Unlock()
			return snapshot(), nil
		},
		ListShippingOptionsFunc: func(ctx context.Context, cartID string) ([]model.ShippingOption, error) {
			return []model.ShippingOption{{ID: "so_std", Name: "Standard", Amount: 500}}, nil
		},
		AddShippingMethodFunc: func(ctx context.Context, cartID, optionID string) (*model.Cart, error) {
			env.mu.Lock()
			env.cart.ShippingMethods = []model.ShippingMethod{{ID: "sm_1", OptionID: optionID, Amount: 500}}
			env.mu.Unlock()
			return snapshot(), nil
		},
		ListPaymentProvidersFunc: func(ctx context.Context, regionID string) ([]model.PaymentProvider, error) {
			return []model.PaymentProvider{{ID: "pp_system_default"}}, nil
		},
		CreatePaymentCollectionFunc: func(ctx context.Context, cartID string) (*model.PaymentCollection, error) {
			return &model.PaymentCollection{ID: "paycol_1"}, nil
		},
		InitPaymentSessionFunc: func(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error) {
			return &model.PaymentCollection{ID: collectionID, Sessions: []model.PaymentSession{{ProviderID: providerID}}}, nil
		},
		CompleteCartFunc: func(ctx context.Context, cartID string) (*model.Order, error) {
			env.completes.Add(1)
			return &model.Order{ID: "order_1", DisplayID: 1001, Total: 2500, Items: snapshot().Items}, nil
		},
	}

	env.store = cart.New(cart.Config{Backend: env.backend, Session: env.session, Storage: env.storage, Notices: env.notices})
	env.lock = submitlock.New(submitlock.Config{Storage: env.storage, Clock: env.clock, Timeout: 2 * time.Minute})
	env.orch = New(Config{
		Backend: env.backend,
		Cart:    env.store,
		Session: env.session,
		Lock:    env.lock,
		Storage: env.storage,
		Notices: env.notices,
		Clock:   env.clock,
	})
	return env
}

// readyToPlace walks the flow up to payment selection.
func readyToPlace(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	if err := env.orch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.orch.SelectAddress(ctx, address(), nil); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if err := env.orch.SelectShippingOption(ctx, "so_std"); err != nil {
		t.Fatalf("SelectShippingOption: %v", err)
	}
	if err := env.orch.SelectPaymentProvider("pp_system_default"); err != nil {
		t.Fatalf("SelectPaymentProvider: %v", err)
	}
}

var twoShirts = model.LineItem{ID: "line_1", VariantID: "v1", Quantity: 2, UnitPrice: 1250}

func TestStart_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	env.session.authenticated.Store(false)

	if err := env.orch.Start(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Errorf("Start() error = %v, want ErrNotAuthenticated", err)
	}
	if env.orch.State() != StateAwaitingCart {
		t.Errorf("State() = %s", env.orch.State())
	}
}

func TestStart_DerivesState(t *testing.T) {
	env := newTestEnv(t, twoShirts)

	if err := env.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if env.orch.State() != StateAddressSelection {
		t.Errorf("State() = %s, want address_selection", env.orch.State())
	}
}

func TestStart_EmptyCartExits(t *testing.T) {
	env := newTestEnv(t)

	err := env.orch.Start(context.Background())
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("Start() error = %v, want ErrCartEmpty", err)
	}
	if env.orch.State() != StateExited {
		t.Errorf("State() = %s, want exited", env.orch.State())
	}
}

func TestFlow_PlaceOrder(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	readyToPlace(t, env)
	ctx := context.Background()

	if env.orch.State() != StatePaymentSelection {
		t.Fatalf("State() = %s, want payment_selection", env.orch.State())
	}
	c := env.store.Cart()
	if c.BillingAddress == nil || *c.BillingAddress != *c.ShippingAddress {
		t.Error("billing address should mirror shipping when none is given")
	}

	providers, err := env.orch.PaymentProviders(ctx)
	if err != nil || len(providers) != 1 {
		t.Fatalf("PaymentProviders() = %v, %v", providers, err)
	}

	summary, err := env.orch.PlaceOrder(ctx)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if summary.OrderID != "order_1" || summary.ItemCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if env.orch.State() != StateSubmitted {
		t.Errorf("State() = %s, want submitted", env.orch.State())
	}
	if env.lock.Held() {
		t.Error("lock still held after success")
	}
	if env.store.Loaded() {
		t.Error("cart should be cleared after the order is placed")
	}

	stored, err := LastOrder(ctx, env.storage)
	if err != nil || stored.OrderID != "order_1" {
		t.Errorf("LastOrder() = %+v, %v", stored, err)
	}
	if _, err := env.orch.PlaceOrder(ctx); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second PlaceOrder error = %v, want ErrAlreadySubmitted", err)
	}
}

func TestStart_AfterOrderBeginsNewCheckout(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	readyToPlace(t, env)
	ctx := context.Background()

	if _, err := env.orch.PlaceOrder(ctx); err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}

	// The backend hands out a fresh cart for the next basket.
	env.mu.Lock()
	env.cart = &model.Cart{ID: "cart_2", RegionID: "reg_1", Items: []model.LineItem{twoShirts}, TotalsKnown: true}
	env.mu.Unlock()
	env.backend.CompleteCartFunc = func(ctx context.Context, cartID string) (*model.Order, error) {
		env.completes.Add(1)
		return &model.Order{ID: "order_2", DisplayID: 1002}, nil
	}

	if err := env.orch.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if env.orch.State() != StateAddressSelection {
		t.Fatalf("State() after second Start = %s, want address_selection", env.orch.State())
	}
	if env.orch.Order() != nil || env.orch.PaymentProviderID() != "" {
		t.Error("previous order or provider leaked into the new checkout")
	}

	readyToPlace(t, env)
	summary, err := env.orch.PlaceOrder(ctx)
	if err != nil {
		t.Fatalf("second PlaceOrder: %v", err)
	}
	if summary.OrderID != "order_2" || env.completes.Load() != 2 {
		t.Errorf("summary = %+v, completes = %d", summary, env.completes.Load())
	}
}

func TestReset_KeepsSubmissionInProgress(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	env.storage.Set(context.Background(), storage.KeySubmitLock, "2026-05-01T09:59:00Z", time.Hour)
	env.orch.Start(context.Background())

	env.orch.Reset()
	if env.orch.State() != StateSubmitting {
		t.Errorf("State() = %s, want submitting", env.orch.State())
	}
}

func TestPlaceOrder_SecondTriggerIsNoop(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	readyToPlace(t, env)

	entered := make(chan struct{})
	release := make(chan struct{})
	complete := env.backend.CompleteCartFunc
	env.backend.CompleteCartFunc = func(ctx context.Context, cartID string) (*model.Order, error) {
		close(entered)
		<-release
		return complete(ctx, cartID)
	}

	var firstErr error
	done := make(chan struct{})
	go func() {
		_, firstErr = env.orch.PlaceOrder(context.Background())
		close(done)
	}()
	<-entered

	if _, err := env.orch.PlaceOrder(context.Background()); !errors.Is(err, ErrSubmissionInProgress) {
		t.Errorf("second PlaceOrder error = %v, want ErrSubmissionInProgress", err)
	}
	if env.orch.State() != StateSubmitting {
		t.Errorf("State() = %s, want submitting", env.orch.State())
	}

	close(release)
	<-done
	if firstErr != nil {
		t.Fatalf("first PlaceOrder: %v", firstErr)
	}
	if n := env.completes.Load(); n != 1 {
		t.Errorf("CompleteCart called %d times, want 1", n)
	}
}

func TestPlaceOrder_FailureReleasesLock(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	readyToPlace(t, env)
	env.notices.Drain()

	env.backend.CompleteCartFunc = func(ctx context.Context, cartID string) (*model.Order, error) {
		return nil, model.NewPaymentError("Card declined")
	}

	_, err := env.orch.PlaceOrder(context.Background())
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepComplete {
		t.Fatalf("error = %v, want StepError at complete", err)
	}
	if !errors.Is(err, model.ErrPaymentFailed) {
		t.Error("StepError should unwrap to the payment failure")
	}
	if env.orch.State() != StateFailed {
		t.Errorf("State() = %s, want failed", env.orch.State())
	}
	if env.lock.Held() {
		t.Error("lock still held after failure")
	}
	notices := env.notices.Drain()
	if len(notices) != 1 || notices[0].Message != "Card declined" {
		t.Errorf("notices = %+v", notices)
	}
	if !env.store.Loaded() {
		t.Error("a failed placement must not clear the cart")
	}

	// Retry succeeds once the backend recovers.
	env.backend.CompleteCartFunc = func(ctx context.Context, cartID string) (*model.Order, error) {
		return &model.Order{ID: "order_2"}, nil
	}
	if _, err := env.orch.PlaceOrder(context.Background()); err != nil {
		t.Errorf("retry PlaceOrder: %v", err)
	}
}

func TestPlaceOrder_StepErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *adapter.Mock)
		want  Step
	}{
		{
			name: "payment collection",
			setup: func(m *adapter.Mock) {
				m.CreatePaymentCollectionFunc = func(ctx context.Context, cartID string) (*model.PaymentCollection, error) {
					return nil, model.NewUpstreamError("commerce backend", errors.New("503"))
				}
			},
			want: StepPaymentCollection,
		},
		{
			name: "payment session",
			setup: func(m *adapter.Mock) {
				m.InitPaymentSessionFunc = func(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error) {
					return nil, model.NewPaymentError("provider unavailable")
				}
			},
			want: StepPaymentSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, twoShirts)
			readyToPlace(t, env)
			tt.setup(env.backend)

			_, err := env.orch.PlaceOrder(context.Background())
			var stepErr *StepError
			if !errors.As(err, &stepErr) || stepErr.Step != tt.want {
				t.Fatalf("error = %v, want step %s", err, tt.want)
			}
			if env.lock.Held() {
				t.Error("lock still held after failure")
			}
			if env.completes.Load() != 0 {
				t.Error("cart completed despite an earlier failed step")
			}
		})
	}
}

func TestPlaceOrder_RequiresProvider(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	env.orch.Start(context.Background())

	_, err := env.orch.PlaceOrder(context.Background())
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want validation error", err)
	}
	if env.lock.Held() {
		t.Error("validation failure took the lock")
	}
}

func TestPlaceOrder_EmptyCartExits(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	readyToPlace(t, env)

	env.mu.Lock()
	env.cart.Items = nil
	env.mu.Unlock()
	env.store.Fetch(context.Background(), "cart_1")

	_, err := env.orch.PlaceOrder(context.Background())
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("error = %v, want ErrCartEmpty", err)
	}
	if env.orch.State() != StateExited || env.lock.Held() {
		t.Errorf("State() = %s, lock held = %v", env.orch.State(), env.lock.Held())
	}
}

func TestStart_RestoresSubmission(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	env.storage.Set(context.Background(), storage.KeySubmitLock, "2026-05-01T09:59:00Z", time.Hour)

	if err := env.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if env.orch.State() != StateSubmitting {
		t.Fatalf("State() = %s, want submitting", env.orch.State())
	}
	if err := env.orch.SelectPaymentProvider("pp_system_default"); !errors.Is(err, ErrSubmissionInProgress) {
		t.Errorf("edit during restored submission error = %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	if env.lock.Held() {
		t.Fatal("restored lock did not time out")
	}
	env.store.Ensure(context.Background())
	if err := env.orch.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if env.orch.State() != StateAddressSelection {
		t.Errorf("State() after timeout = %s, want address_selection", env.orch.State())
	}
}

func TestSelectShippingOption_Unknown(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	ctx := context.Background()
	env.orch.Start(ctx)
	env.orch.SelectAddress(ctx, address(), nil)

	if err := env.orch.SelectShippingOption(ctx, "so_missing"); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestSelectAddress_Incomplete(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	env.orch.Start(context.Background())

	err := env.orch.SelectAddress(context.Background(), &model.Address{FirstName: "Asha"}, nil)
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want validation error", err)
	}
	if n := len(env.notices.Drain()); n != 0 {
		t.Errorf("validation published %d notices", n)
	}
}

func TestUnauthorized_ClearsSession(t *testing.T) {
	env := newTestEnv(t, twoShirts)
	env.orch.Start(context.Background())
	env.backend.ListPaymentProvidersFunc = func(ctx context.Context, regionID string) ([]model.PaymentProvider, error) {
		return nil, model.NewUnauthorizedError("session expired")
	}

	if _, err := env.orch.PaymentProviders(context.Background()); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("error = %v", err)
	}
	if env.session.cleared.Load() != 1 || env.store.Loaded() {
		t.Error("401 should clear the session and the cart")
	}
}
