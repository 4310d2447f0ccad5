package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/checkout"
	"storefront-cart/internal/model"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/testutil"
)

// fakeCommerce is an in-memory backend that records the calls it receives.
type fakeCommerce struct {
	adapter.Mock

	mu        sync.Mutex
	cart      model.Cart
	addresses []model.Address
	calls     []string
}

func newFakeCommerce(items ...model.LineItem) *fakeCommerce {
	f := &fakeCommerce{cart: model.Cart{ID: "cart_1", RegionID: "reg_1", Items: items, TotalsKnown: true}}

	f.CreateCartFunc = func(ctx context.Context, req *adapter.CreateCartRequest) (*model.Cart, error) {
		return f.record("create_cart"), nil
	}
	f.GetCartFunc = func(ctx context.Context, cartID string) (*model.Cart, error) {
		return f.record("get_cart"), nil
	}
	f.UpdateCartFunc = func(ctx context.Context, cartID string, req *adapter.CartUpdate) (*model.Cart, error) {
		f.mu.Lock()
		if req.Email != nil {
			f.cart.Email = *req.Email
		}
		if req.ShippingAddress != nil {
			f.cart.ShippingAddress = req.ShippingAddress
			f.cart.BillingAddress = req.BillingAddress
		}
		f.mu.Unlock()
		return f.record("update_cart"), nil
	}
	f.ListAddressesFunc = func(ctx context.Context) ([]model.Address, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return append([]model.Address(nil), f.addresses...), nil
	}
	f.CreateAddressFunc = func(ctx context.Context, addr *model.Address) (*model.Address, error) {
		saved := *addr
		saved.ID = "addr_1"
		f.mu.Lock()
		f.addresses = append(f.addresses, saved)
		f.mu.Unlock()
		f.record("create_address")
		return &saved, nil
	}
	f.ListShippingOptionsFunc = func(ctx context.Context, cartID string) ([]model.ShippingOption, error) {
		return []model.ShippingOption{{ID: "so_std", Name: "Standard", Amount: 500}}, nil
	}
	f.CreatePaymentCollectionFunc = func(ctx context.Context, cartID string) (*model.PaymentCollection, error) {
		return &model.PaymentCollection{ID: "paycol_1"}, nil
	}
	f.InitPaymentSessionFunc = func(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error) {
		return &model.PaymentCollection{ID: collectionID}, nil
	}
	f.CompleteCartFunc = func(ctx context.Context, cartID string) (*model.Order, error) {
		c := f.record("complete_cart")
		return &model.Order{ID: "order_1", Email: c.Email, Items: c.Items}, nil
	}
	return f
}

func (f *fakeCommerce) record(call string) *model.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.cart.Clone()
}

func (f *fakeCommerce) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCommerce) withShipping() *fakeCommerce {
	f.cart.ShippingAddress = completeAddress()
	f.cart.BillingAddress = completeAddress()
	f.cart.ShippingMethods = []model.ShippingMethod{{ID: "sm_1", OptionID: "so_std"}}
	return f
}

func completeAddress() *model.Address {
	return &model.Address{
		FirstName: "Asha", Phone: "9999999999", Street: "12 MG Road",
		City: "Pune", Province: "MH", PostalCode: "411001", CountryCode: "in",
	}
}

func signedToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"actor_id":   "cus_01",
		"actor_type": "customer",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

var shirt = model.LineItem{ID: "line_1", VariantID: "v1", Quantity: 1, UnitPrice: 2000}

func newTestEngine(t *testing.T, backend adapter.Backend) (*Engine, *testutil.ManualClock, *storage.Memory) {
	t.Helper()
	clock := testutil.NewManualClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	mem := storage.NewMemory()
	e := New(Config{
		ID:      NewID(),
		Backend: backend,
		Storage: mem,
		Settings: Settings{
			DebounceWindow:    500 * time.Millisecond,
			SubmitLockTimeout: 2 * time.Minute,
			Clock:             clock,
		},
	})
	t.Cleanup(e.Close)
	return e, clock, mem
}

func TestEngine_EmailWrittenAfterQuietWindow(t *testing.T) {
	backend := newFakeCommerce(shirt)
	e, clock, _ := newTestEngine(t, backend)

	e.Email.Change("a")
	e.Email.Change("asha@example")
	e.Email.Change("asha@example.com")
	assert.Empty(t, backend.Calls())

	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"create_cart", "update_cart"}, backend.Calls())
	assert.Equal(t, "asha@example.com", e.Cart.Cart().Email)
	assert.Equal(t, 1, e.Email.Writes())
}

func TestEngine_PlaceOrderFlushesPendingEmail(t *testing.T) {
	backend := newFakeCommerce(shirt).withShipping()
	e, _, _ := newTestEngine(t, backend)
	ctx := context.Background()

	_, err := e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	require.NoError(t, e.Checkout.Start(ctx))
	require.Equal(t, checkout.StatePaymentSelection, e.Checkout.State())
	require.NoError(t, e.Checkout.SelectPaymentProvider("pp_system_default"))

	e.Email.Change("asha@example.com")
	summary, err := e.Checkout.PlaceOrder(ctx)
	require.NoError(t, err)

	assert.Equal(t, "asha@example.com", summary.Email)
	calls := backend.Calls()
	assert.Equal(t, "complete_cart", calls[len(calls)-1])
	assert.Contains(t, calls, "update_cart")
	assert.False(t, e.Email.Pending())
}

func TestEngine_LockTimeoutResyncsCheckout(t *testing.T) {
	backend := newFakeCommerce(shirt).withShipping()
	e, clock, mem := newTestEngine(t, backend)
	ctx := context.Background()

	_, err := e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, storage.KeySubmitLock, "2026-05-01T09:59:00Z", time.Hour))

	require.NoError(t, e.Checkout.Start(ctx))
	require.Equal(t, checkout.StateSubmitting, e.Checkout.State())

	clock.Advance(2 * time.Minute)

	assert.False(t, e.Lock.Held())
	assert.Equal(t, checkout.StatePaymentSelection, e.Checkout.State())
	_, err = mem.Get(ctx, storage.KeySubmitLock)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_AutosaveAdvancesCheckout(t *testing.T) {
	backend := newFakeCommerce(shirt)
	e, clock, _ := newTestEngine(t, backend)
	ctx := context.Background()

	require.NoError(t, e.Address.OptIn(ctx))
	_, err := e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	require.True(t, e.Address.Active())

	require.NoError(t, e.Checkout.Start(ctx))
	require.Equal(t, checkout.StateAddressSelection, e.Checkout.State())

	partial := *completeAddress()
	partial.PostalCode = ""
	e.Address.Change(partial)
	clock.Advance(time.Second)
	assert.NotContains(t, backend.Calls(), "create_address")

	e.Address.Change(*completeAddress())
	clock.Advance(500 * time.Millisecond)

	assert.Contains(t, backend.Calls(), "create_address")
	assert.Equal(t, "addr_1", e.Address.SavedID())
	assert.Equal(t, checkout.StateShippingSelection, e.Checkout.State())
	assert.Len(t, e.Checkout.ShippingOptions(), 1)
	assert.Empty(t, e.Notices.Drain())
}

func TestEngine_SignOutClearsCart(t *testing.T) {
	backend := newFakeCommerce(shirt)
	e, _, mem := newTestEngine(t, backend)
	ctx := context.Background()

	_, err := e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	_, err = e.Cart.Ensure(ctx)
	require.NoError(t, err)

	e.SignOut(ctx)

	assert.False(t, e.Session.Authenticated())
	assert.False(t, e.Cart.Loaded())
	_, err = mem.Get(ctx, storage.KeyCartID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_SignOutForgetsCustomer(t *testing.T) {
	backend := newFakeCommerce(shirt)
	e, clock, _ := newTestEngine(t, backend)
	ctx := context.Background()

	require.NoError(t, e.Address.OptIn(ctx))
	_, err := e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	require.NoError(t, e.Checkout.Start(ctx))

	e.Email.Change("asha@example.com")
	e.Address.Change(*completeAddress())
	clock.Advance(500 * time.Millisecond)
	require.Equal(t, "addr_1", e.Address.SavedID())

	e.SignOut(ctx)

	assert.Empty(t, e.Address.SavedID())
	assert.False(t, e.Address.Active())
	assert.Empty(t, e.Email.Value())
	assert.Empty(t, e.Email.Remote())
	assert.Equal(t, checkout.StateAwaitingCart, e.Checkout.State())

	// The next customer on this browser has an empty address book.
	backend.mu.Lock()
	backend.addresses = nil
	backend.mu.Unlock()
	_, err = e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	require.True(t, e.Address.Active())

	addr := *completeAddress()
	addr.City = "Mumbai"
	e.Address.Change(addr)
	clock.Advance(500 * time.Millisecond)

	creates := 0
	for _, c := range backend.Calls() {
		if c == "create_address" {
			creates++
		}
	}
	assert.Equal(t, 2, creates)
	assert.Equal(t, "addr_1", e.Address.SavedID())
}

func TestEngine_RejectedSessionForgetsAutosavedAddress(t *testing.T) {
	backend := newFakeCommerce(shirt)
	e, clock, _ := newTestEngine(t, backend)
	ctx := context.Background()

	require.NoError(t, e.Address.OptIn(ctx))
	_, err := e.SignIn(ctx, signedToken(t))
	require.NoError(t, err)
	e.Address.Change(*completeAddress())
	clock.Advance(500 * time.Millisecond)
	require.Equal(t, "addr_1", e.Address.SavedID())

	backend.UpdateCartFunc = func(ctx context.Context, cartID string, req *adapter.CartUpdate) (*model.Cart, error) {
		return nil, model.ErrUnauthorized
	}
	e.Email.Change("asha@example.com")
	clock.Advance(500 * time.Millisecond)

	assert.False(t, e.Session.Authenticated())
	assert.Empty(t, e.Address.SavedID())
}

func TestEngine_SignInRejectsMalformedToken(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeCommerce())

	_, err := e.SignIn(context.Background(), "not-a-token")
	assert.Error(t, err)
	assert.False(t, e.Session.Authenticated())
}
