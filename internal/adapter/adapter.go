// Package adapter defines the contract between the engine and the remote commerce backend.
// Implementations translate backend-specific wire formats to internal/model types.
package adapter

import (
	"context"

	"storefront-cart/internal/model"
)

// Carts covers cart CRUD and line-item mutation.
// Every method returns the cart as the backend sees it after the call,
// except DeleteLineItem, whose response carries no cart body.
type Carts interface {
	// CreateCart creates an empty cart.
	CreateCart(ctx context.Context, req *CreateCartRequest) (*model.Cart, error)

	// GetCart returns the full cart state. Missing carts yield model.ErrNotFound.
	GetCart(ctx context.Context, cartID string) (*model.Cart, error)

	// UpdateCart sets cart-level fields (email, addresses). Nil fields are left untouched.
	UpdateCart(ctx context.Context, cartID string, req *CartUpdate) (*model.Cart, error)

	AddLineItem(ctx context.Context, cartID string, req *LineItemInput) (*model.Cart, error)
	UpdateLineItem(ctx context.Context, cartID, lineID string, req *LineItemUpdate) (*model.Cart, error)

	// DeleteLineItem removes a line. Callers must re-fetch the cart afterwards.
	DeleteLineItem(ctx context.Context, cartID, lineID string) error
}

// Addresses covers the signed-in customer's address book.
type Addresses interface {
	ListAddresses(ctx context.Context) ([]model.Address, error)
	CreateAddress(ctx context.Context, addr *model.Address) (*model.Address, error)
	UpdateAddress(ctx context.Context, addressID string, addr *model.Address) (*model.Address, error)
}

// Checkout covers shipping, payment and order placement for a cart.
type Checkout interface {
	ListShippingOptions(ctx context.Context, cartID string) ([]model.ShippingOption, error)
	AddShippingMethod(ctx context.Context, cartID, optionID string) (*model.Cart, error)

	ListPaymentProviders(ctx context.Context, regionID string) ([]model.PaymentProvider, error)
	CreatePaymentCollection(ctx context.Context, cartID string) (*model.PaymentCollection, error)
	InitPaymentSession(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error)

	// CompleteCart places the order. The backend rejects a second completion of the same cart.
	CompleteCart(ctx context.Context, cartID string) (*model.Order, error)
}

// Backend is the full remote commerce API used by one storefront session.
type Backend interface {
	Carts
	Addresses
	Checkout
}

// CreateCartRequest contains optional fields for a new cart.
type CreateCartRequest struct {
	RegionID string `json:"region_id,omitempty"`
	Email    string `json:"email,omitempty"`
}

// CartUpdate carries cart-level changes. Nil pointers are not sent.
type CartUpdate struct {
	Email           *string        `json:"email,omitempty"`
	ShippingAddress *model.Address `json:"shipping_address,omitempty"`
	BillingAddress  *model.Address `json:"billing_address,omitempty"`
}

// LineItemInput adds a variant to the cart.
type LineItemInput struct {
	VariantID string            `json:"variant_id"`
	Quantity  int               `json:"quantity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LineItemUpdate changes an existing line. Quantity must be >= 1.
type LineItemUpdate struct {
	Quantity int               `json:"quantity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TokenSource supplies the bearer token for the current session.
// An empty token means the request is sent anonymously.
type TokenSource interface {
	Token() string
}
