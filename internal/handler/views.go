package handler

import (
	"storefront-cart/internal/cart"
	"storefront-cart/internal/checkout"
	"storefront-cart/internal/engine"
	"storefront-cart/internal/model"
)

// CartView is the cart as the front end renders it.
type CartView struct {
	Cart      *model.Cart  `json:"cart"`
	Status    cart.Status  `json:"status"`
	ItemCount int          `json:"item_count"`
	Totals    model.Totals `json:"totals"`
}

func cartView(e *engine.Engine) *CartView {
	return &CartView{
		Cart:      e.Cart.Cart(),
		Status:    e.Cart.Status(),
		ItemCount: e.Cart.ItemCount(),
		Totals:    e.Cart.Totals(),
	}
}

// CheckoutView is the checkout step plus what the step needs to render.
type CheckoutView struct {
	State             checkout.State         `json:"state"`
	ShippingOptions   []model.ShippingOption `json:"shipping_options"`
	PaymentProviderID string                 `json:"payment_provider_id,omitempty"`
	Order             *model.OrderSummary    `json:"order,omitempty"`
	Error             string                 `json:"error,omitempty"`
	Cart              *CartView              `json:"cart"`
}

func checkoutView(e *engine.Engine) *CheckoutView {
	v := &CheckoutView{
		State:             e.Checkout.State(),
		ShippingOptions:   e.Checkout.ShippingOptions(),
		PaymentProviderID: e.Checkout.PaymentProviderID(),
		Order:             e.Checkout.Order(),
		Cart:              cartView(e),
	}
	if v.ShippingOptions == nil {
		v.ShippingOptions = []model.ShippingOption{}
	}
	if err := e.Checkout.Err(); err != nil {
		v.Error = model.UserMessage(err)
	}
	return v
}

// FieldView is the state of a debounced draft field.
type FieldView struct {
	Pending bool   `json:"pending"`
	Error   string `json:"error,omitempty"`
}

func fieldError(err error) string {
	if err == nil {
		return ""
	}
	return model.UserMessage(err)
}

// AddressDraftView reports the address auto-save state.
type AddressDraftView struct {
	FieldView
	Active  bool   `json:"active"`
	SavedID string `json:"saved_id,omitempty"`
}

// SessionView is the signed-in user.
type SessionView struct {
	SessionID     string `json:"session_id"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
}

func sessionView(e *engine.Engine) *SessionView {
	v := &SessionView{SessionID: e.ID, Authenticated: e.Session.Authenticated()}
	if u, ok := e.Session.User(); ok {
		v.UserID = u.ID
		v.Email = u.Email
	}
	return v
}
