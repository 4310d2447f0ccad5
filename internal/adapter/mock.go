package adapter

import (
	"context"

	"storefront-cart/internal/model"
)

// Mock implements Backend for testing.
// Each method can be configured via function fields.
type Mock struct {
	CreateCartFunc     func(ctx context.Context, req *CreateCartRequest) (*model.Cart, error)
	GetCartFunc        func(ctx context.Context, cartID string) (*model.Cart, error)
	UpdateCartFunc     func(ctx context.Context, cartID string, req *CartUpdate) (*model.Cart, error)
	AddLineItemFunc    func(ctx context.Context, cartID string, req *LineItemInput) (*model.Cart, error)
	UpdateLineItemFunc func(ctx context.Context, cartID, lineID string, req *LineItemUpdate) (*model.Cart, error)
	DeleteLineItemFunc func(ctx context.Context, cartID, lineID string) error

	ListAddressesFunc func(ctx context.Context) ([]model.Address, error)
	CreateAddressFunc func(ctx context.Context, addr *model.Address) (*model.Address, error)
	UpdateAddressFunc func(ctx context.Context, addressID string, addr *model.Address) (*model.Address, error)

	ListShippingOptionsFunc     func(ctx context.Context, cartID string) ([]model.ShippingOption, error)
	AddShippingMethodFunc       func(ctx context.Context, cartID, optionID string) (*model.Cart, error)
	ListPaymentProvidersFunc    func(ctx context.Context, regionID string) ([]model.PaymentProvider, error)
	CreatePaymentCollectionFunc func(ctx context.Context, cartID string) (*model.PaymentCollection, error)
	InitPaymentSessionFunc      func(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error)
	CompleteCartFunc            func(ctx context.Context, cartID string) (*model.Order, error)
}

// CreateCart calls the configured CreateCartFunc or returns an error.
func (m *Mock) CreateCart(ctx context.Context, req *CreateCartRequest) (*model.Cart, error) {
	if m.CreateCartFunc != nil {
		return m.CreateCartFunc(ctx, req)
	}
	return nil, model.NewInternalError(nil)
}

// GetCart calls the configured GetCartFunc or returns not found.
func (m *Mock) GetCart(ctx context.Context, cartID string) (*model.Cart, error) {
	if m.GetCartFunc != nil {
		return m.GetCartFunc(ctx, cartID)
	}
	return nil, model.NewNotFoundError("cart")
}

// UpdateCart calls the configured UpdateCartFunc or returns not found.
func (m *Mock) UpdateCart(ctx context.Context, cartID string, req *CartUpdate) (*model.Cart, error) {
	if m.UpdateCartFunc != nil {
		return m.UpdateCartFunc(ctx, cartID, req)
	}
	return nil, model.NewNotFoundError("cart")
}

// AddLineItem calls the configured AddLineItemFunc or returns not found.
func (m *Mock) AddLineItem(ctx context.Context, cartID string, req *LineItemInput) (*model.Cart, error) {
	if m.AddLineItemFunc != nil {
		return m.AddLineItemFunc(ctx, cartID, req)
	}
	return nil, model.NewNotFoundError("cart")
}

// UpdateLineItem calls the configured UpdateLineItemFunc or returns not found.
func (m *Mock) UpdateLineItem(ctx context.Context, cartID, lineID string, req *LineItemUpdate) (*model.Cart, error) {
	if m.UpdateLineItemFunc != nil {
		return m.UpdateLineItemFunc(ctx, cartID, lineID, req)
	}
	return nil, model.NewNotFoundError("line item")
}

// DeleteLineItem calls the configured DeleteLineItemFunc or returns not found.
func (m *Mock) DeleteLineItem(ctx context.Context, cartID, lineID string) error {
	if m.DeleteLineItemFunc != nil {
		return m.DeleteLineItemFunc(ctx, cartID, lineID)
	}
	return model.NewNotFoundError("line item")
}

// ListAddresses calls the configured ListAddressesFunc or returns an empty book.
func (m *Mock) ListAddresses(ctx context.Context) ([]model.Address, error) {
	if m.ListAddressesFunc != nil {
		return m.ListAddressesFunc(ctx)
	}
	return nil, nil
}

// CreateAddress calls the configured CreateAddressFunc or returns an error.
func (m *Mock) CreateAddress(ctx context.Context, addr *model.Address) (*model.Address, error) {
	if m.CreateAddressFunc != nil {
		return m.CreateAddressFunc(ctx, addr)
	}
	return nil, model.NewInternalError(nil)
}

// UpdateAddress calls the configured UpdateAddressFunc or returns not found.
func (m *Mock) UpdateAddress(ctx context.Context, addressID string, addr *model.Address) (*model.Address, error) {
	if m.UpdateAddressFunc != nil {
		return m.UpdateAddressFunc(ctx, addressID, addr)
	}
	return nil, model.NewNotFoundError("address")
}

// ListShippingOptions calls the configured ListShippingOptionsFunc or returns none.
func (m *Mock) ListShippingOptions(ctx context.Context, cartID string) ([]model.ShippingOption, error) {
	if m.ListShippingOptionsFunc != nil {
		return m.ListShippingOptionsFunc(ctx, cartID)
	}
	return nil, nil
}

// AddShippingMethod calls the configured AddShippingMethodFunc or returns not found.
func (m *Mock) AddShippingMethod(ctx context.Context, cartID, optionID string) (*model.Cart, error) {
	if m.AddShippingMethodFunc != nil {
		return m.AddShippingMethodFunc(ctx, cartID, optionID)
	}
	return nil, model.NewNotFoundError("shipping option")
}

// ListPaymentProviders calls the configured ListPaymentProvidersFunc or returns none.
func (m *Mock) ListPaymentProviders(ctx context.Context, regionID string) ([]model.PaymentProvider, error) {
	if m.ListPaymentProvidersFunc != nil {
		return m.ListPaymentProvidersFunc(ctx, regionID)
	}
	return nil, nil
}

// CreatePaymentCollection calls the configured CreatePaymentCollectionFunc or returns an error.
func (m *Mock) CreatePaymentCollection(ctx context.Context, cartID string) (*model.PaymentCollection, error) {
	if m.CreatePaymentCollectionFunc != nil {
		return m.CreatePaymentCollectionFunc(ctx, cartID)
	}
	return nil, model.NewInternalError(nil)
}

// InitPaymentSession calls the configured InitPaymentSessionFunc or returns an error.
func (m *Mock) InitPaymentSession(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error) {
	if m.InitPaymentSessionFunc != nil {
		return m.InitPaymentSessionFunc(ctx, collectionID, providerID)
	}
	return nil, model.NewPaymentError("payment session unavailable")
}

// CompleteCart calls the configured CompleteCartFunc or returns an error.
func (m *Mock) CompleteCart(ctx context.Context, cartID string) (*model.Order, error) {
	if m.CompleteCartFunc != nil {
		return m.CompleteCartFunc(ctx, cartID)
	}
	return nil, model.NewInternalError(nil)
}

// Verify Mock implements Backend interface at compile time.
var _ Backend = (*Mock)(nil)
