package commerce

import (
	"fmt"
	"strings"

	"storefront-cart/internal/model"
)

// metaAddressType is the address metadata key holding the UI address type.
const metaAddressType = "address_type"

// CartToModel converts a backend cart into the engine's cart.
// TotalsKnown is set only when the backend sent a grand total.
func CartToModel(w *wireCart) *model.Cart {
	if w == nil {
		return nil
	}

	cart := &model.Cart{
		ID:           w.ID,
		CurrencyCode: w.CurrencyCode,
		RegionID:     w.RegionID,
		Email:        w.Email,
		Items:        make([]model.LineItem, 0, len(w.Items)),
	}

	for _, item := range w.Items {
		cart.Items = append(cart.Items, lineItemToModel(item))
	}

	if w.Total != nil {
		cart.TotalsKnown = true
		cart.Totals.Total = model.MinorUnits(*w.Total)
		if w.ItemSubtotal != nil {
			cart.Totals.Subtotal = model.MinorUnits(*w.ItemSubtotal)
		}
		if w.ShippingTotal != nil {
			cart.Totals.Shipping = model.MinorUnits(*w.ShippingTotal)
		}
		if w.TaxTotal != nil {
			cart.Totals.Tax = model.MinorUnits(*w.TaxTotal)
		}
		if w.DiscountTotal != nil {
			cart.Totals.Discount = model.MinorUnits(*w.DiscountTotal)
		}
	}

	// The backend returns an empty address object rather than null once
	// a cart has been touched; treat that as "no address".
	if w.ShippingAddress != nil {
		if addr := AddressToModel(w.ShippingAddress); !addr.IsZero() {
			cart.ShippingAddress = &addr
		}
	}
	if w.BillingAddress != nil {
		if addr := AddressToModel(w.BillingAddress); !addr.IsZero() {
			cart.BillingAddress = &addr
		}
	}

	for _, m := range w.ShippingMethods {
		cart.ShippingMethods = append(cart.ShippingMethods, model.ShippingMethod{
			ID:       m.ID,
			OptionID: m.ShippingOptionID,
			Name:     m.Name,
			Amount:   model.MinorUnits(m.Amount),
		})
	}

	if w.PaymentCollection != nil {
		cart.PaymentCollectionID = w.PaymentCollection.ID
	}

	return cart
}

func lineItemToModel(w wireLineItem) model.LineItem {
	item := model.LineItem{
		ID:        w.ID,
		VariantID: w.VariantID,
		ProductID: w.ProductID,
		Title:     w.Title,
		Quantity:  w.Quantity,
		UnitPrice: model.MinorUnits(w.UnitPrice),
		Subtotal:  model.MinorUnits(w.Subtotal),
	}
	if len(w.Metadata) > 0 {
		item.Metadata = stringifyMetadata(w.Metadata)
	}
	return item
}

// stringifyMetadata flattens backend metadata (arbitrary JSON) into strings.
// Selected options are always scalar values in practice.
func stringifyMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// AddressToModel converts a backend address into the UI address.
func AddressToModel(w *wireAddress) model.Address {
	addr := model.Address{
		ID:          w.ID,
		FirstName:   w.FirstName,
		LastName:    w.LastName,
		Phone:       w.Phone,
		Street:      w.Address1,
		Landmark:    w.Address2,
		City:        w.City,
		Province:    w.Province,
		PostalCode:  w.PostalCode,
		CountryCode: strings.ToLower(w.CountryCode),
		IsDefault:   w.IsDefaultShipping && w.IsDefaultBilling,
	}
	if t, ok := w.Metadata[metaAddressType].(string); ok {
		addr.Type = model.AddressType(t)
	}
	return addr
}

// AddressToWire converts a UI address into the backend shape.
// A default address is default for both shipping and billing.
func AddressToWire(a *model.Address) *wireAddress {
	w := &wireAddress{
		FirstName:         a.FirstName,
		LastName:          a.LastName,
		Phone:             a.Phone,
		Address1:          a.Street,
		Address2:          a.Landmark,
		City:              a.City,
		Province:          a.Province,
		PostalCode:        a.PostalCode,
		CountryCode:       strings.ToLower(a.CountryCode),
		IsDefaultShipping: a.IsDefault,
		IsDefaultBilling:  a.IsDefault,
	}
	if a.Type != "" {
		w.Metadata = map[string]any{metaAddressType: string(a.Type)}
	}
	return w
}

// cartAddressToWire drops the customer-address fields the cart endpoint rejects.
func cartAddressToWire(a *model.Address) *wireAddress {
	w := AddressToWire(a)
	w.IsDefaultShipping = false
	w.IsDefaultBilling = false
	return w
}

func shippingOptionToModel(w wireShippingOption) model.ShippingOption {
	amount := w.Amount
	if w.CalculatedPrice != nil {
		amount = w.CalculatedPrice.CalculatedAmount
	}
	return model.ShippingOption{
		ID:     w.ID,
		Name:   w.Name,
		Amount: model.MinorUnits(amount),
	}
}

func paymentCollectionToModel(w *wirePaymentCollection) *model.PaymentCollection {
	pc := &model.PaymentCollection{
		ID:     w.ID,
		Amount: model.MinorUnits(w.Amount),
	}
	for _, s := range w.PaymentSessions {
		pc.Sessions = append(pc.Sessions, model.PaymentSession{
			ID:         s.ID,
			ProviderID: s.ProviderID,
			Status:     s.Status,
		})
	}
	return pc
}

func orderToModel(w *wireOrder) *model.Order {
	order := &model.Order{
		ID:           w.ID,
		DisplayID:    w.DisplayID,
		Email:        w.Email,
		CurrencyCode: w.CurrencyCode,
		Total:        model.MinorUnits(w.Total),
	}
	for _, item := range w.Items {
		order.Items = append(order.Items, lineItemToModel(item))
	}
	return order
}
