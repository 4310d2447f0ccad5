// Package model defines the storefront domain types shared by the engine packages.
// All amounts are int64 minor units (cents). Wire formats live in internal/commerce.
package model

import "time"

// Cart is the server-tracked basket. The backend is authoritative for
// every price and total; the engine never computes them as the system of record.
type Cart struct {
	ID           string     `json:"id"`
	CurrencyCode string     `json:"currency_code"`
	RegionID     string     `json:"region_id,omitempty"`
	Email        string     `json:"email,omitempty"`
	Items        []LineItem `json:"items"`
	Totals       Totals     `json:"totals"`

	// TotalsKnown is false when the backend response omitted totals.
	TotalsKnown bool `json:"totals_known"`

	ShippingAddress     *Address         `json:"shipping_address,omitempty"`
	BillingAddress      *Address         `json:"billing_address,omitempty"`
	ShippingMethods     []ShippingMethod `json:"shipping_methods,omitempty"`
	PaymentCollectionID string           `json:"payment_collection_id,omitempty"`
}

// LineItem is one variant-and-quantity entry. Quantity is always > 0;
// a line that would reach zero is removed instead.
type LineItem struct {
	ID        string            `json:"id"`
	VariantID string            `json:"variant_id"`
	ProductID string            `json:"product_id,omitempty"`
	Title     string            `json:"title"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unit_price"`
	Subtotal  int64             `json:"subtotal"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Totals holds the server-computed cart totals.
type Totals struct {
	Subtotal int64 `json:"subtotal"` // item subtotal
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// ShippingMethod is a shipping option bound to a cart.
type ShippingMethod struct {
	ID       string `json:"id"`
	OptionID string `json:"shipping_option_id"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
}

// ItemCount returns the total quantity across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// FindItem returns the line with the given ID, or nil.
func (c *Cart) FindItem(lineID string) *LineItem {
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			return &c.Items[i]
		}
	}
	return nil
}

// DisplayTotals returns server totals when known. Otherwise it sums
// unit price × quantity so the UI has something to show until the next
// server response; the result is never written back to the cart.
func (c *Cart) DisplayTotals() Totals {
	if c.TotalsKnown {
		return c.Totals
	}
	var subtotal int64
	for _, item := range c.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return Totals{Subtotal: subtotal, Total: subtotal}
}

// HasShippingMethod reports whether a shipping option has been bound.
func (c *Cart) HasShippingMethod() bool {
	return len(c.ShippingMethods) > 0
}

// Clone returns a deep copy so callers can't mutate store-owned state.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	for i, item := range c.Items {
		out.Items[i] = item
		if item.Metadata != nil {
			out.Items[i].Metadata = make(map[string]string, len(item.Metadata))
			for k, v := range item.Metadata {
				out.Items[i].Metadata[k] = v
			}
		}
	}
	if c.ShippingAddress != nil {
		addr := *c.ShippingAddress
		out.ShippingAddress = &addr
	}
	if c.BillingAddress != nil {
		addr := *c.BillingAddress
		out.BillingAddress = &addr
	}
	out.ShippingMethods = append([]ShippingMethod(nil), c.ShippingMethods...)
	return &out
}

// ShippingOption is a selectable fulfillment choice with a calculated price.
type ShippingOption struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// PaymentProvider is a payment method enabled for the cart's region.
type PaymentProvider struct {
	ID string `json:"id"`
}

// PaymentCollection groups the payment sessions of one cart.
type PaymentCollection struct {
	ID       string           `json:"id"`
	Amount   int64            `json:"amount"`
	Sessions []PaymentSession `json:"payment_sessions,omitempty"`
}

// PaymentSession is the backend's processing state for a chosen provider.
type PaymentSession struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

// Order is the result of completing a cart.
type Order struct {
	ID           string     `json:"id"`
	DisplayID    int        `json:"display_id"`
	Email        string     `json:"email"`
	CurrencyCode string     `json:"currency_code"`
	Total        int64      `json:"total"`
	Items        []LineItem `json:"items"`
}

// OrderSummary is stored locally after a successful order so the
// confirmation page can render without another backend call.
type OrderSummary struct {
	OrderID      string    `json:"order_id"`
	DisplayID    int       `json:"display_id"`
	Email        string    `json:"email"`
	CurrencyCode string    `json:"currency_code"`
	Total        int64     `json:"total"`
	ItemCount    int       `json:"item_count"`
	PlacedAt     time.Time `json:"placed_at"`
}

// SummarizeOrder builds the confirmation summary for an order.
func SummarizeOrder(o *Order, placedAt time.Time) OrderSummary {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return OrderSummary{
		OrderID:      o.ID,
		DisplayID:    o.DisplayID,
		Email:        o.Email,
		CurrencyCode: o.CurrencyCode,
		Total:        o.Total,
		ItemCount:    count,
		PlacedAt:     placedAt,
	}
}
