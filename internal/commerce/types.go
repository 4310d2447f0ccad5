// Package commerce implements adapter.Backend over the commerce backend's store REST API.
// Wire types stay private to this package; transform.go is the only place
// where backend JSON is turned into internal/model values.
package commerce

import "github.com/shopspring/decimal"

// === Response Envelopes ===

type cartEnvelope struct {
	Cart *wireCart `json:"cart"`
}

type addressListEnvelope struct {
	Addresses []wireAddress `json:"addresses"`
}

type addressEnvelope struct {
	Address *wireAddress `json:"address"`
}

type shippingOptionsEnvelope struct {
	ShippingOptions []wireShippingOption `json:"shipping_options"`
}

type paymentProvidersEnvelope struct {
	PaymentProviders []wirePaymentProvider `json:"payment_providers"`
}

type paymentCollectionEnvelope struct {
	PaymentCollection *wirePaymentCollection `json:"payment_collection"`
}

// completeEnvelope is returned by POST /carts/:id/complete.
// Type "order" carries the placed order; type "cart" means completion was
// refused (typically payment) and Error explains why.
type completeEnvelope struct {
	Type  string     `json:"type"`
	Order *wireOrder `json:"order,omitempty"`
	Cart  *wireCart  `json:"cart,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

// wireError is the backend's error body. Some endpoints use "type", others "code".
type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// === Resource Types ===

// wireCart mirrors the backend cart. Amounts are major units; totals are
// pointers so a missing field can be told apart from zero.
type wireCart struct {
	ID                string                 `json:"id"`
	CurrencyCode      string                 `json:"currency_code"`
	RegionID          string                 `json:"region_id"`
	Email             string                 `json:"email"`
	Items             []wireLineItem         `json:"items"`
	ShippingAddress   *wireAddress           `json:"shipping_address"`
	BillingAddress    *wireAddress           `json:"billing_address"`
	ShippingMethods   []wireShippingMethod   `json:"shipping_methods"`
	PaymentCollection *wirePaymentCollection `json:"payment_collection"`

	ItemSubtotal  *decimal.Decimal `json:"item_subtotal"`
	ShippingTotal *decimal.Decimal `json:"shipping_total"`
	TaxTotal      *decimal.Decimal `json:"tax_total"`
	DiscountTotal *decimal.Decimal `json:"discount_total"`
	Total         *decimal.Decimal `json:"total"`
}

type wireLineItem struct {
	ID        string          `json:"id"`
	VariantID string          `json:"variant_id"`
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Metadata  map[string]any  `json:"metadata"`
}

// wireAddress is the backend address shape (first/last name, address_1/2, province).
// The UI address type and landmark ride in address_2 and metadata.
type wireAddress struct {
	ID                string         `json:"id,omitempty"`
	FirstName         string         `json:"first_name"`
	LastName          string         `json:"last_name"`
	Phone             string         `json:"phone"`
	Address1          string         `json:"address_1"`
	Address2          string         `json:"address_2"`
	City              string         `json:"city"`
	Province          string         `json:"province"`
	PostalCode        string         `json:"postal_code"`
	CountryCode       string         `json:"country_code"`
	IsDefaultShipping bool           `json:"is_default_shipping"`
	IsDefaultBilling  bool           `json:"is_default_billing"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type wireShippingMethod struct {
	ID               string          `json:"id"`
	ShippingOptionID string          `json:"shipping_option_id"`
	Name             string          `json:"name"`
	Amount           decimal.Decimal `json:"amount"`
}

type wireShippingOption struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Amount          decimal.Decimal      `json:"amount"`
	CalculatedPrice *wireCalculatedPrice `json:"calculated_price,omitempty"`
}

type wireCalculatedPrice struct {
	CalculatedAmount decimal.Decimal `json:"calculated_amount"`
}

type wirePaymentProvider struct {
	ID string `json:"id"`
}

type wirePaymentCollection struct {
	ID              string               `json:"id"`
	Amount          decimal.Decimal      `json:"amount"`
	PaymentSessions []wirePaymentSession `json:"payment_sessions"`
}

type wirePaymentSession struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

type wireOrder struct {
	ID           string          `json:"id"`
	DisplayID    int             `json:"display_id"`
	Email        string          `json:"email"`
	CurrencyCode string          `json:"currency_code"`
	Total        decimal.Decimal `json:"total"`
	Items        []wireLineItem  `json:"items"`
}

// === Request Bodies ===

type createCartBody struct {
	RegionID string `json:"region_id,omitempty"`
	Email    string `json:"email,omitempty"`
}

type updateCartBody struct {
	Email           *string      `json:"email,omitempty"`
	ShippingAddress *wireAddress `json:"shipping_address,omitempty"`
	BillingAddress  *wireAddress `json:"billing_address,omitempty"`
}

type addLineItemBody struct {
	VariantID string            `json:"variant_id"`
	Quantity  int               `json:"quantity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type updateLineItemBody struct {
	Quantity int               `json:"quantity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type addShippingMethodBody struct {
	OptionID string `json:"option_id"`
}

type createPaymentCollectionBody struct {
	CartID string `json:"cart_id"`
}

type initPaymentSessionBody struct {
	ProviderID string `json:"provider_id"`
}
