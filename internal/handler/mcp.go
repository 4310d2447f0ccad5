// MCP transport for the storefront engine using the official MCP Go SDK.
// Exposes cart and checkout operations as MCP tools for agents.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-cart/internal/cart"
	"storefront-cart/internal/checkout"
	"storefront-cart/internal/engine"
	"storefront-cart/internal/model"
)

// === MCP Tool Input Types ===
// Every tool except open_session names the storefront session it acts on.
// Agents call open_session once and pass the returned session_id on.

// SessionInput selects a storefront session.
type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"storefront session ID returned by open_session"`
}

// OpenSessionInput is the input schema for open_session.
type OpenSessionInput struct {
	Token string `json:"token,omitempty" jsonschema:"customer bearer token; omit for an anonymous session"`
}

// SignInInput is the input schema for sign_in.
type SignInInput struct {
	SessionID string `json:"session_id" jsonschema:"storefront session ID"`
	Token     string `json:"token" jsonschema:"customer bearer token"`
}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	SessionID string            `json:"session_id" jsonschema:"storefront session ID"`
	VariantID string            `json:"variant_id" jsonschema:"product variant ID"`
	Quantity  int               `json:"quantity,omitempty" jsonschema:"quantity to add, defaults to 1"`
	Metadata  map[string]string `json:"metadata,omitempty" jsonschema:"line metadata such as gift notes"`
}

// SetQuantityInput is the input schema for set_quantity.
type SetQuantityInput struct {
	SessionID string `json:"session_id" jsonschema:"storefront session ID"`
	LineID    string `json:"line_id" jsonschema:"cart line ID"`
	Quantity  int    `json:"quantity" jsonschema:"new quantity; 0 removes the line"`
}

// CartItemInput is one desired line for set_cart.
type CartItemInput struct {
	VariantID string            `json:"variant_id" jsonschema:"product variant ID"`
	Quantity  int               `json:"quantity" jsonschema:"desired quantity"`
	Metadata  map[string]string `json:"metadata,omitempty" jsonschema:"line metadata"`
}

// SetCartInput is the input schema for set_cart.
// Uses full PUT semantics: lines not listed are removed.
type SetCartInput struct {
	SessionID string          `json:"session_id" jsonschema:"storefront session ID"`
	Items     []CartItemInput `json:"items" jsonschema:"complete desired basket"`
}

// SelectAddressInput is the input schema for select_address.
type SelectAddressInput struct {
	SessionID       string         `json:"session_id" jsonschema:"storefront session ID"`
	ShippingAddress *model.Address `json:"shipping_address" jsonschema:"shipping address"`
	BillingAddress  *model.Address `json:"billing_address,omitempty" jsonschema:"billing address; defaults to the shipping address"`
}

// SelectShippingInput is the input schema for select_shipping_option.
type SelectShippingInput struct {
	SessionID string `json:"session_id" jsonschema:"storefront session ID"`
	OptionID  string `json:"option_id" jsonschema:"shipping option ID from the checkout view"`
}

// SelectPaymentInput is the input schema for select_payment_provider.
type SelectPaymentInput struct {
	SessionID  string `json:"session_id" jsonschema:"storefront session ID"`
	ProviderID string `json:"provider_id" jsonschema:"payment provider ID"`
}

// PlaceOrderInput is the input schema for place_order.
type PlaceOrderInput struct {
	SessionID      string `json:"session_id" jsonschema:"storefront session ID"`
	IdempotencyKey string `json:"idempotency_key,omitempty" jsonschema:"retry key; a repeated key returns the first result"`
}

// NewMCPServer creates an MCP server with cart and checkout tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-cart",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart and checkout. Call open_session first and pass " +
				"its session_id to every other tool. Checkout needs a signed-in session.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "open_session",
		Description: "Open a storefront session, optionally signed in with a customer token.",
	}, h.mcpOpenSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sign_in",
		Description: "Sign an existing session in with a customer token.",
	}, h.mcpSignIn)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the session's cart, creating it on first use.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product variant to the cart. Adding a variant already in the cart increases its quantity.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_quantity",
		Description: "Set the quantity of a cart line. Zero removes the line.",
	}, h.mcpSetQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_cart",
		Description: "Replace the whole basket. Requires full state: lines not listed are removed.",
	}, h.mcpSetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_checkout",
		Description: "Start checkout for a signed-in session and return the current step.",
	}, h.mcpStartCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_address",
		Description: "Set the shipping (and billing) address and load shipping options.",
	}, h.mcpSelectAddress)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_shipping_option",
		Description: "Choose one of the shipping options offered for the cart.",
	}, h.mcpSelectShipping)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_payment_provider",
		Description: "Choose the payment provider used when the order is placed.",
	}, h.mcpSelectPayment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "place_order",
		Description: "Place the order. Only one placement per session runs at a time.",
	}, h.mcpPlaceOrder)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpOpenSession(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input OpenSessionInput,
) (*mcp.CallToolResult, *SessionView, error) {
	id := engine.NewID()
	e, err := h.registry.Acquire(id)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	if input.Token != "" {
		if _, err := e.SignIn(ctx, input.Token); err != nil {
			h.registry.Remove(id)
			return nil, nil, h.mcpError(model.NewUnauthorizedError("invalid token"))
		}
	}
	return nil, sessionView(e), nil
}

func (h *Handler) mcpSignIn(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SignInInput,
) (*mcp.CallToolResult, *SessionView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.SignIn(ctx, input.Token); err != nil {
		return nil, nil, h.mcpError(model.NewUnauthorizedError("invalid token"))
	}
	return nil, sessionView(e), nil
}

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SessionInput,
) (*mcp.CallToolResult, *CartView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.Cart.Ensure(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartView(e), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if input.VariantID == "" {
		return nil, nil, fmt.Errorf("variant_id is required")
	}
	if input.Quantity == 0 {
		input.Quantity = 1
	}

	if _, err := e.Cart.AddLineItem(ctx, cart.AddLineItem{
		VariantID: input.VariantID,
		Quantity:  input.Quantity,
		Metadata:  input.Metadata,
	}); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartView(e), nil
}

func (h *Handler) mcpSetQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetQuantityInput,
) (*mcp.CallToolResult, *CartView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if input.LineID == "" {
		return nil, nil, fmt.Errorf("line_id is required")
	}

	if _, err := e.Cart.SetQuantity(ctx, input.LineID, input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartView(e), nil
}

func (h *Handler) mcpSetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}

	items := make([]lineItemRequest, 0, len(input.Items))
	for _, it := range input.Items {
		items = append(items, lineItemRequest(it))
	}
	if _, err := e.Cart.Replace(ctx, desiredItems(items)); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, cartView(e), nil
}

func (h *Handler) mcpStartCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SessionInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Checkout.Start(ctx); err != nil && !errors.Is(err, checkout.ErrCartEmpty) {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkoutView(e), nil
}

func (h *Handler) mcpSelectAddress(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectAddressInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Checkout.SelectAddress(ctx, input.ShippingAddress, input.BillingAddress); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkoutView(e), nil
}

func (h *Handler) mcpSelectShipping(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectShippingInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if input.OptionID == "" {
		return nil, nil, fmt.Errorf("option_id is required")
	}
	if err := e.Checkout.SelectShippingOption(ctx, input.OptionID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkoutView(e), nil
}

func (h *Handler) mcpSelectPayment(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectPaymentInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Checkout.SelectPaymentProvider(input.ProviderID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, checkoutView(e), nil
}

func (h *Handler) mcpPlaceOrder(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PlaceOrderInput,
) (*mcp.CallToolResult, *model.OrderSummary, error) {
	e, err := h.mcpEngine(input.SessionID)
	if err != nil {
		return nil, nil, err
	}

	if input.IdempotencyKey != "" {
		if summary, ok := lookupIdempotent(ctx, e.Storage, input.IdempotencyKey); ok {
			return nil, summary, nil
		}
	}

	summary, err := e.Checkout.PlaceOrder(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	if input.IdempotencyKey != "" {
		if err := storeIdempotent(ctx, e.Storage, input.IdempotencyKey, summary); err != nil {
			h.logger.Warn("storing idempotent result failed", "error", err.Error())
		}
	}
	return nil, summary, nil
}

// mcpEngine resolves the session named by id.
func (h *Handler) mcpEngine(id string) (*engine.Engine, error) {
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	e, err := h.registry.Acquire(id)
	if err != nil {
		return nil, h.mcpError(model.NewValidationError("session_id", err.Error()))
	}
	return e, nil
}

// mcpError converts engine errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	if apiErr.Code == model.CodeInternal {
		// Don't leak internal error details
		return fmt.Errorf("internal error")
	}
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}
