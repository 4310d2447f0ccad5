package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"storefront-cart/internal/checkout"
	"storefront-cart/internal/engine"
	"storefront-cart/internal/model"
	"storefront-cart/internal/storage"
)

type selectAddressRequest struct {
	ShippingAddress *model.Address `json:"shipping_address"`
	BillingAddress  *model.Address `json:"billing_address,omitempty"`
}

type selectShippingRequest struct {
	OptionID string `json:"option_id"`
}

type selectPaymentRequest struct {
	ProviderID string `json:"provider_id"`
}

// handleStartCheckout opens checkout for the signed-in customer.
// POST /checkout
func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := e.Checkout.Start(r.Context()); err != nil {
		// An empty cart is a state, not a failure: the view tells the client to leave.
		if !errors.Is(err, checkout.ErrCartEmpty) {
			h.writeError(w, err)
			return
		}
	}
	// Pre-fill the email field with what the cart already carries.
	if err := e.Email.Hydrate(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "hydrating email failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, http.StatusOK, checkoutView(e))
}

// handleGetCheckout returns the current checkout step.
// GET /checkout
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkoutView(e))
}

// handleSelectAddress binds shipping (and billing) addresses to the cart.
// POST /checkout/address
func (h *Handler) handleSelectAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req selectAddressRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "selecting checkout address",
		slog.Bool("has_billing", req.BillingAddress != nil),
	)

	if err := e.Checkout.SelectAddress(ctx, req.ShippingAddress, req.BillingAddress); err != nil {
		h.writeCheckoutError(w, e, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkoutView(e))
}

// handleSelectShipping binds a shipping option.
// POST /checkout/shipping-method
func (h *Handler) handleSelectShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req selectShippingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.OptionID == "" {
		h.writeError(w, model.NewValidationError("option_id", "is required"))
		return
	}

	h.logger.InfoContext(ctx, "selecting shipping option", slog.String("option_id", req.OptionID))

	if err := e.Checkout.SelectShippingOption(ctx, req.OptionID); err != nil {
		h.writeCheckoutError(w, e, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkoutView(e))
}

// handleListPaymentProviders lists providers for the cart's region.
// GET /checkout/payment-providers
func (h *Handler) handleListPaymentProviders(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	providers, err := e.Checkout.PaymentProviders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]model.PaymentProvider{"payment_providers": providers})
}

// handleSelectPaymentProvider records the provider used at placement.
// POST /checkout/payment-provider
func (h *Handler) handleSelectPaymentProvider(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req selectPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := e.Checkout.SelectPaymentProvider(req.ProviderID); err != nil {
		h.writeCheckoutError(w, e, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkoutView(e))
}

// handlePlaceOrder places the order. Retries carrying the same Idempotency-Key
// get the stored result instead of a second placement.
// POST /checkout/place-order
func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	key, err := parseIdempotencyKey(r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if key != "" {
		if summary, ok := lookupIdempotent(ctx, e.Storage, key); ok {
			h.logger.InfoContext(ctx, "replaying placed order", slog.String("order_id", summary.OrderID))
			h.writeJSON(w, http.StatusOK, summary)
			return
		}
	}

	h.logger.InfoContext(ctx, "placing order",
		slog.String("provider_id", e.Checkout.PaymentProviderID()),
		slog.Bool("idempotent", key != ""),
	)

	summary, err := e.Checkout.PlaceOrder(ctx)
	if err != nil {
		h.writeCheckoutError(w, e, err)
		return
	}

	if key != "" {
		// The order exists now; record it even if the shopper has gone.
		if err := storeIdempotent(context.WithoutCancel(ctx), e.Storage, key, summary); err != nil {
			h.logger.WarnContext(ctx, "storing idempotent result failed", slog.String("error", err.Error()))
		}
	}
	h.writeJSON(w, http.StatusCreated, summary)
}

// handleLastOrder returns the summary of the last order placed in this session.
// GET /orders/last
func (h *Handler) handleLastOrder(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	summary, err := checkout.LastOrder(r.Context(), e.Storage)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, model.NewNotFoundError("order"))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// checkoutErrorResponse carries the step view next to the error so the
// client can re-render without another round trip.
type checkoutErrorResponse struct {
	Error    errorBody     `json:"error"`
	Step     string        `json:"step,omitempty"`
	Checkout *CheckoutView `json:"checkout"`
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, e *engine.Engine, err error) {
	apiErr := h.toAPIError(err)
	resp := checkoutErrorResponse{
		Error:    errorBody{Code: apiErr.Code, Message: apiErr.Message},
		Checkout: checkoutView(e),
	}
	var stepErr *checkout.StepError
	if errors.As(err, &stepErr) {
		resp.Step = string(stepErr.Step)
	}
	h.writeJSON(w, apiErr.StatusCode, resp)
}
