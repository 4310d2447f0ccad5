// Package handler exposes the storefront engine over HTTP: a REST API for the
// browser front end and MCP tools for agents.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront-cart/internal/checkout"
	"storefront-cart/internal/engine"
	"storefront-cart/internal/middleware"
	"storefront-cart/internal/model"
	"storefront-cart/internal/session"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	registry *engine.Registry
	logger   *slog.Logger
}

// New creates a new Handler serving the sessions kept by registry.
func New(registry *engine.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Session routes expect the middleware.Session middleware in front of the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("POST /session", h.handleSignIn)
	mux.HandleFunc("DELETE /session", h.handleSignOut)

	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/line-items", h.handleAddLineItem)
	mux.HandleFunc("PUT /cart/line-items", h.handleReplaceLineItems)
	mux.HandleFunc("POST /cart/line-items/{id}", h.handleUpdateLineItem)
	mux.HandleFunc("DELETE /cart/line-items/{id}", h.handleDeleteLineItem)

	// Debounced drafts
	mux.HandleFunc("PUT /cart/draft/email", h.handleDraftEmail)
	mux.HandleFunc("PUT /cart/draft/address", h.handleDraftAddress)
	mux.HandleFunc("POST /address-book/autosave", h.handleAutosaveOptIn)

	// Checkout
	mux.HandleFunc("POST /checkout", h.handleStartCheckout)
	mux.HandleFunc("GET /checkout", h.handleGetCheckout)
	mux.HandleFunc("POST /checkout/address", h.handleSelectAddress)
	mux.HandleFunc("POST /checkout/shipping-method", h.handleSelectShipping)
	mux.HandleFunc("GET /checkout/payment-providers", h.handleListPaymentProviders)
	mux.HandleFunc("POST /checkout/payment-provider", h.handleSelectPaymentProvider)
	mux.HandleFunc("POST /checkout/place-order", h.handlePlaceOrder)
	mux.HandleFunc("GET /orders/last", h.handleLastOrder)

	// Notices
	mux.HandleFunc("GET /notices", h.handleNotices)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// engineFor returns the engine of the request's session.
func (h *Handler) engineFor(r *http.Request) (*engine.Engine, error) {
	id := middleware.SessionID(r.Context())
	if id == "" {
		return nil, model.NewValidationError("session", "session id required")
	}
	e, err := h.registry.Acquire(id)
	if err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	return e, nil
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: h.registry.Len()})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// toAPIError maps engine errors to their HTTP form.
// Uses errors.As() to unwrap error chains (e.g., checkout.StepError).
func (h *Handler) toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return model.NewUnauthorizedError("sign in to continue")
	case errors.Is(err, checkout.ErrSubmissionInProgress):
		return &model.APIError{Code: "SUBMISSION_IN_PROGRESS", Message: "your order is being placed", StatusCode: http.StatusConflict}
	case errors.Is(err, checkout.ErrCartEmpty):
		return &model.APIError{Code: "CART_EMPTY", Message: "your cart is empty", StatusCode: http.StatusConflict}
	case errors.Is(err, checkout.ErrAlreadySubmitted):
		return &model.APIError{Code: "ALREADY_SUBMITTED", Message: "this order has already been placed", StatusCode: http.StatusConflict}
	case errors.As(err, &apiErr):
		return apiErr
	}

	h.logger.Error("internal error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
