package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrConflict       = errors.New("conflict")
)

// Error codes carried in APIError.Code and in JSON error bodies.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeBackend      = "BACKEND_ERROR"
	CodePayment      = "PAYMENT_ERROR"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
)

// GenericFailureMessage is shown when an error carries no backend-provided message.
const GenericFailureMessage = "Something went wrong. Please try again."

// APIError is a failure from the commerce backend or the engine, shaped for
// both shoppers (Message) and HTTP callers (Code, StatusCode).
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func newAPIError(code string, status int, message string, err error) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: status, Err: err}
}

// NewNotFoundError reports a missing resource such as a line or an order.
func NewNotFoundError(resource string) *APIError {
	return newAPIError(CodeNotFound, http.StatusNotFound, resource+" not found", ErrNotFound)
}

// NewValidationError reports bad input on field.
func NewValidationError(field, reason string) *APIError {
	return newAPIError(CodeValidation, http.StatusBadRequest,
		fmt.Sprintf("invalid %s: %s", field, reason), ErrInvalidRequest)
}

// NewUnauthorizedError reports a missing or rejected customer token.
func NewUnauthorizedError(reason string) *APIError {
	return newAPIError(CodeUnauthorized, http.StatusUnauthorized, reason, ErrUnauthorized)
}

// NewUpstreamError wraps a transport-level failure talking to service.
func NewUpstreamError(service string, err error) *APIError {
	return newAPIError(CodeUpstream, http.StatusBadGateway,
		service+" request failed", fmt.Errorf("%w: %v", ErrUpstreamError, err))
}

// NewBackendError keeps the backend's own message so it can be shown as-is.
func NewBackendError(statusCode int, message string) *APIError {
	return newAPIError(CodeBackend, statusCode, message, ErrUpstreamError)
}

func NewPaymentError(reason string) *APIError {
	return newAPIError(CodePayment, http.StatusPaymentRequired, reason, ErrPaymentFailed)
}

// NewConflictError reports an operation the current cart or checkout state rejects.
func NewConflictError(reason string) *APIError {
	return newAPIError(CodeConflict, http.StatusConflict, reason, ErrConflict)
}

// NewInternalError hides err behind a generic message.
func NewInternalError(err error) *APIError {
	return newAPIError(CodeInternal, http.StatusInternalServerError, "an internal error occurred", err)
}

func NewRateLimitError(service string) *APIError {
	return newAPIError(CodeRateLimited, http.StatusTooManyRequests,
		service+" rate limit exceeded, please retry later", ErrRateLimited)
}

// UserMessage returns the text a shopper should see for err.
// Backend-provided messages win; anything else gets the generic fallback.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return GenericFailureMessage
}
