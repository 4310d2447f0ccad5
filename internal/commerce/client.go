package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/model"
	"storefront-cart/internal/transport"
)

const (
	defaultBasePath = "/store"
	defaultTimeout  = 30 * time.Second
	userAgent       = "storefront-cart/1.0"

	// serviceName appears in upstream error messages.
	serviceName = "commerce backend"
)

// Config holds commerce backend client configuration.
type Config struct {
	BaseURL        string
	BasePath       string // Default: /store
	PublishableKey string

	// ChromeTLS dials the backend with a browser TLS fingerprint (see internal/transport).
	ChromeTLS bool
	Timeout   time.Duration

	// RequestsPerSecond caps outbound calls across all sessions. Zero disables the limiter.
	RequestsPerSecond float64

	// HTTPClient overrides the constructed client (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements adapter.Backend against the backend's store REST API.
// A Client is shared; per-session copies carrying a bearer token come from ForSession.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	publishableKey string
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker[*rawResponse]
	tokens         adapter.TokenSource
	logger         *slog.Logger
}

// rawResponse is what passes through the circuit breaker; decoding happens outside it.
type rawResponse struct {
	status int
	body   []byte
}

// errServerStatus marks 5xx responses so the breaker counts them as failures.
var errServerStatus = errors.New("server error status")

// New creates a backend client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", cfg.BaseURL)
	}

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
		if cfg.ChromeTLS {
			httpClient.Transport = transport.New(transport.Options{Timeout: timeout, Logger: logger})
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	breaker := gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/") + "/" + strings.Trim(basePath, "/"),
		publishableKey: cfg.PublishableKey,
		limiter:        limiter,
		breaker:        breaker,
		logger:         logger,
	}, nil
}

// ForSession returns a copy of the client that authenticates with ts.
// The copy shares the HTTP client, limiter and breaker with c.
func (c *Client) ForSession(ts adapter.TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// === Carts ===

// CreateCart creates an empty cart.
func (c *Client) CreateCart(ctx context.Context, req *adapter.CreateCartRequest) (*model.Cart, error) {
	body := createCartBody{}
	if req != nil {
		body.RegionID = req.RegionID
		body.Email = req.Email
	}
	return c.cartCall(ctx, http.MethodPost, "/carts", body)
}

// GetCart returns the cart as the backend currently sees it.
func (c *Client) GetCart(ctx context.Context, cartID string) (*model.Cart, error) {
	return c.cartCall(ctx, http.MethodGet, "/carts/"+url.PathEscape(cartID), nil)
}

// UpdateCart sets email and addresses. Nil fields are not sent.
func (c *Client) UpdateCart(ctx context.Context, cartID string, req *adapter.CartUpdate) (*model.Cart, error) {
	body := updateCartBody{Email: req.Email}
	if req.ShippingAddress != nil {
		body.ShippingAddress = cartAddressToWire(req.ShippingAddress)
	}
	if req.BillingAddress != nil {
		body.BillingAddress = cartAddressToWire(req.BillingAddress)
	}
	return c.cartCall(ctx, http.MethodPost, "/carts/"+url.PathEscape(cartID), body)
}

// AddLineItem adds a variant to the cart.
func (c *Client) AddLineItem(ctx context.Context, cartID string, req *adapter.LineItemInput) (*model.Cart, error) {
	body := addLineItemBody{
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		Metadata:  req.Metadata,
	}
	return c.cartCall(ctx, http.MethodPost, "/carts/"+url.PathEscape(cartID)+"/line-items", body)
}

// UpdateLineItem changes the quantity or metadata of an existing line.
func (c *Client) UpdateLineItem(ctx context.Context, cartID, lineID string, req *adapter.LineItemUpdate) (*model.Cart, error) {
	if req.Quantity < 1 {
		return nil, model.NewValidationError("quantity", "must be at least 1")
	}
	body := updateLineItemBody{
		Quantity: req.Quantity,
		Metadata: req.Metadata,
	}
	path := "/carts/" + url.PathEscape(cartID) + "/line-items/" + url.PathEscape(lineID)
	return c.cartCall(ctx, http.MethodPost, path, body)
}

// DeleteLineItem removes a line. The response carries no usable cart.
func (c *Client) DeleteLineItem(ctx context.Context, cartID, lineID string) error {
	path := "/carts/" + url.PathEscape(cartID) + "/line-items/" + url.PathEscape(lineID)
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// === Addresses ===

// ListAddresses returns the signed-in customer's saved addresses.
func (c *Client) ListAddresses(ctx context.Context) ([]model.Address, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/customers/me/addresses", nil)
	if err != nil {
		return nil, err
	}

	var resp addressListEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	addrs := make([]model.Address, 0, len(resp.Addresses))
	for i := range resp.Addresses {
		addrs = append(addrs, AddressToModel(&resp.Addresses[i]))
	}
	return addrs, nil
}

// CreateAddress saves a new address to the customer's address book.
func (c *Client) CreateAddress(ctx context.Context, addr *model.Address) (*model.Address, error) {
	return c.addressCall(ctx, "/customers/me/addresses", addr)
}

// UpdateAddress overwrites a saved address.
func (c *Client) UpdateAddress(ctx context.Context, addressID string, addr *model.Address) (*model.Address, error) {
	return c.addressCall(ctx, "/customers/me/addresses/"+url.PathEscape(addressID), addr)
}

func (c *Client) addressCall(ctx context.Context, path string, addr *model.Address) (*model.Address, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, AddressToWire(addr))
	if err != nil {
		return nil, err
	}

	var resp addressEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Address == nil {
		return nil, model.NewUpstreamError(serviceName, fmt.Errorf("response has no address"))
	}

	saved := AddressToModel(resp.Address)
	return &saved, nil
}

// === Checkout ===

// ListShippingOptions returns the options available for the cart's shipping address.
func (c *Client) ListShippingOptions(ctx context.Context, cartID string) ([]model.ShippingOption, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/shipping-options?cart_id="+url.QueryEscape(cartID), nil)
	if err != nil {
		return nil, err
	}

	var resp shippingOptionsEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	opts := make([]model.ShippingOption, 0, len(resp.ShippingOptions))
	for _, o := range resp.ShippingOptions {
		opts = append(opts, shippingOptionToModel(o))
	}
	return opts, nil
}

// AddShippingMethod binds a shipping option to the cart.
func (c *Client) AddShippingMethod(ctx context.Context, cartID, optionID string) (*model.Cart, error) {
	body := addShippingMethodBody{OptionID: optionID}
	return c.cartCall(ctx, http.MethodPost, "/carts/"+url.PathEscape(cartID)+"/shipping-methods", body)
}

// ListPaymentProviders returns the payment providers enabled for a region.
func (c *Client) ListPaymentProviders(ctx context.Context, regionID string) ([]model.PaymentProvider, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/payment-providers?region_id="+url.QueryEscape(regionID), nil)
	if err != nil {
		return nil, err
	}

	var resp paymentProvidersEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	providers := make([]model.PaymentProvider, 0, len(resp.PaymentProviders))
	for _, p := range resp.PaymentProviders {
		providers = append(providers, model.PaymentProvider{ID: p.ID})
	}
	return providers, nil
}

// CreatePaymentCollection creates the payment collection for a cart.
func (c *Client) CreatePaymentCollection(ctx context.Context, cartID string) (*model.PaymentCollection, error) {
	return c.paymentCollectionCall(ctx, "/payment-collections", createPaymentCollectionBody{CartID: cartID})
}

// InitPaymentSession starts a payment session with the chosen provider.
func (c *Client) InitPaymentSession(ctx context.Context, collectionID, providerID string) (*model.PaymentCollection, error) {
	path := "/payment-collections/" + url.PathEscape(collectionID) + "/payment-sessions"
	return c.paymentCollectionCall(ctx, path, initPaymentSessionBody{ProviderID: providerID})
}

func (c *Client) paymentCollectionCall(ctx context.Context, path string, body any) (*model.PaymentCollection, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp paymentCollectionEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentCollection == nil {
		return nil, model.NewUpstreamError(serviceName, fmt.Errorf("response has no payment collection"))
	}
	return paymentCollectionToModel(resp.PaymentCollection), nil
}

// CompleteCart places the order.
// A 200 response of type "cart" means the backend refused to complete, usually
// because payment was not authorized; it is reported as a payment error.
func (c *Client) CompleteCart(ctx context.Context, cartID string) (*model.Order, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/carts/"+url.PathEscape(cartID)+"/complete", nil)
	if err != nil {
		return nil, err
	}

	var resp completeEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	switch {
	case resp.Type == "order" && resp.Order != nil:
		return orderToModel(resp.Order), nil
	case resp.Type == "cart":
		msg := "payment could not be completed"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		return nil, model.NewPaymentError(msg)
	default:
		return nil, model.NewUpstreamError(serviceName, fmt.Errorf("unexpected completion type %q", resp.Type))
	}
}

// === HTTP helpers ===

func (c *Client) cartCall(ctx context.Context, method, path string, body any) (*model.Cart, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	var resp cartEnvelope
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Cart == nil {
		return nil, model.NewUpstreamError(serviceName, fmt.Errorf("response has no cart"))
	}
	return CartToModel(resp.Cart), nil
}

// newRequest creates an HTTP request with the session token and store headers.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.publishableKey != "" {
		req.Header.Set("x-publishable-api-key", c.publishableKey)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// do executes the request through the limiter and breaker and decodes the response.
func (c *Client) do(req *http.Request, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return model.NewRateLimitError(serviceName)
		}
	}

	raw, err := c.breaker.Execute(func() (*rawResponse, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		raw := &rawResponse{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 {
			return raw, errServerStatus
		}
		return raw, nil
	})

	if err != nil && !errors.Is(err, errServerStatus) {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("backend call rejected by circuit breaker",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path))
		}
		return model.NewUpstreamError(serviceName, err)
	}

	if raw.status >= 400 {
		c.logger.Debug("backend error response",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", raw.status))
		return parseError(raw.status, raw.body)
	}

	if result != nil && len(raw.body) > 0 {
		if err := json.Unmarshal(raw.body, result); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}

	return nil
}

// parseError converts backend error responses to model.APIError.
// 4xx bodies usually carry a message fit for the shopper; it is passed through.
func parseError(statusCode int, body []byte) error {
	var wireErr wireError
	json.Unmarshal(body, &wireErr) // Best effort parse

	msg := wireErr.Message

	switch statusCode {
	case http.StatusUnauthorized:
		return model.NewUnauthorizedError("session expired")
	case http.StatusForbidden:
		// The session is valid but lacks access to this resource; it is kept.
		if msg == "" {
			msg = "you do not have access to this resource"
		}
		return model.NewBackendError(statusCode, msg)
	case http.StatusNotFound:
		return model.NewNotFoundError("resource")
	case http.StatusTooManyRequests:
		return model.NewRateLimitError(serviceName)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = model.GenericFailureMessage
		}
		return model.NewBackendError(statusCode, msg)
	default:
		return model.NewUpstreamError(serviceName, fmt.Errorf("status %d: %s", statusCode, msg))
	}
}

// Verify Client implements Backend interface at compile time.
var _ adapter.Backend = (*Client)(nil)
