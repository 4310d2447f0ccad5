package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// sessionHeader matches the storefront's session header.
const sessionHeader = "X-Session-ID"

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray = "", "", ""
}

// apiError is a non-2xx response from the storefront.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// apiClient talks to the storefront REST API on one session.
type apiClient struct {
	baseURL string
	session string
	http    *http.Client
	out     io.Writer
	quiet   bool
	verbose bool
}

// do sends a JSON request and decodes the JSON response into a map.
// It returns the response headers so callers can read the issued session.
func (c *apiClient) do(method, path string, body any, headers ...string) (map[string]any, http.Header, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(c.baseURL, "/")+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.Header.Set(sessionHeader, c.session)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	if c.verbose {
		c.printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	if c.verbose {
		c.printResponse(resp.StatusCode, respBody, duration)
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, resp.Header, fmt.Errorf("parsing response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if e, ok := result["error"].(map[string]any); ok {
			apiErr.Code, _ = e["code"].(string)
			apiErr.Message, _ = e["message"].(string)
		}
		return result, resp.Header, apiErr
	}
	return result, resp.Header, nil
}

func (c *apiClient) printRequest(method, path string, body []byte) {
	fmt.Fprintf(c.out, "%s→ %s %s%s\n", colorBlue, method, path, colorReset)
	if len(body) > 0 {
		c.printJSON(body, "  ")
	}
}

func (c *apiClient) printResponse(status int, body []byte, duration time.Duration) {
	color := colorGreen
	if status >= 400 {
		color = colorRed
	}
	fmt.Fprintf(c.out, "%s← %d%s %s(%s)%s\n", color, status, colorReset, colorGray, duration.Round(time.Millisecond), colorReset)
	c.printJSON(body, "  ")
}

func (c *apiClient) printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Fprintf(c.out, "%s%s\n", prefix, string(data))
		return
	}
	fmt.Fprintln(c.out, prefix+pretty.String())
}

func (c *apiClient) success(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
}

func (c *apiClient) info(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s%s%s\n", colorCyan, fmt.Sprintf(format, args...), colorReset)
}

func (c *apiClient) warn(format string, args ...any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s! %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

// printCart renders a CartView response.
func (c *apiClient) printCart(view map[string]any) {
	if c.quiet {
		return
	}
	cart, _ := view["cart"].(map[string]any)
	items, _ := cart["items"].([]any)
	currency, _ := cart["currency_code"].(string)
	if len(items) == 0 {
		c.info("Cart is empty")
		return
	}

	for _, raw := range items {
		item, _ := raw.(map[string]any)
		fmt.Fprintf(c.out, "  %s%-12v%s %-24v x%v  %s\n",
			colorGray, item["id"], colorReset,
			firstString(item, "title", "variant_id"),
			item["quantity"],
			formatCents(item["subtotal"], currency))
	}

	totals, _ := view["totals"].(map[string]any)
	fmt.Fprintf(c.out, "  %sItems: %v  Total: %s%s\n", colorCyan, view["item_count"], formatCents(totals["total"], currency), colorReset)
}

// printCheckout renders a CheckoutView response.
func (c *apiClient) printCheckout(view map[string]any) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "  State: %s%v%s\n", colorCyan, view["state"], colorReset)
	if opts, ok := view["shipping_options"].([]any); ok && len(opts) > 0 {
		fmt.Fprintln(c.out, "  Shipping options:")
		for _, raw := range opts {
			opt, _ := raw.(map[string]any)
			fmt.Fprintf(c.out, "    %-16v %-20v %s\n", opt["id"], opt["name"], formatCents(opt["amount"], ""))
		}
	}
	if msg, ok := view["error"].(string); ok && msg != "" {
		fmt.Fprintf(c.out, "  %sError: %s%s\n", colorRed, msg, colorReset)
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// formatCents renders a minor-unit amount decoded from JSON.
func formatCents(v any, currency string) string {
	f, ok := v.(float64)
	if !ok {
		return "-"
	}
	s := fmt.Sprintf("%.2f", f/100)
	if currency != "" {
		s += " " + strings.ToUpper(currency)
	}
	return s
}
