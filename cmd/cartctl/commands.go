package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	URL     string
	Session string
	Quiet   bool
	Verbose bool
	NoColor bool
	Timeout time.Duration
}

func (o *rootOptions) client(cmd *cobra.Command) *apiClient {
	return &apiClient{
		baseURL: o.URL,
		session: o.Session,
		http:    &http.Client{Timeout: o.Timeout},
		out:     cmd.OutOrStdout(),
		quiet:   o.Quiet,
		verbose: o.Verbose,
	}
}

// sessionClient is client for commands that act on an existing session.
func (o *rootOptions) sessionClient(cmd *cobra.Command) (*apiClient, error) {
	if o.Session == "" {
		return nil, fmt.Errorf("no session: run `cartctl session new` and pass --session or set CARTCTL_SESSION")
	}
	return o.client(cmd), nil
}

// newRootCommand creates the root command for cartctl.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Drive storefront cart and checkout flows from the terminal",
		Long: `cartctl drives the storefront cart and checkout API one step at a time,
which makes flows easy to script.

Example:
  export CARTCTL_SESSION=$(cartctl session new -q)
  cartctl login "$TOKEN"
  cartctl add variant_01 --qty 2
  cartctl checkout start
  cartctl checkout address --first-name Asha --phone 9999999999 --street "12 MG Road" \
      --city Pune --province MH --postal-code 411001 --country in
  cartctl checkout shipping so_standard
  cartctl checkout pay pp_system_default
  cartctl checkout place`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.NoColor || os.Getenv("NO_COLOR") != "" {
				disableColors()
			}
			if opts.URL == "" {
				return fmt.Errorf("--url is required")
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.URL, "url", envOr("CARTCTL_URL", "http://localhost:8080"), "storefront base URL")
	cmd.PersistentFlags().StringVar(&opts.Session, "session", os.Getenv("CARTCTL_SESSION"), "session ID")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "print only what scripts need")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print requests and responses")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newSessionCommand(opts))
	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newLogoutCommand(opts))
	cmd.AddCommand(newCartCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newQtyCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newSetCommand(opts))
	cmd.AddCommand(newCheckoutCommand(opts))
	cmd.AddCommand(newOrderCommand(opts))
	cmd.AddCommand(newNoticesCommand(opts))

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// === Session ===

func newSessionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage storefront sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Open a new session and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client(cmd)
			c.session = ""
			_, header, err := c.do(http.MethodGet, "/notices", nil)
			if err != nil {
				return err
			}
			id := header.Get(sessionHeader)
			if id == "" {
				return fmt.Errorf("storefront did not issue a session")
			}
			if opts.Quiet {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			c.success("Session %s", id)
			c.info("export CARTCTL_SESSION=%s", id)
			return nil
		},
	})
	return cmd
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Sign the session in with a customer bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sessionClient(cmd)
			if err != nil {
				return err
			}
			resp, _, err := c.do(http.MethodPost, "/session", map[string]string{"token": args[0]})
			if err != nil {
				return err
			}
			c.success("Signed in as %v", resp["user_id"])
			return nil
		},
	}
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and drop the session's cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sessionClient(cmd)
			if err != nil {
				return err
			}
			if _, _, err := c.do(http.MethodDelete, "/session", nil); err != nil {
				return err
			}
			c.success("Signed out")
			return nil
		},
	}
}

// === Cart ===

func newCartCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cart",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cartCall(opts, cmd, http.MethodGet, "/cart", nil, "")
		},
	}
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var qty int
	cmd := &cobra.Command{
		Use:   "add <variant-id>",
		Short: "Add a variant to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"variant_id": args[0], "quantity": qty}
			return cartCall(opts, cmd, http.MethodPost, "/cart/line-items", body, "Added "+args[0])
		},
	}
	cmd.Flags().IntVar(&qty, "qty", 1, "quantity to add")
	return cmd
}

func newQtyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "qty <line-id> <quantity>",
		Short: "Set a line's quantity (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			body := map[string]any{"quantity": qty}
			return cartCall(opts, cmd, http.MethodPost, "/cart/line-items/"+args[0], body, "Updated "+args[0])
		},
	}
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <line-id>",
		Short: "Remove a line from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cartCall(opts, cmd, http.MethodDelete, "/cart/line-items/"+args[0], nil, "Removed "+args[0])
		},
	}
}

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <variant-id>=<qty>...",
		Short: "Replace the basket; variants not listed are removed",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := parseItems(args)
			if err != nil {
				return err
			}
			return cartCall(opts, cmd, http.MethodPut, "/cart/line-items", map[string]any{"items": items}, "Basket replaced")
		},
	}
}

// parseItems reads variant=qty pairs.
func parseItems(args []string) ([]map[string]any, error) {
	items := make([]map[string]any, 0, len(args))
	for _, arg := range args {
		variant, qtyStr, ok := strings.Cut(arg, "=")
		if !ok || variant == "" {
			return nil, fmt.Errorf("invalid item %q: want <variant-id>=<qty>", arg)
		}
		qty, err := strconv.Atoi(qtyStr)
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("invalid quantity in %q", arg)
		}
		items = append(items, map[string]any{"variant_id": variant, "quantity": qty})
	}
	return items, nil
}

func cartCall(opts *rootOptions, cmd *cobra.Command, method, path string, body any, done string) error {
	c, err := opts.sessionClient(cmd)
	if err != nil {
		return err
	}
	view, _, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	if done != "" {
		c.success("%s", done)
	}
	c.printCart(view)
	return nil
}

// === Checkout ===

func newCheckoutCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Walk the checkout steps",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start checkout (requires login)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkoutCall(opts, cmd, http.MethodPost, "/checkout", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current checkout step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkoutCall(opts, cmd, http.MethodGet, "/checkout", nil)
		},
	})

	cmd.AddCommand(newAddressCommand(opts))

	cmd.AddCommand(&cobra.Command{
		Use:   "shipping <option-id>",
		Short: "Choose a shipping option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkoutCall(opts, cmd, http.MethodPost, "/checkout/shipping-method", map[string]string{"option_id": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List payment providers for the cart's region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sessionClient(cmd)
			if err != nil {
				return err
			}
			resp, _, err := c.do(http.MethodGet, "/checkout/payment-providers", nil)
			if err != nil {
				return err
			}
			providers, _ := resp["payment_providers"].([]any)
			for _, raw := range providers {
				p, _ := raw.(map[string]any)
				fmt.Fprintf(cmd.OutOrStdout(), "%v\n", p["id"])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pay <provider-id>",
		Short: "Choose the payment provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkoutCall(opts, cmd, http.MethodPost, "/checkout/payment-provider", map[string]string{"provider_id": args[0]})
		},
	})

	cmd.AddCommand(newPlaceCommand(opts))
	return cmd
}

func newAddressCommand(opts *rootOptions) *cobra.Command {
	addr := map[string]*string{}
	fields := []struct{ flag, key, usage string }{
		{"first-name", "first_name", "first name"},
		{"last-name", "last_name", "last name"},
		{"phone", "phone", "phone number"},
		{"street", "street", "street address"},
		{"landmark", "landmark", "landmark"},
		{"city", "city", "city"},
		{"province", "province", "province or state"},
		{"postal-code", "postal_code", "postal code"},
		{"country", "country_code", "ISO country code"},
	}

	cmd := &cobra.Command{
		Use:   "address",
		Short: "Set the shipping address (billing mirrors it)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shipping := map[string]string{}
			for key, v := range addr {
				if *v != "" {
					shipping[key] = *v
				}
			}
			return checkoutCall(opts, cmd, http.MethodPost, "/checkout/address", map[string]any{"shipping_address": shipping})
		},
	}
	for _, f := range fields {
		addr[f.key] = cmd.Flags().String(f.flag, "", f.usage)
	}
	return cmd
}

func newPlaceCommand(opts *rootOptions) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place the order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sessionClient(cmd)
			if err != nil {
				return err
			}
			var headers []string
			if key != "" {
				// Structured field string item
				headers = []string{"Idempotency-Key", strconv.Quote(key)}
			}
			resp, _, err := c.do(http.MethodPost, "/checkout/place-order", nil, headers...)
			if err != nil {
				if checkout, ok := resp["checkout"].(map[string]any); ok {
					c.printCheckout(checkout)
				}
				return err
			}
			if opts.Quiet {
				fmt.Fprintln(cmd.OutOrStdout(), resp["order_id"])
				return nil
			}
			c.success("Order %v placed (#%v)", resp["order_id"], resp["display_id"])
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "idempotency-key", "", "retry key; a repeated key returns the first order")
	return cmd
}

func checkoutCall(opts *rootOptions, cmd *cobra.Command, method, path string, body any) error {
	c, err := opts.sessionClient(cmd)
	if err != nil {
		return err
	}
	view, _, err := c.do(method, path, body)
	if err != nil {
		if checkout, ok := view["checkout"].(map[string]any); ok {
			c.printCheckout(checkout)
		}
		return err
	}
	c.printCheckout(view)
	return nil
}

// === Orders and notices ===

func newOrderCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect placed orders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "last",
		Short: "Show the last order placed in this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sessionClient(cmd)
			if err != nil {
				return err
			}
			resp, _, err := c.do(http.MethodGet, "/orders/last", nil)
			if err != nil {
				return err
			}
			c.info("Order %v (#%v) %v items, total %s", resp["order_id"], resp["display_id"], resp["item_count"],
				formatCents(resp["total"], firstString(resp, "currency_code")))
			return nil
		},
	})
	return cmd
}

func newNoticesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notices",
		Short: "Drain queued notices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sessionClient(cmd)
			if err != nil {
				return err
			}
			resp, _, err := c.do(http.MethodGet, "/notices", nil)
			if err != nil {
				return err
			}
			notices, _ := resp["notices"].([]any)
			for _, raw := range notices {
				n, _ := raw.(map[string]any)
				switch n["level"] {
				case "error":
					c.warn("%v", n["message"])
				default:
					c.success("%v", n["message"])
				}
			}
			return nil
		},
	}
}
