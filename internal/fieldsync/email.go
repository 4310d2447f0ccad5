package fieldsync

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"storefront-cart/internal/cart"
	"storefront-cart/internal/debounce"
	"storefront-cart/internal/model"
)

// FieldEmail is the debounce key of the cart email synchronizer.
const FieldEmail = "email"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail accepts addresses of the form local@domain.tld.
func ValidateEmail(v string) error {
	if !emailPattern.MatchString(strings.TrimSpace(v)) {
		return model.NewValidationError("email", "enter a valid email address")
	}
	return nil
}

// NewEmail binds the cart's contact email. Write failures stay on the field;
// the cart store is asked not to publish them.
func NewEmail(group *debounce.Group, store *cart.Store, logger *slog.Logger) *Synchronizer[string] {
	return New(Config[string]{
		Field:    FieldEmail,
		Group:    group,
		Validate: ValidateEmail,
		Load: func(ctx context.Context) (string, error) {
			c, err := store.Ensure(ctx)
			if err != nil {
				return "", err
			}
			return c.Email, nil
		},
		Save: func(ctx context.Context, v string) error {
			_, err := store.SetEmail(ctx, strings.TrimSpace(v), cart.Silent())
			return err
		},
		Logger: logger,
	})
}
