package handler

import (
	"context"
	"time"

	"github.com/dunglas/httpsfv"

	"storefront-cart/internal/model"
	"storefront-cart/internal/storage"
)

// IdempotencyKeyHeader carries the client's retry key for order placement.
// The value is an RFC 8941 string item, e.g. Idempotency-Key: "8e03978e-40d5".
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	idempotencyPrefix = "idempotency:"
	idempotencyTTL    = 24 * time.Hour
	maxIdempotencyKey = 255
)

// parseIdempotencyKey returns the key from the header value, or "" when absent.
func parseIdempotencyKey(header string) (string, error) {
	if header == "" {
		return "", nil
	}

	item, err := httpsfv.UnmarshalItem([]string{header})
	if err != nil {
		return "", model.NewValidationError(IdempotencyKeyHeader, "must be a structured field string")
	}
	key, ok := item.Value.(string)
	if !ok || key == "" {
		return "", model.NewValidationError(IdempotencyKeyHeader, "must be a non-empty string")
	}
	if len(key) > maxIdempotencyKey {
		return "", model.NewValidationError(IdempotencyKeyHeader, "is too long")
	}
	return key, nil
}

// lookupIdempotent returns the order previously placed under key.
func lookupIdempotent(ctx context.Context, s storage.Store, key string) (*model.OrderSummary, bool) {
	summary, err := storage.GetJSON[model.OrderSummary](ctx, s, idempotencyPrefix+key)
	if err != nil {
		return nil, false
	}
	return summary, true
}

func storeIdempotent(ctx context.Context, s storage.Store, key string, summary *model.OrderSummary) error {
	return storage.SetJSON(ctx, s, idempotencyPrefix+key, summary, idempotencyTTL)
}
