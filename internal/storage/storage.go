// Package storage is the engine's durable local storage: the cached cart ID,
// the submission lock marker, the auto-save consent flag and the last order
// summary. Values are small strings; JSON helpers cover structured values.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("storage: key not found")

// Well-known keys. They are relative to a session namespace.
const (
	KeyCartID          = "cart_id"
	KeySubmitLock      = "checkout_submitting"
	KeyAutosaveConsent = "address_autosave_consent"
	KeyLastOrder       = "last_order"
)

// Store is a string key/value store with optional expiry.
// A zero ttl means the value does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// namespaced prefixes every key so sessions sharing one backend never collide.
type namespaced struct {
	prefix string
	inner  Store
}

// Namespace returns a view of s whose keys live under ns.
func Namespace(s Store, ns string) Store {
	return &namespaced{prefix: ns + ":", inner: s}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return n.inner.Set(ctx, n.prefix+key, value, ttl)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

// GetJSON decodes the value stored at key into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return &v, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	return s.Set(ctx, key, string(data), ttl)
}
