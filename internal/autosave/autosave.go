// Package autosave writes the address a first-time customer is typing into
// their address book without an explicit save.
//
// The saver only runs for customers with no saved addresses who have opted
// in. Incomplete addresses are dropped silently; the first complete one is
// created as the default address and later edits update that same address.
// Every saved address is applied to the cart as shipping and billing.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/cart"
	"storefront-cart/internal/debounce"
	"storefront-cart/internal/fieldsync"
	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/storage"
)

// FieldAddress is the debounce key of the auto-save synchronizer.
const FieldAddress = "address"

const noticeSource = "address"

// Config wires a Saver.
type Config struct {
	Group   *debounce.Group
	Backend adapter.Addresses
	Cart    *cart.Store
	Storage storage.Store
	Notices *notify.Bus
	Logger  *slog.Logger

	// OnApplied runs after a saved address has been bound to the cart.
	OnApplied func(ctx context.Context, c *model.Cart)
}

// Saver is the address auto-save flow for one session.
//
// Thread-safety: all methods are safe for concurrent use.
type Saver struct {
	cfg    Config
	logger *slog.Logger
	sync   *fieldsync.Synchronizer[model.Address]

	// saveMu holds a save from the create-or-update decision until the
	// address is applied to the cart.
	saveMu sync.Mutex

	mu      sync.Mutex
	active  bool
	savedID string
	epoch   uint64 // bumped by Reset
}

// New creates an inactive saver. Call Start to decide whether it runs.
func New(cfg Config) *Saver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Saver{cfg: cfg, logger: logger}
	s.sync = fieldsync.New(fieldsync.Config[model.Address]{
		Field:    FieldAddress,
		Group:    cfg.Group,
		Validate: validate,
		Save:     s.save,
		Logger:   logger,
	})
	return s
}

// validate drops incomplete addresses without an error.
func validate(a model.Address) error {
	if !a.IsComplete() {
		return fieldsync.ErrSkip
	}
	return nil
}

// OptIn records the customer's consent to auto-save. Set by an explicit save action.
func (s *Saver) OptIn(ctx context.Context) error {
	if err := s.cfg.Storage.Set(ctx, storage.KeyAutosaveConsent, "1", 0); err != nil {
		return fmt.Errorf("storing auto-save consent: %w", err)
	}
	return nil
}

// Consented reports whether the customer has opted in.
func (s *Saver) Consented(ctx context.Context) bool {
	_, err := s.cfg.Storage.Get(ctx, storage.KeyAutosaveConsent)
	return err == nil
}

// Start activates the saver when the address book is empty and the customer
// has opted in. It reports whether the saver is active.
func (s *Saver) Start(ctx context.Context) (bool, error) {
	s.Reset()
	if !s.Consented(ctx) {
		s.setActive(false)
		return false, nil
	}

	addrs, err := s.cfg.Backend.ListAddresses(ctx)
	if err != nil {
		s.setActive(false)
		return false, err
	}

	active := len(addrs) == 0
	s.setActive(active)
	s.logger.Debug("address auto-save evaluated", slog.Bool("active", active), slog.Int("saved_addresses", len(addrs)))
	return active, nil
}

func (s *Saver) setActive(v bool) {
	s.mu.Lock()
	s.active = v
	s.mu.Unlock()
}

// Reset forgets the auto-saved address and drops pending edits. Called when
// the customer signs out or the backend rejects the session; the next
// complete address is created anew.
func (s *Saver) Reset() {
	s.mu.Lock()
	s.active = false
	s.savedID = ""
	s.epoch++
	s.mu.Unlock()

	s.sync.Reset()
}

// Active reports whether edits are being auto-saved.
func (s *Saver) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Change records an edit of the address form. Ignored while inactive.
func (s *Saver) Change(a model.Address) {
	if !s.Active() {
		return
	}
	s.sync.Change(a)
}

// save creates the address on the first complete tick and updates it after.
func (s *Saver) save(ctx context.Context, a model.Address) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	id := s.savedID
	epoch := s.epoch
	s.mu.Unlock()

	a.IsDefault = true
	var (
		saved *model.Address
		err   error
	)
	if id == "" {
		saved, err = s.cfg.Backend.CreateAddress(ctx, &a)
	} else {
		saved, err = s.cfg.Backend.UpdateAddress(ctx, id, &a)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.cfg.Notices.Error(noticeSource, model.UserMessage(err))
		}
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("dropping address saved for a previous customer", slog.String("address_id", saved.ID))
		return fieldsync.ErrSkip
	}
	s.savedID = saved.ID
	s.mu.Unlock()

	// No success notice: this flow is invisible to the customer.
	c, err := s.cfg.Cart.SetAddresses(ctx, saved, nil)
	if err != nil {
		return err
	}
	if s.cfg.OnApplied != nil {
		s.cfg.OnApplied(ctx, c)
	}
	return nil
}

// SavedID returns the ID of the auto-saved address, or "" before the first save.
func (s *Saver) SavedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedID
}

// Err returns the last write error.
func (s *Saver) Err() error { return s.sync.Err() }

// Pending reports whether an edit is waiting to be saved.
func (s *Saver) Pending() bool { return s.sync.Pending() }

// Flush saves a pending edit now.
func (s *Saver) Flush() bool { return s.sync.Flush() }

// Close stops the saver. Pending edits are dropped.
func (s *Saver) Close() {
	s.setActive(false)
	s.sync.Close()
}
