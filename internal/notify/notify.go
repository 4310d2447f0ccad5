// Package notify carries user-facing outcome notices from the engine to the
// presentation layer. Publishing never blocks the caller.
package notify

import (
	"log/slog"
	"time"
)

// Level is the severity shown to the shopper.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// DefaultCapacity is the queue size used when none is given.
const DefaultCapacity = 64

// Notice is one toast-style message.
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"` // e.g. "cart", "checkout", "address"
	Time    time.Time `json:"time"`
}

// Bus is a bounded notice queue. When full, the oldest notice is dropped.
//
// Thread-safety: safe for concurrent publishers and a single consumer.
type Bus struct {
	ch     chan Notice
	now    func() time.Time
	logger *slog.Logger
}

// New creates a bus holding up to capacity notices.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:     make(chan Notice, capacity),
		now:    time.Now,
		logger: logger,
	}
}

// Publish enqueues n, stamping Time when unset.
func (b *Bus) Publish(n Notice) {
	if n.Time.IsZero() {
		n.Time = b.now()
	}

	for {
		select {
		case b.ch <- n:
			return
		default:
		}

		// Full: drop the oldest and retry.
		select {
		case dropped := <-b.ch:
			b.logger.Debug("notice dropped",
				slog.String("source", dropped.Source),
				slog.String("message", dropped.Message))
		default:
		}
	}
}

// Success publishes a success notice.
func (b *Bus) Success(source, msg string) {
	b.Publish(Notice{Level: LevelSuccess, Source: source, Message: msg})
}

// Error publishes an error notice.
func (b *Bus) Error(source, msg string) {
	b.Publish(Notice{Level: LevelError, Source: source, Message: msg})
}

// C exposes the queue for consumers that block on new notices.
func (b *Bus) C() <-chan Notice { return b.ch }

// Drain returns every queued notice without blocking.
func (b *Bus) Drain() []Notice {
	var out []Notice
	for {
		select {
		case n := <-b.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}
