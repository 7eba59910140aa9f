// Package buffered provides a non-blocking audit emitter. Events wait in a
// ring buffer until a worker drains them into a sink; under sustained
// backpressure the oldest are dropped.
package buffered

import (
	"context"
	"log/slog"

	audit "emrvault/pkg/platform/audit"
)

type Publisher struct {
	buffer *RingBuffer
	logger *slog.Logger
	onDrop func()
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithDropHook is called once per dropped event, e.g. to count drops.
func WithDropHook(fn func()) Option {
	return func(p *Publisher) {
		p.onDrop = fn
	}
}

func New(capacity int, opts ...Option) *Publisher {
	p := &Publisher{buffer: NewRingBuffer(capacity)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit never blocks.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) {
	if !p.buffer.Enqueue(event) {
		return
	}
	if p.onDrop != nil {
		p.onDrop()
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "audit buffer full, dropped oldest event",
			"dropped_total", p.buffer.Dropped(),
		)
	}
}

// DequeueBatch hands up to n buffered events to a worker.
func (p *Publisher) DequeueBatch(n int) []audit.Event {
	return p.buffer.DequeueBatch(n)
}

func (p *Publisher) Pending() int { return p.buffer.Len() }
