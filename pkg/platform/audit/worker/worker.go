package worker

import (
	"context"
	"log/slog"
	"time"

	audit "emrvault/pkg/platform/audit"
)

// Source is where the worker pulls pending events from.
type Source interface {
	DequeueBatch(n int) []audit.Event
}

// Worker drains a Source into a Sink on a fixed tick.
type Worker struct {
	source    Source
	sink      audit.Sink
	batchSize int
	interval  time.Duration
	breaker   *circuitBreaker
	logger    *slog.Logger
	onWritten func(n int)
	onDropped func(n int)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithCircuitBreaker opens after threshold consecutive sink failures and
// stays open for cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(w *Worker) {
		w.breaker = newCircuitBreaker(threshold, cooldown)
	}
}

// WithHooks reports written and dropped event counts, e.g. to metrics.
func WithHooks(written, dropped func(n int)) Option {
	return func(w *Worker) {
		w.onWritten = written
		w.onDropped = dropped
	}
}

func NewWorker(source Source, sink audit.Sink, opts ...Option) *Worker {
	w := &Worker{
		source:    source,
		sink:      sink,
		batchSize: 100,
		interval:  250 * time.Millisecond,
		breaker:   newCircuitBreaker(5, time.Minute),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains until ctx is done, then makes one last pass with a short
// deadline so buffered events are not lost on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.Drain(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain writes batches until the source is empty or a write fails.
func (w *Worker) Drain(ctx context.Context) {
	for {
		batch := w.source.DequeueBatch(w.batchSize)
		if len(batch) == 0 {
			return
		}
		if !w.breaker.allow() {
			w.dropped(batch)
			continue
		}
		if err := w.sink.Write(ctx, batch); err != nil {
			w.dropped(batch)
			opened := w.breaker.recordFailure()
			w.logger.WarnContext(ctx, "audit sink write failed",
				"events", len(batch),
				"circuit_opened", opened,
				"error", err,
			)
			return
		}
		w.breaker.recordSuccess()
		if w.onWritten != nil {
			w.onWritten(len(batch))
		}
	}
}

func (w *Worker) dropped(batch []audit.Event) {
	if w.onDropped != nil {
		w.onDropped(len(batch))
	}
}
