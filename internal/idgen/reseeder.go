package idgen

import (
	"context"
	"log/slog"
	"time"
)

const DefaultReseedInterval = time.Hour

// Reseeder rekeys a generator on a fixed interval.
type Reseeder struct {
	gen      *Generator
	interval time.Duration
	logger   *slog.Logger
	onResult func(err error)
}

type Option func(*Reseeder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reseeder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResultHook is called after each attempt, e.g. to record metrics.
func WithResultHook(fn func(err error)) Option {
	return func(r *Reseeder) {
		r.onResult = fn
	}
}

func NewReseeder(gen *Generator, interval time.Duration, opts ...Option) *Reseeder {
	if interval <= 0 {
		interval = DefaultReseedInterval
	}
	r := &Reseeder{gen: gen, interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is done. A failed reseed is logged and retried on the
// next tick; the generator keeps its previous key meanwhile.
func (r *Reseeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := r.gen.Reseed(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "identifier reseed failed", "error", err)
			} else {
				r.logger.DebugContext(ctx, "identifier generator reseeded")
			}
			if r.onResult != nil {
				r.onResult(err)
			}
		}
	}
}
