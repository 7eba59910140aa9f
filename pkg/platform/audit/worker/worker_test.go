package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "emrvault/pkg/platform/audit"
	"emrvault/pkg/platform/audit/publishers/buffered"
	"emrvault/pkg/platform/audit/store/memory"
)

type failingSink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *failingSink) Write(context.Context, []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func fill(p *buffered.Publisher, n int) {
	for i := range n {
		p.Emit(context.Background(), audit.Event{Subject: "s", Offset: uint64(i)})
	}
}

func TestDrainMovesEverything(t *testing.T) {
	pub := buffered.New(100)
	store := memory.NewInMemoryStore()
	written := 0
	w := NewWorker(pub, store, WithBatchSize(3), WithHooks(func(n int) { written += n }, nil))

	fill(pub, 7)
	w.Drain(context.Background())

	got, err := store.ListBySubject(context.Background(), "s")
	require.NoError(t, err)
	assert.Len(t, got, 7)
	assert.Equal(t, 7, written)
	assert.Zero(t, pub.Pending())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	pub := buffered.New(100)
	sink := &failingSink{err: errors.New("down")}
	dropped := 0
	w := NewWorker(pub, sink,
		WithBatchSize(1),
		WithCircuitBreaker(2, time.Hour),
		WithHooks(nil, func(n int) { dropped += n }),
	)

	fill(pub, 2)
	w.Drain(context.Background())
	w.Drain(context.Background())
	assert.True(t, w.breaker.open())

	fill(pub, 3)
	w.Drain(context.Background())
	assert.Equal(t, 2, sink.calls, "open circuit must not touch the sink")
	assert.Equal(t, 5, dropped)
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.recordFailure())
	assert.False(t, cb.allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.allow())
	assert.True(t, cb.recordFailure(), "a failed half-open attempt reopens at once")

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.allow())
	cb.recordSuccess()
	assert.False(t, cb.open())
}

func TestRunFlushesOnShutdown(t *testing.T) {
	pub := buffered.New(10)
	store := memory.NewInMemoryStore()
	w := NewWorker(pub, store, WithInterval(time.Hour))

	fill(pub, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx), context.Canceled)

	got, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}
