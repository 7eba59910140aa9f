package buffered

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "emrvault/pkg/platform/audit"
)

func event(offset uint64) audit.Event {
	return audit.Event{Action: audit.ActionRecordIssued, Offset: offset}
}

func TestRingBufferKeepsOrder(t *testing.T) {
	b := NewRingBuffer(4)
	for i := range uint64(3) {
		assert.False(t, b.Enqueue(event(i)))
	}
	got := b.DequeueBatch(2)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].Offset)
	assert.Equal(t, uint64(1), got[1].Offset)
	assert.Equal(t, 1, b.Len())
}

func TestRingBufferDropsOldestWhenFull(t *testing.T) {
	b := NewRingBuffer(2)
	b.Enqueue(event(0))
	b.Enqueue(event(1))
	assert.True(t, b.Enqueue(event(2)))

	got := b.DequeueBatch(10)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Offset)
	assert.Equal(t, uint64(2), got[1].Offset)
	assert.Equal(t, int64(1), b.Dropped())
	assert.Nil(t, b.DequeueBatch(1))
}

func TestPublisherCallsDropHook(t *testing.T) {
	drops := 0
	p := New(1, WithDropHook(func() { drops++ }))
	ctx := context.Background()
	p.Emit(ctx, event(0))
	p.Emit(ctx, event(1))
	p.Emit(ctx, event(2))

	assert.Equal(t, 2, drops)
	assert.Equal(t, 1, p.Pending())
	assert.Equal(t, uint64(2), p.DequeueBatch(5)[0].Offset)
}
