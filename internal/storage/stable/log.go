package stable

import (
	"encoding/binary"
	"fmt"

	"emrvault/internal/storage/codec"
	"emrvault/internal/storage/memory"
	"emrvault/pkg/platform/sentinel"
)

// Log region layout:
//
//	header  "SLG" | [4:8] entry bound | [16:24] committed length
//	entry i at 64 + i*(4+bound): [4 length][payload]
//
// The length counter is written after the entry, so an offset exists only
// once its bytes are in place.
const (
	logMagic  = "SLG"
	logLength = 16
)

// Log is an append-only sequence of T addressed by dense offsets from 0.
// There is no delete.
type Log[T any] struct {
	mem      memory.Memory
	codec    codec.Codec[T]
	slotSize uint64
	length   uint64
}

func OpenLog[T any](mem memory.Memory, c codec.Codec[T]) (*Log[T], error) {
	l := &Log[T]{mem: mem, codec: c, slotSize: 4 + uint64(c.Bound().Size)}
	var geometry [4]byte
	binary.BigEndian.PutUint32(geometry[:], uint32(c.Bound().Size))
	fresh, err := openHeader(mem, logMagic, geometry[:])
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if fresh {
		return l, nil
	}
	n, err := readUint64(mem, logLength)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if l.slotOffset(n) > mem.Size()*memory.PageSize {
		return nil, fmt.Errorf("open log: %w: %d entries do not fit the region", sentinel.ErrDecode, n)
	}
	l.length = n
	return l, nil
}

func (l *Log[T]) slotOffset(i uint64) uint64 {
	return headerSize + i*l.slotSize
}

func (l *Log[T]) Len() uint64 { return l.length }

// Append writes v and returns its offset. The offset is returned only after
// both the entry and the new length are written.
func (l *Log[T]) Append(v T) (uint64, error) {
	b, err := ToBytes(l.codec, v)
	if err != nil {
		return 0, err
	}
	offset := l.length
	off := l.slotOffset(offset)
	if err := ensure(l.mem, off+l.slotSize); err != nil {
		return 0, err
	}
	slot := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(slot, uint32(len(b)))
	copy(slot[4:], b)
	if err := l.mem.Write(off, slot); err != nil {
		return 0, err
	}
	if err := writeUint64(l.mem, logLength, offset+1); err != nil {
		return 0, err
	}
	l.length = offset + 1
	return offset, nil
}

// Get returns the entry at offset, or false when offset is past the end.
func (l *Log[T]) Get(offset uint64) (T, bool, error) {
	var zero T
	if offset >= l.length {
		return zero, false, nil
	}
	off := l.slotOffset(offset)
	var n [4]byte
	if err := l.mem.Read(off, n[:]); err != nil {
		return zero, false, err
	}
	size := uint64(binary.BigEndian.Uint32(n[:]))
	if size > l.slotSize-4 {
		return zero, false, fmt.Errorf("%w: log entry %d length %d", sentinel.ErrDecode, offset, size)
	}
	buf := make([]byte, size)
	if err := l.mem.Read(off+4, buf); err != nil {
		return zero, false, err
	}
	v, err := FromBytes(l.codec, buf)
	if err != nil {
		return zero, false, fmt.Errorf("log entry %d: %w", offset, err)
	}
	return v.Get(), true, nil
}

// GetBatch resolves each offset independently, in input order. Misses are nil.
func (l *Log[T]) GetBatch(offsets []uint64) ([]*T, error) {
	out := make([]*T, len(offsets))
	for i, offset := range offsets {
		v, ok, err := l.Get(offset)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = &v
		}
	}
	return out, nil
}
