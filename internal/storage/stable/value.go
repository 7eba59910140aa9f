// Package stable holds the containers that persist codec-bounded values in a
// memory region: Cell for a single value, Map for an ordered key space and Log
// for an append-only sequence.
package stable

import (
	"fmt"
	"reflect"

	"emrvault/internal/storage/codec"
)

// Value pairs a T with the codec that persists it.
type Value[T any] struct {
	v T
	c codec.Codec[T]
}

func NewValue[T any](c codec.Codec[T], v T) Value[T] {
	return Value[T]{v: v, c: c}
}

func (v Value[T]) Get() T { return v.v }

// Bytes encodes the value. Encode errors (input over a field limit) are
// returned; an encoding that breaks the codec's own bound panics, because the
// bound was declared wrong.
func (v Value[T]) Bytes() ([]byte, error) {
	return ToBytes(v.c, v.v)
}

// ToBytes is the only path from T to persisted bytes.
func ToBytes[T any](c codec.Codec[T], v T) ([]byte, error) {
	b, err := c.Encode(v)
	if err != nil {
		return nil, err
	}
	bound := c.Bound()
	if len(b) > bound.Size || (bound.IsFixed() && len(b) != bound.Size) {
		panic(fmt.Sprintf("stable: %s encoded to %d bytes, bound %s", reflect.TypeFor[T](), len(b), bound))
	}
	return b, nil
}

// FromBytes is the only path from persisted bytes to T.
func FromBytes[T any](c codec.Codec[T], b []byte) (Value[T], error) {
	v, err := c.Decode(b)
	if err != nil {
		return Value[T]{}, fmt.Errorf("decode %s: %w", reflect.TypeFor[T](), err)
	}
	return Value[T]{v: v, c: c}, nil
}
