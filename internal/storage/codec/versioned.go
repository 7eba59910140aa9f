package codec

import (
	"fmt"

	"emrvault/pkg/platform/sentinel"
)

// Variant is one tagged version of a versioned payload T.
type Variant[T any] struct {
	Tag    byte
	Name   string
	bound  Bound
	encode func(T) ([]byte, bool, error)
	decode func([]byte) (T, error)
}

// VariantOf registers V as the variant of T stored under tag. V must
// implement T.
func VariantOf[T, V any](tag byte, name string, c Codec[V]) Variant[T] {
	var zero V
	if _, ok := any(zero).(T); !ok {
		panic(fmt.Sprintf("codec: variant %s does not implement the payload type", name))
	}
	return Variant[T]{
		Tag:   tag,
		Name:  name,
		bound: c.Bound(),
		encode: func(t T) ([]byte, bool, error) {
			v, ok := any(t).(V)
			if !ok {
				return nil, false, nil
			}
			b, err := c.Encode(v)
			return b, true, err
		},
		decode: func(b []byte) (T, error) {
			v, err := c.Decode(b)
			if err != nil {
				var zero T
				return zero, err
			}
			return any(v).(T), nil
		},
	}
}

type versioned[T any] struct {
	variants []Variant[T]
	bound    Bound
}

// Versioned frames T as [tag][variant payload]. Decoding an unknown tag
// fails with sentinel.ErrUnknownVersion.
func Versioned[T any](variants ...Variant[T]) Codec[T] {
	seen := make(map[byte]string, len(variants))
	bounds := make([]Bound, 0, len(variants))
	for _, v := range variants {
		if prev, dup := seen[v.Tag]; dup {
			panic(fmt.Sprintf("codec: tag 0x%02x used by %s and %s", v.Tag, prev, v.Name))
		}
		seen[v.Tag] = v.Name
		bounds = append(bounds, v.bound)
	}
	return versioned[T]{variants: variants, bound: Sum(FixedSize(1), Union(bounds...))}
}

func (c versioned[T]) Encode(t T) ([]byte, error) {
	for _, v := range c.variants {
		payload, ok, err := v.encode(t)
		if !ok {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.Name, err)
		}
		return append([]byte{v.Tag}, payload...), nil
	}
	return nil, fmt.Errorf("codec: %T is not a registered variant", t)
}

func (c versioned[T]) Decode(b []byte) (T, error) {
	var zero T
	if len(b) == 0 {
		return zero, decodeErr("empty versioned payload")
	}
	for _, v := range c.variants {
		if v.Tag == b[0] {
			return v.decode(b[1:])
		}
	}
	return zero, fmt.Errorf("%w: 0x%02x", sentinel.ErrUnknownVersion, b[0])
}

func (c versioned[T]) Bound() Bound { return c.bound }
