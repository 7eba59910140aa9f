package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"emrvault/pkg/platform/sentinel"
)

var (
	// ErrTooLarge is returned when a value cannot be encoded within its bound.
	ErrTooLarge = errors.New("value exceeds declared bound")
	// ErrInvalidText is returned when a text field is not valid UTF-8.
	ErrInvalidText = errors.New("text is not valid UTF-8")
)

// Codec encodes T deterministically. Decode must reject any byte sequence
// Encode could not have produced with an error wrapping sentinel.ErrDecode.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
	Bound() Bound
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel.ErrDecode, fmt.Sprintf(format, args...))
}

type fixedFunc[T any] struct {
	size int
	put  func(dst []byte, v T)
	get  func(src []byte) (T, error)
}

// FixedFunc builds a raw-layout codec of exactly size bytes.
func FixedFunc[T any](size int, put func(dst []byte, v T), get func(src []byte) (T, error)) Codec[T] {
	return fixedFunc[T]{size: size, put: put, get: get}
}

func (c fixedFunc[T]) Encode(v T) ([]byte, error) {
	out := make([]byte, c.size)
	c.put(out, v)
	return out, nil
}

func (c fixedFunc[T]) Decode(b []byte) (T, error) {
	if len(b) != c.size {
		var zero T
		return zero, decodeErr("want %d bytes, got %d", c.size, len(b))
	}
	return c.get(b)
}

func (c fixedFunc[T]) Bound() Bound { return FixedSize(c.size) }

var (
	Uint64 = FixedFunc(8,
		func(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) },
		func(src []byte) (uint64, error) { return binary.BigEndian.Uint64(src), nil })

	Uint32 = FixedFunc(4,
		func(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) },
		func(src []byte) (uint32, error) { return binary.BigEndian.Uint32(src), nil })

	Bool = FixedFunc(1,
		func(dst []byte, v bool) {
			if v {
				dst[0] = 1
			}
		},
		func(src []byte) (bool, error) {
			switch src[0] {
			case 0:
				return false, nil
			case 1:
				return true, nil
			default:
				return false, decodeErr("bool byte 0x%02x", src[0])
			}
		})

	// Unit occupies no bytes; maps keyed by a set member use it as the value.
	Unit = FixedFunc(0,
		func([]byte, struct{}) {},
		func([]byte) (struct{}, error) { return struct{}{}, nil })
)

// Pair holds two values encoded back to back.
type Pair[A, B any] struct {
	First  A
	Second B
}

type pairCodec[A, B any] struct {
	a Codec[A]
	b Codec[B]
}

// Tuple concatenates a and b. a must be fixed-size so the split point is
// known; byte order of the result follows (a, b) order when both encodings do.
func Tuple[A, B any](a Codec[A], b Codec[B]) Codec[Pair[A, B]] {
	if !a.Bound().IsFixed() {
		panic(fmt.Sprintf("codec: tuple head must be fixed-size, got %s", a.Bound()))
	}
	return pairCodec[A, B]{a: a, b: b}
}

func (c pairCodec[A, B]) Encode(v Pair[A, B]) ([]byte, error) {
	ab, err := c.a.Encode(v.First)
	if err != nil {
		return nil, err
	}
	bb, err := c.b.Encode(v.Second)
	if err != nil {
		return nil, err
	}
	return append(ab, bb...), nil
}

func (c pairCodec[A, B]) Decode(b []byte) (Pair[A, B], error) {
	var out Pair[A, B]
	n := c.a.Bound().Size
	if len(b) < n {
		return out, decodeErr("tuple wants at least %d bytes, got %d", n, len(b))
	}
	first, err := c.a.Decode(b[:n])
	if err != nil {
		return out, err
	}
	second, err := c.b.Decode(b[n:])
	if err != nil {
		return out, err
	}
	out.First, out.Second = first, second
	return out, nil
}

func (c pairCodec[A, B]) Bound() Bound { return Sum(c.a.Bound(), c.b.Bound()) }
