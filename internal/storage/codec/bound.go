// Package codec defines the contract every persisted type satisfies: a
// deterministic byte encoding plus a static size bound used for slot layout.
//
// Fixed-size types use raw big-endian layouts with no length prefix.
// Variable-size types use deterministic CBOR and declare a maximum size
// computed from the maximum of every field.
package codec

import "fmt"

type Kind uint8

const (
	Fixed Kind = iota + 1
	Bounded
)

func (k Kind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case Bounded:
		return "bounded"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Bound is the static byte footprint of an encoding. For Fixed it is the
// exact length, for Bounded the maximum length.
type Bound struct {
	Kind Kind
	Size int
}

func FixedSize(n int) Bound { return Bound{Kind: Fixed, Size: n} }

func MaxSize(n int) Bound { return Bound{Kind: Bounded, Size: n} }

func (b Bound) IsFixed() bool { return b.Kind == Fixed }

func (b Bound) String() string { return fmt.Sprintf("%s(%d)", b.Kind, b.Size) }

// Sum is the bound of fields laid out one after another.
func Sum(bounds ...Bound) Bound {
	out := FixedSize(0)
	for _, b := range bounds {
		out.Size += b.Size
		if !b.IsFixed() {
			out.Kind = Bounded
		}
	}
	return out
}

// Union is the bound of a value that is exactly one of the given variants.
// It is fixed only when every variant has the same fixed size.
func Union(bounds ...Bound) Bound {
	if len(bounds) == 0 {
		return FixedSize(0)
	}
	out := bounds[0]
	for _, b := range bounds[1:] {
		if !b.IsFixed() || b.Size != out.Size {
			out.Kind = Bounded
		}
		if b.Size > out.Size {
			out.Size = b.Size
		}
	}
	return out
}

// cborHead is the length of a CBOR initial byte plus argument for n.
func cborHead(n uint64) int {
	switch {
	case n < 24:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// TextBound is the bound of a CBOR text or byte string of at most limit bytes.
func TextBound(limit int) Bound {
	return MaxSize(cborHead(uint64(limit)) + limit)
}

// UintBound is the bound of a CBOR unsigned integer no larger than limit.
func UintBound(limit uint64) Bound {
	return MaxSize(cborHead(limit))
}

// ArrayBound is the bound of a CBOR array holding the given fields, which is
// how structs tagged `cbor:",toarray"` encode.
func ArrayBound(fields ...Bound) Bound {
	b := Sum(fields...)
	return MaxSize(cborHead(uint64(len(fields))) + b.Size)
}
