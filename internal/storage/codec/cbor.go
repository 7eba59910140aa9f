package codec

import (
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		TagsMd:            cbor.TagsForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		UTF8:              cbor.UTF8RejectInvalid,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(err)
	}
}

type cborCodec[T any] struct {
	bound Bound
	check func(T) error
}

// CBOR encodes T with core deterministic CBOR. check, when set, enforces
// per-field limits; it runs on encode (input error) and decode (corruption).
func CBOR[T any](bound Bound, check func(T) error) Codec[T] {
	return cborCodec[T]{bound: bound, check: check}
}

func (c cborCodec[T]) Encode(v T) ([]byte, error) {
	if c.check != nil {
		if err := c.check(v); err != nil {
			return nil, err
		}
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	if len(b) > c.bound.Size {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), c.bound.Size)
	}
	// Text nested below a check still has to survive the decoder.
	var parsed any
	if err := decMode.Unmarshal(b, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	return b, nil
}

func (c cborCodec[T]) Decode(b []byte) (T, error) {
	var v T
	if len(b) > c.bound.Size {
		return v, decodeErr("%d bytes exceeds bound %d", len(b), c.bound.Size)
	}
	if err := decMode.Unmarshal(b, &v); err != nil {
		return v, decodeErr("cbor: %v", err)
	}
	if c.check != nil {
		if err := c.check(v); err != nil {
			return v, decodeErr("%v", err)
		}
	}
	return v, nil
}

func (c cborCodec[T]) Bound() Bound { return c.bound }

// MaxLen returns a check rejecting strings longer than limit bytes or not
// valid UTF-8.
func MaxLen(field string, limit int) func(string) error {
	return func(s string) error {
		if len(s) > limit {
			return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, field, len(s), limit)
		}
		if !utf8.ValidString(s) {
			return fmt.Errorf("%w: %s", ErrInvalidText, field)
		}
		return nil
	}
}

// Text is a CBOR text string of at most limit bytes.
func Text(limit int) Codec[string] {
	return CBOR(TextBound(limit), MaxLen("text", limit))
}

// Blob is a CBOR byte string of at most limit bytes.
func Blob(limit int) Codec[[]byte] {
	return CBOR(TextBound(limit), func(b []byte) error {
		if len(b) > limit {
			return fmt.Errorf("%w: blob is %d bytes, limit %d", ErrTooLarge, len(b), limit)
		}
		return nil
	})
}
