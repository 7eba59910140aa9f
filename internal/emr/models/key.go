package models

import (
	"bytes"
	"fmt"

	"emrvault/internal/storage/codec"
	"emrvault/pkg/platform/sentinel"
)

// FieldKeySize is the fixed width of a field name; shorter names are NUL padded.
const FieldKeySize = 32

// FieldKey names one attribute of a record, e.g. "diagnosis.primary".
type FieldKey [FieldKeySize]byte

func validFieldByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '.' || c == '-'
}

// NewFieldKey accepts 1..32 bytes of [a-z0-9_.-].
func NewFieldKey(s string) (FieldKey, error) {
	var k FieldKey
	if len(s) == 0 || len(s) > FieldKeySize {
		return k, invalidKey("field key must be 1..%d bytes, got %d", FieldKeySize, len(s))
	}
	for i := 0; i < len(s); i++ {
		if !validFieldByte(s[i]) {
			return k, invalidKey("field key %q: byte 0x%02x not allowed", s, s[i])
		}
	}
	copy(k[:], s)
	return k, nil
}

func (k FieldKey) String() string {
	return string(bytes.TrimRight(k[:], "\x00"))
}

func (k FieldKey) validate() error {
	n := bytes.IndexByte(k[:], 0)
	if n == -1 {
		n = FieldKeySize
	}
	if _, err := NewFieldKey(string(k[:n])); err != nil {
		return err
	}
	for _, c := range k[n:] {
		if c != 0 {
			return invalidKey("field key padding holds 0x%02x", c)
		}
	}
	return nil
}

// CompositeKey addresses one stored fragment. Its encoding is the four
// fixed-width components in order, so bytewise order equals tuple order and
// any left-aligned subset of components is a scan prefix.
//
//	[0:32]  subject
//	[32:48] issuer
//	[48:64] record
//	[64:96] field
type CompositeKey struct {
	Subject SubjectID
	Issuer  IssuerID
	Record  RecordID
	Field   FieldKey
}

const CompositeKeySize = SubjectIDSize + IssuerIDSize + RecordIDSize + FieldKeySize

func (k CompositeKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Subject, k.Issuer, k.Record, k.Field)
}

// SubjectPrefix selects every key of one subject.
func SubjectPrefix(s SubjectID) []byte {
	return append([]byte(nil), s[:]...)
}

// IssuerPrefix selects every key of one subject from one issuer.
func IssuerPrefix(s SubjectID, i IssuerID) []byte {
	return append(SubjectPrefix(s), i[:]...)
}

// RecordPrefix selects every field of one record.
func RecordPrefix(s SubjectID, i IssuerID, r RecordID) []byte {
	return append(IssuerPrefix(s, i), r[:]...)
}

// CompositeKeyCodec is the raw fixed layout above. Decoding re-validates the
// field key so corrupt padding or charset is a decode error.
var CompositeKeyCodec = codec.FixedFunc(CompositeKeySize,
	func(dst []byte, k CompositeKey) {
		n := copy(dst, k.Subject[:])
		n += copy(dst[n:], k.Issuer[:])
		n += copy(dst[n:], k.Record[:])
		copy(dst[n:], k.Field[:])
	},
	func(src []byte) (CompositeKey, error) {
		var k CompositeKey
		n := copy(k.Subject[:], src)
		n += copy(k.Issuer[:], src[n:])
		n += copy(k.Record[:], src[n:])
		copy(k.Field[:], src[n:])
		if err := k.Field.validate(); err != nil {
			return k, fmt.Errorf("%w: %v", sentinel.ErrDecode, err)
		}
		return k, nil
	})

var (
	RecordIDCodec = codec.FixedFunc(RecordIDSize,
		func(dst []byte, id RecordID) { copy(dst, id[:]) },
		func(src []byte) (RecordID, error) { return RecordID(src), nil })

	HashedIDCodec = codec.FixedFunc(HashedIDSize,
		func(dst []byte, id HashedID) { copy(dst, id[:]) },
		func(src []byte) (HashedID, error) { return HashedID(src), nil })
)
