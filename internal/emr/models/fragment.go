package models

import (
	"errors"

	"emrvault/internal/storage/codec"
)

const (
	MaxFragmentValue = 8192
	MaxMediaType     = 64
)

// FragmentValue is the stored value of one record field. Each version is a
// distinct type; new fields go into a new version, never into an old one.
type FragmentValue interface {
	Content() string
	Version() string
}

type FragmentV001 struct {
	_     struct{} `cbor:",toarray"`
	Value string
}

func (f FragmentV001) Content() string { return f.Value }
func (FragmentV001) Version() string { return "V001" }

// FragmentV002 adds the media type of Value.
type FragmentV002 struct {
	_         struct{} `cbor:",toarray"`
	Value     string
	MediaType string
}

func (f FragmentV002) Content() string { return f.Value }
func (FragmentV002) Version() string { return "V002" }

// NewFragment returns the current version.
func NewFragment(value, mediaType string) FragmentValue {
	return FragmentV002{Value: value, MediaType: mediaType}
}

var (
	checkValue     = codec.MaxLen("value", MaxFragmentValue)
	checkMediaType = codec.MaxLen("media type", MaxMediaType)
)

// FragmentCodec frames fragments as [tag][CBOR array].
var FragmentCodec = codec.Versioned(
	codec.VariantOf[FragmentValue](1, "V001", codec.CBOR(
		codec.ArrayBound(codec.TextBound(MaxFragmentValue)),
		func(f FragmentV001) error { return checkValue(f.Value) },
	)),
	codec.VariantOf[FragmentValue](2, "V002", codec.CBOR(
		codec.ArrayBound(codec.TextBound(MaxFragmentValue), codec.TextBound(MaxMediaType)),
		func(f FragmentV002) error {
			return errors.Join(checkValue(f.Value), checkMediaType(f.MediaType))
		},
	)),
)
