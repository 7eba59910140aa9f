package idgen

import (
	"context"

	"github.com/google/uuid"
)

// ID is 16 bytes of keystream. No bits are fixed, so the text form is
// uuid-shaped but carries no version.
type ID [16]byte

func (id ID) String() string { return uuid.UUID(id).String() }

// RandomSource is what the generator draws from.
type RandomSource interface {
	Next32() ([32]byte, error)
	Reseed(ctx context.Context) error
}

// Generator issues identifiers. It keeps no record of what it issued;
// uniqueness rests on the 128 random bits.
type Generator struct {
	source RandomSource
}

func NewGenerator(source RandomSource) *Generator {
	return &Generator{source: source}
}

// Generate never blocks on entropy. Before the first seed it returns
// sentinel.ErrNotSeeded.
func (g *Generator) Generate() (ID, error) {
	var id ID
	b, err := g.source.Next32()
	if err != nil {
		return id, err
	}
	copy(id[:], b[:16])
	return id, nil
}

func (g *Generator) Reseed(ctx context.Context) error {
	return g.source.Reseed(ctx)
}

// Bootstrap seeds source and only then returns a generator over it, so no
// caller can observe the unseeded state.
func Bootstrap(ctx context.Context, source RandomSource) (*Generator, error) {
	if err := source.Reseed(ctx); err != nil {
		return nil, err
	}
	return NewGenerator(source), nil
}
