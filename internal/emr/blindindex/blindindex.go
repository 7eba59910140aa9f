// Package blindindex maps a caller-hashed identifier to the set of records
// bound to it. It never sees the plaintext identifier and does no hashing of
// its own: the HashedID type is the only accepted key, and parsing it from
// bytes rejects anything that is not exactly 32 bytes.
package blindindex

import (
	"fmt"

	"emrvault/internal/emr/models"
	"emrvault/internal/storage/codec"
	"emrvault/internal/storage/memory"
	"emrvault/internal/storage/stable"
)

type member = codec.Pair[models.HashedID, models.RecordID]

// Index stores each (hash, record) pair as its own key, so a set is the run
// of keys sharing a hash prefix. An emptied set leaves no entry behind.
type Index struct {
	pairs *stable.Map[member, struct{}]
}

func Open(mem memory.Memory) (*Index, error) {
	m, err := stable.OpenMap(mem, codec.Tuple(models.HashedIDCodec, models.RecordIDCodec), codec.Unit)
	if err != nil {
		return nil, fmt.Errorf("open blind index: %w", err)
	}
	return &Index{pairs: m}, nil
}

// Bind adds record to the set for hash. Binding twice is a no-op.
func (x *Index) Bind(hash models.HashedID, record models.RecordID) error {
	key := member{First: hash, Second: record}
	exists, err := x.pairs.Contains(key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := x.pairs.Insert(key, struct{}{}); err != nil {
		return fmt.Errorf("bind %s: %w", hash, err)
	}
	return nil
}

// Lookup returns the records bound to hash in byte order. An unknown hash
// yields an empty set.
func (x *Index) Lookup(hash models.HashedID) ([]models.RecordID, error) {
	records := []models.RecordID{}
	err := x.pairs.ScanPrefix(hash[:], func(k member, _ struct{}) bool {
		records = append(records, k.Second)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", hash, err)
	}
	return records, nil
}

// Unbind removes record from the set for hash and frees its slot.
func (x *Index) Unbind(hash models.HashedID, record models.RecordID) (bool, error) {
	removed, err := x.pairs.Remove(member{First: hash, Second: record})
	if err != nil {
		return false, fmt.Errorf("unbind %s: %w", hash, err)
	}
	return removed, nil
}

func (x *Index) Contains(hash models.HashedID, record models.RecordID) (bool, error) {
	return x.pairs.Contains(member{First: hash, Second: record})
}

// Len returns the number of bound pairs.
func (x *Index) Len() int { return x.pairs.Len() }

func (x *Index) Stats() stable.MapStats { return x.pairs.Stats() }
