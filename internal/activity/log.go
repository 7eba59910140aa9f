// Package activity is the permanent audit trail of EMR events: an
// append-only log addressed by dense offsets from 0, with no delete.
package activity

import (
	"fmt"

	"emrvault/internal/storage/memory"
	"emrvault/internal/storage/stable"
)

type Log struct {
	entries *stable.Log[StoredEntry]
}

func Open(mem memory.Memory) (*Log, error) {
	l, err := stable.OpenLog(mem, EntryCodec)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	return &Log{entries: l}, nil
}

// Append stores e and returns its offset once the write has completed.
func (l *Log) Append(e Entry) (uint64, error) {
	if !e.Kind.Valid() {
		return 0, fmt.Errorf("append activity: unknown kind %d", e.Kind)
	}
	offset, err := l.entries.Append(current(e))
	if err != nil {
		return 0, fmt.Errorf("append activity: %w", err)
	}
	return offset, nil
}

// Get returns false for an offset that was never assigned.
func (l *Log) Get(offset uint64) (Entry, bool, error) {
	stored, ok, err := l.entries.Get(offset)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return stored.Entry(), true, nil
}

// GetBatch resolves every offset independently and keeps input order.
// Offsets that were never assigned come back nil.
func (l *Log) GetBatch(offsets []uint64) ([]*Entry, error) {
	stored, err := l.entries.GetBatch(offsets)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, len(stored))
	for i, s := range stored {
		if s != nil {
			e := (*s).Entry()
			out[i] = &e
		}
	}
	return out, nil
}

func (l *Log) Len() uint64 { return l.entries.Len() }
