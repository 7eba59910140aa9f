// Package registry stores EMR fragments under a four-part composite key
// (subject, issuer, record, field) and supports prefix scans over any
// left-aligned subset of it.
//
// Registry is not safe for concurrent use; callers hold the state borrow.
package registry

import (
	"errors"
	"fmt"

	"emrvault/internal/emr/models"
	"emrvault/internal/storage/memory"
	"emrvault/internal/storage/stable"
	"emrvault/pkg/platform/sentinel"
)

// Entry is one stored fragment.
type Entry struct {
	Key   models.CompositeKey
	Value models.FragmentValue
}

// BatchError reports which entry stopped a batch. Applied counts entries
// that were committed before it.
type BatchError struct {
	Index   int
	Key     models.CompositeKey
	Applied int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch entry %d (%s): %v; %d applied", e.Index, e.Key, e.Err, e.Applied)
}

func (e *BatchError) Unwrap() error { return e.Err }

type Registry struct {
	entries *stable.Map[models.CompositeKey, models.FragmentValue]
}

// Open loads the registry held in mem.
func Open(mem memory.Memory) (*Registry, error) {
	m, err := stable.OpenMap(mem, models.CompositeKeyCodec, models.FragmentCodec)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return &Registry{entries: m}, nil
}

// Add stores value at key, overwriting whatever was there.
func (r *Registry) Add(key models.CompositeKey, value models.FragmentValue) error {
	if _, err := r.entries.Insert(key, value); err != nil {
		return fmt.Errorf("add %s: %w", key, err)
	}
	return nil
}

// AddBatch inserts every entry or none. It fails with sentinel.ErrConflict if
// any key already exists or repeats within the batch, before writing anything.
// A write failure part way through removes the entries already inserted.
func (r *Registry) AddBatch(entries []Entry) error {
	seen := make(map[models.CompositeKey]struct{}, len(entries))
	for i, e := range entries {
		if _, dup := seen[e.Key]; dup {
			return &BatchError{Index: i, Key: e.Key, Err: fmt.Errorf("%w: key repeated in batch", sentinel.ErrConflict)}
		}
		seen[e.Key] = struct{}{}
		exists, err := r.entries.Contains(e.Key)
		if err != nil {
			return &BatchError{Index: i, Key: e.Key, Err: err}
		}
		if exists {
			return &BatchError{Index: i, Key: e.Key, Err: fmt.Errorf("%w: key exists", sentinel.ErrConflict)}
		}
		if _, err := stable.ToBytes(models.FragmentCodec, e.Value); err != nil {
			return &BatchError{Index: i, Key: e.Key, Err: err}
		}
	}

	for i, e := range entries {
		if _, err := r.entries.Insert(e.Key, e.Value); err != nil {
			undo := r.rollback(entries[:i])
			return &BatchError{Index: i, Key: e.Key, Err: errors.Join(err, undo)}
		}
	}
	return nil
}

func (r *Registry) rollback(inserted []Entry) error {
	var errs []error
	for _, e := range inserted {
		if _, err := r.entries.Remove(e.Key); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", e.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Get returns the fragment at key or sentinel.ErrNotFound.
func (r *Registry) Get(key models.CompositeKey) (models.FragmentValue, error) {
	v, ok, err := r.entries.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrNotFound, key)
	}
	return v, nil
}

// Update overwrites an existing entry. A missing key is sentinel.ErrNotFound
// and nothing is written, so the update path never creates entries.
func (r *Registry) Update(key models.CompositeKey, value models.FragmentValue) error {
	exists, err := r.entries.Contains(key)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("update: %w: %s", sentinel.ErrNotFound, key)
	}
	if _, err := r.entries.Insert(key, value); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

// UpdateBatch applies Update to each entry in order and stops at the first
// failure. Entries applied before the failure stay applied; the returned
// *BatchError says how many.
func (r *Registry) UpdateBatch(entries []Entry) error {
	for i, e := range entries {
		if err := r.Update(e.Key, e.Value); err != nil {
			return &BatchError{Index: i, Key: e.Key, Applied: i, Err: err}
		}
	}
	return nil
}

// Remove deletes key and reports whether it existed.
func (r *Registry) Remove(key models.CompositeKey) (bool, error) {
	removed, err := r.entries.Remove(key)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", key, err)
	}
	return removed, nil
}

func (r *Registry) scan(prefix []byte, fn func(Entry) bool) error {
	return r.entries.ScanPrefix(prefix, func(k models.CompositeKey, v models.FragmentValue) bool {
		return fn(Entry{Key: k, Value: v})
	})
}

// ScanSubject visits every fragment of subject in key order.
func (r *Registry) ScanSubject(subject models.SubjectID, fn func(Entry) bool) error {
	return r.scan(models.SubjectPrefix(subject), fn)
}

// ScanIssuer visits every fragment of subject issued by issuer.
func (r *Registry) ScanIssuer(subject models.SubjectID, issuer models.IssuerID, fn func(Entry) bool) error {
	return r.scan(models.IssuerPrefix(subject, issuer), fn)
}

// ScanRecord visits every field of one record.
func (r *Registry) ScanRecord(subject models.SubjectID, issuer models.IssuerID, record models.RecordID, fn func(Entry) bool) error {
	return r.scan(models.RecordPrefix(subject, issuer, record), fn)
}

// ReadRecord collects the fields of one record.
func (r *Registry) ReadRecord(subject models.SubjectID, issuer models.IssuerID, record models.RecordID) ([]Entry, error) {
	var out []Entry
	err := r.ScanRecord(subject, issuer, record, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", record, err)
	}
	return out, nil
}

// RemoveRecord deletes every field of one record and returns how many it removed.
func (r *Registry) RemoveRecord(subject models.SubjectID, issuer models.IssuerID, record models.RecordID) (int, error) {
	entries, err := r.ReadRecord(subject, issuer, record)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if _, err := r.entries.Remove(e.Key); err != nil {
			return i, fmt.Errorf("remove record %s: %w", record, err)
		}
	}
	return len(entries), nil
}

func (r *Registry) Len() int { return r.entries.Len() }

func (r *Registry) Stats() stable.MapStats { return r.entries.Stats() }
