// Package state owns every store of the process behind one borrow. Request
// handling code receives a *State and reaches the stores only through With.
package state

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"emrvault/internal/activity"
	"emrvault/internal/emr/blindindex"
	"emrvault/internal/emr/registry"
	"emrvault/internal/storage/codec"
	"emrvault/internal/storage/memory"
	"emrvault/internal/storage/stable"
)

// Regions pins each store to its region. Append only: an entry's position is
// its persisted region id.
var Regions = memory.NewRegions(
	"metadata",
	"registry",
	"blind_index",
	"activity",
)

const SchemaVersion = 1

// Metadata describes the image as a whole.
type Metadata struct {
	SchemaVersion uint32
	CreatedAt     time.Time
	Opens         uint64
}

var metadataCodec = codec.FixedFunc(4+8+8,
	func(dst []byte, m Metadata) {
		binary.BigEndian.PutUint32(dst[0:], m.SchemaVersion)
		binary.BigEndian.PutUint64(dst[4:], uint64(m.CreatedAt.UnixNano()))
		binary.BigEndian.PutUint64(dst[12:], m.Opens)
	},
	func(src []byte) (Metadata, error) {
		return Metadata{
			SchemaVersion: binary.BigEndian.Uint32(src[0:]),
			CreatedAt:     time.Unix(0, int64(binary.BigEndian.Uint64(src[4:]))).UTC(),
			Opens:         binary.BigEndian.Uint64(src[12:]),
		}, nil
	})

// Stores is the mutable handle lent out by With.
type Stores struct {
	Registry *registry.Registry
	Index    *blindindex.Index
	Activity *activity.Log
	Metadata *stable.Cell[Metadata]
}

type State struct {
	mu      sync.Mutex
	manager *memory.Manager
	stores  *Stores
}

type Option func(*options)

type options struct {
	managerOpts []memory.ManagerOption
	now         func() time.Time
}

func WithBucketPages(pages uint16) Option {
	return func(o *options) {
		o.managerOpts = append(o.managerOpts, memory.WithBucketPages(pages))
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Open lays the regions over mem and opens every store in them.
func Open(mem memory.Memory, opts ...Option) (*State, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	manager, err := memory.NewManager(mem, Regions, o.managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("open memory manager: %w", err)
	}

	regions := make(map[string]*memory.Region, Regions.Len())
	for _, name := range Regions.Names() {
		r, err := manager.Claim(name)
		if err != nil {
			return nil, err
		}
		regions[name] = r
	}

	meta, err := stable.OpenCell(regions["metadata"], metadataCodec, Metadata{SchemaVersion: SchemaVersion, CreatedAt: o.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	if v := meta.Get().SchemaVersion; v > SchemaVersion {
		return nil, fmt.Errorf("image schema version %d is newer than %d", v, SchemaVersion)
	}
	m := meta.Get()
	m.Opens++
	if err := meta.Set(m); err != nil {
		return nil, fmt.Errorf("record open: %w", err)
	}

	reg, err := registry.Open(regions["registry"])
	if err != nil {
		return nil, err
	}
	idx, err := blindindex.Open(regions["blind_index"])
	if err != nil {
		return nil, err
	}
	log, err := activity.Open(regions["activity"])
	if err != nil {
		return nil, err
	}
	return &State{
		manager: manager,
		stores:  &Stores{Registry: reg, Index: idx, Activity: log, Metadata: meta},
	}, nil
}

// With lends the stores to fn for the duration of the call, exclusive of
// every other borrower. fn must run to completion without waiting on
// anything outside the process; follow-up work that does goes after With
// returns.
func (s *State) With(fn func(*Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.stores)
}

// Usage reports per-region page usage for metrics.
func (s *State) Usage() []memory.RegionUsage {
	return s.manager.Usage()
}
