package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"emrvault/pkg/platform/sentinel"
)

// Header page layout (big-endian):
//
//	[0:3]       magic "EMV"
//	[3]         layout version
//	[4:6]       allocated bucket count
//	[6:8]       bucket size in pages
//	[8]         persisted region name count
//	[9:40]      reserved
//	[40:2080]   region sizes in pages, 255 x u64
//	[2080:34848] bucket owner table, one byte per bucket, 0xFF free
//	[34848:]    region names, 255 x [1 length][32 name]
//
// Bucket b occupies pages [1+b*bucketPages, 1+(b+1)*bucketPages).
const (
	MaxBuckets         = 32768
	DefaultBucketPages = 128

	headerMagic   = "EMV"
	layoutVersion = 1
	freeBucket    = 0xFF

	offAllocated   = 4
	offBucketPages = 6
	offNameCount   = 8
	offSizes       = 40
	offOwners      = offSizes + MaxRegions*8
	offNames       = offOwners + MaxBuckets
	nameSlot       = 1 + MaxRegionName
	headerLen      = offNames + MaxRegions*nameSlot
)

// ErrRegionLayout reports a declared region table that contradicts the one
// persisted in the header.
var ErrRegionLayout = errors.New("region table does not match persisted layout")

// Manager partitions one Memory into up to MaxRegions independently growable
// regions. Bucket ownership is persisted, so a name maps to the same bytes
// after restart. Regions never shrink and buckets are never returned.
type Manager struct {
	mu          sync.Mutex
	mem         Memory
	regions     Regions
	bucketPages uint64
	allocated   uint64
	sizes       [MaxRegions]uint64
	owned       [MaxRegions][]uint16
	claimed     [MaxRegions]bool
}

type ManagerOption func(*Manager)

// WithBucketPages sets the bucket size for a fresh image. An existing image
// keeps the size it was created with.
func WithBucketPages(pages uint16) ManagerOption {
	return func(m *Manager) {
		if pages > 0 {
			m.bucketPages = uint64(pages)
		}
	}
}

// NewManager initialises mem if it is empty, or loads and validates its
// header otherwise.
func NewManager(mem Memory, regions Regions, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{mem: mem, regions: regions, bucketPages: DefaultBucketPages}
	for _, opt := range opts {
		opt(m)
	}
	if mem.Size() == 0 {
		return m, m.format()
	}
	return m, m.load()
}

func (m *Manager) format() error {
	if _, err := m.mem.Grow(1); err != nil {
		return fmt.Errorf("allocate header page: %w", err)
	}
	hdr := make([]byte, headerLen)
	copy(hdr, headerMagic)
	hdr[3] = layoutVersion
	binary.BigEndian.PutUint16(hdr[offBucketPages:], uint16(m.bucketPages))
	for i := range MaxBuckets {
		hdr[offOwners+i] = freeBucket
	}
	m.putNames(hdr, 0)
	return m.mem.Write(0, hdr)
}

func (m *Manager) putNames(hdr []byte, from int) {
	hdr[offNameCount] = byte(m.regions.Len())
	for i := from; i < m.regions.Len(); i++ {
		name := m.regions.Name(RegionID(i))
		slot := hdr[offNames+i*nameSlot:]
		slot[0] = byte(len(name))
		copy(slot[1:nameSlot], name)
	}
}

func (m *Manager) load() error {
	hdr := make([]byte, headerLen)
	if err := m.mem.Read(0, hdr); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if string(hdr[:3]) != headerMagic {
		return fmt.Errorf("%w: bad memory header magic %q", sentinel.ErrDecode, hdr[:3])
	}
	if hdr[3] != layoutVersion {
		return fmt.Errorf("%w: memory layout version %d", sentinel.ErrUnknownVersion, hdr[3])
	}
	m.bucketPages = uint64(binary.BigEndian.Uint16(hdr[offBucketPages:]))
	m.allocated = uint64(binary.BigEndian.Uint16(hdr[offAllocated:]))
	if m.bucketPages == 0 || m.allocated > MaxBuckets {
		return fmt.Errorf("%w: bucket geometry %d x %d pages", sentinel.ErrDecode, m.allocated, m.bucketPages)
	}

	persisted := int(hdr[offNameCount])
	if persisted > m.regions.Len() {
		return fmt.Errorf("%w: %d regions persisted, %d declared", ErrRegionLayout, persisted, m.regions.Len())
	}
	for i := range persisted {
		slot := hdr[offNames+i*nameSlot:]
		n := int(slot[0])
		if n == 0 || n > MaxRegionName {
			return fmt.Errorf("%w: region %d name length %d", sentinel.ErrDecode, i, n)
		}
		if got, want := string(slot[1:1+n]), m.regions.Name(RegionID(i)); got != want {
			return fmt.Errorf("%w: region %d is %q on disk, declared %q", ErrRegionLayout, i, got, want)
		}
	}

	for b := range m.allocated {
		owner := hdr[offOwners+b]
		if owner == freeBucket {
			continue
		}
		if int(owner) >= persisted {
			return fmt.Errorf("%w: bucket %d owned by undeclared region %d", sentinel.ErrDecode, b, owner)
		}
		m.owned[owner] = append(m.owned[owner], uint16(b))
	}
	for i := range persisted {
		m.sizes[i] = binary.BigEndian.Uint64(hdr[offSizes+i*8:])
		if m.sizes[i] > uint64(len(m.owned[i]))*m.bucketPages {
			return fmt.Errorf("%w: region %d claims %d pages in %d buckets", sentinel.ErrDecode, i, m.sizes[i], len(m.owned[i]))
		}
	}

	if persisted < m.regions.Len() {
		m.putNames(hdr, persisted)
		if err := m.mem.Write(offNameCount, hdr[offNameCount:offNameCount+1]); err != nil {
			return err
		}
		start, end := offNames+persisted*nameSlot, offNames+m.regions.Len()*nameSlot
		if err := m.mem.Write(uint64(start), hdr[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Claim hands out the region declared under name. Each region has exactly
// one owner per process; a second claim fails with sentinel.ErrRegionClaimed.
func (m *Manager) Claim(name string) (*Region, error) {
	id, ok := m.regions.ID(name)
	if !ok {
		return nil, fmt.Errorf("region %q is not declared", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[id] {
		return nil, fmt.Errorf("%w: %s", sentinel.ErrRegionClaimed, name)
	}
	m.claimed[id] = true
	return &Region{m: m, id: id}, nil
}

// RegionUsage is a point-in-time view of one region's footprint.
type RegionUsage struct {
	ID      RegionID
	Name    string
	Pages   uint64
	Buckets int
}

func (m *Manager) Usage() []RegionUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RegionUsage, 0, m.regions.Len())
	for i := range m.regions.Len() {
		out = append(out, RegionUsage{
			ID:      RegionID(i),
			Name:    m.regions.Name(RegionID(i)),
			Pages:   m.sizes[i],
			Buckets: len(m.owned[i]),
		})
	}
	return out
}

// AllocatedBuckets returns how many buckets have been handed to regions.
func (m *Manager) AllocatedBuckets() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated
}

func (m *Manager) grow(id RegionID, pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.sizes[id]
	next := prev + pages
	need := int((next+m.bucketPages-1)/m.bucketPages) - len(m.owned[id])
	if need > 0 {
		if m.allocated+uint64(need) > MaxBuckets {
			return prev, fmt.Errorf("%w: region %s needs %d buckets, %d of %d in use",
				sentinel.ErrOutOfMemory, m.regions.Name(id), need, m.allocated, MaxBuckets)
		}
		required := 1 + (m.allocated+uint64(need))*m.bucketPages
		if have := m.mem.Size(); have < required {
			if _, err := m.mem.Grow(required - have); err != nil {
				return prev, fmt.Errorf("grow backing memory: %w", err)
			}
		}
		owners := make([]byte, need)
		for i := range owners {
			owners[i] = byte(id)
		}
		if err := m.mem.Write(offOwners+m.allocated, owners); err != nil {
			return prev, err
		}
		var count [2]byte
		binary.BigEndian.PutUint16(count[:], uint16(m.allocated+uint64(need)))
		if err := m.mem.Write(offAllocated, count[:]); err != nil {
			return prev, err
		}
		for i := range need {
			m.owned[id] = append(m.owned[id], uint16(m.allocated+uint64(i)))
		}
		m.allocated += uint64(need)
	}

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], next)
	if err := m.mem.Write(offSizes+uint64(id)*8, size[:]); err != nil {
		return prev, err
	}
	m.sizes[id] = next
	return prev, nil
}

// access walks [offset, offset+n) of region id in bucket-sized pieces, calling
// fn with the physical offset and the slice bounds of each piece.
func (m *Manager) access(id RegionID, offset uint64, n int, fn func(phys uint64, lo, hi int) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(m.sizes[id], offset, n); err != nil {
		return err
	}
	bucketBytes := m.bucketPages * PageSize
	for done := 0; done < n; {
		pos := offset + uint64(done)
		vb, in := pos/bucketBytes, pos%bucketBytes
		chunk := min(n-done, int(bucketBytes-in))
		phys := PageSize*(1+uint64(m.owned[id][vb])*m.bucketPages) + in
		if err := fn(phys, done, done+chunk); err != nil {
			return err
		}
		done += chunk
	}
	return nil
}

// Region is one named partition of a Manager. It implements Memory.
type Region struct {
	m  *Manager
	id RegionID
}

func (r *Region) ID() RegionID { return r.id }

func (r *Region) Name() string { return r.m.regions.Name(r.id) }

func (r *Region) Size() uint64 {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.sizes[r.id]
}

func (r *Region) Grow(pages uint64) (uint64, error) {
	return r.m.grow(r.id, pages)
}

func (r *Region) Read(offset uint64, dst []byte) error {
	return r.m.access(r.id, offset, len(dst), func(phys uint64, lo, hi int) error {
		return r.m.mem.Read(phys, dst[lo:hi])
	})
}

func (r *Region) Write(offset uint64, src []byte) error {
	return r.m.access(r.id, offset, len(src), func(phys uint64, lo, hi int) error {
		return r.m.mem.Write(phys, src[lo:hi])
	})
}
