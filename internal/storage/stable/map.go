package stable

import (
	"encoding/binary"
	"fmt"
	"strings"

	"emrvault/internal/storage/codec"
	"emrvault/internal/storage/memory"
	"emrvault/pkg/platform/sentinel"
)

// Map region layout:
//
//	header  "SMP" | [4:8] key bound | [8:12] value bound | [16:24] slots in use
//	slot i  at 64 + i*slotSize: [0] state | [1:5] key len | [5:9] value len |
//	        key (key bound bytes) | value (value bound bytes)
//
// A slot becomes live when its state byte flips, which is written after the
// payload. Slots past the high-water mark are ignored on open.
//
// Overwrites never touch the live slot's payload: the new value goes into a
// spare slot, the old slot is marked superseded, the spare flips live and the
// old slot is freed. On open a superseded slot is dropped if its key has a
// live slot and revived otherwise.
const (
	mapMagic      = "SMP"
	mapHighWater  = 16
	slotHeaderLen = 9

	slotEmpty      byte = 0
	slotLive       byte = 1
	slotFree       byte = 2
	slotSuperseded byte = 3
)

// MapStats reports slot usage. UsedBytes counts only live slots, so a removal
// is visible even though the region itself never shrinks.
type MapStats struct {
	Live        int
	FreeSlots   int
	HighWater   uint64
	SlotSize    uint64
	UsedBytes   uint64
	RegionPages uint64
}

// Map is an ordered map persisted in one region. Keys order bytewise by their
// encoding, so scans over a key prefix follow the key codec's layout.
type Map[K, V any] struct {
	mem       memory.Memory
	keys      codec.Codec[K]
	vals      codec.Codec[V]
	keyMax    uint64
	valMax    uint64
	slotSize  uint64
	highWater uint64
	index     *skipList
	free      []uint64
}

// OpenMap formats a fresh region or rebuilds the index of an existing one.
// Reopening with codecs of a different bound is a decode error.
func OpenMap[K, V any](mem memory.Memory, keys codec.Codec[K], vals codec.Codec[V]) (*Map[K, V], error) {
	m := &Map[K, V]{
		mem:    mem,
		keys:   keys,
		vals:   vals,
		keyMax: uint64(keys.Bound().Size),
		valMax: uint64(vals.Bound().Size),
		index:  newSkipList(),
	}
	m.slotSize = slotHeaderLen + m.keyMax + m.valMax

	var geometry [8]byte
	binary.BigEndian.PutUint32(geometry[0:], uint32(m.keyMax))
	binary.BigEndian.PutUint32(geometry[4:], uint32(m.valMax))
	fresh, err := openHeader(mem, mapMagic, geometry[:])
	if err != nil {
		return nil, fmt.Errorf("open map: %w", err)
	}
	if fresh {
		return m, nil
	}
	if err := m.rebuild(); err != nil {
		return nil, fmt.Errorf("open map: %w", err)
	}
	return m, nil
}

func (m *Map[K, V]) slotOffset(slot uint64) uint64 {
	return headerSize + slot*m.slotSize
}

func (m *Map[K, V]) rebuild() error {
	hw, err := readUint64(m.mem, mapHighWater)
	if err != nil {
		return err
	}
	if m.slotOffset(hw) > m.mem.Size()*memory.PageSize {
		return fmt.Errorf("%w: %d slots do not fit the region", sentinel.ErrDecode, hw)
	}
	m.highWater = hw
	type pending struct {
		slot uint64
		key  string
	}
	var superseded []pending
	hdr := make([]byte, slotHeaderLen)
	for slot := range hw {
		off := m.slotOffset(slot)
		if err := m.mem.Read(off, hdr); err != nil {
			return err
		}
		switch hdr[0] {
		case slotLive, slotSuperseded:
		case slotEmpty, slotFree:
			m.free = append(m.free, slot)
			continue
		default:
			return fmt.Errorf("%w: slot %d state 0x%02x", sentinel.ErrDecode, slot, hdr[0])
		}
		klen := uint64(binary.BigEndian.Uint32(hdr[1:5]))
		if klen > m.keyMax || uint64(binary.BigEndian.Uint32(hdr[5:9])) > m.valMax {
			return fmt.Errorf("%w: slot %d lengths exceed bound", sentinel.ErrDecode, slot)
		}
		key := make([]byte, klen)
		if err := m.mem.Read(off+slotHeaderLen, key); err != nil {
			return err
		}
		if hdr[0] == slotSuperseded {
			superseded = append(superseded, pending{slot: slot, key: string(key)})
			continue
		}
		if _, dup := m.index.get(string(key)); dup {
			return fmt.Errorf("%w: slot %d repeats a live key", sentinel.ErrDecode, slot)
		}
		m.index.put(string(key), slot)
	}

	// An overwrite was interrupted: keep whichever copy had committed.
	for _, p := range superseded {
		state := slotLive
		if _, ok := m.index.get(p.key); ok {
			state = slotFree
		}
		if err := m.mem.Write(m.slotOffset(p.slot), []byte{state}); err != nil {
			return err
		}
		if state == slotFree {
			m.free = append(m.free, p.slot)
			continue
		}
		m.index.put(p.key, p.slot)
	}
	return nil
}

func (m *Map[K, V]) readValue(slot uint64) (V, error) {
	var zero V
	off := m.slotOffset(slot)
	hdr := make([]byte, slotHeaderLen)
	if err := m.mem.Read(off, hdr); err != nil {
		return zero, err
	}
	vlen := uint64(binary.BigEndian.Uint32(hdr[5:9]))
	if vlen > m.valMax {
		return zero, fmt.Errorf("%w: slot %d value length %d", sentinel.ErrDecode, slot, vlen)
	}
	buf := make([]byte, vlen)
	if err := m.mem.Read(off+slotHeaderLen+m.keyMax, buf); err != nil {
		return zero, err
	}
	v, err := FromBytes(m.vals, buf)
	if err != nil {
		return zero, err
	}
	return v.Get(), nil
}

func (m *Map[K, V]) Get(k K) (V, bool, error) {
	var zero V
	kb, err := ToBytes(m.keys, k)
	if err != nil {
		return zero, false, err
	}
	slot, ok := m.index.get(string(kb))
	if !ok {
		return zero, false, nil
	}
	v, err := m.readValue(slot)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (m *Map[K, V]) Contains(k K) (bool, error) {
	kb, err := ToBytes(m.keys, k)
	if err != nil {
		return false, err
	}
	_, ok := m.index.get(string(kb))
	return ok, nil
}

// Insert stores v under k and reports whether an entry was replaced.
func (m *Map[K, V]) Insert(k K, v V) (bool, error) {
	kb, err := ToBytes(m.keys, k)
	if err != nil {
		return false, err
	}
	vb, err := ToBytes(m.vals, v)
	if err != nil {
		return false, err
	}

	old, replacing := m.index.get(string(kb))
	slot, fresh := m.nextSlot()
	off := m.slotOffset(slot)
	if fresh {
		if err := ensure(m.mem, off+m.slotSize); err != nil {
			return false, err
		}
	}
	payload := make([]byte, slotHeaderLen+m.keyMax+uint64(len(vb)))
	payload[0] = slotFree
	binary.BigEndian.PutUint32(payload[1:5], uint32(len(kb)))
	binary.BigEndian.PutUint32(payload[5:9], uint32(len(vb)))
	copy(payload[slotHeaderLen:], kb)
	copy(payload[slotHeaderLen+m.keyMax:], vb)
	if err := m.mem.Write(off, payload); err != nil {
		return false, err
	}
	if replacing {
		if err := m.mem.Write(m.slotOffset(old), []byte{slotSuperseded}); err != nil {
			return false, err
		}
	}
	if err := m.mem.Write(off, []byte{slotLive}); err != nil {
		return false, err
	}
	if fresh {
		if err := writeUint64(m.mem, mapHighWater, slot+1); err != nil {
			return false, err
		}
		m.highWater = slot + 1
	} else {
		m.free = m.free[:len(m.free)-1]
	}
	m.index.put(string(kb), slot)
	if !replacing {
		return false, nil
	}
	// The new slot is committed; a failure here leaves a superseded slot
	// that the next open frees.
	if err := m.mem.Write(m.slotOffset(old), []byte{slotFree}); err != nil {
		return true, err
	}
	m.free = append(m.free, old)
	return true, nil
}

// nextSlot picks a free slot, or the next one past the high-water mark.
func (m *Map[K, V]) nextSlot() (uint64, bool) {
	if n := len(m.free); n > 0 {
		return m.free[n-1], false
	}
	return m.highWater, true
}

// Remove frees k's slot for reuse and reports whether k was present.
func (m *Map[K, V]) Remove(k K) (bool, error) {
	kb, err := ToBytes(m.keys, k)
	if err != nil {
		return false, err
	}
	slot, ok := m.index.get(string(kb))
	if !ok {
		return false, nil
	}
	if err := m.mem.Write(m.slotOffset(slot), []byte{slotFree}); err != nil {
		return false, err
	}
	m.index.delete(string(kb))
	m.free = append(m.free, slot)
	return true, nil
}

func (m *Map[K, V]) Len() int { return m.index.size }

// ScanPrefix visits, in key order, every entry whose encoded key starts with
// prefix, until fn returns false.
func (m *Map[K, V]) ScanPrefix(prefix []byte, fn func(k K, v V) bool) error {
	p := string(prefix)
	var scanErr error
	m.index.ascend(p, func(key string, slot uint64) bool {
		if !strings.HasPrefix(key, p) {
			return false
		}
		k, err := FromBytes(m.keys, []byte(key))
		if err != nil {
			scanErr = err
			return false
		}
		v, err := m.readValue(slot)
		if err != nil {
			scanErr = err
			return false
		}
		return fn(k.Get(), v)
	})
	return scanErr
}

// Ascend visits every entry in key order until fn returns false.
func (m *Map[K, V]) Ascend(fn func(k K, v V) bool) error {
	return m.ScanPrefix(nil, fn)
}

func (m *Map[K, V]) Stats() MapStats {
	live := uint64(m.index.size)
	return MapStats{
		Live:        m.index.size,
		FreeSlots:   len(m.free),
		HighWater:   m.highWater,
		SlotSize:    m.slotSize,
		UsedBytes:   live * m.slotSize,
		RegionPages: m.mem.Size(),
	}
}
