package stable

import (
	"encoding/binary"
	"fmt"

	"emrvault/internal/storage/codec"
	"emrvault/internal/storage/memory"
	"emrvault/pkg/platform/sentinel"
)

// Cell layout:
//
//	header "SCL" | [4:8] bound | [16] active copy | [20:24] copy 0 length |
//	[24:28] copy 1 length | copy 0 at 64 | copy 1 at 64+bound
//
// Set fills the inactive copy and then flips the active byte, so a torn Set
// leaves the previous value readable.
const (
	cellMagic      = "SCL"
	cellActive     = 16
	cellLenOffsets = 20
)

// Cell persists exactly one T in a region.
type Cell[T any] struct {
	mem    memory.Memory
	codec  codec.Codec[T]
	bound  uint64
	active byte
	value  T
}

// OpenCell loads the persisted value, or writes initial into a fresh region.
func OpenCell[T any](mem memory.Memory, c codec.Codec[T], initial T) (*Cell[T], error) {
	var geometry [4]byte
	binary.BigEndian.PutUint32(geometry[:], uint32(c.Bound().Size))
	fresh, err := openHeader(mem, cellMagic, geometry[:])
	if err != nil {
		return nil, fmt.Errorf("open cell: %w", err)
	}
	cell := &Cell[T]{mem: mem, codec: c, bound: uint64(c.Bound().Size), active: 1}
	if fresh {
		if err := ensure(mem, cell.copyOffset(1)+cell.bound); err != nil {
			return nil, fmt.Errorf("open cell: %w", err)
		}
		return cell, cell.Set(initial)
	}

	var sel [1]byte
	if err := mem.Read(cellActive, sel[:]); err != nil {
		return nil, err
	}
	if sel[0] > 1 {
		return nil, fmt.Errorf("%w: cell active copy %d", sentinel.ErrDecode, sel[0])
	}
	cell.active = sel[0]

	var n [4]byte
	if err := mem.Read(cell.lenOffset(cell.active), n[:]); err != nil {
		return nil, err
	}
	size := uint64(binary.BigEndian.Uint32(n[:]))
	if size > cell.bound {
		return nil, fmt.Errorf("%w: cell length %d exceeds bound", sentinel.ErrDecode, size)
	}
	buf := make([]byte, size)
	if err := mem.Read(cell.copyOffset(cell.active), buf); err != nil {
		return nil, err
	}
	v, err := FromBytes(c, buf)
	if err != nil {
		return nil, err
	}
	cell.value = v.Get()
	return cell, nil
}

func (c *Cell[T]) copyOffset(i byte) uint64 { return headerSize + uint64(i)*c.bound }

func (c *Cell[T]) lenOffset(i byte) uint64 { return cellLenOffsets + uint64(i)*4 }

func (c *Cell[T]) Get() T { return c.value }

// Set writes v into the inactive copy, then makes that copy active.
func (c *Cell[T]) Set(v T) error {
	b, err := ToBytes(c.codec, v)
	if err != nil {
		return err
	}
	next := 1 - c.active
	if err := c.mem.Write(c.copyOffset(next), b); err != nil {
		return err
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	if err := c.mem.Write(c.lenOffset(next), n[:]); err != nil {
		return err
	}
	if err := c.mem.Write(cellActive, []byte{next}); err != nil {
		return err
	}
	c.active = next
	c.value = v
	return nil
}
