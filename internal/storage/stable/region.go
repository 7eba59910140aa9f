package stable

import (
	"encoding/binary"
	"fmt"

	"emrvault/internal/storage/memory"
	"emrvault/pkg/platform/sentinel"
)

// headerSize is reserved at offset 0 of every container region.
const headerSize = 64

// ensure grows mem so that [0, end) is addressable.
func ensure(mem memory.Memory, end uint64) error {
	have := mem.Size() * memory.PageSize
	if end <= have {
		return nil
	}
	pages := (end - have + memory.PageSize - 1) / memory.PageSize
	if _, err := mem.Grow(pages); err != nil {
		return err
	}
	return nil
}

// openHeader formats a fresh region or checks an existing one. geometry is
// compared byte for byte against what was persisted.
func openHeader(mem memory.Memory, magic string, geometry []byte) (fresh bool, err error) {
	if mem.Size() == 0 {
		if err := ensure(mem, headerSize); err != nil {
			return false, err
		}
		hdr := make([]byte, headerSize)
		copy(hdr, magic)
		hdr[3] = 1
		copy(hdr[4:], geometry)
		return true, mem.Write(0, hdr)
	}
	hdr := make([]byte, headerSize)
	if err := mem.Read(0, hdr); err != nil {
		return false, err
	}
	if string(hdr[:3]) != magic {
		return false, fmt.Errorf("%w: region magic %q, want %q", sentinel.ErrDecode, hdr[:3], magic)
	}
	if hdr[3] != 1 {
		return false, fmt.Errorf("%w: %s layout version %d", sentinel.ErrUnknownVersion, magic, hdr[3])
	}
	if string(hdr[4:4+len(geometry)]) != string(geometry) {
		return false, fmt.Errorf("%w: %s geometry changed", sentinel.ErrDecode, magic)
	}
	return false, nil
}

func readUint64(mem memory.Memory, off uint64) (uint64, error) {
	var b [8]byte
	if err := mem.Read(off, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeUint64(mem memory.Memory, off, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return mem.Write(off, b[:])
}
