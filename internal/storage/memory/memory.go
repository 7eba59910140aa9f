// Package memory provides the flat, page-granular persistent address space
// that every stable container lives in, and the Manager that partitions it
// into named regions.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"emrvault/pkg/platform/sentinel"
)

// PageSize is the growth unit of every Memory.
const PageSize = 64 * 1024

// ErrOutOfBounds is a programming error: an access past the current size.
var ErrOutOfBounds = errors.New("memory access out of bounds")

// Memory is a growable byte address space measured in pages. Reads and
// writes never extend it; Grow must be called first.
type Memory interface {
	// Size returns the current size in pages.
	Size() uint64
	// Grow adds pages and returns the previous size.
	Grow(pages uint64) (uint64, error)
	Read(offset uint64, dst []byte) error
	Write(offset uint64, src []byte) error
}

func checkBounds(size, offset uint64, n int) error {
	end := offset + uint64(n)
	if end < offset || end > size*PageSize {
		return fmt.Errorf("%w: [%d, %d) beyond %d pages", ErrOutOfBounds, offset, end, size)
	}
	return nil
}

func outOfMemory(format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel.ErrOutOfMemory, fmt.Sprintf(format, args...))
}

// VecMemory keeps everything in a byte slice. A zero MaxPages means unbounded.
type VecMemory struct {
	mu       sync.RWMutex
	buf      []byte
	MaxPages uint64
}

func NewVecMemory() *VecMemory {
	return &VecMemory{}
}

func (m *VecMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.buf)) / PageSize
}

func (m *VecMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := uint64(len(m.buf)) / PageSize
	if m.MaxPages > 0 && prev+pages > m.MaxPages {
		return prev, outOfMemory("vec memory capped at %d pages", m.MaxPages)
	}
	m.buf = append(m.buf, make([]byte, pages*PageSize)...)
	return prev, nil
}

func (m *VecMemory) Read(offset uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkBounds(uint64(len(m.buf))/PageSize, offset, len(dst)); err != nil {
		return err
	}
	copy(dst, m.buf[offset:])
	return nil
}

func (m *VecMemory) Write(offset uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(uint64(len(m.buf))/PageSize, offset, len(src)); err != nil {
		return err
	}
	copy(m.buf[offset:], src)
	return nil
}
