package memory

import (
	"fmt"
	"os"
	"sync"
)

// FileMemory maps the address space onto a single file. The file length is
// always a whole number of pages.
type FileMemory struct {
	mu         sync.RWMutex
	file       *os.File
	pages      uint64
	syncWrites bool
}

type FileOption func(*FileMemory)

// WithSyncWrites fsyncs after every Write and Grow.
func WithSyncWrites(enabled bool) FileOption {
	return func(m *FileMemory) {
		m.syncWrites = enabled
	}
}

// OpenFile opens or creates the backing file at path.
func OpenFile(path string, opts ...FileOption) (*FileMemory, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open memory file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat memory file: %w", err)
	}
	if info.Size()%PageSize != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("memory file %s: size %d is not page aligned", path, info.Size())
	}
	m := &FileMemory{file: f, pages: uint64(info.Size()) / PageSize}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *FileMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pages
}

func (m *FileMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.pages
	if err := m.file.Truncate(int64((prev + pages) * PageSize)); err != nil {
		return prev, outOfMemory("grow memory file: %v", err)
	}
	if err := m.flush(); err != nil {
		return prev, err
	}
	m.pages = prev + pages
	return prev, nil
}

func (m *FileMemory) Read(offset uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkBounds(m.pages, offset, len(dst)); err != nil {
		return err
	}
	if _, err := m.file.ReadAt(dst, int64(offset)); err != nil {
		return fmt.Errorf("read memory file: %w", err)
	}
	return nil
}

func (m *FileMemory) Write(offset uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(m.pages, offset, len(src)); err != nil {
		return err
	}
	if _, err := m.file.WriteAt(src, int64(offset)); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	return m.flush()
}

func (m *FileMemory) flush() error {
	if !m.syncWrites {
		return nil
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("sync memory file: %w", err)
	}
	return nil
}

func (m *FileMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
