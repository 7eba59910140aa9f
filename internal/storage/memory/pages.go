package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PageStore persists whole pages. StorePages must apply the given pages and
// the new size atomically.
type PageStore interface {
	LoadPages(ctx context.Context) (pages map[uint64][]byte, size uint64, err error)
	StorePages(ctx context.Context, pages map[uint64][]byte, size uint64) error
}

// PageMemory caches every page in process and writes touched pages through
// to a PageStore before returning. Pages never written read as zeros and are
// never stored.
type PageMemory struct {
	mu      sync.RWMutex
	store   PageStore
	pages   map[uint64][]byte
	size    uint64
	timeout time.Duration
}

// OpenPageMemory loads the current image from store.
func OpenPageMemory(ctx context.Context, store PageStore, timeout time.Duration) (*PageMemory, error) {
	pages, size, err := store.LoadPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	for n, p := range pages {
		if len(p) != PageSize || n >= size {
			return nil, fmt.Errorf("load pages: page %d has %d bytes within %d pages", n, len(p), size)
		}
	}
	if pages == nil {
		pages = make(map[uint64][]byte)
	}
	return &PageMemory{store: store, pages: pages, size: size, timeout: timeout}, nil
}

func (m *PageMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *PageMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.size
	ctx, cancel := m.context()
	defer cancel()
	if err := m.store.StorePages(ctx, nil, prev+pages); err != nil {
		return prev, outOfMemory("grow page store: %v", err)
	}
	m.size = prev + pages
	return prev, nil
}

func (m *PageMemory) Read(offset uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkBounds(m.size, offset, len(dst)); err != nil {
		return err
	}
	for done := 0; done < len(dst); {
		pos := offset + uint64(done)
		n, in := pos/PageSize, pos%PageSize
		chunk := min(len(dst)-done, int(PageSize-in))
		if page, ok := m.pages[n]; ok {
			copy(dst[done:done+chunk], page[in:])
		} else {
			clear(dst[done : done+chunk])
		}
		done += chunk
	}
	return nil
}

func (m *PageMemory) Write(offset uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(m.size, offset, len(src)); err != nil {
		return err
	}
	touched := make(map[uint64][]byte)
	for done := 0; done < len(src); {
		pos := offset + uint64(done)
		n, in := pos/PageSize, pos%PageSize
		chunk := min(len(src)-done, int(PageSize-in))
		page, ok := touched[n]
		if !ok {
			page = make([]byte, PageSize)
			if cur, exists := m.pages[n]; exists {
				copy(page, cur)
			}
			touched[n] = page
		}
		copy(page[in:], src[done:done+chunk])
		done += chunk
	}

	ctx, cancel := m.context()
	defer cancel()
	if err := m.store.StorePages(ctx, touched, m.size); err != nil {
		return fmt.Errorf("store pages: %w", err)
	}
	for n, page := range touched {
		m.pages[n] = page
	}
	return nil
}

func (m *PageMemory) context() (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), m.timeout)
}
