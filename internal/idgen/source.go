// Package idgen draws 128-bit record identifiers from a ChaCha20 keystream
// that is periodically rekeyed from an external entropy provider.
package idgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/sync/singleflight"

	"emrvault/pkg/platform/sentinel"
)

// EntropySource fetches fresh seed material. It may block on the network.
type EntropySource interface {
	RandomBytes(ctx context.Context) ([32]byte, error)
}

// SystemEntropy reads from the operating system CSPRNG.
type SystemEntropy struct{}

func (SystemEntropy) RandomBytes(_ context.Context) ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	return b, nil
}

type State uint8

const (
	Uninitialized State = iota
	Seeded
	Reseeding
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Seeded:
		return "seeded"
	case Reseeding:
		return "reseeding"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ChaChaSource is a deterministic random bit generator keyed by the last seed.
// Next32 only touches local state. Reseed fetches entropy without holding the
// lock, so draws continue from the previous key while a reseed is in flight.
type ChaChaSource struct {
	mu      sync.Mutex
	entropy EntropySource
	stream  *chacha20.Cipher
	state   State
	group   singleflight.Group
}

func NewChaChaSource(entropy EntropySource) *ChaChaSource {
	return &ChaChaSource{entropy: entropy}
}

// Seed installs key directly. Tests use it for reproducible streams.
func (s *ChaChaSource) Seed(key [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(key)
}

func (s *ChaChaSource) install(key [32]byte) {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed above.
		panic(err)
	}
	s.stream = c
	s.state = Seeded
}

func (s *ChaChaSource) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Next32 returns the next 32 keystream bytes.
func (s *ChaChaSource) Next32() ([32]byte, error) {
	var out [32]byte
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return out, sentinel.ErrNotSeeded
	}
	s.stream.XORKeyStream(out[:], out[:])
	return out, nil
}

// Reseed replaces the key with fresh entropy. Concurrent calls share one
// fetch. On failure the previous key, if any, stays in use.
func (s *ChaChaSource) Reseed(ctx context.Context) error {
	_, err, _ := s.group.Do("reseed", func() (any, error) {
		s.mu.Lock()
		prev := s.state
		if prev == Seeded {
			s.state = Reseeding
		}
		s.mu.Unlock()

		key, err := s.entropy.RandomBytes(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = prev
			return nil, fmt.Errorf("%w: %v", sentinel.ErrRandomnessUnavailable, err)
		}
		s.install(key)
		return nil, nil
	})
	return err
}
