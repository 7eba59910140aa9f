package sentinel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnknownVersionIsDecodeError(t *testing.T) {
	err := fmt.Errorf("fragment tag 0x09: %w", ErrUnknownVersion)

	assert.True(t, errors.Is(err, ErrUnknownVersion))
	assert.True(t, errors.Is(err, ErrDecode))
	assert.False(t, errors.Is(fmt.Errorf("x: %w", ErrDecode), ErrUnknownVersion))
}
