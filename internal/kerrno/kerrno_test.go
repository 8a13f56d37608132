package kerrno

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegative(t *testing.T) {
	assert.Equal(t, int32(-2), ENOENT.Negative())
}

func TestWrapPreservesIs(t *testing.T) {
	wrapped := Wrap("open", ENOENT)
	assert.True(t, errors.Is(wrapped, ENOENT))
	assert.Contains(t, wrapped.Error(), "open")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap("open", nil))
}

func TestUnknownErrnoMessage(t *testing.T) {
	var e Errno = 9999
	assert.Contains(t, e.Error(), "9999")
}
