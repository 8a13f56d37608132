package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBlockOps(blockSize int, backing map[uint64][]byte) *Ops {
	return &Ops{
		BlockSize: func() int { return blockSize },
		GetReadOnlyBlock: func(n uint64) ([]byte, error) {
			b, ok := backing[n]
			if !ok {
				b = make([]byte, blockSize)
				backing[n] = b
			}
			return b, nil
		},
		GetReadWriteBlock: func(n uint64) ([]byte, error) {
			b, ok := backing[n]
			if !ok {
				b = make([]byte, blockSize)
				backing[n] = b
			}
			return b, nil
		},
	}
}

func TestLookupUnknownMajorIsENODEV(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(Char, DevNo{Major: CharTTY, Minor: 0})
	assert.Error(t, err)
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterChar(CharTTY, &Class{
		Name: "tty",
		GetDevice: func(minor uint32) (*Ops, error) {
			return &Ops{}, nil
		},
	}))
	ops, err := r.Lookup(Char, DevNo{Major: CharTTY, Minor: 0})
	require.NoError(t, err)
	assert.NotNil(t, ops)
}

func TestBlockingReadStraddlesBlocks(t *testing.T) {
	backing := map[uint64][]byte{
		0: []byte("0123456789AB"), // 12 bytes
		1: []byte("CDEFGHIJKLMN"),
	}
	ops := fakeBlockOps(12, backing)

	buf := make([]byte, 10)
	n, err := BlockingReadWrite(context.Background(), ops, 6, buf, false)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "6789ABCDEF", string(buf))
}

func TestBlockingReadFailsWithENXIOWhenNoBlockOps(t *testing.T) {
	ops := &Ops{BlockSize: func() int { return 512 }}
	_, err := BlockingReadWrite(context.Background(), ops, 0, make([]byte, 10), false)
	assert.Error(t, err)
}

func TestDevNoMakeIsDeterministic(t *testing.T) {
	a := Make(CharTTY, 3)
	b := Make(CharTTY, 3)
	assert.Equal(t, a, b)
}
