package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMallocReturnsAlignedPointer(t *testing.T) {
	a := New(4096, nil)
	p, err := a.Malloc(37)
	require.NoError(t, err)
	assert.Equal(t, 0, p%Align)
}

func TestMallocThenFreeRestoresFreeBytes(t *testing.T) {
	a := New(4096, nil)
	before := a.FreeBytes()

	p, err := a.Malloc(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	assert.Equal(t, before, a.FreeBytes())
}

// Boundary scenario 2 from spec §8: after two 16-byte mallocs are both
// freed, the walker observes exactly one free chunk spanning the arena
// minus the sentinel.
func TestTwoAllocsFreedMergeToOneChunk(t *testing.T) {
	a := New(96, nil)
	p1, err := a.Malloc(16)
	require.NoError(t, err)
	p2, err := a.Malloc(16)
	require.NoError(t, err)

	require.NoError(t, a.Free(p1))
	require.NoError(t, a.Free(p2))

	freeCount := 0
	for _, c := range a.chunks {
		if !c.used {
			freeCount++
		}
	}
	assert.Equal(t, 1, freeCount)
}

func TestCorruptionDetectedOnBadChecksum(t *testing.T) {
	a := New(4096, nil)
	p, err := a.Malloc(32)
	require.NoError(t, err)
	off := p - headerSize

	// Simulate memory corruption: flip a next pointer without updating its
	// checksum.
	a.chunks[off].next = 9999

	assert.NotEqual(t, -1, a.Corruption())
}

func TestFreeUnallocatedPointerIsRejected(t *testing.T) {
	a := New(4096, nil)
	p, err := a.Malloc(16)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))
	assert.Error(t, a.Free(p))
}

func TestMallocFailsWhenExhausted(t *testing.T) {
	a := New(96, nil) // tiny arena, one header + sentinel leaves little room
	_, err := a.Malloc(10000)
	assert.Error(t, err)
}

func TestReallocSameAlignedSizeIsNoop(t *testing.T) {
	a := New(4096, nil)
	p, err := a.Malloc(32)
	require.NoError(t, err)

	newP, err := a.Realloc(p, 32)
	require.NoError(t, err)
	assert.Equal(t, p, newP)
}

// Shrinking splits the trailing slack off as a new free chunk and merges it
// with whatever free chunk already follows, per spec §4.5.
func TestReallocShrinkSplitsTrailingSlackBackIntoFreeList(t *testing.T) {
	a := New(4096, nil)
	p, err := a.Malloc(256)
	require.NoError(t, err)
	before := a.FreeBytes()

	newP, err := a.Realloc(p, 32)
	require.NoError(t, err)
	assert.Equal(t, p, newP)
	assert.Equal(t, before+224, a.FreeBytes())
}

// Growing absorbs a free next neighbor in place rather than relocating, per
// spec §4.5.
func TestReallocGrowAbsorbsFreeNextNeighborInPlace(t *testing.T) {
	a := New(4096, nil)
	p1, err := a.Malloc(64)
	require.NoError(t, err)
	p2, err := a.Malloc(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(p2))

	before := a.FreeBytes()
	newP, err := a.Realloc(p1, 96)
	require.NoError(t, err)
	assert.Equal(t, p1, newP)
	assert.Equal(t, before-32, a.FreeBytes())
}

// When the next neighbor is used (or too small), growing allocates a fresh
// chunk and frees the old one, per spec §4.5.
func TestReallocGrowRelocatesWhenNeighborUnavailable(t *testing.T) {
	a := New(4096, nil)
	p1, err := a.Malloc(64)
	require.NoError(t, err)
	_, err = a.Malloc(64) // keeps p1's neighbor used, blocking in-place growth
	require.NoError(t, err)

	newP, err := a.Realloc(p1, 512)
	require.NoError(t, err)
	assert.NotEqual(t, p1, newP)
	assert.Equal(t, 0, newP%Align)
	assert.Equal(t, -1, a.Corruption())

	// The old chunk was freed as part of the relocation.
	assert.Error(t, a.Free(p1))
}

func TestReallocOfFreedPointerIsRejected(t *testing.T) {
	a := New(4096, nil)
	p, err := a.Malloc(32)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	_, err = a.Realloc(p, 64)
	assert.Error(t, err)
}
