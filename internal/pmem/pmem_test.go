package pmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/x86kernel/internal/kerrno"
	"github.com/example/x86kernel/internal/klog"
)

// Boundary scenario 1 from spec §8: pmem_alloc(1) after setup with only one
// usable 8-page region must succeed exactly eight times, then the 9th must
// fail with ENOMEM because the bump edge has reached the end of the usable
// region.
func TestAllocEightThenFail(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 8}}, nil, 0, klog.Discard(), nil)

	for i := 0; i < 8; i++ {
		_, err := m.Alloc(1)
		require.NoErrorf(t, err, "allocation %d should have succeeded", i)
	}

	_, err := m.Alloc(1)
	require.Error(t, err, "9th allocation past the 8-page usable region must fail")
	assert.ErrorIs(t, err, kerrno.ENOMEM)
}

func TestFrameZeroReserved(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 64}}, nil, 1, klog.Discard(), nil)
	assert.True(t, m.reserved[0])
}

func TestFreeRollsBackBumpEdge(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 64}}, nil, 0, klog.Discard(), nil)
	start, err := m.Alloc(4)
	require.NoError(t, err)
	require.Equal(t, uint64(4), m.BumpEdge())

	require.NoError(t, m.Free(start, 4))
	assert.Equal(t, uint64(0), m.BumpEdge())
}

func TestFreeInteriorGoesToFreeList(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 64}}, nil, 0, klog.Discard(), nil)
	a, err := m.Alloc(4)
	require.NoError(t, err)
	_, err = m.Alloc(4) // b, keeps a from being at the bump edge after freeing it
	require.NoError(t, err)

	require.NoError(t, m.Free(a, 4))
	assert.Equal(t, uint64(4), m.FreePageCount())
}

func TestFreeListCoalescesAdjacentRegions(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 64}}, nil, 0, klog.Discard(), nil)
	a, _ := m.Alloc(4)
	b, _ := m.Alloc(4)
	c, _ := m.Alloc(4)

	require.NoError(t, m.Free(a, 4))
	require.NoError(t, m.Free(c, 4))
	// c ended at the bump edge, so freeing it rolled the edge back to b's
	// end; only a sits on the free list while b is still allocated.
	assert.Equal(t, uint64(4), m.FreePageCount())

	require.NoError(t, m.Free(b, 4))
	// Freeing b rolls the bump edge back past a, b, c entirely (a,b,c were
	// the only allocations and are contiguous at the tail).
	assert.Equal(t, uint64(0), m.BumpEdge())
	assert.Equal(t, uint64(0), m.FreePageCount())
}

func TestAllocReusesFreedRegionFirstFit(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 64}}, nil, 0, klog.Discard(), nil)
	a, _ := m.Alloc(4)
	_, _ = m.Alloc(4)
	require.NoError(t, m.Free(a, 4))

	reused, err := m.Alloc(4)
	require.NoError(t, err)
	assert.Equal(t, a, reused)
}

func TestAllocFailsPastHighestUsableEvenWithNoPriorAllocations(t *testing.T) {
	m := Setup([]Range{{StartPage: 0, NumPages: 4}}, nil, 0, klog.Discard(), nil)
	_, err := m.Alloc(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrno.ENOMEM)
}
