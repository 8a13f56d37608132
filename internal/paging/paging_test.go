package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/x86kernel/internal/interrupt"
	"github.com/example/x86kernel/internal/klog"
)

func TestIdentityMapTranslatesLowMemory(t *testing.T) {
	d := Setup(0xC0000000, 16, nil) // 16 pages usable = 64 KiB, well under one 4 MiB PDE
	phys, err := d.Translate(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), phys)
}

func TestHighHalfMapsSamePhysical(t *testing.T) {
	const kernOff = 0xC0000000
	d := Setup(kernOff, 16, nil)
	phys, err := d.Translate(kernOff + 0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), phys)
}

func TestUnmappedRegionFaultsAndReportsCR2(t *testing.T) {
	var faulted uint32
	irq := interrupt.New(klog.Discard(), func(f interrupt.Fault) { faulted = f.Addr })
	d := Setup(0xC0000000, 1, irq) // only first 4 MiB region mapped
	irq.RegisterIRQ(14, func() {})
	_ = faulted

	_, err := d.Translate(0x10000000) // well beyond the mapped region
	assert.Error(t, err)
	assert.Equal(t, uint32(0x10000000), faulted)
}

func TestMapIdentityOverrides(t *testing.T) {
	d := Setup(0xC0000000, 1, nil)
	require.NoError(t, d.MapIdentity(5, 0xB8000, true))
	e := d.Entry(5)
	assert.True(t, e.Present)
	assert.Equal(t, uint32(0xB8000), e.PhysBase)
}
