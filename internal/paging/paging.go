// Package paging models spec §4.4: 4 MiB huge-page identity + high-half
// mapping, and page-fault reporting. There is no MMU to program in this
// hosted simulation, so PageDirectory is a pure bookkeeping structure with
// the same data model and invariants a PSE page directory would have.
package paging

import (
	"sync"

	"github.com/example/x86kernel/internal/interrupt"
	"github.com/example/x86kernel/internal/kerrno"
)

// hugePageSize is 4 MiB, per spec §4.4.
const hugePageSize = 4 << 20

// PDE is one 4 MiB page-directory entry.
type PDE struct {
	PhysBase  uint32
	Present   bool
	Writable  bool
}

// Directory is the kernel's page directory: 1024 PDEs, each covering 4 MiB,
// giving a 4 GiB address space.
type Directory struct {
	mu      sync.RWMutex
	entries [1024]PDE
	kernOff uint32
	irq     *interrupt.Controller
}

// Setup copies the bootloader's initial page directory (modeled here as
// "start empty"), then maps every usable physical region below kernOff
// identity + high-half, per spec §4.4. CR3 switch is implicit (there is
// only ever one Directory in this simulation).
func Setup(kernOff uint32, usablePhysPages uint64, irq *interrupt.Controller) *Directory {
	d := &Directory{kernOff: kernOff, irq: irq}
	usableBytes := usablePhysPages * 4096
	for phys := uint64(0); phys < usableBytes; phys += hugePageSize {
		idx := int(phys / hugePageSize)
		if idx >= len(d.entries) {
			break
		}
		d.entries[idx] = PDE{PhysBase: uint32(phys), Present: true, Writable: true}
		highIdx := int((phys + uint64(kernOff)) / hugePageSize)
		if highIdx < len(d.entries) {
			d.entries[highIdx] = PDE{PhysBase: uint32(phys), Present: true, Writable: true}
		}
	}
	return d
}

// Translate resolves a virtual address through the 4 MiB PDEs, returning
// the physical address, or an error wrapping EFAULT if the covering PDE
// isn't present (after raising a page fault on the controller, if any).
func (d *Directory) Translate(vaddr uint32) (uint32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	idx := vaddr / hugePageSize
	if int(idx) >= len(d.entries) {
		return 0, kerrno.Wrap("paging.Translate", kerrno.EFAULT)
	}
	pde := d.entries[idx]
	if !pde.Present {
		if d.irq != nil {
			d.irq.RaisePageFault(vaddr, 0)
		}
		return 0, kerrno.Wrap("paging.Translate", kerrno.EFAULT)
	}
	offset := vaddr % hugePageSize
	return pde.PhysBase + offset, nil
}

// MapIdentity installs (or overwrites) a 4 MiB PDE at the given index,
// for components (e.g. device MMIO windows) that need an explicit mapping
// beyond the initial identity+high-half map.
func (d *Directory) MapIdentity(idx int, phys uint32, writable bool) error {
	if idx < 0 || idx >= len(d.entries) {
		return kerrno.Wrap("paging.MapIdentity", kerrno.EINVAL)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[idx] = PDE{PhysBase: phys, Present: true, Writable: writable}
	return nil
}

// Entry returns the PDE at idx, for tests and diagnostics.
func (d *Directory) Entry(idx int) PDE {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries[idx]
}
