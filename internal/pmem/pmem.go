// Package pmem implements the physical-memory manager of spec §4.3: a
// bump allocator over usable Multiboot ranges plus a free list for
// reclaim. Per DESIGN.md's Open Question resolution, pmem_free into the
// interior of the allocated region is fully implemented (not "TODO").
package pmem

import (
	"sort"
	"sync"

	"github.com/example/x86kernel/internal/kerrno"
	"github.com/example/x86kernel/internal/klog"
	"github.com/example/x86kernel/internal/telemetry"
)

// PageSize is the fixed page-frame size, per spec §3.
const PageSize = 4096

// Range is a Multiboot memory-map entry's usable portion, in page indexes
// (spec §6: "entries are {size, base_addr_lo/hi, length_lo/hi, type};
// usable==1, reserved==2").
type Range struct {
	StartPage uint64
	NumPages  uint64
}

// Module mirrors the Multiboot module list (spec §6): its frames are
// reserved until explicitly released by their consumer.
type Module struct {
	StartPage uint64
	EndPage   uint64
}

// maxPage caps the highest page index at 4 GiB − 1 page, per spec §4.3.
const maxPage = (1 << 32) / PageSize - 1

// freeRegion is one entry of the reclaim free list.
type freeRegion struct {
	start uint64
	n     uint64
}

// Manager is the kernel's single physical-memory allocator.
type Manager struct {
	mu            sync.Mutex
	bumpEdge      uint64
	bumpStart     uint64
	highestUsable uint64 // one past the highest usable page index (spec §4.3)
	reserved      map[uint64]bool // frame index -> reserved (frame 0, module frames)
	free          []freeRegion    // sorted by start, non-overlapping, non-adjacent to bumpEdge
	log           *klog.Logger
	tel           telemetry.Handle
}

// Setup consumes the Multiboot memory map + module list and sets the bump
// edge past the kernel image end and past every module, per spec §4.3.
// kernelEndPage is the first page after the kernel image.
func Setup(ranges []Range, mods []Module, kernelEndPage uint64, log *klog.Logger, tel telemetry.Handle) *Manager {
	m := &Manager{reserved: map[uint64]bool{0: true}, log: log, tel: tel}

	var highestUsable uint64
	for _, r := range ranges {
		end := r.StartPage + r.NumPages
		if end > highestUsable {
			highestUsable = end
		}
	}
	if highestUsable > maxPage+1 {
		highestUsable = maxPage + 1
	}

	edge := kernelEndPage
	for _, mod := range mods {
		if mod.EndPage > edge {
			edge = mod.EndPage
		}
		for p := mod.StartPage; p < mod.EndPage; p++ {
			m.reserved[p] = true
		}
	}
	m.bumpStart = edge
	m.bumpEdge = edge
	m.highestUsable = highestUsable
	return m
}

// Alloc reserves n contiguous page-aligned frames, returning the starting
// page index, or an error wrapping ENOMEM if none are available.
func (m *Manager) Alloc(n uint64) (uint64, error) {
	if n == 0 {
		return 0, kerrno.Wrap("pmem.Alloc", kerrno.EINVAL)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// First-fit against the free list (reclaimed regions), smallest start first.
	for i, fr := range m.free {
		if fr.n >= n {
			start := fr.start
			if fr.n == n {
				m.free = append(m.free[:i], m.free[i+1:]...)
			} else {
				m.free[i] = freeRegion{start: fr.start + n, n: fr.n - n}
			}
			m.markAllocated(start, n)
			return start, nil
		}
	}

	// Fall back to bumping the edge forward, bounded by the highest usable
	// page spec §4.3's memory-map scan computed at Setup.
	start := m.bumpEdge
	if start+n > m.highestUsable || start+n-1 > maxPage {
		return 0, kerrno.Wrap("pmem.Alloc", kerrno.ENOMEM)
	}
	m.bumpEdge += n
	m.markAllocated(start, n)
	return start, nil
}

func (m *Manager) markAllocated(start, n uint64) {
	if m.tel != nil {
		m.tel.IncrCounter(telemetry.MetricPageAllocs, float64(n))
	}
	if m.log != nil {
		m.log.Debugf("pmem", "alloc %d pages at %d", n, start)
	}
}

// Free releases n frames starting at start. If (start+n) equals the bump
// edge, the edge rolls back; otherwise the region is recorded on the free
// list and coalesced with any adjacent free region, per spec §4.3/§9.
func (m *Manager) Free(start, n uint64) error {
	if n == 0 {
		return kerrno.Wrap("pmem.Free", kerrno.EINVAL)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if start+n == m.bumpEdge {
		m.bumpEdge = start
		// Rolling the edge back may expose a free-list region that now
		// abuts the new edge; fold it in too.
		for len(m.free) > 0 {
			last := m.free[len(m.free)-1]
			if last.start+last.n == m.bumpEdge {
				m.bumpEdge = last.start
				m.free = m.free[:len(m.free)-1]
				continue
			}
			break
		}
	} else {
		m.insertFree(start, n)
	}
	if m.tel != nil {
		m.tel.IncrCounter(telemetry.MetricPageFrees, float64(n))
	}
	return nil
}

// insertFree inserts (start,n) into the sorted free list, merging with
// adjacent neighbors on either side.
func (m *Manager) insertFree(start, n uint64) {
	idx := sort.Search(len(m.free), func(i int) bool { return m.free[i].start >= start })
	m.free = append(m.free, freeRegion{})
	copy(m.free[idx+1:], m.free[idx:])
	m.free[idx] = freeRegion{start: start, n: n}

	// Merge with the following region.
	if idx+1 < len(m.free) && m.free[idx].start+m.free[idx].n == m.free[idx+1].start {
		m.free[idx].n += m.free[idx+1].n
		m.free = append(m.free[:idx+1], m.free[idx+2:]...)
	}
	// Merge with the preceding region.
	if idx > 0 && m.free[idx-1].start+m.free[idx-1].n == m.free[idx].start {
		m.free[idx-1].n += m.free[idx].n
		m.free = append(m.free[:idx], m.free[idx+1:]...)
	}
}

// FreePageCount reports pages currently reclaimable from the free list
// (pages above the bump edge are not counted).
func (m *Manager) FreePageCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, fr := range m.free {
		total += fr.n
	}
	return total
}

// BumpEdge exposes the current bump edge for tests.
func (m *Manager) BumpEdge() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumpEdge
}
