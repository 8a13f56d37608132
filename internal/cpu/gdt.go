package cpu

import (
	"github.com/jacobsa/syncutil"

	"github.com/example/x86kernel/internal/kerrno"
)

// Ring is a CPU privilege level; only 0 (kernel) and 3 (user) are used, per
// spec §3's segment-descriptor invariants.
type Ring uint8

const (
	Ring0 Ring = 0
	Ring3 Ring = 3
)

// SegmentKind distinguishes the descriptor shapes spec §3 names.
type SegmentKind int

const (
	SegCode SegmentKind = iota
	SegData
	SegTSS
	SegLDT
)

// Descriptor is a hardware-format GDT/LDT entry. Base/Limit are carried for
// completeness; this simulation never needs to translate an address through
// them since there is no real segmentation unit, but the fields round-trip
// so tests can assert on installed values.
type Descriptor struct {
	Kind SegmentKind
	Ring Ring
	Base uint32
	Limit uint32
	Busy bool // only meaningful for SegTSS; cleared before a TSS is loaded into TR
}

// NTasks bounds the TSS descriptor pool, per spec §4.1: "reserves room for
// N_TASKS × 2 task descriptors".
const NTasks = 64

// fixedSlots are the GDT indexes spec §4.1 pins: kernel-code, kernel-data,
// user-code, user-data, default-LDT — always allocated first and never
// reclaimed.
const (
	SlotNull = iota
	SlotKernelCode
	SlotKernelData
	SlotUserCode
	SlotUserData
	SlotDefaultLDT
	firstDynamicSlot
)

// GDT is the kernel's single global descriptor table. There is exactly one
// instance for the process lifetime (spec §9: "model each [piece of global
// mutable state] as a single well-identified process-wide object"),
// constructed once by Setup and never destroyed.
type GDT struct {
	mu      syncutil.InvariantMutex
	entries []Descriptor // index 0 unused (null descriptor)
	freed   map[int]bool // dynamic slots released by Free, reusable by AllocEntry
}

// Setup constructs the GDT with the fixed kernel/user/LDT slots installed
// and loads it (a no-op LGDT in this simulation), per spec §4.1.
func Setup() *GDT {
	g := &GDT{
		entries: make([]Descriptor, firstDynamicSlot, firstDynamicSlot+2*NTasks),
	}
	g.entries[SlotKernelCode] = Descriptor{Kind: SegCode, Ring: Ring0}
	g.entries[SlotKernelData] = Descriptor{Kind: SegData, Ring: Ring0}
	g.entries[SlotUserCode] = Descriptor{Kind: SegCode, Ring: Ring3}
	g.entries[SlotUserData] = Descriptor{Kind: SegData, Ring: Ring3}
	g.entries[SlotDefaultLDT] = Descriptor{Kind: SegLDT, Ring: Ring0}
	g.mu = syncutil.NewInvariantMutex(g.checkInvariants)
	return g
}

func (g *GDT) checkInvariants() {
	if g.entries[SlotKernelCode].Ring != Ring0 || g.entries[SlotKernelData].Ring != Ring0 {
		panic("cpu: kernel selectors must carry RPL=0")
	}
	if g.entries[SlotUserCode].Ring != Ring3 || g.entries[SlotUserData].Ring != Ring3 {
		panic("cpu: user selectors must carry RPL=3")
	}
}

// AllocEntry atomically returns the lowest free GDT slot and installs descr,
// or ENOMEM-wrapped (0, err) on exhaustion — per spec §4.1: "GDT exhaustion
// returns 0; higher layers must reject with a resource-exhausted error."
// Callers must run with IRQs conceptually disabled (spec §5); this
// simulation enforces that by serializing all allocators through g.mu
// instead.
func (g *GDT) AllocEntry(descr Descriptor) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if descr.Kind == SegTSS {
		descr.Busy = false // a busy-TSS-bit is cleared on any descriptor about to be loaded into TR
	}
	for i := firstDynamicSlot; i < len(g.entries); i++ {
		if g.freed[i] {
			delete(g.freed, i)
			g.entries[i] = descr
			return i, nil
		}
	}
	if len(g.entries) >= cap(g.entries) {
		return 0, kerrno.Wrap("cpu.AllocEntry", kerrno.ENOMEM)
	}
	g.entries = append(g.entries, descr)
	return len(g.entries) - 1, nil
}

// Free releases a dynamically allocated slot (TSS/LDT descriptors torn down
// with a task, per spec §9's task-teardown requirement). Fixed slots
// (index < firstDynamicSlot) may never be freed.
func (g *GDT) Free(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index < firstDynamicSlot || index >= len(g.entries) {
		return kerrno.Wrap("cpu.Free", kerrno.EINVAL)
	}
	g.entries[index] = Descriptor{}
	if g.freed == nil {
		g.freed = map[int]bool{}
	}
	g.freed[index] = true
	return nil
}

// Get returns the descriptor installed at index.
func (g *GDT) Get(index int) (Descriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index < 0 || index >= len(g.entries) {
		return Descriptor{}, kerrno.Wrap("cpu.Get", kerrno.EINVAL)
	}
	return g.entries[index], nil
}

// LoadTR marks the descriptor at index Busy (simulating the CPU's implicit
// TSS-busy-bit set on LTR). It touches no other descriptor: callers clear
// Busy on the previously loaded TSS themselves with ClearBusy (see
// internal/sched).
func (g *GDT) LoadTR(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index < 0 || index >= len(g.entries) {
		return kerrno.Wrap("cpu.LoadTR", kerrno.EINVAL)
	}
	if g.entries[index].Kind != SegTSS {
		return kerrno.Wrap("cpu.LoadTR", kerrno.EINVAL)
	}
	g.entries[index].Busy = true
	return nil
}

// ClearBusy clears the busy bit on a TSS descriptor, e.g. when a task is
// switched away from.
func (g *GDT) ClearBusy(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index < 0 || index >= len(g.entries) {
		return kerrno.Wrap("cpu.ClearBusy", kerrno.EINVAL)
	}
	g.entries[index].Busy = false
	return nil
}
