// Package interrupt models the IDT, PIC remap and IRQ dispatch of spec
// §4.2. Exceptions and IRQs arrive as explicit Go calls (Raise/FireIRQ)
// instead of real CPU traps; the dispatch-by-numbered-table shape is kept
// exactly, grounded on the teacher's op-to-handler dispatch in fs/fs.go
// (there: fuseops.Op → method; here: vector → handler).
package interrupt

import (
	"fmt"
	"sync"

	"github.com/example/x86kernel/internal/klog"
)

// GateKind mirrors spec §4.2's interrupt-gate vs. call-gate vs. trap-gate
// distinction; it only affects logging/diagnostics in this simulation since
// there is no real CPU privilege check to perform.
type GateKind int

const (
	GateInterrupt GateKind = iota
	GateTrap
	GateCall
)

// Gate is one IDT entry: a handler plus the privilege/kind metadata spec
// §4.2 assigns per vector.
type Gate struct {
	Kind    GateKind
	DPL     uint8
	Handler func(vector int, errCode uint32)
	present bool
}

const (
	NumVectors  = 256
	IRQBase     = 0x20 // after remapping, IRQ0 lands at 0x20
	SyscallVec  = 0x80
	NumIRQLines = 16
)

// Fault carries the diagnostic fields spec §4.2 prints for page faults and
// GPFs: "{cs:eip, error-code, faulting-address}".
type Fault struct {
	Vector  int
	CS      uint16
	EIP     uint32
	ErrCode uint32
	Addr    uint32 // CR2-equivalent; zero unless the vector is a page fault
}

// Controller owns the IDT and the two cascaded-PIC simulation. There is
// exactly one Controller for the kernel's lifetime.
type Controller struct {
	mu           sync.Mutex
	idt          [NumVectors]Gate
	irqHandlers  [NumIRQLines]func()
	irqHappened  [NumIRQLines]uint64
	irqMaskedM   uint8 // master PIC mask register (port 0x21)
	irqMaskedS   uint8 // slave PIC mask register (port 0xA1)
	log          *klog.Logger
	onFatalFault func(Fault)
	eoiCount     [2]uint64 // [master, slave]
	cond         *sync.Cond
}

// New builds a Controller with the IDT populated per spec §4.2's fixed
// policy table. onFatalFault is invoked for divide-error, invalid-opcode,
// double-fault and any ring-0 page-fault/GPF — the panic path of spec §7.
func New(log *klog.Logger, onFatalFault func(Fault)) *Controller {
	c := &Controller{log: log, onFatalFault: onFatalFault, irqMaskedS: 0xFF, irqMaskedM: 0xFF}
	c.cond = sync.NewCond(&c.mu)
	c.installExceptionGates()
	for v := 0x14; v <= 0x1F; v++ {
		c.idt[v] = Gate{Kind: GateInterrupt, DPL: 0, present: true, Handler: c.commonStub}
	}
	for v := IRQBase; v < IRQBase+NumIRQLines; v++ {
		irq := v - IRQBase
		c.idt[v] = Gate{Kind: GateInterrupt, DPL: 0, present: true, Handler: func(vector int, _ uint32) { c.irqHandler(irq) }}
	}
	for v := 0x30; v <= 0xFF; v++ {
		if v == SyscallVec {
			continue
		}
		c.idt[v] = Gate{Kind: GateCall, DPL: 3, present: true, Handler: c.dummyGate}
	}
	// The syscall entry itself (C10) installs its own handler via SetSyscallHandler.
	c.idt[SyscallVec] = Gate{Kind: GateCall, DPL: 3, present: true}
	return c
}

// exception vector names and classification, per spec §4.2's abbreviated
// table: "breakpoint and overflow are call gates with DPL=3"; the rest
// named there are interrupt/trap gates at DPL=0.
var exceptionCallGateDPL3 = map[int]bool{0x03: true, 0x04: true} // breakpoint, overflow

func (c *Controller) installExceptionGates() {
	for v := 0x00; v <= 0x13; v++ {
		kind := GateInterrupt
		dpl := uint8(0)
		if exceptionCallGateDPL3[v] {
			kind = GateCall
			dpl = 3
		}
		vec := v
		c.idt[v] = Gate{Kind: kind, DPL: dpl, present: true, Handler: func(vector int, errCode uint32) { c.handleException(vec, errCode) }}
	}
}

func (c *Controller) commonStub(vector int, _ uint32) {
	c.log.Debugf("interrupt", "common stub hit for vector %#x", vector)
}

func (c *Controller) dummyGate(vector int, _ uint32) {
	c.log.Debugf("interrupt", "dummy call gate %#x invoked, ignoring", vector)
}

// fatal vectors per spec §4.2: "divide-by-zero, invalid opcode, and double
// fault are fatal (panic)"; page fault and GPF print and hang (modeled here
// as onFatalFault too, since a hosted simulation has no other way to
// "hang" than to stop making progress — see SPEC_FULL.md §7).
var fatalVectors = map[int]bool{0x00: true, 0x06: true, 0x08: true, 0x0D: true, 0x0E: true}

func (c *Controller) handleException(vector int, errCode uint32) {
	f := Fault{Vector: vector, ErrCode: errCode}
	if vector == 0x0E {
		f.Addr = errCode // in this simulation the fault address is threaded through errCode by the caller of Raise for PF
	}
	c.log.Warnf("interrupt", "exception %#x errcode=%#x", vector, errCode)
	if fatalVectors[vector] && c.onFatalFault != nil {
		c.onFatalFault(f)
	}
}

// SetSyscallHandler installs the INT 0x80 entry point (C10 wires this up).
func (c *Controller) SetSyscallHandler(h func(vector int, errCode uint32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.idt[SyscallVec]
	g.Handler = h
	g.present = true
	c.idt[SyscallVec] = g
}

// Raise simulates a CPU exception or trap hitting vector v with the given
// error code (addr is only meaningful for page faults, spec §4.4).
func (c *Controller) Raise(vector int, errCode uint32) {
	c.mu.Lock()
	g := c.idt[vector]
	c.mu.Unlock()
	if !g.present || g.Handler == nil {
		panic(fmt.Sprintf("interrupt: vector %#x has no installed gate", vector))
	}
	g.Handler(vector, errCode)
}

// RaisePageFault is a thin wrapper over Raise that also records the
// faulting address (CR2 equivalent), per spec §4.4.
func (c *Controller) RaisePageFault(addr uint32, errCode uint32) {
	c.mu.Lock()
	g := c.idt[0x0E]
	c.mu.Unlock()
	c.log.Warnf("interrupt", "page fault at %#08x errcode=%#x", addr, errCode)
	if g.Handler != nil {
		g.Handler(0x0E, addr)
	}
	if c.onFatalFault != nil {
		c.onFatalFault(Fault{Vector: 0x0E, Addr: addr, ErrCode: errCode})
	}
}
