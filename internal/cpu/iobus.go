// Package cpu models CPU bring-up (spec §4.1): the GDT/LDT/TSS descriptor
// pool, ring model, and the port-I/O primitives every hardware-facing
// component (PIC, CMOS, serial, VGA) is built on. There is no real ring 0
// here — see SPEC_FULL.md §9 — so LGDT/IN/OUT become explicit Go calls on
// the IOBus seam below.
package cpu

// IOBus is the port-I/O seam spec §4.1 calls "typed macros/inline
// primitives for port I/O"; simulated backends (internal/tty's PIC/CMOS/
// serial/VGA fakes) implement it instead of executing IN/OUT instructions,
// the way the teacher swaps a real gcs.Bucket for a gcsfake.Bucket in tests.
type IOBus interface {
	Inb(port uint16) uint8
	Outb(port uint16, v uint8)
	Inw(port uint16) uint16
	Outw(port uint16, v uint16)
	Inl(port uint16) uint32
	Outl(port uint16, v uint32)
}

// memBus is an in-memory IOBus used by simulated hardware and tests: each
// port is just a byte in a flat address space. Real register semantics
// (e.g. CMOS's command/data port pair, the PIC's ICW sequencing) live in
// the consuming package, not here.
type memBus struct {
	ports [65536]uint32
}

// NewMemBus returns a fresh in-memory IOBus with all ports zeroed.
func NewMemBus() IOBus { return &memBus{} }

func (b *memBus) Inb(port uint16) uint8    { return uint8(b.ports[port]) }
func (b *memBus) Outb(port uint16, v uint8) { b.ports[port] = uint32(v) }
func (b *memBus) Inw(port uint16) uint16   { return uint16(b.ports[port]) }
func (b *memBus) Outw(port uint16, v uint16) { b.ports[port] = uint32(v) }
func (b *memBus) Inl(port uint16) uint32   { return b.ports[port] }
func (b *memBus) Outl(port uint16, v uint32) { b.ports[port] = v }
