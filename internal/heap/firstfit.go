// Package heap implements the kernel's first-fit allocator (spec §4.5): a
// circular doubly-linked list of chunks over a fixed arena, 16-byte-aligned
// payloads, and a checksum-in-header corruption check that returns a
// distinguished error instead of silently hanging, per DESIGN.md's
// resolution of spec §9's checksum-in-pointer note.
package heap

import (
	"fmt"

	"github.com/jacobsa/syncutil"

	"github.com/example/x86kernel/internal/kerrno"
	"github.com/example/x86kernel/internal/telemetry"
)

// Align is the payload alignment, per spec §4.5.
const Align = 16

// headerSize is the conceptual chunk header: next, prev, checksum and size,
// one 4-byte word each on the 32-bit target. It is a multiple of Align, so
// every payload offset stays Align-aligned.
const headerSize = 16

// chunk is one arena entry, addressed by its offset into the arena rather
// than a raw pointer (Go has no pointer arithmetic); next/prev are the
// offsets of its ring neighbors. checksum mirrors spec §4.5's
// next-pointer-XOR-self-XOR-used-bit trick so a corrupted neighbor link is
// detectable instead of silently followed into garbage.
type chunk struct {
	next, prev int
	size       int // payload bytes, not counting the header
	used       bool
	checksum   uint64
}

func expectedChecksum(self, next int, used bool) uint64 {
	u := uint64(0)
	if used {
		u = 1
	}
	return uint64(next) ^ uint64(self) ^ u
}

// ErrCorruption is returned by operations that discover a bad checksum
// while walking the ring; At is the offset of the first bad chunk.
type ErrCorruption struct{ At int }

func (e *ErrCorruption) Error() string {
	return fmt.Sprintf("heap: corruption detected at offset %d", e.At)
}

// Arena is the first-fit heap over a fixed byte range. There is exactly one
// live Arena per kernel instance (the kernel heap); nothing prevents
// constructing more for tests.
type Arena struct {
	mu      syncutil.InvariantMutex
	chunks  map[int]*chunk
	cursor  int
	mallocs uint64
	frees   uint64
	tel     telemetry.Handle
}

// New builds an Arena of the given size (bytes): one free chunk spans the
// whole arena minus a permanent sentinel chunk at the end, always marked
// used so its neighbors can never absorb it, per spec §4.5.
func New(size int, tel telemetry.Handle) *Arena {
	a := &Arena{chunks: make(map[int]*chunk), tel: tel}
	sentinelOff := size - headerSize
	a.newChunk(0, sentinelOff-headerSize, false, sentinelOff)
	a.newChunk(sentinelOff, 0, true, 0)
	a.cursor = 0
	a.mu = syncutil.NewInvariantMutex(a.checkInvariants)
	return a
}

func (a *Arena) newChunk(off, size int, used bool, next int) {
	c := &chunk{size: size, used: used, next: next}
	c.checksum = expectedChecksum(off, next, used)
	a.chunks[off] = c
}

func (a *Arena) checkInvariants() {
	found := false
	for off, c := range a.chunks {
		if c.size == 0 {
			found = true
			if !c.used {
				panic("heap: sentinel chunk must always be used")
			}
		}
		_ = off
	}
	if !found {
		panic("heap: sentinel chunk missing")
	}
}

func align(n int) int {
	if r := n % Align; r != 0 {
		n += Align - r
	}
	return n
}

// verify recomputes off's checksum from its current fields and compares it
// against the stored value, catching a directly-corrupted neighbor link.
func (a *Arena) verify(off int) bool {
	c, ok := a.chunks[off]
	if !ok {
		return false
	}
	return c.checksum == expectedChecksum(off, c.next, c.used)
}

func (a *Arena) setNext(off, next int) {
	c := a.chunks[off]
	c.next = next
	c.checksum = expectedChecksum(off, next, c.used)
}

func (a *Arena) setUsed(off int, used bool) {
	c := a.chunks[off]
	c.used = used
	c.checksum = expectedChecksum(off, c.next, used)
}

// orderedOffsets returns every chunk offset walking next-links starting at
// start, stopping after visiting len(a.chunks) nodes (a full ring) or upon
// hitting a bad checksum / unknown offset, in which case ok is false and
// badAt names the offset where the walk broke down.
func (a *Arena) orderedOffsets(start int) (offs []int, ok bool, badAt int) {
	off := start
	for i := 0; i < len(a.chunks); i++ {
		if !a.verify(off) {
			return offs, false, off
		}
		offs = append(offs, off)
		off = a.chunks[off].next
	}
	return offs, true, 0
}

// Corruption walks the ring from offset 0 verifying every checksum and
// returns the offset of the first bad chunk, or -1 if the ring is intact.
// This is the first-class corruption-reporting path spec §9 requires in
// place of silently hanging.
func (a *Arena) Corruption() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok, badAt := a.orderedOffsets(0)
	if !ok {
		return badAt
	}
	return -1
}

// Malloc searches from the current cursor, round-robin, for the first free
// chunk of size >= n, splitting if slack allows, per spec §4.5.
func (a *Arena) Malloc(n int) (int, error) {
	if n <= 0 {
		return 0, kerrno.Wrap("heap.Malloc", kerrno.EINVAL)
	}
	need := align(n)

	a.mu.Lock()
	defer a.mu.Unlock()

	offs, ok, badAt := a.orderedOffsets(a.cursor)
	if !ok {
		return 0, &ErrCorruption{At: badAt}
	}

	for _, off := range offs {
		c := a.chunks[off]
		if c.used || c.size < need {
			continue
		}
		a.splitAndTake(off, need)
		a.mallocs++
		if a.tel != nil {
			a.tel.IncrCounter("heap_malloc_total", 1)
		}
		return off + headerSize, nil
	}
	return 0, kerrno.Wrap("heap.Malloc", kerrno.ENOMEM)
}

// splitAndTake marks the chunk at off used, splitting off a trailing free
// chunk if the slack is large enough to hold another header + aligned
// payload, then advances the cursor past the allocation.
func (a *Arena) splitAndTake(off, need int) {
	c := a.chunks[off]
	slack := c.size - need
	oldNext := c.next
	nextCursor := oldNext
	if slack >= headerSize+Align {
		newOff := off + headerSize + need
		a.newChunk(newOff, slack-headerSize, false, oldNext)
		a.setNext(off, newOff)
		c.size = need
		nextCursor = newOff
	}
	a.setUsed(off, true)
	a.cursor = nextCursor
}

// mergeNext merges the chunk at off with its next neighbor if that neighbor
// is free (never merges the sentinel, which is always used).
func (a *Arena) mergeNext(off int) {
	c := a.chunks[off]
	nc, ok := a.chunks[c.next]
	if !ok || c.next == off || nc.used {
		return
	}
	nextOff := c.next
	c.size += headerSize + nc.size
	a.setNext(off, nc.next)
	delete(a.chunks, nextOff)
}

// Free marks the chunk at payload-headerSize free, merging with its next
// neighbor if free, then its prev neighbor if free, and repositions the
// cursor at the merged chunk, per spec §4.5. Free locates the predecessor
// by scanning every chunk, since next-only links don't give O(1) reverse
// lookup — acceptable for a arena sized for kernel-internal allocations.
func (a *Arena) Free(payload int) error {
	off := payload - headerSize
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.chunks[off]
	if !ok || !a.verify(off) {
		return &ErrCorruption{At: off}
	}
	if !c.used {
		return kerrno.Wrap("heap.Free", kerrno.EINVAL)
	}
	a.setUsed(off, false)
	a.frees++
	if a.tel != nil {
		a.tel.IncrCounter("heap_free_total", 1)
	}

	a.mergeNext(off)

	// Merge with prev if free: find whoever points at off.
	predOff := -1
	for o, cc := range a.chunks {
		if cc.next == off && o != off {
			predOff = o
			break
		}
	}
	if predOff >= 0 && !a.chunks[predOff].used {
		pc := a.chunks[predOff]
		pc.size += headerSize + c.size
		a.setNext(predOff, c.next)
		delete(a.chunks, off)
		off = predOff
	}
	a.cursor = off
	return nil
}

// Realloc resizes the allocation at payload to newSize, per spec §4.5:
// shrinking splits off the trailing slack as a new free chunk (merging it
// with whatever free chunk already follows); growing first tries to absorb
// a free next neighbor in place, and only when that isn't big enough does
// it allocate a fresh chunk, copy the payload, and free the old one. The
// arena tracks chunk metadata only (it holds no backing byte store), so
// the "copy" step is the offset handoff itself; a real implementation backed
// by actual memory would memmove min(oldSize, newSize) bytes here.
func (a *Arena) Realloc(payload, newSize int) (int, error) {
	if newSize <= 0 {
		return 0, kerrno.Wrap("heap.Realloc", kerrno.EINVAL)
	}
	need := align(newSize)

	a.mu.Lock()
	off := payload - headerSize
	c, ok := a.chunks[off]
	if !ok || !a.verify(off) {
		a.mu.Unlock()
		return 0, &ErrCorruption{At: off}
	}
	if !c.used {
		a.mu.Unlock()
		return 0, kerrno.Wrap("heap.Realloc", kerrno.EINVAL)
	}

	if need == c.size {
		a.mu.Unlock()
		return payload, nil
	}

	if need < c.size {
		slack := c.size - need
		if slack >= headerSize+Align {
			newOff := off + headerSize + need
			oldNext := c.next
			a.newChunk(newOff, slack-headerSize, false, oldNext)
			a.setNext(off, newOff)
			c.size = need
			a.mergeNext(newOff)
			if a.cursor == off {
				a.cursor = newOff
			}
		}
		if a.tel != nil {
			a.tel.IncrCounter("heap_realloc_total", 1)
		}
		a.mu.Unlock()
		return payload, nil
	}

	// Growing: try to absorb a free next neighbor in place first.
	extra := need - c.size
	absorbed := false
	if nc, ok2 := a.chunks[c.next]; ok2 && c.next != off && !nc.used && nc.size+headerSize >= extra {
		nextOff := c.next
		avail := nc.size + headerSize
		oldNextNext := nc.next
		remainder := avail - extra
		if remainder >= headerSize+Align {
			remOff := off + headerSize + need
			a.newChunk(remOff, remainder-headerSize, false, oldNextNext)
			a.setNext(off, remOff)
			c.size = need
		} else {
			a.setNext(off, oldNextNext)
			c.size += avail
		}
		delete(a.chunks, nextOff)
		absorbed = true
	}
	if a.tel != nil && absorbed {
		a.tel.IncrCounter("heap_realloc_total", 1)
	}
	a.mu.Unlock()
	if absorbed {
		return payload, nil
	}

	// Neighbor can't cover it: allocate elsewhere and hand off the chunk.
	newPayload, err := a.Malloc(newSize)
	if err != nil {
		return 0, err
	}
	if err := a.Free(payload); err != nil {
		return 0, err
	}
	if a.tel != nil {
		a.tel.IncrCounter("heap_realloc_total", 1)
	}
	return newPayload, nil
}

// FreeBytes sums the size of every free chunk (excluding the sentinel),
// for the round-trip invariant in spec §8.
func (a *Arena) FreeBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, c := range a.chunks {
		if !c.used {
			total += c.size
		}
	}
	return total
}
