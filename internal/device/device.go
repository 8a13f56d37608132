// Package device implements the char/block device-class registry and the
// uniform device_ops vtable of spec §4.6, plus the generic blocking block
// I/O helper that splits a byte range over a device's block size.
package device

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/example/x86kernel/internal/kerrno"
)

// Type distinguishes the two device-class tables, per spec §3.
type Type int

const (
	Char Type = iota
	Block
)

// Limits per spec §4.6.
const (
	NChr = 30
	NBlk = 12
)

// DevNo packs (major, minor) via gnu_dev_makedev, per spec §6.
type DevNo struct{ Major, Minor uint32 }

// Make mirrors glibc's gnu_dev_makedev bit layout: minor bits 0-7 in bits
// 0-7, major bits 0-11 in bits 8-19, minor bits 8-19 in bits 20-31, and
// major bits 12-31 in bits 44-63.
func Make(major, minor uint32) uint64 {
	return (uint64(major&0xfff) << 8) | uint64(minor&0xff) | (uint64(minor&0xfff00) << 12) | (uint64(major&0xfffff000) << 32)
}

// Ops is the uniform device-operations vtable, spec §3: every field is
// nullable; a device implements only the subset relevant to its shape
// (block-style vs. stream-style).
type Ops struct {
	// Block-style.
	GetReadOnlyBlock  func(n uint64) ([]byte, error)
	GetReadWriteBlock func(n uint64) ([]byte, error)
	ForgetBlock       func(n uint64)
	BlockSize         func() int
	SizeInBlocks      func() uint64

	// Stream-style.
	ReadBuffer  func(buf []byte, pos int64) (n int, err error)
	WriteBuffer func(buf []byte, pos int64) (n int, err error)
	HasData     func() bool

	IOCtl func(cmd uintptr, args ...interface{}) (int, error)
}

// Class is a device class (major number); GetDevice constructs the device
// for a given minor on demand.
type Class struct {
	Name      string
	GetDevice func(minor uint32) (*Ops, error)
}

// Registry holds the two driver-family tables, indexed by major number.
type Registry struct {
	chr [NChr]*Class
	blk [NBlk]*Class
}

// NewRegistry builds an empty registry; components call RegisterChar /
// RegisterBlock during C6 bring-up.
func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) RegisterChar(major uint32, c *Class) error {
	if major >= NChr {
		return kerrno.Wrap("device.RegisterChar", kerrno.EINVAL)
	}
	r.chr[major] = c
	return nil
}

func (r *Registry) RegisterBlock(major uint32, c *Class) error {
	if major >= NBlk {
		return kerrno.Wrap("device.RegisterBlock", kerrno.EINVAL)
	}
	r.blk[major] = c
	return nil
}

// Lookup resolves (type, devno) through the two driver-family tables, per
// spec §3.
func (r *Registry) Lookup(t Type, dn DevNo) (*Ops, error) {
	var class *Class
	if t == Char {
		if dn.Major >= NChr {
			return nil, kerrno.Wrap("device.Lookup", kerrno.ENODEV)
		}
		class = r.chr[dn.Major]
	} else {
		if dn.Major >= NBlk {
			return nil, kerrno.Wrap("device.Lookup", kerrno.ENODEV)
		}
		class = r.blk[dn.Major]
	}
	if class == nil {
		return nil, kerrno.Wrap("device.Lookup", kerrno.ENODEV)
	}
	return class.GetDevice(dn.Minor)
}

// Known device majors, per spec §6.
const (
	CharMemdev    = 1
	CharTTY       = 4
	CharVCS       = 7
	CharKBD       = 11
	CharFramebuf  = 29
	BlockRAM      = 1
	BlockFloppy   = 2
	BlockIDE      = 3
)

// BlockingReadWrite splits [pos, pos+len) over the device's block size,
// issuing one get-block call per straddling block (all fetched concurrently
// via errgroup, with no cap on calls in flight — grounded on the teacher's parallel-range-read
// pattern in fs/inode/file.go), per spec §4.6. It returns ENXIO and the
// partial byte count if any underlying get-block call fails.
func BlockingReadWrite(ctx context.Context, ops *Ops, pos int64, buf []byte, write bool) (int, error) {
	if ops.BlockSize == nil {
		return 0, kerrno.Wrap("device.BlockingReadWrite", kerrno.ENXIO)
	}
	bs := ops.BlockSize()
	if bs <= 0 {
		return 0, kerrno.Wrap("device.BlockingReadWrite", kerrno.EINVAL)
	}

	type step struct {
		blockNum   uint64
		blockOff   int
		bufOff     int
		n          int
	}
	var steps []step
	remaining := len(buf)
	cur := pos
	bufOff := 0
	for remaining > 0 {
		blockNum := uint64(cur / int64(bs))
		blockOff := int(cur % int64(bs))
		n := bs - blockOff
		if n > remaining {
			n = remaining
		}
		steps = append(steps, step{blockNum, blockOff, bufOff, n})
		cur += int64(n)
		bufOff += n
		remaining -= n
	}

	get := ops.GetReadOnlyBlock
	if write {
		get = ops.GetReadWriteBlock
	}
	if get == nil {
		return 0, kerrno.Wrap("device.BlockingReadWrite", kerrno.ENXIO)
	}

	results := make([][]byte, len(steps))
	g, _ := errgroup.WithContext(ctx)
	for i, s := range steps {
		i, s := i, s
		g.Go(func() error {
			block, err := get(s.blockNum)
			if err != nil {
				return err
			}
			results[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Report how much we completed before the first failure in program
		// order, not goroutine-completion order.
		done := 0
		for i, s := range steps {
			if results[i] == nil {
				break
			}
			done += s.n
		}
		return done, kerrno.Wrap("device.BlockingReadWrite", kerrno.ENXIO)
	}

	done := 0
	for i, s := range steps {
		block := results[i]
		if write {
			copy(block[s.blockOff:s.blockOff+s.n], buf[s.bufOff:s.bufOff+s.n])
		} else {
			copy(buf[s.bufOff:s.bufOff+s.n], block[s.blockOff:s.blockOff+s.n])
		}
		if ops.ForgetBlock != nil {
			ops.ForgetBlock(s.blockNum)
		}
		done += s.n
	}
	return done, nil
}
