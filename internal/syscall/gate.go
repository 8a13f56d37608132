package syscall

import (
	"errors"
	"strings"

	"github.com/example/x86kernel/internal/device"
	"github.com/example/x86kernel/internal/kerrno"
	"github.com/example/x86kernel/internal/vfs"
)

// Syscall numbers, spec §4.10 (selected, POSIX-ish).
const (
	SysRead   = 3
	SysWrite  = 4
	SysOpen   = 5
	SysClose  = 6
	SysLink   = 9
	SysUnlink = 10
	SysChdir  = 12
	SysTime   = 13
	SysLseek  = 19
	SysGetpid = 20
	SysMount  = 21
	SysUmount = 22
	SysKill   = 37
	SysRename = 38
	SysMkdir  = 39
	SysRmdir  = 40
	SysTrunc  = 53
	SysPrint  = 0xFF
)

// Whence values for lseek, mirroring the classical SEEK_* constants.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Gate is the syscall entry point: it owns the mount tree and process
// table and dispatches INT 0x80 by number, per spec §4.10.
type Gate struct {
	Tree  *vfs.Tree
	Procs *Table

	// Devices resolves a char/block device inode's (major, minor) to its
	// device_ops vtable, per spec §4.6; nil is valid (no device inode will
	// ever be opened, e.g. in tests that only exercise ramfs regular files).
	Devices *device.Registry

	// Print receives SysPrint's buffer; wired to the TTY/console in
	// cmd/kernel, kept as a plain callback here so syscall has no import
	// dependency on internal/tty.
	Print func(s string)

	now func() int64
}

func NewGate(tree *vfs.Tree, procs *Table, now func() int64) *Gate {
	return &Gate{Tree: tree, Procs: procs, now: now}
}

// Dispatch runs syscall nr for pid with args (ecx, edx, ebx mirroring
// arg1..arg3) and returns the eax return value, per spec §4.10.
func (g *Gate) Dispatch(pid int, nr int, arg1, arg2, arg3 uint32, buf []byte) (int32, error) {
	p, err := g.Procs.Get(pid)
	if err != nil {
		return -1, err
	}

	switch nr {
	case SysGetpid:
		return int32(p.Pid), nil
	case SysTime:
		if g.now == nil {
			return 0, nil
		}
		return int32(g.now()), nil
	case SysPrint:
		if g.Print != nil {
			g.Print(string(buf))
		}
		return int32(len(buf)), nil
	case SysChdir:
		path := string(buf)
		if _, err := g.Tree.Lookup(resolve(p, path)); err != nil {
			return errnoOf(err), err
		}
		p.Cwd = resolve(p, path)
		return 0, nil
	case SysOpen:
		return g.open(p, string(buf), int(arg1), arg2)
	case SysClose:
		return g.close(p, int(arg1))
	case SysRead:
		return g.readwrite(p, int(arg1), buf, false)
	case SysWrite:
		return g.readwrite(p, int(arg1), buf, true)
	case SysLseek:
		return g.lseek(p, int(arg1), int64(int32(arg2)), int(arg3))
	case SysMkdir:
		return g.mkdir(p, string(buf), arg1)
	case SysRmdir, SysUnlink:
		return g.unlink(p, string(buf))
	case SysLink:
		parts := strings.SplitN(string(buf), "\x00", 2)
		if len(parts) != 2 {
			return -1, kerrno.Wrap("syscall.Dispatch", kerrno.EINVAL)
		}
		return g.link(p, parts[0], parts[1])
	case SysRename:
		parts := strings.SplitN(string(buf), "\x00", 2)
		if len(parts) != 2 {
			return -1, kerrno.Wrap("syscall.Dispatch", kerrno.EINVAL)
		}
		return g.rename(p, parts[0], parts[1])
	case SysTrunc:
		return g.trunc(p, string(buf), int64(arg1))
	case SysMount, SysUmount, SysKill:
		// Declared in the dispatch table; mount/umount are driven directly
		// through internal/vfs.Tree by cmd/kernel's boot sequence rather
		// than through this gate, and process signaling has no receiver in
		// this single-address-space simulation (see DESIGN.md's Open
		// Question resolution for sys_kill/fork/execve/signals).
		return -1, kerrno.Wrap("syscall.Dispatch", kerrno.ETODO)
	default:
		return -1, kerrno.Wrap("syscall.Dispatch", kerrno.EINVAL)
	}
}

func resolve(p *Process, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return p.Cwd + "/" + path
}

func errnoOf(err error) int32 {
	var e kerrno.Errno
	if errors.As(err, &e) {
		return e.Negative()
	}
	return -1
}

// open implements spec §4.10's open semantics: O_CREAT materializes a
// missing target via make_inode then re-resolves it; O_TRUNC truncates a
// writable target to zero; O_APPEND seeks to i_size; non-seekable devices
// (those whose Ops expose HasData) get position -1.
func (g *Gate) open(p *Process, path string, flags int, mode uint32) (int32, error) {
	path = resolve(p, path)
	accessMode := flags & (ORdonly | OWronly | ORdwr)
	if accessMode != ORdonly && accessMode != OWronly && accessMode != ORdwr {
		return -1, kerrno.Wrap("syscall.open", kerrno.EINVAL)
	}

	in, err := g.Tree.Lookup(path)
	if err != nil && flags&OCreat != 0 {
		parent, name, perr := g.Tree.LookupParent(path)
		if perr != nil {
			return -1, perr
		}
		mnt, _, merr := g.Tree.ResolveMount(path)
		if merr != nil {
			return -1, merr
		}
		if _, cerr := mnt.Driver.Ops.MakeInode(parent, name, vfs.ModeReg|(mode&^p.Umask), 0, 0); cerr != nil {
			return -1, cerr
		}
		in, err = g.Tree.Lookup(path)
	}
	if err != nil {
		return -1, err
	}

	mnt, _, err := g.Tree.ResolveMount(path)
	if err != nil {
		return -1, err
	}

	if flags&OTrunc != 0 && accessMode != ORdonly {
		if terr := mnt.Driver.Ops.TruncInode(in, 0); terr != nil {
			return -1, terr
		}
	}

	var pos int64
	if flags&OAppend != 0 {
		pos = in.Attr().Size
	}
	if g.isStreamDevice(in.Attr()) {
		pos = nonSeekable
	}

	fd := &FileDescr{Mount: mnt, Inode: in, Flags: flags, Pos: pos}
	in.IncFds()

	idx, aerr := p.AllocFD(fd)
	if aerr != nil {
		return -1, aerr
	}
	return int32(idx), nil
}

// isStreamDevice reports whether attr names a char device whose device_ops
// exposes HasData (spec §4.10: "char devices… position set to −1 … lseek
// returns ESPIPE"). Block devices and char devices without HasData (e.g. a
// future device that only supports IOCtl) keep a normal seekable position.
func (g *Gate) isStreamDevice(attr vfs.Attr) bool {
	if g.Devices == nil || attr.Mode&vfs.ModeTypeMask != vfs.ModeChr {
		return false
	}
	ops, err := g.Devices.Lookup(device.Char, device.DevNo{Major: attr.Major, Minor: attr.Minor})
	if err != nil || ops == nil {
		return false
	}
	return ops.HasData != nil
}

func (g *Gate) close(p *Process, fd int) (int32, error) {
	f, err := p.GetFD(fd)
	if err != nil {
		return -1, err
	}
	p.clearFD(fd)
	reaped := f.Inode.DecFds()
	if reaped {
		_ = f.Mount.Driver.Ops.InodeSet(f.Inode)
	}
	return 0, nil
}

func (g *Gate) readwrite(p *Process, fd int, buf []byte, write bool) (int32, error) {
	f, err := p.GetFD(fd)
	if err != nil {
		return -1, err
	}
	var n int
	if write {
		n, err = f.Mount.Driver.Ops.WriteInode(f.Inode, buf, f.Pos)
	} else {
		n, err = f.Mount.Driver.Ops.ReadInode(f.Inode, buf, f.Pos)
	}
	if err != nil {
		return -1, err
	}
	if f.Pos != nonSeekable {
		f.Pos += int64(n)
	}
	return int32(n), nil
}

func (g *Gate) lseek(p *Process, fd int, offset int64, whence int) (int32, error) {
	f, err := p.GetFD(fd)
	if err != nil {
		return -1, err
	}
	if f.Pos == nonSeekable {
		return -1, kerrno.Wrap("syscall.lseek", kerrno.ESPIPE)
	}
	switch whence {
	case SeekSet:
		f.Pos = offset
	case SeekCur:
		f.Pos += offset
	case SeekEnd:
		f.Pos = f.Inode.Attr().Size + offset
	default:
		return -1, kerrno.Wrap("syscall.lseek", kerrno.EINVAL)
	}
	return int32(f.Pos), nil
}

func (g *Gate) mkdir(p *Process, path string, mode uint32) (int32, error) {
	path = resolve(p, path)
	parent, name, err := g.Tree.LookupParent(path)
	if err != nil {
		return -1, err
	}
	mnt, _, err := g.Tree.ResolveMount(path)
	if err != nil {
		return -1, err
	}
	if _, err := mnt.Driver.Ops.MakeDirectory(parent, name, mode&^p.Umask); err != nil {
		return -1, err
	}
	return 0, nil
}

func (g *Gate) unlink(p *Process, path string) (int32, error) {
	path = resolve(p, path)
	parent, name, err := g.Tree.LookupParent(path)
	if err != nil {
		return -1, err
	}
	mnt, _, err := g.Tree.ResolveMount(path)
	if err != nil {
		return -1, err
	}
	if err := mnt.Driver.Ops.UnlinkInode(parent, name); err != nil {
		return -1, err
	}
	return 0, nil
}

func (g *Gate) link(p *Process, oldpath, newpath string) (int32, error) {
	oldpath, newpath = resolve(p, oldpath), resolve(p, newpath)
	target, err := g.Tree.Lookup(oldpath)
	if err != nil {
		return -1, err
	}
	parent, name, err := g.Tree.LookupParent(newpath)
	if err != nil {
		return -1, err
	}
	mnt, _, err := g.Tree.ResolveMount(newpath)
	if err != nil {
		return -1, err
	}
	if err := mnt.Driver.Ops.LinkInode(target, parent, name); err != nil {
		return -1, err
	}
	return 0, nil
}

// rename is implemented as link-then-unlink, spec §9 offers no stronger
// atomicity guarantee for ramfs than the mechanism it's built from provides.
func (g *Gate) rename(p *Process, oldpath, newpath string) (int32, error) {
	if _, err := g.link(p, oldpath, newpath); err != nil {
		return -1, err
	}
	oldDir, oldName, err := g.Tree.LookupParent(resolve(p, oldpath))
	if err != nil {
		return -1, err
	}
	mnt, _, err := g.Tree.ResolveMount(resolve(p, oldpath))
	if err != nil {
		return -1, err
	}
	if err := mnt.Driver.Ops.UnlinkInode(oldDir, oldName); err != nil {
		return -1, err
	}
	return 0, nil
}

func (g *Gate) trunc(p *Process, path string, length int64) (int32, error) {
	path = resolve(p, path)
	in, err := g.Tree.Lookup(path)
	if err != nil {
		return -1, err
	}
	mnt, _, err := g.Tree.ResolveMount(path)
	if err != nil {
		return -1, err
	}
	if err := mnt.Driver.Ops.TruncInode(in, length); err != nil {
		return -1, err
	}
	return 0, nil
}
