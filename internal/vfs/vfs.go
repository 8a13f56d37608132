// Package vfs implements the mount tree, driver registry, path resolution
// and inode-operations vtable of spec §4.7. Its shape is grounded directly
// on the teacher's fileSystem dispatch in fs/fs.go (LookUpInode, MkDir,
// CreateFile, RmDir, Unlink, ReadDir, rename) and the Inode interface in
// fs/inode/inode.go, generalized from "backed by a GCS object" to "backed
// by a filesystem-driver-private payload".
package vfs

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/example/x86kernel/internal/kerrno"
)

// InoIndex is an inode index, unique within a superblock; 0 is reserved as
// invalid, per spec §3.
type InoIndex uint64

const InvalidIno InoIndex = 0

// Mode bits, reusing golang.org/x/sys/unix's real POSIX values instead of
// hand-rolling them (DESIGN.md: C7 domain-stack wiring).
const (
	ModeDir     = unix.S_IFDIR
	ModeReg     = unix.S_IFREG
	ModeChr     = unix.S_IFCHR
	ModeBlk     = unix.S_IFBLK
	ModeFifo    = unix.S_IFIFO
	ModeSocket  = unix.S_IFSOCK
	ModeSymlink = unix.S_IFLNK
	ModeTypeMask = unix.S_IFMT
)

// DirentType maps a mode to the on-the-wire dirent d_type, per spec §4.7.
func DirentType(mode uint32) uint8 {
	switch mode & ModeTypeMask {
	case ModeReg:
		return unix.DT_REG
	case ModeDir:
		return unix.DT_DIR
	case ModeSymlink:
		return unix.DT_LNK
	case ModeChr:
		return unix.DT_CHR
	case ModeBlk:
		return unix.DT_BLK
	case ModeFifo:
		return unix.DT_FIFO
	case ModeSocket:
		return unix.DT_SOCK
	default:
		return unix.DT_UNKNOWN
	}
}

// Attr is the stable, driver-independent inode attribute view.
type Attr struct {
	Ino     InoIndex
	Mode    uint32
	NLinks  uint32
	NFds    uint32
	Size    int64
	Major   uint32
	Minor   uint32
}

// Inode is the abstract file object every filesystem driver's inodes must
// implement, generalized from fs/inode/inode.go's Inode interface.
type Inode interface {
	sync.Locker
	ID() InoIndex
	Attr() Attr
	IncFds()
	DecFds() (reaped bool)
}

// Dirent mirrors spec §4.7's fields exactly.
type Dirent struct {
	Ino     InoIndex
	Off     uint64
	Reclen  uint16
	Type    uint8
	Namelen uint16
	Name    string
}

// InodeOps is the per-superblock inode-operations vtable, spec §4.7.
type InodeOps struct {
	ReadSuperblock func(source string, opts string) (*Mount, error)
	LookupInode    func(dir Inode, name string) (Inode, error)
	MakeDirectory  func(parent Inode, name string, mode uint32) (Inode, error)
	GetDirentry    func(dir Inode, iter *uint64) (Dirent, bool)
	MakeInode      func(parent Inode, name string, mode uint32, major, minor uint32) (Inode, error)
	LinkInode      func(target Inode, dir Inode, name string) error
	UnlinkInode    func(dir Inode, name string) error
	InodeGet       func(ino InoIndex) (Inode, error)
	InodeSet       func(in Inode) error
	ReadInode      func(in Inode, buf []byte, pos int64) (int, error)
	WriteInode     func(in Inode, buf []byte, pos int64) (int, error)
	TruncInode     func(in Inode, length int64) error
}

// FilesystemDriver is a named module registered globally before first use,
// spec §4.7.
type FilesystemDriver struct {
	Name     string
	FamilyID int
	Ops      *InodeOps
}

// DriverRegistry is the linked list of registered drivers (modeled as a
// slice; spec §9 calls for an explicit list abstraction instead of an
// intrusive linked list).
type DriverRegistry struct {
	mu      sync.Mutex
	drivers []*FilesystemDriver
}

func NewDriverRegistry() *DriverRegistry { return &DriverRegistry{} }

// Register adds a driver; re-registering the same name replaces it, the
// way a module reload would.
func (r *DriverRegistry) Register(d *FilesystemDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.drivers {
		if existing.Name == d.Name {
			r.drivers[i] = d
			return
		}
	}
	r.drivers = append(r.drivers, d)
}

func (r *DriverRegistry) Lookup(name string) (*FilesystemDriver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, kerrno.Wrap("vfs.DriverRegistry.Lookup", kerrno.ENODEV)
}
