package vfs

import (
	"strings"

	"github.com/jacobsa/syncutil"

	"github.com/example/x86kernel/internal/kerrno"
)

// Mount is one mounted filesystem instance: a driver's inode-ops bound to a
// root inode, plus bookkeeping for where it is grafted into the tree.
type Mount struct {
	Driver *FilesystemDriver
	Root   Inode
	// Payload is the driver-private superblock state (e.g. the ramfs
	// in-memory inode table); opaque to vfs itself.
	Payload interface{}
}

// mountpoint binds a Mount under a path component of its parent.
type mountpoint struct {
	path   string
	mount  *Mount
}

// Tree is the global mount tree: an ordered list of mountpoints (most
// specific path wins), locked with an InvariantMutex in the teacher's style
// (jacobsa/syncutil, as fs/fs.go locks its inode table) since the mount list
// is read on every path lookup and written only at (un)mount time.
type Tree struct {
	mu     syncutil.InvariantMutex
	points []mountpoint
}

func NewTree() *Tree {
	t := &Tree{}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *Tree) checkInvariants() {
	seen := map[string]bool{}
	for _, mp := range t.points {
		if seen[mp.path] {
			panic("vfs: duplicate mountpoint path " + mp.path)
		}
		seen[mp.path] = true
	}
}

// Mount grafts m at path (must be absolute, "/"-rooted; "/" itself is the
// root mount). Mounting twice at the same path replaces the prior mount,
// mirroring a remount.
func (t *Tree) Mount(path string, m *Mount) error {
	path = normalize(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, mp := range t.points {
		if mp.path == path {
			t.points[i].mount = m
			return nil
		}
	}
	t.points = append(t.points, mountpoint{path: path, mount: m})
	return nil
}

func (t *Tree) Unmount(path string) error {
	path = normalize(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, mp := range t.points {
		if mp.path == path {
			if path == "/" {
				return kerrno.Wrap("vfs.Unmount", kerrno.EINVAL)
			}
			t.points = append(t.points[:i], t.points[i+1:]...)
			return nil
		}
	}
	return kerrno.Wrap("vfs.Unmount", kerrno.ENOENT)
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		p = "/"
	}
	return p
}

// ResolveMount finds the mount covering path, returning it and the path
// remainder relative to that mount's root (longest-prefix match, so a
// mount at /dev wins over the root mount for /dev/tty).
func (t *Tree) ResolveMount(path string) (*Mount, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *mountpoint
	for i, mp := range t.points {
		if mp.path == "/" || path == mp.path || strings.HasPrefix(path, mp.path+"/") {
			if best == nil || len(mp.path) > len(best.path) {
				best = &t.points[i]
			}
		}
	}
	if best == nil {
		return nil, "", kerrno.Wrap("vfs.ResolveMount", kerrno.ENOENT)
	}
	rel := strings.TrimPrefix(path, best.path)
	rel = strings.TrimPrefix(rel, "/")
	return best.mount, rel, nil
}

// Lookup resolves an absolute path to its Inode, descending component by
// component through the mount covering it, generalized from fs/fs.go's
// LookUpInode dispatch (which resolves a single name under a known parent;
// here we additionally walk the full path and cross mount boundaries).
func (t *Tree) Lookup(path string) (Inode, error) {
	path = normalize(path)
	m, rel, err := t.ResolveMount(path)
	if err != nil {
		return nil, err
	}
	cur := m.Root
	if rel == "" {
		return cur, nil
	}
	for _, comp := range strings.Split(rel, "/") {
		if comp == "" {
			continue
		}
		next, err := m.Driver.Ops.LookupInode(cur, comp)
		if err != nil {
			return nil, kerrno.Wrap("vfs.Lookup", err)
		}
		cur = next
	}
	return cur, nil
}

// LookupParent splits path into (parent inode, final component), the shape
// every mutating vfs operation (mkdir, unlink, create) needs.
func (t *Tree) LookupParent(path string) (Inode, string, error) {
	path = normalize(path)
	if path == "/" {
		return nil, "", kerrno.Wrap("vfs.LookupParent", kerrno.EINVAL)
	}
	idx := strings.LastIndex(path, "/")
	parentPath := path[:idx]
	name := path[idx+1:]
	if name == "" {
		return nil, "", kerrno.Wrap("vfs.LookupParent", kerrno.EINVAL)
	}
	parent, err := t.Lookup(parentPath)
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}
