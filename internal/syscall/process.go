// Package syscall implements the numbered INT 0x80 dispatch gate of spec
// §4.10: per-process file-descriptor tables, open/read/write/close/lseek/
// mkdir/unlink/rmdir/rename/link/trunc/getpid/time/chdir/print. mount,
// umount and kill have numbers in the table and return ETODO.
package syscall

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/example/x86kernel/internal/kerrno"
	"github.com/example/x86kernel/internal/sched"
	"github.com/example/x86kernel/internal/vfs"
)

// NProcessFDs bounds the per-process descriptor table, spec §4.10.
const NProcessFDs = 32

// Open-flag bit values, reused verbatim from golang.org/x/sys/unix rather
// than hand-rolled, per DESIGN.md's C10 domain-stack wiring.
const (
	ORdonly = unix.O_RDONLY
	OWronly = unix.O_WRONLY
	ORdwr   = unix.O_RDWR
	OCreat  = unix.O_CREAT
	OTrunc  = unix.O_TRUNC
	OAppend = unix.O_APPEND
)

// FileDescr is one open-file entry: spec §4.10's (mount, inode, flags,
// position) tuple. Position is -1 for non-seekable underlying objects.
type FileDescr struct {
	Mount *vfs.Mount
	Inode vfs.Inode
	Flags int
	Pos   int64
}

const nonSeekable = -1

// Process is the per-process state spec §4.10 names.
type Process struct {
	mu sync.Mutex

	Task      *sched.Task
	Pid, Ppid int
	UStackBase, HeapEnd uint32
	CTTY      string
	Umask     uint32
	Cwd       string
	fds       [NProcessFDs]*FileDescr
}

// NewProcess builds a process with an empty FD table rooted at "/".
func NewProcess(pid, ppid int, task *sched.Task) *Process {
	return &Process{Task: task, Pid: pid, Ppid: ppid, Cwd: "/", Umask: 0022}
}

// AllocFD returns the lowest free descriptor index and installs fd there,
// per spec §4.10's alloc_fd_for_pid.
func (p *Process) AllocFD(fd *FileDescr) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.fds {
		if existing == nil {
			p.fds[i] = fd
			return i, nil
		}
	}
	return 0, kerrno.Wrap("syscall.AllocFD", kerrno.EMFILE)
}

// GetFD returns the descriptor at index, per spec §4.10's
// get_filedescr_for_pid.
func (p *Process) GetFD(index int) (*FileDescr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= NProcessFDs || p.fds[index] == nil {
		return nil, kerrno.Wrap("syscall.GetFD", kerrno.EBADF)
	}
	return p.fds[index], nil
}

func (p *Process) clearFD(index int) {
	p.mu.Lock()
	p.fds[index] = nil
	p.mu.Unlock()
}

// Table is the global pid -> Process map.
type Table struct {
	mu    sync.Mutex
	procs map[int]*Process
}

func NewTable() *Table { return &Table{procs: map[int]*Process{}} }

func (t *Table) Add(p *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[p.Pid] = p
}

func (t *Table) Get(pid int) (*Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return nil, kerrno.Wrap("syscall.Table.Get", kerrno.ESRCH)
	}
	return p, nil
}

func (t *Table) Remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}
