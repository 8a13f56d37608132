// Package kerrno implements the POSIX-like error taxonomy of the kernel
// syscall boundary (see spec §7): negative numeric codes at the boundary,
// plain Go errors everywhere else.
package kerrno

import "fmt"

// Errno is a POSIX-like kernel error code. Internal callers compare against
// the sentinels below with errors.Is; the syscall gate converts an Errno to
// its negative numeric value before returning it to userspace.
type Errno int

func (e Errno) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Negative returns the syscall-boundary representation (-N).
func (e Errno) Negative() int32 { return -int32(e) }

// Sentinels, numbered per spec §7 / §4.10 and Linux's historical errno
// assignment (the values matter: they are what a syscall caller compares
// eax against).
const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	ESRCH   Errno = 3
	EIO     Errno = 5
	ENXIO   Errno = 6
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EFAULT  Errno = 14
	EEXIST  Errno = 17
	ENODEV  Errno = 19
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	ENFILE  Errno = 23
	EMFILE  Errno = 24
	ESPIPE  Errno = 29
	EROFS   Errno = 30
	EBADF   Errno = 9
	EKERN   Errno = 200 // reserved: kernel-internal inconsistency, usually fatal
	ETODO   Errno = 201 // not yet implemented
)

var names = map[Errno]string{
	EPERM:   "operation not permitted",
	ENOENT:  "no such file or directory",
	ESRCH:   "no such process",
	EIO:     "I/O error",
	ENXIO:   "no such device or address",
	EAGAIN:  "resource temporarily unavailable",
	ENOMEM:  "out of memory",
	EFAULT:  "bad address",
	EEXIST:  "file exists",
	ENODEV:  "no such device",
	ENOTDIR: "not a directory",
	EISDIR:  "is a directory",
	EINVAL:  "invalid argument",
	ENFILE:  "too many open files in system",
	EMFILE:  "too many open files",
	ESPIPE:  "illegal seek",
	EROFS:   "read-only file system",
	EBADF:   "bad file descriptor",
	EKERN:   "kernel-internal inconsistency",
	ETODO:   "not yet implemented",
}

// Wrap annotates err with a caller-supplied operation name while preserving
// errors.Is compatibility with the Errno sentinel, mirroring the teacher's
// use of fmt.Errorf("%w") at package boundaries (fs/fs.go error returns).
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
