// Command kernel boots the hosted kernel simulation: it decodes boot
// configuration, brings up the logging/telemetry handles, then wires C1
// through C13 in the dependency order spec §2 names, finally handing off to
// the kernel shell.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/example/x86kernel/internal/bootcfg"
	"github.com/example/x86kernel/internal/cpu"
	"github.com/example/x86kernel/internal/device"
	"github.com/example/x86kernel/internal/heap"
	"github.com/example/x86kernel/internal/interrupt"
	"github.com/example/x86kernel/internal/klog"
	"github.com/example/x86kernel/internal/netcore"
	"github.com/example/x86kernel/internal/paging"
	"github.com/example/x86kernel/internal/pmem"
	"github.com/example/x86kernel/internal/ramfs"
	"github.com/example/x86kernel/internal/sched"
	"github.com/example/x86kernel/internal/shell"
	"github.com/example/x86kernel/internal/syscall"
	"github.com/example/x86kernel/internal/telemetry"
	"github.com/example/x86kernel/internal/tty"
	"github.com/example/x86kernel/internal/vfs"
	"golang.org/x/time/rate"
)

// bootMemoryPages is the simulated usable-memory size (pages), standing in
// for the Multiboot memory map's "usable" entries this hosted kernel has no
// real BIOS to supply.
const bootMemoryPages = 16384 // 64 MiB at 4 KiB pages

func main() {
	cmdline := flag.String("cmdline", "loglevel=info root=ramfs init=/bin/sh", "simulated Multiboot cmdline")
	flag.Parse()

	opts, err := bootcfg.Decode(*cmdline, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "boot: invalid configuration:", err)
		os.Exit(1)
	}

	level := klog.Info
	switch opts.LogLevel {
	case "debug":
		level = klog.Debug
	case "warn":
		level = klog.Warn
	case "fatal":
		level = klog.Fatal
	}
	log := klog.New(klog.Config{MinLevel: level, Fallback: os.Stderr})
	defer log.Close()
	tel := telemetry.NewRegistry()

	log.Infof("boot", "decoded cmdline %q: root=%s init=%s loglevel=%s", opts.CmdLine, opts.Root, opts.Init, opts.LogLevel)

	// C1: CPU bring-up (GDT).
	gdt := cpu.Setup()
	log.Infof("cpu", "GDT initialized")

	// C2: interrupt/IDT controller. A ring-0 fault panics the simulation,
	// the hosted equivalent of spec §7's "disable interrupts, clear screen,
	// print message, halt forever".
	irqc := interrupt.New(log, func(f interrupt.Fault) {
		log.Fatalf("interrupt", "unrecoverable fault: %+v", f)
		os.Exit(1)
	})
	log.Infof("interrupt", "IDT initialized")

	// C3, C4: physical memory + paging.
	pm := pmem.Setup([]pmem.Range{{StartPage: 0, NumPages: bootMemoryPages}}, nil, 256, log, tel)
	pd := paging.Setup(0xC0000000, bootMemoryPages, irqc)
	log.Infof("pmem", "usable pages=%d", bootMemoryPages-pm.BumpEdge())
	log.Infof("paging", "identity+high-half mapping installed, PDE 0 maps phys %#x", pd.Entry(0).PhysBase)

	// C5: first-fit heap.
	hp := heap.New(4<<20, tel)
	log.Infof("heap", "arena initialized, %d bytes free", hp.FreeBytes())

	// C11: TTY, constructed here (ahead of its number) because C6 registers
	// it as the CHR_TTY device and the shell later reads from it directly.
	console := &stdioConsole{}
	term := tty.New(console, tty.QWERTY())
	term.SetTermios(tty.Termios{Canonical: false, Echo: false})

	// C6: device registry. The TTY is registered as the CHR_TTY device
	// (major 4, per spec §6) so a future syscall-level open("/dev/tty")
	// reaches the same line discipline the shell reads from directly.
	devices := device.NewRegistry()
	if err := devices.RegisterChar(4, &device.Class{
		Name: "tty",
		GetDevice: func(minor uint32) (*device.Ops, error) {
			return &device.Ops{
				ReadBuffer:  func(buf []byte, pos int64) (int, error) { return term.Read(buf) },
				WriteBuffer: func(buf []byte, pos int64) (int, error) { return term.Write(buf) },
			}, nil
		},
	}); err != nil {
		log.Warnf("device", "registering tty class: %v", err)
	}
	log.Infof("device", "registry initialized")

	// C7, C8: VFS mounts the ramfs root.
	sb := ramfs.NewSuperblock(timeutil.RealClock())
	root, err := sb.Root()
	if err != nil {
		log.Fatalf("vfs", "ramfs root: %v", err)
		os.Exit(1)
	}
	tree := vfs.NewTree()
	if err := tree.Mount("/", &vfs.Mount{
		Driver: &vfs.FilesystemDriver{Name: "ramfs", Ops: sb.Ops()},
		Root:   root,
	}); err != nil {
		log.Fatalf("vfs", "mounting root: %v", err)
		os.Exit(1)
	}
	log.Infof("vfs", "root ramfs mounted")

	// C9: scheduler armed. This synchronous CLI harness runs the shell as
	// the only task, so the scheduler never ticks away from it; SetScheduler
	// is still wired so a multi-task boot (e.g. a second kthread) drops in
	// without touching this file.
	sc := sched.New(gdt)
	sc.SetScheduler(func(tick uint64) *sched.Task { return sc.Current() })
	log.Infof("sched", "scheduler armed")

	// C10: syscall gate + init process.
	procs := syscall.NewTable()
	initProc := syscall.NewProcess(1, 0, nil)
	procs.Add(initProc)
	gate := syscall.NewGate(tree, procs, func() int64 { return time.Now().Unix() })
	gate.Devices = devices
	gate.Print = func(s string) { fmt.Print(s) }
	log.Infof("syscall", "gate wired, init pid=%d", initProc.Pid)

	// C12: networking core, armed but otherwise idle absent a real driver;
	// wired here so Interface/NeighborCache/RXQueue lifetimes match the
	// rest of the boot sequence instead of being constructed ad hoc by a
	// test.
	rx := netcore.NewRXQueue()
	iface := netcore.NewInterface(netcore.MAC{0x02, 0, 0, 0, 0, 1}, nullDriver{}, rx, rate.Limit(1000))
	log.Infof("netcore", "interface armed, mac=%x", iface.MAC)

	// C13: kernel shell, the init program named by boot config.
	sh := shell.New(term, console, gate, initProc.Pid, log, tel)
	log.Infof("shell", "starting init=%s", opts.Init)

	if err := sh.Run(); err != nil {
		log.Warnf("shell", "exited: %v", err)
	}
}

// stdioConsole adapts the shell's byte-oriented Console interface to the
// host process's stdout, standing in for the VGA framebuffer spec §6
// describes (out of scope per spec §1's "concrete hardware drivers").
type stdioConsole struct{}

func (stdioConsole) WriteByte(b byte) error {
	_, err := os.Stdout.Write([]byte{b})
	return err
}

func (stdioConsole) ClearScreen() error {
	_, err := os.Stdout.WriteString("\x1b[2J\x1b[H")
	return err
}

// nullDriver discards transmitted frames; this entry point has no real NIC
// to drive, only the stack above it.
type nullDriver struct{}

func (nullDriver) Transmit(frame []byte) error { return nil }
