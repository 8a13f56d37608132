package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/x86kernel/internal/syscall"
)

// errExit is returned by the exit builtin to unwind Shell.Run without being
// reported as a command error.
var errExit = errors.New("shell: exit requested")

func (sh *Shell) proc() (*syscall.Process, error) {
	return sh.gate.Procs.Get(sh.pid)
}

func (sh *Shell) registerBuiltins() {
	sh.root.AddCommand(
		sh.cmdHelp(),
		sh.cmdPwd(),
		sh.cmdCd(),
		sh.cmdMkdir(),
		sh.cmdRm(),
		sh.cmdLs(),
		sh.cmdCat(),
		sh.cmdEcho(),
		sh.cmdStats(),
		sh.cmdClear(),
		sh.cmdExit(),
	)
}

func (sh *Shell) cmdHelp() *cobra.Command {
	return &cobra.Command{
		Use:   "help",
		Short: "list available commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmdWriter{sh}
			for _, name := range sh.commandNames() {
				fmt.Fprintln(w, name)
			}
			return nil
		},
	}
}

func (sh *Shell) cmdPwd() *cobra.Command {
	return &cobra.Command{
		Use:   "pwd",
		Short: "print the working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := sh.proc()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmdWriter{sh}, p.Cwd)
			return nil
		},
	}
}

func (sh *Shell) cmdCd() *cobra.Command {
	return &cobra.Command{
		Use:   "cd <path>",
		Short: "change the working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := sh.gate.Dispatch(sh.pid, syscall.SysChdir, 0, 0, 0, []byte(args[0]))
			return err
		},
	}
}

func (sh *Shell) cmdMkdir() *cobra.Command {
	var mode uint32
	c := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := sh.gate.Dispatch(sh.pid, syscall.SysMkdir, mode, 0, 0, []byte(args[0]))
			return err
		},
	}
	c.Flags().Uint32Var(&mode, "mode", 0755, "directory permission bits")
	return c
}

func (sh *Shell) cmdRm() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "unlink a file or remove an empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := sh.gate.Dispatch(sh.pid, syscall.SysUnlink, 0, 0, 0, []byte(args[0]))
			return err
		},
	}
}

// cmdLs walks the directory via the mount tree directly (there is no
// get_direntry syscall number in the dispatch table, spec §4.10 lists none)
// the same way the gate's own open(O_CREAT) reaches into vfs.Tree directly.
func (sh *Shell) cmdLs() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "list directory entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := sh.proc()
			if err != nil {
				return err
			}
			path := p.Cwd
			if len(args) == 1 {
				path = resolvePath(p.Cwd, args[0])
			}
			dir, err := sh.gate.Tree.Lookup(path)
			if err != nil {
				return err
			}
			mnt, _, err := sh.gate.Tree.ResolveMount(path)
			if err != nil {
				return err
			}
			w := cmdWriter{sh}
			var cursor uint64
			for {
				ent, ok := mnt.Driver.Ops.GetDirentry(dir, &cursor)
				if !ok {
					break
				}
				fmt.Fprintln(w, ent.Name)
			}
			return nil
		},
	}
}

func (sh *Shell) cmdCat() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "print a file's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := sh.gate.Dispatch(sh.pid, syscall.SysOpen, uint32(syscall.ORdonly), 0, 0, []byte(args[0]))
			if err != nil {
				return err
			}
			defer sh.gate.Dispatch(sh.pid, syscall.SysClose, uint32(fd), 0, 0, nil)

			buf := make([]byte, 512)
			w := cmdWriter{sh}
			for {
				n, rerr := sh.gate.Dispatch(sh.pid, syscall.SysRead, uint32(fd), 0, 0, buf)
				if rerr != nil || n <= 0 {
					break
				}
				w.Write(buf[:n])
			}
			return nil
		},
	}
}

func (sh *Shell) cmdEcho() *cobra.Command {
	return &cobra.Command{
		Use:                "echo [args...]",
		Short:              "print arguments to the console",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmdWriter{sh}, strings.Join(args, " "))
			return nil
		},
	}
}

func (sh *Shell) cmdStats() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print kernel telemetry counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmdWriter{sh}
			for _, name := range []string{
				"pmem_alloc_total", "pmem_free_total", "heap_corruption_total",
				"sched_quanta_total", "irq_total", "net_drops_total",
				"syscalls_total", "ramfs_inodes_live", "open_fds",
			} {
				fmt.Fprintf(w, "%s=%s\n", name, strconv.FormatFloat(sh.metrics.CounterValue(name), 'f', -1, 64))
			}
			return nil
		},
	}
}

func (sh *Shell) cmdClear() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "clear the screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sh.console.ClearScreen()
		},
	}
}

func (sh *Shell) cmdExit() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "leave the shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errExit
		},
	}
}

func resolvePath(cwd, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return cwd + "/" + path
}
