// Package shell implements the kernel shell of spec §4.13: a line editor
// reading from a TTY, whitespace tokenization of only the first word, and
// dispatch of the remainder verbatim to a command table built on
// github.com/spf13/cobra, the way the teacher's cmd/ package builds the
// gcsfuse CLI on the same library.
package shell

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/example/x86kernel/internal/klog"
	"github.com/example/x86kernel/internal/syscall"
	"github.com/example/x86kernel/internal/telemetry"
	"github.com/example/x86kernel/internal/tty"
)

const (
	keyBackspace = 0x08
	keyDelete    = 0x7f
	keyTab       = 0x09
	keyCtrlL     = 0x0c
	keyCR        = '\r'
	keyLF        = '\n'
)

// Console is the minimal surface the shell needs beyond byte echo: the
// ability to clear the display on Ctrl-L. Concrete hardware framebuffer
// drivers are out of scope (spec §1); tests and cmd/kernel supply their own
// implementation.
type Console interface {
	tty.Console
	ClearScreen() error
}

// Shell is the kernel's interactive command loop. It carries no persisted
// state across invocations (spec §6: "Kernel-shell persisted state: none").
type Shell struct {
	mu      sync.Mutex
	tty     *tty.TTY
	console Console
	root    *cobra.Command
	gate    *syscall.Gate
	pid     int
	log     *klog.Logger
	metrics telemetry.Handle
	prompt  string
}

// New builds a shell with the standard builtin command table registered.
// The caller is responsible for having put tty into raw, un-echoed mode
// (Termios.Canonical = false, Echo = false) — the shell does its own line
// editing and echo so it can intercept Tab and Ctrl-L before a line is
// complete and render completions/erases itself instead of double-echoing
// what the tty layer already wrote.
func New(t *tty.TTY, console Console, gate *syscall.Gate, pid int, log *klog.Logger, metrics telemetry.Handle) *Shell {
	if log == nil {
		log = klog.Discard()
	}
	if metrics == nil {
		metrics = telemetry.Noop{}
	}
	sh := &Shell{
		tty:     t,
		console: console,
		gate:    gate,
		pid:     pid,
		log:     log,
		metrics: metrics,
		prompt:  "# ",
	}
	sh.root = &cobra.Command{Use: "kshell", SilenceUsage: true, SilenceErrors: true}
	sh.registerBuiltins()
	return sh
}

// commandNames returns the registered builtin names, sorted, for tab
// completion.
func (sh *Shell) commandNames() []string {
	names := make([]string, 0, len(sh.root.Commands()))
	for _, c := range sh.root.Commands() {
		names = append(names, c.Name())
	}
	return names
}

func (sh *Shell) writeString(s string) {
	for i := 0; i < len(s); i++ {
		sh.console.WriteByte(s[i])
	}
}

// Run drives the read-dispatch loop until readLine returns an error (e.g.
// the underlying TTY is closed) or a builtin requests exit.
func (sh *Shell) Run() error {
	for {
		sh.writeString(sh.prompt)
		line, err := sh.readLine()
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := sh.dispatch(line); errors.Is(err, errExit) {
			return nil
		}
	}
}

// readLine implements the shell's own line editor: byte-at-a-time reads
// from the tty, backspace erases the last buffered rune and its echo,
// Ctrl-L clears the screen without otherwise disturbing the buffer, Tab
// triggers one-shot completion of the first (command-name) word, CR/LF
// ends the line.
func (sh *Shell) readLine() (string, error) {
	var buf []byte
	one := make([]byte, 1)
	for {
		n, err := sh.tty.Read(one)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		b := one[0]
		switch b {
		case keyCR, keyLF:
			sh.console.WriteByte('\r')
			sh.console.WriteByte('\n')
			return string(buf), nil
		case keyBackspace, keyDelete:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				sh.console.WriteByte(keyBackspace)
				sh.console.WriteByte(' ')
				sh.console.WriteByte(keyBackspace)
			}
		case keyTab:
			buf = sh.complete(buf)
		case keyCtrlL:
			sh.console.ClearScreen()
			sh.writeString(sh.prompt)
			sh.writeString(string(buf))
		default:
			buf = append(buf, b)
			sh.console.WriteByte(b)
		}
	}
}

// complete performs one-shot tab completion: if buf has no space yet (the
// user is still typing the command name) and exactly one registered command
// has buf as a prefix, the buffer is extended to the full name and the
// added suffix is echoed. Ambiguous or empty matches leave buf untouched.
func (sh *Shell) complete(buf []byte) []byte {
	if strings.IndexByte(string(buf), ' ') >= 0 {
		return buf
	}
	prefix := string(buf)
	var match string
	count := 0
	for _, name := range sh.commandNames() {
		if strings.HasPrefix(name, prefix) {
			match = name
			count++
		}
	}
	if count != 1 || match == prefix {
		return buf
	}
	suffix := match[len(prefix):]
	sh.writeString(suffix)
	return append(buf, suffix...)
}

// dispatch splits line into its first whitespace-delimited token (the
// command name) and passes the remainder verbatim to that command's Args
// field, letting the command's own pflag set parse it further — spec
// §4.13: "Each command receives its argument string verbatim and parses
// further."
func (sh *Shell) dispatch(line string) error {
	trimmed := strings.TrimLeft(line, " \t")
	sp := strings.IndexAny(trimmed, " \t")
	var name, rest string
	if sp < 0 {
		name = trimmed
	} else {
		name, rest = trimmed[:sp], strings.TrimLeft(trimmed[sp:], " \t")
	}

	cmd, _, err := sh.root.Find([]string{name})
	if err != nil || cmd == sh.root {
		fmt.Fprintf(cmdWriter{sh}, "%s: command not found\n", name)
		return nil
	}

	// cobra always executes from the root command, whichever command
	// Execute is called on, so the arguments go to the root, name first.
	sh.root.SetArgs(append([]string{name}, strings.Fields(rest)...))
	if err := sh.root.Execute(); err != nil {
		if errors.Is(err, errExit) {
			return errExit
		}
		fmt.Fprintf(cmdWriter{sh}, "%s: %v\n", name, err)
	}
	return nil
}

// cmdWriter adapts the shell's byte console to io.Writer for cobra output
// and builtin Printf-style use.
type cmdWriter struct{ sh *Shell }

func (w cmdWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			w.sh.console.WriteByte('\r')
		}
		w.sh.console.WriteByte(b)
	}
	return len(p), nil
}
