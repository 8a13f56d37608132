package shell

import (
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/x86kernel/internal/ramfs"
	"github.com/example/x86kernel/internal/syscall"
	"github.com/example/x86kernel/internal/tty"
	"github.com/example/x86kernel/internal/vfs"
)

// fakeConsole is a test double for Console: it records every written byte
// and counts clears, standing in for a real VGA framebuffer.
type fakeConsole struct {
	written []byte
	clears  int
}

func (c *fakeConsole) WriteByte(b byte) error {
	c.written = append(c.written, b)
	return nil
}

func (c *fakeConsole) ClearScreen() error {
	c.clears++
	c.written = nil
	return nil
}

func newTestShell(t *testing.T) (*Shell, *tty.TTY, *fakeConsole) {
	t.Helper()
	sb := ramfs.NewSuperblock(timeutil.RealClock())
	root, err := sb.Root()
	require.NoError(t, err)

	tree := vfs.NewTree()
	driver := &vfs.FilesystemDriver{Name: "ramfs", Ops: sb.Ops()}
	require.NoError(t, tree.Mount("/", &vfs.Mount{Driver: driver, Root: root}))

	procs := syscall.NewTable()
	p := syscall.NewProcess(1, 0, nil)
	procs.Add(p)
	gate := syscall.NewGate(tree, procs, func() int64 { return 0 })

	console := &fakeConsole{}
	term := tty.New(console, tty.QWERTY())
	term.SetTermios(tty.Termios{Canonical: false, Echo: false})

	sh := New(term, console, gate, p.Pid, nil, nil)
	return sh, term, console
}

// typeRunes drives the tty the way the keyboard IRQ does: each rune is
// turned into its unshifted QWERTY scancode and passed to HandleScancode.
// Every rune must have such a scancode; the tests send control keys
// themselves as raw KeyEvents.
func typeRunes(t *testing.T, term *tty.TTY, s string) {
	t.Helper()
	for _, r := range s {
		sc, ok := scancodeFor(r)
		require.True(t, ok, "no scancode mapping for %q", r)
		term.HandleScancode(tty.KeyEvent{Scancode: sc})
	}
}

// scancodeFor finds the unshifted QWERTY scancode producing r; used only to
// drive tests through the same HandleScancode path the keyboard IRQ uses.
func scancodeFor(r rune) (uint8, bool) {
	layout := tty.QWERTY()
	for sc := uint8(0); sc < 0xff; sc++ {
		if b, ok := layout.Translate(sc, false, false); ok && rune(b) == r {
			return sc, true
		}
	}
	return 0, false
}

func TestReadLineReturnsTypedCommandName(t *testing.T) {
	sh, term, console := newTestShell(t)
	typeRunes(t, term, "help")
	term.HandleScancode(tty.KeyEvent{Scancode: scEnter})

	line, err := sh.readLine()
	require.NoError(t, err)
	assert.Equal(t, "help", line)
	_ = console
}

func TestDispatchEchoPrintsArgumentsVerbatim(t *testing.T) {
	sh, _, console := newTestShell(t)
	err := sh.dispatch("echo hello world")
	require.NoError(t, err)
	assert.Contains(t, string(console.written), "hello world")
}

func TestDispatchUnknownCommandReportsNotFound(t *testing.T) {
	sh, _, console := newTestShell(t)
	err := sh.dispatch("frobnicate")
	require.NoError(t, err)
	assert.Contains(t, string(console.written), "command not found")
}

func TestMkdirThenLsShowsNewEntry(t *testing.T) {
	sh, _, console := newTestShell(t)
	require.NoError(t, sh.dispatch("mkdir /sub"))
	console.written = nil
	require.NoError(t, sh.dispatch("ls /"))
	assert.Contains(t, string(console.written), "sub")
}

func TestCdThenPwdReflectsNewDirectory(t *testing.T) {
	sh, _, console := newTestShell(t)
	require.NoError(t, sh.dispatch("mkdir /home"))
	require.NoError(t, sh.dispatch("cd /home"))
	console.written = nil
	require.NoError(t, sh.dispatch("pwd"))
	assert.Contains(t, string(console.written), "/home")
}

func TestExitReturnsErrExitFromDispatch(t *testing.T) {
	sh, _, _ := newTestShell(t)
	err := sh.dispatch("exit")
	assert.ErrorIs(t, err, errExit)
}

func TestClearBuiltinInvokesConsoleClearScreen(t *testing.T) {
	sh, _, console := newTestShell(t)
	require.NoError(t, sh.dispatch("clear"))
	assert.Equal(t, 1, console.clears)
}

func TestTabCompletesUniquePrefix(t *testing.T) {
	sh, term, _ := newTestShell(t)
	typeRunes(t, term, "he")
	term.HandleScancode(tty.KeyEvent{Scancode: scTab})
	term.HandleScancode(tty.KeyEvent{Scancode: scEnter})

	line, err := sh.readLine()
	require.NoError(t, err)
	assert.Equal(t, "help", line)
}

func TestBackspaceRemovesLastBufferedByte(t *testing.T) {
	sh, term, _ := newTestShell(t)
	typeRunes(t, term, "helpp")
	term.HandleScancode(tty.KeyEvent{Scancode: scBackspace})
	term.HandleScancode(tty.KeyEvent{Scancode: scEnter})

	line, err := sh.readLine()
	require.NoError(t, err)
	assert.Equal(t, "help", line)
}

func TestCtrlLClearsScreenWithoutConsumingBuffer(t *testing.T) {
	sh, term, console := newTestShell(t)
	typeRunes(t, term, "he")

	term.HandleScancode(tty.KeyEvent{Scancode: scCtrlMake})
	term.HandleScancode(tty.KeyEvent{Scancode: scLetterL})
	term.HandleScancode(tty.KeyEvent{Scancode: scCtrlBreak, Release: true})

	typeRunes(t, term, "lp")
	term.HandleScancode(tty.KeyEvent{Scancode: scEnter})

	line, err := sh.readLine()
	require.NoError(t, err)
	assert.Equal(t, "help", line)
	assert.Equal(t, 1, console.clears)
}

// Scancodes for the control keys and the one letter the Ctrl-L test drives
// directly, matching QWERTY()'s fixed table.
const (
	scEnter     = 0x1c
	scBackspace = 0x0e
	scTab       = 0x0f
	scCtrlMake  = 0x1d
	scCtrlBreak = 0x9d
	scLetterL   = 0x26
)
