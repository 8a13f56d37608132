// Package tty implements the per-VCS line discipline of spec §4.11: a
// circular input buffer fed by keyboard-IRQ scancodes, a termios struct,
// canonical/raw mode read semantics, and ECHO-family output honoring.
//
// Grounded on spec §9's "explicit list abstraction, not an intrusive
// linked list" guidance: the input buffer is a fixed-size array ring. No
// pack library models a
// termios line discipline, so this package is stdlib-only by necessity —
// justified in DESIGN.md rather than silently defaulted to.
package tty

import (
	"sync"

	"github.com/example/x86kernel/internal/kerrno"
)

// MaxInput is the circular input buffer capacity, spec §4.11: "size
// MAX_INPUT >= 512".
const MaxInput = 1024

// Termios mirrors the subset of POSIX termios flags spec §4.11 names.
type Termios struct {
	Canonical bool // ICANON
	Echo      bool // ECHO
	EchoErase bool // ECHOE
	EchoKill  bool // ECHOKE
	Onlcr     bool // ONLCR: translate output NL to CR-NL
}

// SaneTermios is the default "sane" termios, spec §4.11.
func SaneTermios() Termios {
	return Termios{Canonical: true, Echo: true, EchoErase: true, EchoKill: true, Onlcr: true}
}

// Winsize is the terminal window geometry.
type Winsize struct {
	Rows, Cols uint16
}

// Console is the output sink a tty writes to, honoring ECHO/ONLCR — the
// VGA console component in spec §4.11's wording.
type Console interface {
	WriteByte(b byte) error
}

// ring is a fixed-capacity circular buffer of input bytes, spec §4.11.
type ring struct {
	buf        [MaxInput]byte
	head, tail int
	size       int
}

func (r *ring) push(b byte) bool {
	if r.size == MaxInput {
		return false
	}
	r.buf[r.tail] = b
	r.tail = (r.tail + 1) % MaxInput
	r.size++
	return true
}

func (r *ring) pop() (byte, bool) {
	if r.size == 0 {
		return 0, false
	}
	b := r.buf[r.head]
	r.head = (r.head + 1) % MaxInput
	r.size--
	return b, true
}

// dropLast removes the most recently pushed byte, undoing it as if never
// typed — used by canonical-mode backspace handling.
func (r *ring) dropLast() (byte, bool) {
	if r.size == 0 {
		return 0, false
	}
	r.tail = (r.tail - 1 + MaxInput) % MaxInput
	r.size--
	return r.buf[r.tail], true
}

// TTY is one virtual console, spec §4.11.
type TTY struct {
	mu      sync.Mutex
	cond    *sync.Cond
	termios Termios
	winsize Winsize
	input   ring
	console Console
	layout  Layout
	shift   bool
	ctrl    bool
}

func New(console Console, layout Layout) *TTY {
	t := &TTY{termios: SaneTermios(), console: console, layout: layout}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *TTY) SetTermios(tm Termios) {
	t.mu.Lock()
	t.termios = tm
	t.mu.Unlock()
}

func (t *TTY) Termios() Termios {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.termios
}

func (t *TTY) SetWinsize(w Winsize) {
	t.mu.Lock()
	t.winsize = w
	t.mu.Unlock()
}

// KeyEvent is a scancode reported by the keyboard IRQ handler, spec §4.11.
type KeyEvent struct {
	Scancode uint8
	Release  bool // make (false) vs. break (true) code
}

// HandleScancode translates a scancode through the active layout, applies
// modifier state, and pushes the resulting byte(s) into the input ring —
// spec §4.11's "keyboard IRQ pushes a scancode into the buffer... the tty
// layer translates scancodes via a layout table and applies modifier
// state". Backspace in canonical mode edits the ring in place instead of
// being queued as data.
func (t *TTY) HandleScancode(ev KeyEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mod, isMod := t.layout.Modifier(ev.Scancode); isMod {
		switch mod {
		case ModShift:
			t.shift = !ev.Release
		case ModCtrl:
			t.ctrl = !ev.Release
		}
		return
	}
	if ev.Release {
		return
	}

	b, ok := t.layout.Translate(ev.Scancode, t.shift, t.ctrl)
	if !ok {
		return
	}

	if t.termios.Canonical && b == backspace {
		dropped, had := t.input.dropLast()
		if had && t.termios.Echo && t.termios.EchoErase {
			t.echoErase(dropped)
		}
		return
	}

	if !t.input.push(b) {
		return // buffer full: drop, per spec's fixed-capacity ring
	}
	if t.termios.Echo {
		t.echo(b)
	}
	if b == '\n' {
		t.cond.Broadcast()
	}
}

const backspace = 0x08

func (t *TTY) echo(b byte) {
	if b == '\n' && t.termios.Onlcr {
		t.console.WriteByte('\r')
	}
	t.console.WriteByte(b)
}

func (t *TTY) echoErase(b byte) {
	t.console.WriteByte(backspace)
	t.console.WriteByte(' ')
	t.console.WriteByte(backspace)
}

// Read drains up to len(buf) bytes, per spec §4.11: in canonical mode it
// blocks until a full line (terminated by '\n') is available; in raw mode
// it returns whatever is immediately available, blocking only if the ring
// is completely empty.
func (t *TTY) Read(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.termios.Canonical {
		for !t.hasLine() {
			t.cond.Wait()
		}
	} else {
		for t.input.size == 0 {
			t.cond.Wait()
		}
	}

	n := 0
	for n < len(buf) {
		b, ok := t.input.pop()
		if !ok {
			break
		}
		buf[n] = b
		n++
		if t.termios.Canonical && b == '\n' {
			break
		}
	}
	return n, nil
}

func (t *TTY) hasLine() bool {
	i := t.input.head
	for k := 0; k < t.input.size; k++ {
		if t.input.buf[i] == '\n' {
			return true
		}
		i = (i + 1) % MaxInput
	}
	return false
}

// Write sends buf to the console, honoring ONLCR, per spec §4.11.
func (t *TTY) Write(buf []byte) (int, error) {
	t.mu.Lock()
	onlcr := t.termios.Onlcr
	t.mu.Unlock()

	for _, b := range buf {
		if b == '\n' && onlcr {
			if err := t.console.WriteByte('\r'); err != nil {
				return 0, kerrno.Wrap("tty.Write", kerrno.EIO)
			}
		}
		if err := t.console.WriteByte(b); err != nil {
			return 0, kerrno.Wrap("tty.Write", kerrno.EIO)
		}
	}
	return len(buf), nil
}
