package tty

// Modifier distinguishes keys that change translation state rather than
// producing a byte of their own.
type Modifier int

const (
	ModShift Modifier = iota
	ModCtrl
)

// Layout maps raw scancodes to bytes (and identifies modifier keys), spec
// §4.11's "layout table (QWERTY as default)".
type Layout struct {
	unshifted map[uint8]byte
	shifted   map[uint8]byte
	modifiers map[uint8]Modifier
}

// Translate resolves scancode to an output byte given current modifier
// state; ctrl masks the result to its control-character range (bits 5-6
// cleared) the way a real keyboard controller does for letters.
func (l Layout) Translate(scancode uint8, shift, ctrl bool) (byte, bool) {
	var b byte
	var ok bool
	if shift {
		b, ok = l.shifted[scancode]
	}
	if !ok {
		b, ok = l.unshifted[scancode]
	}
	if !ok {
		return 0, false
	}
	if ctrl && b >= 'a' && b <= 'z' {
		b = b - 'a' + 1
	} else if ctrl && b >= 'A' && b <= 'Z' {
		b = b - 'A' + 1
	}
	return b, true
}

func (l Layout) Modifier(scancode uint8) (Modifier, bool) {
	m, ok := l.modifiers[scancode]
	return m, ok
}

// QWERTY is the default US QWERTY scancode table (a representative subset:
// letters, digits, space, enter, backspace — enough to drive the shell's
// line editor; a full 102-key table adds no new mechanism).
func QWERTY() Layout {
	l := Layout{
		unshifted: map[uint8]byte{},
		shifted:   map[uint8]byte{},
		modifiers: map[uint8]Modifier{
			0x2A: ModShift, // left shift make
			0xAA: ModShift, // left shift break
			0x1D: ModCtrl,  // left ctrl make
			0x9D: ModCtrl,  // left ctrl break
		},
	}

	rows := []struct {
		base       uint8
		lower, upper string
	}{
		{0x10, "qwertyuiop", "QWERTYUIOP"},
		{0x1E, "asdfghjkl", "ASDFGHJKL"},
		{0x2C, "zxcvbnm", "ZXCVBNM"},
	}
	for _, r := range rows {
		for i := 0; i < len(r.lower); i++ {
			sc := r.base + uint8(i)
			l.unshifted[sc] = r.lower[i]
			l.shifted[sc] = r.upper[i]
		}
	}

	digitsLower := "1234567890"
	digitsUpper := "!@#$%^&*()"
	for i := 0; i < len(digitsLower); i++ {
		sc := uint8(0x02 + i)
		l.unshifted[sc] = digitsLower[i]
		l.shifted[sc] = digitsUpper[i]
	}

	l.unshifted[0x39] = ' '        // space
	l.shifted[0x39] = ' '
	l.unshifted[0x1C] = '\n'       // enter
	l.shifted[0x1C] = '\n'
	l.unshifted[0x0E] = backspace  // backspace
	l.shifted[0x0E] = backspace
	l.unshifted[0x0F] = '\t'       // tab
	l.shifted[0x0F] = '\t'

	return l
}
