package tty

import "testing"

func fakeTerminal() *Terminal {
	fb := make([]uint16, Width*Height)
	framebufferAtFn = func(uintptr) []uint16 { return fb }
	t := &Terminal{}
	t.Init()
	return t
}

func cellChar(t *Terminal, x, y uint16) byte {
	return byte(t.fb[y*Width+x])
}

func TestInitClears(t *testing.T) {
	term := fakeTerminal()
	for _, c := range term.fb {
		if c != blankCell {
			t.Fatalf("expected blank cell, got %04x", c)
		}
	}
	x, y := term.Position()
	if x != 0 || y != 0 {
		t.Fatalf("expected cursor at origin, got (%d,%d)", x, y)
	}
}

func TestWriteAdvancesCursor(t *testing.T) {
	term := fakeTerminal()
	term.WriteByte('H')
	term.WriteByte('i')

	if cellChar(term, 0, 0) != 'H' || cellChar(term, 1, 0) != 'i' {
		t.Fatal("expected H then i written at row 0")
	}
	x, y := term.Position()
	if x != 2 || y != 0 {
		t.Fatalf("expected cursor at (2,0), got (%d,%d)", x, y)
	}
}

func TestCRLF(t *testing.T) {
	term := fakeTerminal()
	term.WriteByte('a')
	term.WriteByte('\r')
	term.WriteByte('\n')
	x, y := term.Position()
	if x != 0 || y != 1 {
		t.Fatalf("expected cursor at (0,1) after CRLF, got (%d,%d)", x, y)
	}
}

func TestBackspaceErasesAndRetreats(t *testing.T) {
	term := fakeTerminal()
	term.WriteByte('x')
	term.WriteByte('\b')
	if cellChar(term, 0, 0) != ' ' {
		t.Fatal("expected backspace to blank the previous cell")
	}
	x, _ := term.Position()
	if x != 0 {
		t.Fatalf("expected cursor to retreat to 0, got %d", x)
	}
}

func TestBackspaceAtOriginIsNoop(t *testing.T) {
	term := fakeTerminal()
	term.WriteByte('\b')
	x, y := term.Position()
	if x != 0 || y != 0 {
		t.Fatalf("expected cursor to stay at origin, got (%d,%d)", x, y)
	}
}

func TestTabAdvancesByTabWidth(t *testing.T) {
	term := fakeTerminal()
	term.WriteByte('\t')
	x, _ := term.Position()
	if x != tabWidth {
		t.Fatalf("expected cursor at column %d, got %d", tabWidth, x)
	}
}

func TestLineWrapScrollsAtBottomRow(t *testing.T) {
	term := fakeTerminal()
	term.curY = Height - 1
	term.curX = Width - 1
	term.WriteByte('z')

	x, y := term.Position()
	if x != 0 || y != Height-1 {
		t.Fatalf("expected cursor to wrap and stay on last row, got (%d,%d)", x, y)
	}
}

func TestScrollPreservesEarlierLines(t *testing.T) {
	term := fakeTerminal()
	term.curY = 1
	term.WriteByte('A')

	term.curY = Height - 1
	term.curX = Width - 1
	term.WriteByte('z') // forces a scroll

	if cellChar(term, 0, 0) != 'A' {
		t.Fatal("expected row 1's content to have scrolled up to row 0")
	}
}
