// Package tty implements the VGA text-mode console: the kernel's only
// output device until a real filesystem-backed display driver would exist
// (none is in scope here, per spec.md §1's non-goals).
//
// Grounded on the teacher's kernel/driver/tty/vt.go (CR/LF/backspace/tab/
// scroll behavior) and kernel/driver/video/console/vga.go (direct cell
// writes into the 0xB8000 framebuffer), collapsed into one file since this
// kernel never needs the teacher's EGA-vs-VGA console split or its
// multiboot-framebuffer indirection: SPEC_FULL.md §6 fixes the console at
// physical 0xB8000, 80x25, 16-color text mode.
package tty

import (
	"reflect"
	"unsafe"
)

const (
	vgaBase = uintptr(0xB8000)

	Width  = 80
	Height = 25

	tabWidth = 4

	// LightGrey-on-black, matching the teacher's defaultFg/defaultBg.
	defaultAttr = uint16(0x07)

	blankCell = defaultAttr<<8 | uint16(' ')
)

// Terminal is a single VGA text-mode console with a cursor and scrollback
// driven by CR/LF/backspace/tab, the same control characters vt.go
// recognizes. The zero value is not ready for use; call Init first.
type Terminal struct {
	fb         []uint16
	curX, curY uint16
	attr       uint16
}

// Default is the kernel's sole terminal instance. kmain installs it as the
// kfmt.Printf sink once Init has run.
var Default Terminal

// framebufferAtFn constructs the []uint16 window over the VGA text
// framebuffer at addr. Tests substitute a plain heap slice so the cell
// arithmetic can be exercised on the host without touching real video
// memory, the same indirection idiom used for cpu.InB/OutB elsewhere.
var framebufferAtFn = defaultFramebufferAt

func defaultFramebufferAt(addr uintptr) []uint16 {
	return *(*[]uint16)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  Width * Height,
		Cap:  Width * Height,
		Data: addr,
	}))
}

// Init attaches t to the VGA framebuffer and clears the screen. Safe to
// call more than once; later calls only clear.
func (t *Terminal) Init() {
	if t.fb == nil {
		t.fb = framebufferAtFn(vgaBase)
	}
	t.attr = defaultAttr
	t.Clear()
}

// Clear blanks every cell and homes the cursor.
func (t *Terminal) Clear() {
	for i := range t.fb {
		t.fb[i] = blankCell
	}
	t.curX, t.curY = 0, 0
}

// Position returns the current cursor coordinates.
func (t *Terminal) Position() (uint16, uint16) {
	return t.curX, t.curY
}

// WriteByte implements kfmt.Writer so Terminal can be installed directly
// via kfmt.SetOutput.
func (t *Terminal) WriteByte(b byte) error {
	switch b {
	case '\r':
		t.curX = 0
	case '\n':
		t.curX = 0
		t.lineFeed()
	case '\b':
		if t.curX > 0 {
			t.curX--
			t.putCell(' ')
		}
	case '\t':
		for i := 0; i < tabWidth; i++ {
			t.advance(' ')
		}
	default:
		t.advance(b)
	}
	return nil
}

// Write implements io.Writer for callers (e.g. a future console logger)
// that want the standard interface instead of kfmt.Writer.
func (t *Terminal) Write(data []byte) (int, error) {
	for _, b := range data {
		t.WriteByte(b)
	}
	return len(data), nil
}

func (t *Terminal) advance(b byte) {
	t.putCell(b)
	t.curX++
	if t.curX == Width {
		t.curX = 0
		t.lineFeed()
	}
}

func (t *Terminal) putCell(b byte) {
	t.fb[t.curY*Width+t.curX] = t.attr<<8 | uint16(b)
}

// lineFeed advances the cursor row, scrolling the framebuffer up one line
// when the last row is full, exactly as vt.go's lf()/Scroll(Up, 1) pair.
func (t *Terminal) lineFeed() {
	if t.curY+1 < Height {
		t.curY++
		return
	}
	copy(t.fb[0:(Height-1)*Width], t.fb[Width:Height*Width])
	for i := (Height - 1) * Width; i < Height*Width; i++ {
		t.fb[i] = blankCell
	}
}
