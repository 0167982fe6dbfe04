package termsink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/schema"
)

const (
	clearScreen = "\x1b[2J\x1b[3J\x1b[H"
	// Writers that cannot be cleared get a rule between renders instead.
	clearRule = "\r\n--------\r\n"
	resetSGR    = "\x1b[0m"
)

// Options controls terminal rendering.
type Options struct {
	// NoColor strips escape sequences before writing.
	NoColor bool
}

// Terminal renders console output to a writer, typically os.Stdout.
type Terminal struct {
	mu       sync.Mutex
	w        io.Writer
	fd       int
	tty      bool
	noColor  bool
	disposed bool
	dirty    bool
}

var _ core.Sink = (*Terminal)(nil)

// NewTerminal wraps w. Geometry is only available when w is a terminal file.
func NewTerminal(w io.Writer, opts Options) *Terminal {
	t := &Terminal{w: w, fd: -1, noColor: opts.NoColor}
	if f, ok := w.(*os.File); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			t.fd = fd
			t.tty = true
		}
	}
	return t
}

// Write implements core.Sink.
func (t *Terminal) Write(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed || text == "" {
		return
	}
	if t.noColor {
		text = ansi.Strip(text)
	}
	_, _ = io.WriteString(t.w, text)
	t.dirty = true
}

// Clear implements core.Sink. Output that is not a terminal, such as a pipe
// or file, cannot be erased: the previous text stays and a rule is written
// after it so the next render starts on its own line.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	if t.tty {
		_, _ = io.WriteString(t.w, clearScreen)
	} else if t.dirty {
		_, _ = io.WriteString(t.w, clearRule)
	}
	t.dirty = false
}

// Resize implements core.Sink.
func (t *Terminal) Resize() (schema.Geometry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed || !t.tty {
		return schema.Geometry{}, schema.ErrSinkDetached
	}
	cols, rows, err := term.GetSize(t.fd)
	if err != nil {
		return schema.Geometry{}, fmt.Errorf("%w: %v", schema.ErrSinkDetached, err)
	}
	return schema.Geometry{Cols: cols, Rows: rows}, nil
}

// Dispose implements core.Sink.
func (t *Terminal) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	t.disposed = true
	if t.tty && !t.noColor {
		_, _ = io.WriteString(t.w, resetSGR+"\r\n")
	}
}
