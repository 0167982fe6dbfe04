package termsink

import (
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/schema"
)

// Memory is an in-memory surface. It is detached until Attach is called.
type Memory struct {
	mu       sync.Mutex
	buf      strings.Builder
	geom     schema.Geometry
	attached bool
	disposed bool
}

var _ core.Sink = (*Memory)(nil)

// NewMemory returns a detached memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// NewAttachedMemory returns a memory sink mounted with geom.
func NewAttachedMemory(geom schema.Geometry) *Memory {
	m := NewMemory()
	m.Attach(geom)
	return m
}

// Attach mounts the surface with the given geometry.
func (m *Memory) Attach(geom schema.Geometry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geom = geom
	m.attached = true
}

// Write implements core.Sink.
func (m *Memory) Write(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.buf.WriteString(text)
}

// Clear implements core.Sink.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.buf.Reset()
}

// Resize implements core.Sink.
func (m *Memory) Resize() (schema.Geometry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || !m.attached || !m.geom.Valid() {
		return schema.Geometry{}, schema.ErrSinkDetached
	}
	return m.geom, nil
}

// Dispose implements core.Sink.
func (m *Memory) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.attached = false
}

// Disposed reports whether Dispose was called.
func (m *Memory) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Text returns the raw surface contents including escape sequences.
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

// Lines reflows the surface to cols columns. Escape sequences are kept and
// do not count toward the width. cols <= 0 uses the attached geometry.
func (m *Memory) Lines(cols int) []string {
	m.mu.Lock()
	text := m.buf.String()
	if cols <= 0 {
		cols = m.geom.Cols
	}
	m.mu.Unlock()
	return Reflow(text, cols)
}

// Reflow splits text into display lines no wider than cols.
func Reflow(text string, cols int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	if cols > 0 {
		text = ansi.Hardwrap(text, cols, true)
	}
	return strings.Split(text, "\n")
}

// PlainLines is Lines with escape sequences removed.
func (m *Memory) PlainLines(cols int) []string {
	lines := m.Lines(cols)
	for i, line := range lines {
		lines[i] = ansi.Strip(line)
	}
	return lines
}
