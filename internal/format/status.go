package format

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/fleetcon/schema"
)

const (
	sgrReset  = "\x1b[0m"
	sgrYellow = "\x1b[33m"
	sgrGreen  = "\x1b[32m"
	sgrRed    = "\x1b[31m"
	sgrDim    = "\x1b[2m"
	sgrBold   = "\x1b[1m"

	activeMarker = ">"
	ellipsis     = "…"
)

// Style controls whether formatted text carries SGR sequences.
type Style struct {
	Color bool
}

func (s Style) paint(code, text string) string {
	if !s.Color || text == "" {
		return text
	}
	return code + text + sgrReset
}

func statusColor(status schema.RecordStatus) string {
	switch status {
	case schema.StatusSuccess:
		return sgrGreen
	case schema.StatusFailed:
		return sgrRed
	case schema.StatusRunning:
		return sgrYellow
	default:
		return sgrDim
	}
}

// StatusTag renders a short bracketed status label.
func (s Style) StatusTag(status schema.RecordStatus) string {
	return s.paint(statusColor(status), "["+status.String()+"]")
}

// Summary renders the counter the way the console header shows it.
func (s Style) Summary(counter schema.Counter) string {
	parts := []string{
		s.paint(statusColor(schema.StatusRunning), fmt.Sprintf("running %d", counter.Pending)),
		s.paint(statusColor(schema.StatusSuccess), fmt.Sprintf("success %d", counter.Success)),
		s.paint(statusColor(schema.StatusFailed), fmt.Sprintf("failed %d", counter.Failed)),
	}
	return strings.Join(parts, "  ")
}

// KeyList renders one line per record: active marker, status tag and title,
// each line fitting within width cells. A width of zero disables truncation.
func (s Style) KeyList(records []schema.RecordSnapshot, active schema.StreamKey, width int) []string {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		marker := " "
		if rec.Key == active {
			marker = activeMarker
		}
		title := rec.Title
		if title == "" {
			title = string(rec.Key)
		}
		if title != string(rec.Key) {
			title = fmt.Sprintf("%s (%s)", title, rec.Key)
		}
		tag := s.StatusTag(rec.Status)
		if width > 0 {
			room := width - ansi.StringWidth(marker) - ansi.StringWidth(tag) - 2
			if room < 1 {
				room = 1
			}
			if ansi.StringWidth(title) > room {
				title = ansi.Truncate(title, room, ellipsis)
			}
		}
		if rec.Key == active {
			title = s.paint(sgrBold, title)
		}
		lines = append(lines, marker+" "+tag+" "+title)
	}
	return lines
}

// Pad right-pads text with spaces to width display cells.
func Pad(text string, width int) string {
	if gap := width - ansi.StringWidth(text); gap > 0 {
		return text + strings.Repeat(" ", gap)
	}
	return text
}
