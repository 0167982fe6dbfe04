package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pkt.systems/fleetcon/internal/format"
	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

// ErrQuit is returned by /quit; the caller closes the console.
var ErrQuit = errors.New("quit requested")

// Console is the part of the console controller operator commands drive.
type Console interface {
	Token() schema.ExecutionToken
	ActiveKey() schema.StreamKey
	Keys() []schema.StreamKey
	Snapshots() []schema.RecordSnapshot
	Counter() schema.Counter
	SwitchActive(key schema.StreamKey) error
	Resize()
}

// HandlerConfig configures operator command behavior.
type HandlerConfig struct {
	// Out receives listings. Nil discards them.
	Out                 io.Writer
	Style               format.Style
	Width               int
	DisableAuditLogging bool
}

// Handler routes operator slash commands to a console.
type Handler struct {
	console Console
	cfg     HandlerConfig
}

// NewHandler constructs a command handler.
func NewHandler(console Console, cfg HandlerConfig) *Handler {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Handler{console: console, cfg: cfg}
}

// Handle inspects input and executes slash commands. It reports false for
// input that is not a command.
func (h *Handler) Handle(ctx context.Context, input string) (bool, error) {
	if ctx == nil {
		return false, errors.New("missing context")
	}
	cmd, ok := Parse(input)
	if !ok {
		return false, nil
	}
	log := logx.WithRun(ctx, h.console.Token()).With("input_len", len(input))
	if !h.cfg.DisableAuditLogging {
		log.Debug("audit command", "command_type", "slash", "command", strings.TrimSpace(input))
	}
	log = log.With("command", cmd.Name, "args", len(cmd.Args))
	log.Info("command slash request")
	switch cmd.Name {
	case "":
		log.Warn("command slash rejected", "reason", "empty")
		return true, fmt.Errorf("invalid command")
	case "switch", "s":
		return true, h.handleSwitch(log, cmd)
	case "next", "n":
		return true, h.step(log, 1)
	case "prev", "p":
		return true, h.step(log, -1)
	case "keys", "ls":
		return true, h.handleKeys()
	case "status":
		return true, h.println(h.cfg.Style.Summary(h.console.Counter()))
	case "resize":
		h.console.Resize()
		return true, nil
	case "help", "?":
		return true, h.println(helpLines()...)
	case "quit", "exit", "q":
		log.Info("command quit")
		return true, ErrQuit
	default:
		log.Warn("command slash rejected", "reason", "unknown")
		return true, fmt.Errorf("unknown command: /%s", cmd.Name)
	}
}

func (h *Handler) handleSwitch(log pslog.Logger, cmd Command) error {
	if len(cmd.Args) != 1 {
		return errors.New("usage: /switch <key|number>")
	}
	key, err := h.resolveKey(cmd.Args[0])
	if err != nil {
		return err
	}
	if err := h.console.SwitchActive(key); err != nil {
		log.Warn("command switch failed", "key", key, "err", err)
		return err
	}
	return nil
}

// resolveKey accepts a stream key or its 1-based position in the key list.
func (h *Handler) resolveKey(arg string) (schema.StreamKey, error) {
	keys := h.console.Keys()
	for _, key := range keys {
		if string(key) == arg {
			return key, nil
		}
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(keys) {
			return keys[n-1], nil
		}
	}
	return "", fmt.Errorf("%w: %s", schema.ErrUnknownKey, arg)
}

func (h *Handler) step(log pslog.Logger, delta int) error {
	keys := h.console.Keys()
	if len(keys) == 0 {
		return schema.ErrConsoleClosed
	}
	active := h.console.ActiveKey()
	idx := 0
	for i, key := range keys {
		if key == active {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(keys)) % len(keys)
	if err := h.console.SwitchActive(keys[idx]); err != nil {
		log.Warn("command switch failed", "key", keys[idx], "err", err)
		return err
	}
	return nil
}

func (h *Handler) handleKeys() error {
	records := h.console.Snapshots()
	if len(records) == 0 {
		return schema.ErrConsoleClosed
	}
	lines := h.cfg.Style.KeyList(records, h.console.ActiveKey(), h.cfg.Width)
	for i := range lines {
		lines[i] = fmt.Sprintf("%2d %s", i+1, lines[i])
	}
	lines = append(lines, h.cfg.Style.Summary(h.console.Counter()))
	return h.println(lines...)
}

func (h *Handler) println(lines ...string) error {
	for _, line := range lines {
		if _, err := io.WriteString(h.cfg.Out, line+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

func helpLines() []string {
	return []string{
		"/switch <key|number>  show another output",
		"/next, /prev          cycle through outputs",
		"/keys                 list outputs and their status",
		"/status               show the status summary",
		"/resize               re-measure the terminal",
		"/quit                 close the console",
	}
}
