package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/fleetcon"
	"pkt.systems/fleetcon/internal/appconfig"
	"pkt.systems/fleetcon/internal/command"
	"pkt.systems/fleetcon/internal/format"
	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/internal/termsink"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

// errRunFailed makes the process exit non-zero when a key failed.
var errRunFailed = errors.New("run failed")

func newWatchCmd() *cobra.Command {
	var flags clientFlags
	var keys []string
	cmd := &cobra.Command{
		Use:   "watch <token>",
		Short: "Attach the console to a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			run, err := parseWatchTarget(args[0], keys)
			if err != nil {
				return err
			}
			return attach(cmd, cfg, func(console *fleetcon.Console) error {
				return console.Attach(cmd.Context(), run)
			})
		},
	}
	flags.bind(cmd)
	flags.bindConsole(cmd)
	cmd.Flags().StringArrayVarP(&keys, "key", "k", nil, "output key to follow as key or key=title (repeatable; default: all)")
	return cmd
}

// parseWatchTarget builds the run for a token and --key values.
func parseWatchTarget(token string, keys []string) (jobapi.Run, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return jobapi.Run{}, schema.ErrInvalidToken
	}
	run := jobapi.Run{Token: schema.ExecutionToken(token)}
	if len(keys) == 0 {
		return run, nil
	}
	run.Titles = make(map[schema.StreamKey]string, len(keys))
	for _, raw := range keys {
		name, title, _ := strings.Cut(raw, "=")
		key := schema.StreamKey(strings.TrimSpace(name))
		if key == "" {
			return jobapi.Run{}, fmt.Errorf("invalid key %q", raw)
		}
		if _, dup := run.Titles[key]; dup {
			return jobapi.Run{}, fmt.Errorf("%w: %s", schema.ErrDuplicateKey, key)
		}
		run.Keys = append(run.Keys, key)
		run.Titles[key] = strings.TrimSpace(title)
	}
	return run, nil
}

// attach builds a terminal console, opens it with open and drives it until
// the run finishes or the operator quits.
func attach(cmd *cobra.Command, cfg appconfig.Config, open func(*fleetcon.Console) error) error {
	ctx := cmd.Context()
	noColor := cfg.Console.NoColor
	logger := pslog.Ctx(ctx)
	out := cmd.OutOrStdout()
	sink := termsink.NewTerminal(out, termsink.Options{NoColor: noColor})
	console, err := newConsole(cfg, sink, out, logger)
	if err != nil {
		return err
	}
	defer func() { _ = console.Close() }()
	if err := open(console); err != nil {
		return err
	}
	stopResize := watchResize(ctx, console.Resize)
	defer stopResize()

	interact(ctx, console, cmd.InOrStdin(), cmd.ErrOrStderr())
	counter := console.Controller().Counter()
	style := format.Style{Color: !noColor}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s\r\n", style.Summary(counter))
	if counter.Failed > 0 {
		return fmt.Errorf("%w: %d key(s) failed", errRunFailed, counter.Failed)
	}
	return nil
}

// interact feeds operator commands from in until the stream finishes, the
// operator quits or ctx is cancelled.
func interact(ctx context.Context, console *fleetcon.Console, in io.Reader, errOut io.Writer) {
	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return
		case <-console.Done():
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			handled, err := console.Handle(ctx, line)
			if errors.Is(err, command.ErrQuit) {
				return
			}
			if err != nil {
				_, _ = fmt.Fprintf(errOut, "%v\r\n", err)
				continue
			}
			if !handled && strings.TrimSpace(line) != "" {
				_, _ = fmt.Fprint(errOut, "commands start with /, try /help\r\n")
			}
		}
	}
}

// readLines scans in on its own goroutine. A pending Scan cannot be
// interrupted, so after ctx ends the goroutine stays blocked until in yields
// a line or EOF; the command exits shortly after, which releases it.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	if in == nil {
		close(lines)
		return lines
	}
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
