package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

func newResultCmd() *cobra.Command {
	var flags clientFlags
	var wait bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "result <token>",
		Short: "Print the aggregated output of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			token := schema.ExecutionToken(strings.TrimSpace(args[0]))
			client, err := newAPIClient(cfg, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			res, err := pollResult(cmd.Context(), client, token, wait, interval)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprint(out, res.Output)
			status := res.RecordStatus()
			_, _ = fmt.Fprintf(out, "\nstatus: %s (%d)\n", status, res.Status)
			if status == schema.StatusFailed {
				return fmt.Errorf("%w: %s", errRunFailed, token)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the run finished")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --wait")
	return cmd
}

func pollResult(ctx context.Context, client *jobapi.Client, token schema.ExecutionToken, wait bool, interval time.Duration) (jobapi.Result, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		res, err := client.Result(ctx, token)
		if err != nil {
			return jobapi.Result{}, err
		}
		if !wait || res.Status != schema.WireRunning {
			return res, nil
		}
		pslog.Ctx(ctx).Debug("result pending", "token", token)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return jobapi.Result{}, ctx.Err()
		case <-timer.C:
		}
	}
}
