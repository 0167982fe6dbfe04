package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/fleetcon/internal/format"
	"pkt.systems/pslog"
)

const historyDigestWidth = 34

func newHistoryCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, pslog.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			entries, err := client.History(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "no executions")
				return nil
			}
			for _, entry := range entries {
				_, _ = fmt.Fprintf(out, "%4d %s %-19s hosts=%d\n",
					entry.ID, format.Pad(entry.Digest, historyDigestWidth), entry.UpdatedAt, len(entry.HostIDs))
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}
