package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay cart writes queued for retry",
	}
	cmd.AddCommand(newOutboxListCommand(opts))
	cmd.AddCommand(newOutboxReplayCommand(opts))
	return cmd
}

func newOutboxListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued writes, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			env, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			entries, err := env.Outbox.Pending(ctx)
			if err != nil {
				return wrapExitError(ExitCommandError, "failed to list outbox", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tCART\tATTEMPTS\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.Kind, e.DocID, e.Attempts, e.LastError)
			}
			return tw.Flush()
		},
	}
}

func newOutboxReplayCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Retry queued writes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			env, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if limit <= 0 {
				limit = env.Config.Outbox.BatchSize
			}
			result, err := env.Outbox.Replay(ctx, limit)
			if err != nil {
				return wrapExitError(ExitCommandError, "replay aborted", err)
			}

			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d writes: %d succeeded, %d failed\n",
					result.Processed, result.Succeeded, result.Failed)
			}
			if result.Failed > 0 {
				return wrapExitError(ExitFailures, fmt.Sprintf("%d writes still pending", result.Failed), nil)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum writes to replay (default OUTBOX_BATCH_SIZE)")
	return cmd
}
