package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"scriptd/internal/app"
)

func (c *cli) newHistoryCmd() *cobra.Command {
	var (
		limit    int
		activity bool
		showLog  bool
	)
	cmd := &cobra.Command{
		Use:   "history <script-id>",
		Short: "Show recent executions, newest first",
		Long: `Show the executions kept with the script (at most 20). With --activity the
rotated activity log is read instead, which reaches further back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if activity {
					entries, err := a.Activity().Executions(args[0], limit)
					if err != nil {
						return err
					}
					for _, e := range entries {
						fmt.Fprintf(out, "%s  %-5s  %s  %v\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Level, e.Message, e.Metadata["status"])
					}
					return nil
				}

				sc, err := a.Store().GetScript(ctx, args[0])
				if err != nil {
					return err
				}
				execs := sc.Executions
				if limit > 0 && len(execs) > limit {
					execs = execs[:limit]
				}
				for _, e := range execs {
					printExecution(out, e)
					if showLog && e.Log != "" {
						fmt.Fprint(out, e.Log)
						fmt.Fprintln(out, "---")
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n executions (0 = all)")
	cmd.Flags().BoolVar(&activity, "activity", false, "read the activity log instead of the stored history")
	cmd.Flags().BoolVar(&showLog, "log", false, "print each execution's output")
	return cmd
}
