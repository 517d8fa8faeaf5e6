package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scriptd/internal/app"
	"scriptd/internal/script"
)

func (c *cli) newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Add or remove cron schedules of a script",
		Long: `Schedules are standard 5-field cron expressions: minute hour day-of-month
month day-of-week. Quote them, e.g. scriptd schedule add <id> "*/5 * * * *".`,
	}
	cmd.AddCommand(
		c.scheduleOp("add", "Add a schedule (no-op if present)", func(ctx context.Context, a *app.App, id, expr string) (script.Script, error) {
			return a.Controller().AddSchedule(ctx, id, expr)
		}),
		c.scheduleOp("rm", "Remove a schedule", func(ctx context.Context, a *app.App, id, expr string) (script.Script, error) {
			return a.Controller().RemoveSchedule(ctx, id, expr)
		}),
	)
	return cmd
}

func (c *cli) scheduleOp(use, short string, op func(ctx context.Context, a *app.App, id, expr string) (script.Script, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <script-id> <cron-expr>",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// tolerate an unquoted expression split across arguments
			expr := strings.Join(args[1:], " ")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := op(ctx, a, args[0], expr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s schedules: %s\n", sc.ID, orDash(strings.Join(sc.Schedules, ", ")))
				return nil
			})
		},
	}
}
