package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"scriptd/internal/app"
	"scriptd/internal/script"
)

func (c *cli) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <script-id>",
		Short: "Execute a script now and print its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				a.StartNotifier(ctx)
				ex, err := a.Controller().RunNow(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printExecution(out, ex)
				if ex.Log != "" {
					fmt.Fprintln(out, "---")
					fmt.Fprint(out, ex.Log)
				}
				if ex.Status != script.StatusSuccess {
					return fmt.Errorf("script %s failed", args[0])
				}
				return nil
			})
		},
	}
}
