package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"scriptd/internal/app"
)

const defaultConfigPath = "./scriptd.json"

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "scriptd",
		Short: "Schedule and run Python and Bash scripts on cron triggers",
		Long: `scriptd keeps a library of Python and Bash scripts, runs them on 5-field cron
schedules and records the last 20 executions of each script.

"serve" runs the scheduler. Every other command is a one-shot operation on the
same store; a running server picks edits up on SIGHUP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", defaultConfigPath, "config file (json, yaml or toml)")

	root.AddCommand(
		c.newServeCmd(),
		c.newRunCmd(),
		c.newScriptsCmd(),
		c.newScheduleCmd(),
		c.newSchedulerCmd(),
		c.newHistoryCmd(),
	)
	return root
}

// withApp opens the app for a one-shot command and always stops it.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.NewApp(c.cfgFile)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, app.StopCommand)
	}()
	return fn(cmd.Context(), a)
}
