package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"scriptd/internal/app"
)

func (c *cli) newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect and switch the scheduler",
	}
	cmd.AddCommand(
		c.newSchedulerStatusCmd(),
		c.globalSwitch("enable", true),
		c.globalSwitch("disable", false),
		c.newSchedulerScriptCmd(),
	)
	return cmd
}

func (c *cli) newSchedulerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the global switch, per-script overrides and next fire times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				// a one-shot process has no jobs until it loads them
				if err := a.Controller().Initialize(ctx); err != nil {
					return err
				}
				st, err := a.Controller().Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "scheduler: %s\ntimezone:  %s\n", onOff(st.GlobalEnabled), st.Timezone)

				if len(st.ScriptStates) > 0 {
					ids := make([]string, 0, len(st.ScriptStates))
					for id := range st.ScriptStates {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					fmt.Fprintln(out, "\noverrides:")
					for _, id := range ids {
						fmt.Fprintf(out, "  %s  %s\n", id, onOff(st.ScriptStates[id]))
					}
				}

				fmt.Fprintln(out)
				tw := newTable(out)
				fmt.Fprintln(tw, "SCRIPT\tSCHEDULE\tACTIVE\tNEXT")
				for _, j := range st.Jobs {
					next := "-"
					if j.Active && !j.Next.IsZero() {
						next = j.Next.Format("2006-01-02 15:04") + " (" + ago(j.Next) + ")"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.Key.ScriptID, j.Key.Expr, onOff(j.Active), next)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) globalSwitch(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Turn the scheduler %s for every script", onOff(enabled)),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Controller().SetGlobalEnabled(ctx, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scheduler %s\n", onOff(enabled))
				return nil
			})
		},
	}
}

func (c *cli) newSchedulerScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "script <script-id> on|off",
		Short:     "Switch scheduling of one script",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("want on or off, got %q", args[1])
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Controller().SetScriptEnabled(ctx, args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s scheduler %s\n", sc.ID, onOff(sc.IsSchedulerEnabled))
				return nil
			})
		},
	}
}
