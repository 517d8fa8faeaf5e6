package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scriptd/internal/app"
	"scriptd/internal/scheduler"
	"scriptd/internal/script"
)

func (c *cli) newScriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scripts",
		Aliases: []string{"script"},
		Short:   "Manage stored scripts",
	}
	cmd.AddCommand(
		c.newScriptsListCmd(),
		c.newScriptsShowCmd(),
		c.newScriptsAddCmd(),
		c.newScriptsEditCmd(),
		c.newScriptsRmCmd(),
	)
	return cmd
}

func (c *cli) newScriptsListCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scripts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				scripts, err := a.Store().LoadScripts(ctx)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSCHEDULER\tSCHEDULES\tLAST RUN")
				for _, sc := range scripts {
					if tag != "" && !hasTag(sc, tag) {
						continue
					}
					last := "-"
					if len(sc.Executions) > 0 {
						last = fmt.Sprintf("%s %s", sc.Executions[0].Status, ago(sc.Executions[0].Timestamp))
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", sc.ID, sc.Name, sc.Type, onOff(sc.IsSchedulerEnabled), len(sc.Schedules), last)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "only list scripts carrying this tag")
	return cmd
}

func hasTag(sc script.Script, tag string) bool {
	for _, t := range sc.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func (c *cli) newScriptsShowCmd() *cobra.Command {
	var withCode bool
	cmd := &cobra.Command{
		Use:   "show <script-id>",
		Short: "Show one script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Store().GetScript(ctx, args[0])
				if err != nil {
					return err
				}
				printScript(cmd.OutOrStdout(), sc, withCode)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withCode, "code", false, "print the script body")
	return cmd
}

// scriptFlags are shared by add and edit.
type scriptFlags struct {
	name      string
	typ       string
	code      string
	file      string
	deps      string
	tags      []string
	schedules []string
}

func (f *scriptFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "script name")
	fl.StringVar(&f.typ, "type", "", "script type: python or bash (default from --file extension)")
	fl.StringVar(&f.code, "code", "", "script body")
	fl.StringVarP(&f.file, "file", "f", "", "read the script body from a file ('-' for stdin)")
	fl.StringVar(&f.deps, "deps", "", "free-form dependency notes")
	fl.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	fl.StringArrayVar(&f.schedules, "schedule", nil, "5-field cron expression (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("code", "file")
}

// body resolves --code or --file and, for files, the type implied by the
// extension.
func (f *scriptFlags) body(cmd *cobra.Command) (code string, implied script.Type, err error) {
	if f.file == "" {
		return f.code, "", nil
	}
	var b []byte
	if f.file == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(f.file)
	}
	if err != nil {
		return "", "", err
	}
	switch strings.ToLower(filepath.Ext(f.file)) {
	case ".py":
		implied = script.TypePython
	case ".sh", ".bash":
		implied = script.TypeBash
	}
	return string(b), implied, nil
}

func (c *cli) newScriptsAddCmd() *cobra.Command {
	f := &scriptFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, implied, err := f.body(cmd)
			if err != nil {
				return err
			}
			typ := script.Type(f.typ)
			if f.typ == "" {
				typ = implied
			}
			if typ == "" {
				return errors.New("--type is required")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Controller().CreateScript(ctx, script.Script{
					Name:         f.name,
					Type:         typ,
					Code:         code,
					Dependencies: f.deps,
					Tags:         f.tags,
					Schedules:    f.schedules,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sc.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) newScriptsEditCmd() *cobra.Command {
	f := &scriptFlags{}
	cmd := &cobra.Command{
		Use:   "edit <script-id>",
		Short: "Change fields of a script; --schedule replaces the whole list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch scheduler.ScriptPatch
			changed := cmd.Flags().Changed
			if changed("name") {
				patch.Name = &f.name
			}
			if changed("code") || changed("file") {
				code, implied, err := f.body(cmd)
				if err != nil {
					return err
				}
				patch.Code = &code
				if implied != "" && !changed("type") {
					patch.Type = &implied
				}
			}
			if changed("type") {
				t := script.Type(f.typ)
				patch.Type = &t
			}
			if changed("deps") {
				patch.Dependencies = &f.deps
			}
			if changed("tag") {
				patch.Tags = &f.tags
			}
			if changed("schedule") {
				patch.Schedules = &f.schedules
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Controller().UpdateScript(ctx, args[0], patch)
				if err != nil {
					return err
				}
				printScript(cmd.OutOrStdout(), sc, false)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) newScriptsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <script-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a script and its schedules",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Controller().DeleteScript(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}
