package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"scriptd/internal/script"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func runtimeString(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(10 * time.Millisecond).String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func printExecution(w io.Writer, e script.Execution) {
	trigger := "manual"
	if e.TriggeredBySchedule {
		trigger = "schedule"
	}
	fmt.Fprintf(w, "%s  %s  %s  %s (%s)\n", e.ID, e.Status, runtimeString(e.Runtime), ago(e.Timestamp), trigger)
}

func printScript(w io.Writer, sc script.Script, withCode bool) {
	fmt.Fprintf(w, "id:        %s\n", sc.ID)
	fmt.Fprintf(w, "name:      %s\n", sc.Name)
	fmt.Fprintf(w, "type:      %s\n", sc.Type)
	fmt.Fprintf(w, "scheduler: %s\n", onOff(sc.IsSchedulerEnabled))
	fmt.Fprintf(w, "schedules: %s\n", orDash(strings.Join(sc.Schedules, ", ")))
	fmt.Fprintf(w, "tags:      %s\n", orDash(strings.Join(sc.Tags, ", ")))
	fmt.Fprintf(w, "deps:      %s\n", orDash(sc.Dependencies))
	fmt.Fprintf(w, "code:      %s\n", humanize.Bytes(uint64(len(sc.Code))))
	if len(sc.Executions) > 0 {
		fmt.Fprintf(w, "last run:  %s, %s\n", sc.Executions[0].Status, ago(sc.Executions[0].Timestamp))
	}
	if withCode {
		fmt.Fprintln(w, "---")
		fmt.Fprint(w, sc.Code)
		if !strings.HasSuffix(sc.Code, "\n") {
			fmt.Fprintln(w)
		}
	}
}
