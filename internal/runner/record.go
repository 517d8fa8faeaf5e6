package runner

import (
	"fmt"

	"scriptd/internal/activitylog"
	"scriptd/internal/eventbus"
	"scriptd/internal/notifier"
	"scriptd/internal/script"
)

// record fans the finished execution out to the activity log, the event bus
// and the notifier.
func (r *Runner) record(sc script.Script, ex script.Execution, stdout, stderr string, runErr error) {
	if r.activity != nil {
		meta := map[string]any{
			"id":                  ex.ID,
			"status":              string(ex.Status),
			"runtime":             ex.Runtime,
			"triggeredBySchedule": ex.TriggeredBySchedule,
			"stdout":              stdout,
			"stderr":              stderr,
		}
		if ex.Status == script.StatusSuccess {
			r.activity.Write(sc.ID, activitylog.LevelInfo, "Script executed successfully", meta)
		} else {
			if runErr != nil {
				meta["error"] = runErr.Error()
			}
			r.activity.Write(sc.ID, activitylog.LevelError, "Script execution failed", meta)
		}
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeExecutionCompleted,
			Data: eventbus.ExecutionCompleted{
				ScriptID:            sc.ID,
				ScriptName:          sc.Name,
				ExecutionID:         ex.ID,
				Status:              string(ex.Status),
				Runtime:             ex.RuntimeDuration(),
				TriggeredBySchedule: ex.TriggeredBySchedule,
			},
		})
	}

	if r.notify != nil {
		msg, kind := notification(sc, ex, stderr)
		r.notify.Notify(msg, kind)
	}
}

// notification picks the message and kind: failures are always "failure",
// successful scheduled runs are "scheduled", successful manual runs "success".
func notification(sc script.Script, ex script.Execution, stderr string) (string, notifier.Kind) {
	prefix := "Script"
	if ex.TriggeredBySchedule {
		prefix = "Scheduled script"
	}
	if ex.Status == script.StatusSuccess {
		msg := fmt.Sprintf("%s %q (ID: %s) executed successfully.", prefix, sc.Name, sc.ID)
		if ex.TriggeredBySchedule {
			return msg, notifier.KindScheduled
		}
		return msg, notifier.KindSuccess
	}
	detail := stderr
	if detail == "" {
		detail = ex.Log
	}
	return fmt.Sprintf("%s %q (ID: %s) failed to execute.\nError: %s", prefix, sc.Name, sc.ID, detail), notifier.KindFailure
}
