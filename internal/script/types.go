package script

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxExecutions caps the per-script execution history.
const MaxExecutions = 20

var ErrNotFound = errors.New("script not found")

// Type selects the interpreter used to run a script.
type Type string

const (
	TypePython Type = "Python"
	TypeBash   Type = "Bash"
)

// ParseType accepts the canonical names case-insensitively.
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "python", "py":
		return TypePython, nil
	case "bash", "sh":
		return TypeBash, nil
	default:
		return "", fmt.Errorf("unsupported script type %q", raw)
	}
}

// Ext is the file extension used for the temporary script file.
func (t Type) Ext() string {
	switch t {
	case TypePython:
		return ".py"
	case TypeBash:
		return ".sh"
	default:
		return ".txt"
	}
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Execution is the immutable record of one completed run.
//
// Runtime is serialized in milliseconds.
type Execution struct {
	ID                  string    `json:"id"`
	Status              Status    `json:"status"`
	Timestamp           time.Time `json:"timestamp"`
	Log                 string    `json:"log"`
	Runtime             int64     `json:"runtime"`
	TriggeredBySchedule bool      `json:"triggeredBySchedule"`
}

func (e Execution) RuntimeDuration() time.Duration {
	return time.Duration(e.Runtime) * time.Millisecond
}

type Script struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Type               Type        `json:"type"`
	Code               string      `json:"code"`
	Dependencies       string      `json:"dependencies"`
	Tags               []string    `json:"tags"`
	Schedules          []string    `json:"schedules"`
	Executions         []Execution `json:"executions"`
	IsSchedulerEnabled bool        `json:"isSchedulerEnabled"`
}

// HasSchedule reports whether expr is already registered (exact string match).
func (s *Script) HasSchedule(expr string) bool {
	for _, e := range s.Schedules {
		if e == expr {
			return true
		}
	}
	return false
}

// RemoveSchedule drops every occurrence of expr and reports whether one was found.
func (s *Script) RemoveSchedule(expr string) bool {
	n := 0
	removed := false
	for _, e := range s.Schedules {
		if e == expr {
			removed = true
			continue
		}
		s.Schedules[n] = e
		n++
	}
	s.Schedules = s.Schedules[:n]
	return removed
}

// PrependExecution puts e first and silently drops anything past MaxExecutions.
func (s *Script) PrependExecution(e Execution) {
	out := make([]Execution, 0, min(len(s.Executions)+1, MaxExecutions))
	out = append(out, e)
	for _, prev := range s.Executions {
		if len(out) >= MaxExecutions {
			break
		}
		out = append(out, prev)
	}
	s.Executions = out
}

// Clone returns a deep copy so callers can't alias store-owned slices.
func (s Script) Clone() Script {
	cp := s
	cp.Tags = append([]string(nil), s.Tags...)
	cp.Schedules = append([]string(nil), s.Schedules...)
	cp.Executions = append([]Execution(nil), s.Executions...)
	return cp
}

// NewID returns a time-ordered identifier (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
