package script

// SchedulerState holds the global switch and per-script overrides.
//
// A missing entry in ScriptStates means "enabled"; it is kept distinct from an
// explicit true so overrides can be cleared without losing that information.
type SchedulerState struct {
	GlobalEnabled bool            `json:"globalEnabled"`
	ScriptStates  map[string]bool `json:"scriptStates"`
}

func DefaultSchedulerState() SchedulerState {
	return SchedulerState{GlobalEnabled: true, ScriptStates: map[string]bool{}}
}

// ScriptEnabled applies the "absent means enabled" rule.
func (s SchedulerState) ScriptEnabled(id string) bool {
	v, ok := s.ScriptStates[id]
	if !ok {
		return true
	}
	return v
}

// Allows reports whether a scheduled firing of script id may run.
func (s SchedulerState) Allows(id string) bool {
	return s.GlobalEnabled && s.ScriptEnabled(id)
}

func (s *SchedulerState) SetScript(id string, enabled bool) {
	if s.ScriptStates == nil {
		s.ScriptStates = map[string]bool{}
	}
	s.ScriptStates[id] = enabled
}

// Forget removes the override for id and reports whether one existed.
func (s *SchedulerState) Forget(id string) bool {
	if _, ok := s.ScriptStates[id]; !ok {
		return false
	}
	delete(s.ScriptStates, id)
	return true
}

func (s SchedulerState) Clone() SchedulerState {
	cp := SchedulerState{GlobalEnabled: s.GlobalEnabled, ScriptStates: make(map[string]bool, len(s.ScriptStates))}
	for k, v := range s.ScriptStates {
		cp.ScriptStates[k] = v
	}
	return cp
}
