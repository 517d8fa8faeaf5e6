package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"scriptd/internal/script"
	logx "scriptd/pkg/logx"
)

// stateDoc accepts both the canonical {globalEnabled, scriptStates} shape and
// the legacy single-flag {isEnabled} shape.
type stateDoc struct {
	GlobalEnabled *bool           `json:"globalEnabled,omitempty"`
	ScriptStates  map[string]bool `json:"scriptStates,omitempty"`
	IsEnabled     *bool           `json:"isEnabled,omitempty"`
}

func (d stateDoc) state() (script.SchedulerState, bool) {
	st := script.DefaultSchedulerState()
	legacy := false
	switch {
	case d.GlobalEnabled != nil:
		st.GlobalEnabled = *d.GlobalEnabled
	case d.IsEnabled != nil:
		st.GlobalEnabled = *d.IsEnabled
		legacy = true
	}
	for id, v := range d.ScriptStates {
		st.ScriptStates[id] = v
	}
	return st, legacy
}

// LoadState returns the scheduler state. A missing document yields the
// default state (global on, no overrides).
func (s *Store) LoadState(ctx context.Context) (script.SchedulerState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.loadStateLocked(ctx)
}

// SaveState always writes the canonical shape.
func (s *Store) SaveState(ctx context.Context, st script.SchedulerState) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.saveStateLocked(ctx, st)
}

// UpdateState mutates the state under the store lock. Nothing is written
// when fn fails.
func (s *Store) UpdateState(ctx context.Context, fn func(*script.SchedulerState) error) (script.SchedulerState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st, err := s.loadStateLocked(ctx)
	if err != nil {
		return script.SchedulerState{}, err
	}
	if err := fn(&st); err != nil {
		return script.SchedulerState{}, err
	}
	if err := s.saveStateLocked(ctx, st); err != nil {
		return script.SchedulerState{}, err
	}
	return st.Clone(), nil
}

func (s *Store) loadStateLocked(ctx context.Context) (script.SchedulerState, error) {
	body, ok, err := s.b.read(ctx, docState)
	if err != nil {
		return script.SchedulerState{}, fmt.Errorf("%w: read scheduler state: %w", ErrIO, err)
	}
	if !ok || len(bytes.TrimSpace(body)) == 0 {
		return script.DefaultSchedulerState(), nil
	}
	var doc stateDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return script.SchedulerState{}, fmt.Errorf("%w: decode scheduler state: %w", ErrIO, err)
	}
	st, legacy := doc.state()
	if !legacy {
		return st, nil
	}
	if err := s.migrateLegacyStateLocked(ctx, &st); err != nil {
		return script.SchedulerState{}, err
	}
	return st, nil
}

// migrateLegacyStateLocked carries the per-script disables that the legacy
// layout kept on each script (isSchedulerEnabled) into scriptStates and
// writes the canonical document back. It reads the scripts document without
// holding scriptsMu; writes replace that document whole.
func (s *Store) migrateLegacyStateLocked(ctx context.Context, st *script.SchedulerState) error {
	scripts, err := s.loadScriptsLocked(ctx)
	if err != nil {
		return err
	}
	disabled := 0
	for _, sc := range scripts {
		if _, set := st.ScriptStates[sc.ID]; set || sc.IsSchedulerEnabled {
			continue
		}
		st.SetScript(sc.ID, false)
		disabled++
	}
	if err := s.saveStateLocked(ctx, *st); err != nil {
		s.log.Warn("legacy scheduler state not rewritten", logx.Err(err))
	}
	s.log.Info("legacy scheduler state migrated",
		logx.Bool("global_enabled", st.GlobalEnabled),
		logx.Int("disabled_scripts", disabled),
	)
	return nil
}

func (s *Store) saveStateLocked(ctx context.Context, st script.SchedulerState) error {
	if st.ScriptStates == nil {
		st.ScriptStates = map[string]bool{}
	}
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode scheduler state: %w", ErrIO, err)
	}
	if err := s.b.write(ctx, docState, body); err != nil {
		return fmt.Errorf("%w: write scheduler state: %w", ErrIO, err)
	}
	return nil
}
