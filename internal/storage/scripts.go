package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scriptd/internal/script"
	logx "scriptd/pkg/logx"
)

// LoadScripts returns the whole collection. A missing document is empty.
func (s *Store) LoadScripts(ctx context.Context) ([]script.Script, error) {
	s.scriptsMu.Lock()
	defer s.scriptsMu.Unlock()
	return s.loadScriptsLocked(ctx)
}

// SaveScripts replaces the whole collection.
func (s *Store) SaveScripts(ctx context.Context, scripts []script.Script) error {
	s.scriptsMu.Lock()
	defer s.scriptsMu.Unlock()
	return s.saveScriptsLocked(ctx, scripts)
}

// UpdateScripts runs fn on the current collection and saves what it returns.
// Nothing is written when fn fails.
func (s *Store) UpdateScripts(ctx context.Context, fn func([]script.Script) ([]script.Script, error)) error {
	s.scriptsMu.Lock()
	defer s.scriptsMu.Unlock()
	cur, err := s.loadScriptsLocked(ctx)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	return s.saveScriptsLocked(ctx, next)
}

func (s *Store) GetScript(ctx context.Context, id string) (script.Script, error) {
	all, err := s.LoadScripts(ctx)
	if err != nil {
		return script.Script{}, err
	}
	if i := indexOf(all, id); i >= 0 {
		return all[i], nil
	}
	return script.Script{}, fmt.Errorf("%w: %s", script.ErrNotFound, id)
}

// CreateScript assigns an id when sc has none and appends it to the collection.
func (s *Store) CreateScript(ctx context.Context, sc script.Script) (script.Script, error) {
	sc = sc.Clone()
	if strings.TrimSpace(sc.ID) == "" {
		sc.ID = script.NewID()
	}
	if sc.Tags == nil {
		sc.Tags = []string{}
	}
	if sc.Schedules == nil {
		sc.Schedules = []string{}
	}
	if sc.Executions == nil {
		sc.Executions = []script.Execution{}
	}
	err := s.UpdateScripts(ctx, func(all []script.Script) ([]script.Script, error) {
		if indexOf(all, sc.ID) >= 0 {
			return nil, fmt.Errorf("script %s already exists", sc.ID)
		}
		return append(all, sc), nil
	})
	if err != nil {
		return script.Script{}, err
	}
	return sc.Clone(), nil
}

// UpdateScript applies fn to the stored script. The id and the execution
// history are owned by the store and survive whatever fn does to them.
func (s *Store) UpdateScript(ctx context.Context, id string, fn func(*script.Script) error) (script.Script, error) {
	var out script.Script
	err := s.UpdateScripts(ctx, func(all []script.Script) ([]script.Script, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", script.ErrNotFound, id)
		}
		next := all[i].Clone()
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.ID = all[i].ID
		next.Executions = all[i].Executions
		all[i] = next
		out = next.Clone()
		return all, nil
	})
	return out, err
}

func (s *Store) DeleteScript(ctx context.Context, id string) error {
	return s.UpdateScripts(ctx, func(all []script.Script) ([]script.Script, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", script.ErrNotFound, id)
		}
		return append(all[:i], all[i+1:]...), nil
	})
}

// AppendExecution prepends e to the script's history and truncates it in one
// locked update.
func (s *Store) AppendExecution(ctx context.Context, id string, e script.Execution) error {
	return s.UpdateScripts(ctx, func(all []script.Script) ([]script.Script, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", script.ErrNotFound, id)
		}
		all[i].PrependExecution(e)
		return all, nil
	})
}

func (s *Store) loadScriptsLocked(ctx context.Context) ([]script.Script, error) {
	body, ok, err := s.b.read(ctx, docScripts)
	if err != nil {
		return nil, fmt.Errorf("%w: read scripts: %w", ErrIO, err)
	}
	if !ok || len(bytes.TrimSpace(body)) == 0 {
		return []script.Script{}, nil
	}
	var out []script.Script
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode scripts: %w", ErrIO, err)
	}
	if out == nil {
		out = []script.Script{}
	}
	return out, nil
}

func (s *Store) saveScriptsLocked(ctx context.Context, scripts []script.Script) error {
	if scripts == nil {
		scripts = []script.Script{}
	}
	body, err := json.MarshalIndent(scripts, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode scripts: %w", ErrIO, err)
	}
	if err := s.b.write(ctx, docScripts, body); err != nil {
		return fmt.Errorf("%w: write scripts: %w", ErrIO, err)
	}
	s.log.Debug("scripts saved", logx.Int("count", len(scripts)))
	return nil
}

func indexOf(all []script.Script, id string) int {
	for i := range all {
		if all[i].ID == id {
			return i
		}
	}
	return -1
}
