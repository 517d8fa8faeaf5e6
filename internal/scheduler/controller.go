package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"scriptd/internal/eventbus"
	rtsup "scriptd/internal/runtime/supervisor"
	"scriptd/internal/script"
	logx "scriptd/pkg/logx"
)

// Store is the persistence the controller needs.
type Store interface {
	LoadScripts(ctx context.Context) ([]script.Script, error)
	GetScript(ctx context.Context, id string) (script.Script, error)
	CreateScript(ctx context.Context, sc script.Script) (script.Script, error)
	UpdateScript(ctx context.Context, id string, fn func(*script.Script) error) (script.Script, error)
	DeleteScript(ctx context.Context, id string) error
	LoadState(ctx context.Context) (script.SchedulerState, error)
	UpdateState(ctx context.Context, fn func(*script.SchedulerState) error) (script.SchedulerState, error)
}

type Executor interface {
	Execute(ctx context.Context, sc script.Script, triggeredBySchedule bool) script.Execution
}

// errUnchanged aborts a store update without writing.
var errUnchanged = errors.New("unchanged")

// Controller is the single authority over the Registry. Mutations are
// serialized by mu; firings only read the stores.
type Controller struct {
	mu sync.Mutex

	reg   *Registry
	store Store
	exec  Executor
	sup   *rtsup.Supervisor
	bus   eventbus.Bus
	log   logx.Logger
}

type ControllerOption func(*Controller)

func WithControllerLogger(log logx.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

func WithControllerBus(bus eventbus.Bus) ControllerOption {
	return func(c *Controller) { c.bus = bus }
}

func NewController(reg *Registry, store Store, exec Executor, sup *rtsup.Supervisor, opts ...ControllerOption) *Controller {
	c := &Controller{reg: reg, store: store, exec: exec, sup: sup}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "scheduler"))
	return c
}

func (c *Controller) Registry() *Registry { return c.reg }

// Initialize rebuilds the registry from the stores. Calling it again yields
// the same job set. When a store cannot be read the registry is left as is.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scripts, err := c.store.LoadScripts(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	state, err := c.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	c.reg.StopAll()
	registered, skipped := 0, 0
	for _, sc := range scripts {
		active := state.Allows(sc.ID)
		for _, expr := range sc.Schedules {
			if err := c.upsertLocked(Key{ScriptID: sc.ID, Expr: expr}, active); err != nil {
				skipped++
				c.log.Warn("schedule skipped", logx.String("script_id", sc.ID), logx.String("expr", expr), logx.Err(err))
				continue
			}
			registered++
		}
	}
	c.log.Info("scheduler initialized",
		logx.Bool("global_enabled", state.GlobalEnabled),
		logx.Int("scripts", len(scripts)),
		logx.Int("jobs", registered),
		logx.Int("skipped", skipped),
	)
	return nil
}

// SetGlobalEnabled persists the global switch and toggles every job without
// recreating it.
func (c *Controller) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.UpdateState(ctx, func(st *script.SchedulerState) error {
		st.GlobalEnabled = enabled
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range c.reg.Keys() {
		c.reg.SetActive(key, state.Allows(key.ScriptID))
	}
	c.log.Info("global scheduler switched", logx.Bool("enabled", enabled))
	c.publish(eventbus.TypeSchedulerToggled, eventbus.SchedulerToggled{Enabled: enabled})
	return nil
}

// SetScriptEnabled persists the per-script override and applies it to the
// script's jobs. Enabling also registers schedules that have no job yet.
func (c *Controller) SetScriptEnabled(ctx context.Context, id string, enabled bool) (script.Script, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The state override gates firing and is written last; the mirror is
	// restored if that write fails.
	var prev bool
	sc, err := c.store.UpdateScript(ctx, id, func(s *script.Script) error {
		prev = s.IsSchedulerEnabled
		s.IsSchedulerEnabled = enabled
		return nil
	})
	if err != nil {
		return script.Script{}, err
	}
	state, err := c.store.UpdateState(ctx, func(st *script.SchedulerState) error {
		st.SetScript(id, enabled)
		return nil
	})
	if err != nil {
		if _, rerr := c.store.UpdateScript(ctx, id, func(s *script.Script) error {
			s.IsSchedulerEnabled = prev
			return nil
		}); rerr != nil {
			c.log.Warn("scheduler flag not restored", logx.String("script_id", id), logx.Err(rerr))
		}
		return script.Script{}, err
	}

	active := state.Allows(id)
	for _, expr := range sc.Schedules {
		key := Key{ScriptID: id, Expr: expr}
		if c.reg.SetActive(key, active) || !enabled {
			continue
		}
		if err := c.upsertLocked(key, active); err != nil {
			c.log.Warn("schedule skipped", logx.String("script_id", id), logx.String("expr", expr), logx.Err(err))
		}
	}
	c.log.Info("script scheduler switched", logx.String("script_id", id), logx.Bool("enabled", enabled))
	c.publish(eventbus.TypeSchedulerToggled, eventbus.SchedulerToggled{ScriptID: id, Enabled: enabled})
	return sc, nil
}

// AddSchedule appends expr to the script and registers its job. An
// expression the script already has is a no-op that returns the script.
func (c *Controller) AddSchedule(ctx context.Context, id, expr string) (script.Script, error) {
	expr = strings.TrimSpace(expr)
	if err := c.reg.Validate(expr); err != nil {
		return script.Script{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sc, err := c.store.UpdateScript(ctx, id, func(s *script.Script) error {
		if s.HasSchedule(expr) {
			return errUnchanged
		}
		s.Schedules = append(s.Schedules, expr)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		c.log.Debug("schedule already present", logx.String("script_id", id), logx.String("expr", expr))
		return c.store.GetScript(ctx, id)
	}
	if err != nil {
		return script.Script{}, err
	}

	state, err := c.store.LoadState(ctx)
	if err != nil {
		return sc, err
	}
	if err := c.upsertLocked(Key{ScriptID: id, Expr: expr}, state.Allows(id)); err != nil {
		return sc, err
	}
	return sc, nil
}

// RemoveSchedule drops expr from the script and stops its job.
func (c *Controller) RemoveSchedule(ctx context.Context, id, expr string) (script.Script, error) {
	expr = strings.TrimSpace(expr)

	c.mu.Lock()
	defer c.mu.Unlock()

	sc, err := c.store.UpdateScript(ctx, id, func(s *script.Script) error {
		if !s.RemoveSchedule(expr) {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		sc, err = c.store.GetScript(ctx, id)
		if err != nil {
			return script.Script{}, err
		}
	case err != nil:
		return script.Script{}, err
	}
	c.reg.Stop(Key{ScriptID: id, Expr: expr})
	return sc, nil
}

// CreateScript stores a new script and registers its schedules.
func (c *Controller) CreateScript(ctx context.Context, sc script.Script) (script.Script, error) {
	if err := c.validateScript(&sc); err != nil {
		return script.Script{}, err
	}
	sc.ID = ""
	sc.Executions = nil
	sc.IsSchedulerEnabled = true
	sc.Schedules = dedupe(sc.Schedules)

	c.mu.Lock()
	defer c.mu.Unlock()

	created, err := c.store.CreateScript(ctx, sc)
	if err != nil {
		return script.Script{}, err
	}
	state, err := c.store.LoadState(ctx)
	if err != nil {
		return created, err
	}
	for _, expr := range created.Schedules {
		if err := c.upsertLocked(Key{ScriptID: created.ID, Expr: expr}, state.Allows(created.ID)); err != nil {
			c.log.Warn("schedule skipped", logx.String("script_id", created.ID), logx.String("expr", expr), logx.Err(err))
		}
	}
	c.log.Info("script created", logx.String("script_id", created.ID), logx.String("name", created.Name))
	return created, nil
}

// ScriptPatch lists the fields UpdateScript may change; nil means keep.
type ScriptPatch struct {
	Name         *string
	Type         *script.Type
	Code         *string
	Dependencies *string
	Tags         *[]string
	Schedules    *[]string
}

// UpdateScript applies patch and reconciles the registry with the new
// schedule list: removed schedules are stopped, added ones registered and
// unchanged ones keep their job.
func (c *Controller) UpdateScript(ctx context.Context, id string, patch ScriptPatch) (script.Script, error) {
	if patch.Type != nil {
		t, err := script.ParseType(string(*patch.Type))
		if err != nil {
			return script.Script{}, err
		}
		patch.Type = &t
	}
	if patch.Schedules != nil {
		next := dedupe(*patch.Schedules)
		for _, expr := range next {
			if err := c.reg.Validate(expr); err != nil {
				return script.Script{}, err
			}
		}
		patch.Schedules = &next
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var before []string
	sc, err := c.store.UpdateScript(ctx, id, func(s *script.Script) error {
		before = append([]string(nil), s.Schedules...)
		if patch.Name != nil {
			s.Name = *patch.Name
		}
		if patch.Type != nil {
			s.Type = *patch.Type
		}
		if patch.Code != nil {
			s.Code = *patch.Code
		}
		if patch.Dependencies != nil {
			s.Dependencies = *patch.Dependencies
		}
		if patch.Tags != nil {
			s.Tags = append([]string{}, *patch.Tags...)
		}
		if patch.Schedules != nil {
			s.Schedules = append([]string{}, *patch.Schedules...)
		}
		return nil
	})
	if err != nil {
		return script.Script{}, err
	}
	if patch.Schedules == nil {
		return sc, nil
	}

	removed, added := diffSchedules(before, sc.Schedules)
	for _, expr := range removed {
		c.reg.Stop(Key{ScriptID: id, Expr: expr})
	}
	if len(added) > 0 {
		state, err := c.store.LoadState(ctx)
		if err != nil {
			return sc, err
		}
		for _, expr := range added {
			if err := c.upsertLocked(Key{ScriptID: id, Expr: expr}, state.Allows(id)); err != nil {
				c.log.Warn("schedule skipped", logx.String("script_id", id), logx.String("expr", expr), logx.Err(err))
			}
		}
	}
	return sc, nil
}

// DeleteScript stops the script's jobs, removes it and forgets its override.
func (c *Controller) DeleteScript(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteScript(ctx, id); err != nil {
		return err
	}
	for _, key := range c.reg.Keys() {
		if key.ScriptID == id {
			c.reg.Stop(key)
		}
	}
	_, err := c.store.UpdateState(ctx, func(st *script.SchedulerState) error {
		if !st.Forget(id) {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}
	c.log.Info("script deleted", logx.String("script_id", id))
	return nil
}

// RunNow executes the script immediately, whatever the switches say.
func (c *Controller) RunNow(ctx context.Context, id string) (script.Execution, error) {
	sc, err := c.store.GetScript(ctx, id)
	if err != nil {
		return script.Execution{}, err
	}
	return c.exec.Execute(ctx, sc, false), nil
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	GlobalEnabled bool            `json:"globalEnabled"`
	ScriptStates  map[string]bool `json:"scriptStates"`
	Timezone      string          `json:"timezone"`
	Jobs          []JobInfo       `json:"jobs"`
	Running       int64           `json:"running"`
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	state, err := c.store.LoadState(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		GlobalEnabled: state.GlobalEnabled,
		ScriptStates:  state.ScriptStates,
		Timezone:      c.reg.Location().String(),
		Jobs:          c.reg.Snapshot(),
	}
	if c.sup != nil {
		st.Running = c.sup.Snapshot().Active
	}
	return st, nil
}

func (c *Controller) upsertLocked(key Key, active bool) error {
	return c.reg.Upsert(key, active, c.fireFunc(key))
}

// fireFunc returns the cron callback for key. It only hands off to the
// supervisor so the cron dispatcher is never blocked.
func (c *Controller) fireFunc(key Key) func() {
	return func() {
		c.sup.Go("job:"+key.String(), func(ctx context.Context) error {
			c.fire(ctx, key)
			return nil
		})
	}
}

// fire re-reads both switches and the script at fire time.
func (c *Controller) fire(ctx context.Context, key Key) {
	log := c.log.With(logx.String("job", key.String()))

	state, err := c.store.LoadState(ctx)
	if err != nil {
		log.Error("firing skipped; scheduler state unreadable", logx.Err(err))
		c.skip(key, "state unreadable")
		return
	}
	switch {
	case !state.GlobalEnabled:
		log.Info("firing skipped; scheduler disabled")
		c.skip(key, "scheduler disabled")
		return
	case !state.ScriptEnabled(key.ScriptID):
		log.Info("firing skipped; script disabled")
		c.skip(key, "script disabled")
		return
	}

	sc, err := c.store.GetScript(ctx, key.ScriptID)
	if errors.Is(err, script.ErrNotFound) {
		log.Info("firing skipped; script deleted")
		c.skip(key, "script deleted")
		return
	}
	if err != nil {
		log.Error("firing skipped; script unreadable", logx.Err(err))
		c.skip(key, "script unreadable")
		return
	}
	if !sc.HasSchedule(key.Expr) {
		log.Info("firing skipped; schedule removed")
		c.skip(key, "schedule removed")
		return
	}

	log.Debug("firing")
	c.exec.Execute(ctx, sc, true)
}

func (c *Controller) skip(key Key, reason string) {
	c.publish(eventbus.TypeFiringSkipped, eventbus.FiringSkipped{ScriptID: key.ScriptID, Expr: key.Expr, Reason: reason})
}

func (c *Controller) publish(typ string, data any) {
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// validateScript also normalizes the type name.
func (c *Controller) validateScript(sc *script.Script) error {
	if strings.TrimSpace(sc.Name) == "" {
		return errors.New("script name is required")
	}
	t, err := script.ParseType(string(sc.Type))
	if err != nil {
		return err
	}
	sc.Type = t
	for _, expr := range sc.Schedules {
		if err := c.reg.Validate(expr); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func diffSchedules(before, after []string) (removed, added []string) {
	inBefore := map[string]bool{}
	for _, s := range before {
		inBefore[s] = true
	}
	inAfter := map[string]bool{}
	for _, s := range after {
		inAfter[s] = true
		if !inBefore[s] {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if !inAfter[s] {
			removed = append(removed, s)
		}
	}
	return removed, added
}
