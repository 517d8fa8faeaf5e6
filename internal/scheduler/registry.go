package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scriptd/internal/eventbus"
	logx "scriptd/pkg/logx"
)

var ErrInvalidSchedule = errors.New("invalid schedule expression")

// standardParser accepts exactly five fields: minute hour dom month dow.
// Descriptors (@daily, @every) are rejected.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseExpr validates a 5-field cron expression.
func ParseExpr(expr string) (cron.Schedule, error) {
	return parseWith(standardParser, expr)
}

func parseWith(p cron.Parser, expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}
	sched, err := p.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Key identifies a job: one schedule of one script.
type Key struct {
	ScriptID string
	Expr     string
}

func (k Key) String() string { return k.ScriptID + "_" + k.Expr }

type job struct {
	key     Key
	sched   cron.Schedule
	fire    func()
	entryID cron.EntryID // 0 while inactive
	created time.Time
}

func (j *job) active() bool { return j.entryID != 0 }

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Key    Key       `json:"key"`
	Active bool      `json:"active"`
	Next   time.Time `json:"next,omitempty"`
	Prev   time.Time `json:"prev,omitempty"`
}

type RegistryOption func(*Registry)

func WithRegistryLogger(log logx.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func WithRegistryBus(bus eventbus.Bus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// withParser swaps the expression parser (tests use a seconds-capable one).
func withParser(p cron.Parser) RegistryOption {
	return func(r *Registry) { r.parser = p }
}

// Registry holds at most one job per key on a single cron instance.
// An inactive job keeps its parsed schedule but has no cron entry.
type Registry struct {
	mu     sync.Mutex
	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	jobs   map[Key]*job

	log logx.Logger
	bus eventbus.Bus
}

// NewRegistry creates a stopped registry whose schedules are evaluated in
// timezone tz (empty means Local).
func NewRegistry(tz string, opts ...RegistryOption) *Registry {
	r := &Registry{parser: standardParser, jobs: map[Key]*job{}}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.loc = loadLocation(tz, r.log)
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	return r
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (r *Registry) Location() *time.Location { return r.loc }

// Validate parses expr with the registry's parser.
func (r *Registry) Validate(expr string) error {
	_, err := parseWith(r.parser, expr)
	return err
}

// Start begins dispatching due entries.
func (r *Registry) Start() {
	r.c.Start()
	r.log.Info("job registry started", logx.String("tz", r.loc.String()))
}

// Close stops dispatch and waits for running cron callbacks, bounded by ctx.
// Jobs stay registered.
func (r *Registry) Close(ctx context.Context) error {
	select {
	case <-r.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upsert replaces any job for key with a new one. The expression is parsed
// before anything is touched, so an invalid expression leaves the registry
// unchanged.
func (r *Registry) Upsert(key Key, active bool, fire func()) error {
	sched, err := parseWith(r.parser, key.Expr)
	if err != nil {
		return err
	}
	if fire == nil {
		return errors.New("scheduler: nil fire callback")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.jobs[key]; ok {
		r.removeEntryLocked(old)
		delete(r.jobs, key)
		r.log.Debug("job replaced", logx.String("job", key.String()))
	}
	j := &job{key: key, sched: sched, fire: fire, created: time.Now()}
	r.jobs[key] = j
	if active {
		r.addEntryLocked(j)
	}
	r.log.Info("job registered", logx.String("job", key.String()), logx.Bool("active", active), logx.String("next", r.nextLocked(j)))
	r.publish(eventbus.TypeJobStarted, key, active)
	return nil
}

// Stop removes the job for key. Unknown keys are a no-op.
func (r *Registry) Stop(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return false
	}
	r.removeEntryLocked(j)
	delete(r.jobs, key)
	r.log.Info("job stopped", logx.String("job", key.String()))
	r.publish(eventbus.TypeJobStopped, key, false)
	return true
}

// SetActive starts or pauses an existing job without recreating it and
// reports whether the key exists.
func (r *Registry) SetActive(key Key, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return false
	}
	if j.active() == active {
		return true
	}
	if active {
		r.addEntryLocked(j)
		r.log.Info("job resumed", logx.String("job", key.String()), logx.String("next", r.nextLocked(j)))
		r.publish(eventbus.TypeJobStarted, key, true)
	} else {
		r.removeEntryLocked(j)
		r.log.Info("job paused", logx.String("job", key.String()))
		r.publish(eventbus.TypeJobStopped, key, false)
	}
	return true
}

// StopAll removes every job.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.jobs)
	for key, j := range r.jobs {
		r.removeEntryLocked(j)
		delete(r.jobs, key)
		r.publish(eventbus.TypeJobStopped, key, false)
	}
	if n > 0 {
		r.log.Info("all jobs stopped", logx.Int("count", n))
	}
	return n
}

// Keys returns every registered key, sorted.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.jobs))
	for k := range r.jobs {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sortKeys(keys)
	return keys
}

// ActiveKeys returns the keys that currently have a cron entry, sorted.
func (r *Registry) ActiveKeys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.jobs))
	for k, j := range r.jobs {
		if j.active() {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()
	sortKeys(keys)
	return keys
}

func (r *Registry) Snapshot() []JobInfo {
	r.mu.Lock()
	out := make([]JobInfo, 0, len(r.jobs))
	for k, j := range r.jobs {
		it := JobInfo{Key: k, Active: j.active()}
		if j.active() {
			e := r.c.Entry(j.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		if it.Next.IsZero() {
			it.Next = j.sched.Next(time.Now().In(r.loc))
		}
		out = append(out, it)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return lessKey(out[i].Key, out[k].Key) })
	return out
}

func (r *Registry) addEntryLocked(j *job) {
	j.entryID = r.c.Schedule(j.sched, cron.FuncJob(j.fire))
}

func (r *Registry) removeEntryLocked(j *job) {
	if j.entryID != 0 {
		r.c.Remove(j.entryID)
		j.entryID = 0
	}
}

func (r *Registry) nextLocked(j *job) string {
	next := j.sched.Next(time.Now().In(r.loc))
	if next.IsZero() {
		return ""
	}
	return next.Format("2006-01-02 15:04:05")
}

func (r *Registry) publish(typ string, key Key, active bool) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.JobChange{ScriptID: key.ScriptID, Expr: key.Expr, Active: active}})
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
}

func lessKey(a, b Key) bool {
	if a.ScriptID != b.ScriptID {
		return a.ScriptID < b.ScriptID
	}
	return a.Expr < b.Expr
}
