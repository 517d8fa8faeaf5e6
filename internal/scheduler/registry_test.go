package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	logx "scriptd/pkg/logx"
)

// secondsParser lets tests fire jobs every second.
var secondsParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const everySecond = "* * * * * *"

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry("UTC", withParser(secondsParser), WithRegistryLogger(logx.Nop()))
	r.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", within)
}

func TestParseExpr(t *testing.T) {
	for _, ok := range []string{"*/5 * * * *", "0 0 * * *", "30 14 * * 1,3,5", " 0 12 1 * * "} {
		if _, err := ParseExpr(ok); err != nil {
			t.Errorf("ParseExpr(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"* * * *", "", "@daily", "@every 1m", "* * * * * *", "61 * * * *", "not cron"} {
		if _, err := ParseExpr(bad); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("ParseExpr(%q) = %v, want ErrInvalidSchedule", bad, err)
		}
	}
}

func TestUpsertReplacesExistingJob(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{ScriptID: "s1", Expr: everySecond}

	var first, second atomic.Int32
	if err := r.Upsert(key, true, func() { first.Add(1) }); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.Upsert(key, true, func() { second.Add(1) }); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := r.ActiveKeys(); len(got) != 1 {
		t.Fatalf("active keys=%v", got)
	}

	eventually(t, 3*time.Second, func() bool { return second.Load() >= 1 })
	if first.Load() != 0 {
		t.Fatalf("replaced job fired %d times", first.Load())
	}
}

func TestUpsertInvalidLeavesRegistryUnchanged(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{ScriptID: "s1", Expr: everySecond}
	if err := r.Upsert(key, true, func() {}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.Upsert(Key{ScriptID: "s1", Expr: "nope"}, true, func() {}); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if keys := r.Keys(); len(keys) != 1 || keys[0] != key {
		t.Fatalf("keys=%v", keys)
	}
}

func TestInactiveJobDoesNotFireUntilActivated(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{ScriptID: "s1", Expr: everySecond}
	var n atomic.Int32
	if err := r.Upsert(key, false, func() { n.Add(1) }); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(r.Keys()) != 1 || len(r.ActiveKeys()) != 0 {
		t.Fatalf("dormant job should exist but be inactive")
	}

	time.Sleep(1500 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("dormant job fired")
	}

	if !r.SetActive(key, true) {
		t.Fatalf("SetActive on existing key reported missing")
	}
	eventually(t, 3*time.Second, func() bool { return n.Load() >= 1 })

	if r.SetActive(Key{ScriptID: "missing", Expr: everySecond}, true) {
		t.Fatalf("SetActive on unknown key should report false")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{ScriptID: "s1", Expr: everySecond}
	_ = r.Upsert(key, true, func() {})
	if !r.Stop(key) {
		t.Fatalf("first stop should report removal")
	}
	if r.Stop(key) {
		t.Fatalf("second stop should be a no-op")
	}
	if len(r.Keys()) != 0 {
		t.Fatalf("registry not empty")
	}
}

func TestStopAllAndSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.Upsert(Key{ScriptID: "b", Expr: everySecond}, true, func() {})
	_ = r.Upsert(Key{ScriptID: "a", Expr: everySecond}, false, func() {})

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Key.ScriptID != "a" || snap[0].Active || !snap[1].Active {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap[0].Next.IsZero() || snap[1].Next.IsZero() {
		t.Fatalf("next fire time missing: %+v", snap)
	}
	if n := r.StopAll(); n != 2 {
		t.Fatalf("StopAll removed %d", n)
	}
	if len(r.Keys()) != 0 {
		t.Fatalf("registry not empty")
	}
}
