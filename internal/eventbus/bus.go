// Package eventbus is an in-memory, non-blocking fanout of scheduler events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeExecutionCompleted = "execution.completed"
	TypeJobStarted         = "job.started"
	TypeJobStopped         = "job.stopped"
	TypeFiringSkipped      = "firing.skipped"
	TypeSchedulerToggled   = "scheduler.toggled"
)

// Event is a small in-memory signal. Data is one of the payload types below.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type ExecutionCompleted struct {
	ScriptID            string
	ScriptName          string
	ExecutionID         string
	Status              string
	Runtime             time.Duration
	TriggeredBySchedule bool
}

type JobChange struct {
	ScriptID string
	Expr     string
	Active   bool
}

type FiringSkipped struct {
	ScriptID string
	Expr     string
	Reason   string
}

// SchedulerToggled reports a global (ScriptID empty) or per-script switch.
type SchedulerToggled struct {
	ScriptID string
	Enabled  bool
}

// Bus never blocks publishers: subscribers get buffered channels and a slow
// subscriber drops events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// Publish holds the read lock while sending; unsubscribe takes the write lock
// before closing, so a send never hits a closed channel.
func (b *memBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
