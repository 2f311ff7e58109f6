package event

import (
	"sync"
	"time"
)

// PushEnvelope is the shared payload carried by a push or
// broadcast job: one envelope is posted to every notified listener's
// group rather than a per-listener copy.
type PushEnvelope struct {
	Event  string
	Params any
}

// BroadcastEnvelope additionally carries the dedup UUID and remaining
// hop count.
type BroadcastEnvelope struct {
	PushEnvelope
	UUID string
	Hop  uint8
}

// Interface is the set of callbacks a Listener may implement. Any
// field may be nil; a nil callback simply means that notification kind
// is not delivered to this listener.
type Interface struct {
	Add       func(fullname string, eventID uint16)
	Remove    func(fullname string, eventID uint16)
	Push      func(env PushEnvelope)
	Broadcast func(env BroadcastEnvelope)
}

// Dispatcher serializes jobs submitted under the same group key: jobs
// submitted to the same listener group execute in submission order;
// cross-group ordering is unspecified.
// The scheduler package's job queue satisfies this interface for a
// binder wired to real worker pools; defaultDispatcher is a
// self-contained fallback for standalone use of the event package.
type Dispatcher interface {
	Submit(group any, job func())
}

// Listener subscribes to events through a watch list and receives
// add/remove/push/broadcast notifications serialized per its group.
type Listener struct {
	iface      Interface
	group      any
	dispatcher Dispatcher

	mu      sync.Mutex
	watches map[*Event]*Watch
}

// NewListener creates a Listener delivering notifications through
// iface, serialized via dispatcher under group.
func NewListener(iface Interface, group any, dispatcher Dispatcher) *Listener {
	if dispatcher == nil {
		dispatcher = defaultDispatcher
	}
	return &Listener{
		iface:      iface,
		group:      group,
		dispatcher: dispatcher,
		watches:    make(map[*Event]*Watch),
	}
}

func (l *Listener) submit(job func()) {
	l.dispatcher.Submit(l.group, job)
}

// defaultDispatcher is a process-wide group-serial dispatcher used when
// a Listener is created without an explicit one.
var defaultDispatcher Dispatcher = NewGroupQueue()

// groupIdleTimeout bounds how long a group's worker goroutine waits for
// the next job before exiting, so short-lived groups don't leak workers.
const groupIdleTimeout = 5 * time.Second

// GroupQueue is a minimal Dispatcher: one goroutine-backed FIFO channel
// per group, created lazily and torn down after groupIdleTimeout of
// inactivity to avoid leaking goroutines for short-lived groups.
type GroupQueue struct {
	mu     sync.Mutex
	queues map[any]chan func()
}

func NewGroupQueue() *GroupQueue {
	return &GroupQueue{queues: make(map[any]chan func())}
}

// Submit enqueues job for group, starting a worker goroutine for that
// group if one is not already running.
func (g *GroupQueue) Submit(group any, job func()) {
	g.mu.Lock()
	ch, ok := g.queues[group]
	if !ok {
		ch = make(chan func(), 64)
		g.queues[group] = ch
		go g.run(group, ch)
	}
	g.mu.Unlock()
	ch <- job
}

func (g *GroupQueue) run(group any, ch chan func()) {
	timer := time.NewTimer(groupIdleTimeout)
	defer timer.Stop()
	for {
		select {
		case job := <-ch:
			job()
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(groupIdleTimeout)
		case <-timer.C:
			g.mu.Lock()
			// Re-check under lock: a Submit may have raced in a job
			// between the timer firing and us acquiring the lock.
			select {
			case job := <-ch:
				g.mu.Unlock()
				job()
				timer.Reset(groupIdleTimeout)
				continue
			default:
			}
			if g.queues[group] == ch {
				delete(g.queues, group)
			}
			g.mu.Unlock()
			return
		}
	}
}
