package lifecycle

import (
	"slices"
	"sync"

	"github.com/koltyakov/hooktunnel/internal/domain"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventStateChanged        EventKind = "stateChanged"
	EventListening           EventKind = "listening"
	EventTunnelConnected     EventKind = "tunnelConnected"
	EventTunnelDisconnected  EventKind = "tunnelDisconnected"
	EventRegistrationCreated EventKind = "registrationCreated"
	EventRegistrationDeleted EventKind = "registrationDeleted"
	EventReady               EventKind = "ready"
	EventClosed              EventKind = "closed"
	EventError               EventKind = "error"
)

// Event is one lifecycle notification. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind         EventKind
	State        State
	Port         int
	URL          string
	InspectURL   string
	Registration domain.Registration
	Err          error
}

// dispatcher delivers events to subscribers in emission order on its own
// goroutine, so emitting never blocks and subscribers may call back into
// the orchestrator.
type dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	subs   []func(Event)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn func(Event)) {
	d.mu.Lock()
	d.subs = append(d.subs, fn)
	d.mu.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

// close stops accepting events; queued ones are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		batch := d.queue
		d.queue = nil
		subs := slices.Clone(d.subs)
		d.mu.Unlock()

		for _, ev := range batch {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}
}
