package session

import (
	"sync"

	"github.com/foxseedlab/kikitori/internal/transcriber"
)

// eventQueue hands events from the transport's receive goroutine to the
// single consumer that writes the outputs.
type eventQueue struct {
	events chan transcriber.Event
	stop   chan struct{}

	closeOnce sync.Once
	stopOnce  sync.Once
	err       error
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{
		events: make(chan transcriber.Event, size),
		stop:   make(chan struct{}),
	}
}

func (q *eventQueue) OnEvent(ev transcriber.Event) {
	select {
	case q.events <- ev:
	case <-q.stop:
	}
}

// OnClose must be called from the goroutine that calls OnEvent, after its
// last OnEvent; the consumer reads err once events is drained.
func (q *eventQueue) OnClose(err error) {
	q.closeOnce.Do(func() {
		q.err = err
		close(q.events)
	})
}

func (q *eventQueue) shutdown() {
	q.stopOnce.Do(func() { close(q.stop) })
}
