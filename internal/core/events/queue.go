// Package events buffers asynchronous notifications until the host drains
// them with popEvents.
package events

import (
	"context"
	"sync"

	"github.com/kyson/hostbridge/internal/core/bridge"
)

// Known event types.
const (
	WifiConnectionChanged = "wifiConnectionChanged"
	WifiScanCompleted     = "wifiScanCompleted"
	BatteryStatusChanged  = "batteryStatusChanged"
	AddressBookChanged    = "addressBookChanged"
)

// Event is one queued notification.
type Event struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Queue is an append-only buffer drained atomically by Pop.
type Queue struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends an event. Safe to call from any goroutine.
func (q *Queue) Push(typ string, value any) {
	q.mu.Lock()
	q.events = append(q.events, Event{Type: typ, Value: value})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop returns everything queued so far, in order, and empties the queue.
// Never nil, so an empty drain encodes as [].
func (q *Queue) Pop() []Event {
	q.mu.Lock()
	drained := q.events
	q.events = nil
	q.mu.Unlock()

	if drained == nil {
		return []Event{}
	}
	return drained
}

// Len reports how many events are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Notify fires at least once after one or more pushes.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Routes exposes popEvents.
func (q *Queue) Routes() bridge.Routes {
	return bridge.Routes{
		"popEvents": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			return bridge.Success(q.Pop()), nil
		}),
	}
}
