// Package bridge routes host envelopes to action handlers and guarantees
// exactly one delivery per request.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/kyson/hostbridge/internal/adapter/logger"
)

var (
	// ErrDuplicate rejects a messageId that is still in flight.
	ErrDuplicate = errors.New("Duplicate messageId")
	// ErrUnknownAction is returned for actions missing from the table.
	ErrUnknownAction = errors.New("Unknown action")
)

// DeliverFunc receives the result for a message id.
type DeliverFunc func(messageID string, result Result)

// Tracer is implemented by errors that carry a diagnostic trace worth
// surfacing in the result's stack field.
type Tracer interface {
	Trace() string
}

// Dispatcher is the single entry point from transports into handlers.
type Dispatcher struct {
	table *Table

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher over an immutable handler table.
func NewDispatcher(table *Table) *Dispatcher {
	return &Dispatcher{
		table:    table,
		inflight: make(map[string]struct{}),
	}
}

// Actions lists the actions this dispatcher can route.
func (d *Dispatcher) Actions() []string {
	return d.table.Actions()
}

// Dispatch starts handling env and returns immediately. deliver is
// invoked exactly once with env.MessageID, on every path.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope, deliver DeliverFunc) {
	send := deliverOnce(deliver)

	if !d.acquire(env.MessageID) {
		logger.Warn("Rejecting duplicate in-flight message", "message_id", env.MessageID, "action", env.Action)
		send(env.MessageID, errorResult(fmt.Errorf("%w: %s", ErrDuplicate, env.MessageID)))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result := d.invoke(ctx, env)
		// 先释放 id，再投递，host 收到结果后可以立即复用同一个 id
		d.release(env.MessageID)
		send(env.MessageID, result)
	}()
}

// Call dispatches env and waits for its result.
func (d *Dispatcher) Call(ctx context.Context, env Envelope) Result {
	ch := make(chan Result, 1)
	d.Dispatch(ctx, env, func(_ string, result Result) {
		ch <- result
	})
	return <-ch
}

// Do is Call with a Go value as payload.
func (d *Dispatcher) Do(ctx context.Context, messageID, action string, data any) Result {
	env := Envelope{MessageID: messageID, Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Failuref("encode payload: %v", err)
		}
		env.Data = raw
	}
	return d.Call(ctx, env)
}

// Wait blocks until every dispatched handler has delivered.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) invoke(ctx context.Context, env Envelope) (result Result) {
	handler, ok := d.table.Lookup(env.Action)
	if !ok {
		logger.Debug("No handler found", "action", env.Action)
		return errorResult(fmt.Errorf("%w: %s", ErrUnknownAction, env.Action))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked", "action", env.Action, "message_id", env.MessageID, "panic", r)
			result = Result{
				Status:  StatusError,
				Message: fmt.Sprint(r),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	res, err := handler.Handle(ctx, env.Data)
	if err != nil {
		logger.Debug("Handler failed", "action", env.Action, "message_id", env.MessageID, "error", err)
		return errorResult(err)
	}
	return normalize(env.Action, res)
}

// normalize enforces the uniform status/message envelope without
// overwriting what the handler chose.
func normalize(action string, res Result) Result {
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	if res.Status == StatusError && res.Message == "" {
		res.Message = action + " failed"
	}
	return res
}

func errorResult(err error) Result {
	res := Result{Status: StatusError, Message: err.Error()}
	var tracer Tracer
	if errors.As(err, &tracer) {
		res.Stack = tracer.Trace()
	}
	return res
}

func (d *Dispatcher) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

func deliverOnce(deliver DeliverFunc) DeliverFunc {
	var once sync.Once
	return func(id string, result Result) {
		once.Do(func() {
			if deliver == nil {
				logger.Warn("No delivery callback registered, dropping result", "message_id", id)
				return
			}
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Delivery callback panicked", "message_id", id, "panic", r)
				}
			}()
			deliver(id, result)
		})
	}
}
