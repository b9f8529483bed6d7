package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type volumeIn struct {
	Volume bridge.Int `json:"volume"`
}

type traceErr struct{}

func (traceErr) Error() string { return "all candidates failed" }
func (traceErr) Trace() string { return "attempt 1: boom" }

func newTestDispatcher(t *testing.T) *bridge.Dispatcher {
	t.Helper()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	table, err := bridge.NewTable(bridge.Routes{
		"echo": bridge.Typed(func(ctx context.Context, in volumeIn) (bridge.Result, error) {
			return bridge.Success(map[string]any{"volume": in.Volume.Value}), nil
		}),
		"noStatus": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			return bridge.Result{Data: "plain"}, nil
		}),
		"softError": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			return bridge.Failure("Failed to get system volume", map[string]any{"volume": 50}), nil
		}),
		"throws": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			return bridge.Result{}, errors.New("Invalid volume level. Must be between 0 and 100.")
		}),
		"traced": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			return bridge.Result{}, fmt.Errorf("wrapped: %w", traceErr{})
		}),
		"panics": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			panic("handler exploded")
		}),
		"slow": bridge.NoInput(func(ctx context.Context) (bridge.Result, error) {
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			return bridge.Success(nil), nil
		}),
	})
	require.NoError(t, err)
	return bridge.NewDispatcher(table)
}

func TestDispatch_UnknownAction(t *testing.T) {
	d := newTestDispatcher(t)

	res := d.Call(context.Background(), bridge.Envelope{MessageID: "1", Action: "nope"})

	assert.Equal(t, bridge.StatusError, res.Status)
	assert.Equal(t, "Unknown action: nope", res.Message)
}

func TestDispatch_DeliversExactlyOnceWithOriginalID(t *testing.T) {
	d := newTestDispatcher(t)

	actions := []string{"echo", "noStatus", "softError", "throws", "traced", "panics", "nope"}
	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("msg-%d", i)
		wg.Add(1)
		d.Dispatch(context.Background(), bridge.Envelope{
			MessageID: id,
			Action:    actions[i%len(actions)],
			Data:      json.RawMessage(`{"volume": 10}`),
		}, func(got string, _ bridge.Result) {
			mu.Lock()
			counts[got]++
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	d.Wait()

	require.Len(t, counts, 50)
	for id, n := range counts {
		assert.Equal(t, 1, n, "message %s delivered %d times", id, n)
	}
}

func TestDispatch_HandlerResultsAreNormalized(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	plain := d.Call(ctx, bridge.Envelope{MessageID: "a", Action: "noStatus"})
	assert.Equal(t, bridge.StatusSuccess, plain.Status)
	assert.Equal(t, "plain", plain.Data)

	soft := d.Call(ctx, bridge.Envelope{MessageID: "b", Action: "softError"})
	assert.Equal(t, bridge.StatusError, soft.Status)
	assert.Equal(t, "Failed to get system volume", soft.Message)
	assert.Equal(t, map[string]any{"volume": 50}, soft.Data)

	thrown := d.Call(ctx, bridge.Envelope{MessageID: "c", Action: "throws"})
	assert.Equal(t, bridge.StatusError, thrown.Status)
	assert.Contains(t, thrown.Message, "Invalid volume level")

	traced := d.Call(ctx, bridge.Envelope{MessageID: "d", Action: "traced"})
	assert.Equal(t, "wrapped: all candidates failed", traced.Message)
	assert.Equal(t, "attempt 1: boom", traced.Stack)
}

func TestDispatch_PanicBecomesErrorResult(t *testing.T) {
	d := newTestDispatcher(t)

	res := d.Call(context.Background(), bridge.Envelope{MessageID: "p", Action: "panics"})

	assert.Equal(t, bridge.StatusError, res.Status)
	assert.Equal(t, "handler exploded", res.Message)
	assert.NotEmpty(t, res.Stack)
}

func TestDispatch_TypedPayload(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	res := d.Call(ctx, bridge.Envelope{MessageID: "1", Action: "echo", Data: json.RawMessage(`{"volume":"40"}`)})
	assert.Equal(t, map[string]any{"volume": 40}, res.Data)

	bad := d.Call(ctx, bridge.Envelope{MessageID: "2", Action: "echo", Data: json.RawMessage(`{"volume":"loud"}`)})
	assert.Equal(t, bridge.StatusError, bad.Status)
	assert.Contains(t, bad.Message, "invalid payload")
}

func TestDispatch_DuplicateInFlightID(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	first := make(chan bridge.Result, 1)
	d.Dispatch(ctx, bridge.Envelope{MessageID: "same", Action: "slow"}, func(_ string, r bridge.Result) {
		first <- r
	})

	dup := d.Call(ctx, bridge.Envelope{MessageID: "same", Action: "echo"})
	assert.Equal(t, bridge.StatusError, dup.Status)
	assert.Equal(t, "Duplicate messageId: same", dup.Message)

	select {
	case r := <-first:
		assert.Equal(t, bridge.StatusSuccess, r.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight request never delivered")
	}

	// id is free again once delivered
	again := d.Call(ctx, bridge.Envelope{MessageID: "same", Action: "noStatus"})
	assert.Equal(t, bridge.StatusSuccess, again.Status)
}

func TestDispatch_SlowHandlerDoesNotBlockOthers(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	slowDone := make(chan struct{})
	d.Dispatch(ctx, bridge.Envelope{MessageID: "slow", Action: "slow"}, func(string, bridge.Result) {
		close(slowDone)
	})

	res := d.Call(ctx, bridge.Envelope{MessageID: "fast", Action: "noStatus"})
	assert.Equal(t, bridge.StatusSuccess, res.Status)

	select {
	case <-slowDone:
		t.Fatal("slow handler should still be running")
	default:
	}
}

func TestDispatch_NilCallbackAndPanickingCallback(t *testing.T) {
	d := newTestDispatcher(t)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), bridge.Envelope{MessageID: "x", Action: "echo"}, nil)
		d.Dispatch(context.Background(), bridge.Envelope{MessageID: "y", Action: "echo"}, func(string, bridge.Result) {
			panic("host callback broke")
		})
		d.Wait()
	})
}

func TestNewTable_RejectsDuplicates(t *testing.T) {
	h := bridge.NoInput(func(ctx context.Context) (bridge.Result, error) { return bridge.Success(nil), nil })

	_, err := bridge.NewTable(bridge.Routes{"a": h}, bridge.Routes{"a": h})
	assert.Error(t, err)

	table, err := bridge.NewTable(bridge.Routes{"b": h, "a": h})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, table.Actions())
}

func TestResult_JSONFlattensFields(t *testing.T) {
	res := bridge.Success(nil).With("hash", "abc").With("algorithm", "sha256")

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","hash":"abc","algorithm":"sha256"}`, string(raw))

	var back bridge.Result
	require.NoError(t, json.Unmarshal([]byte(`{"status":"error","message":"m","stack":"s","data":{"v":1},"cutoff":true}`), &back))
	assert.Equal(t, bridge.StatusError, back.Status)
	assert.Equal(t, "m", back.Message)
	assert.Equal(t, "s", back.Stack)
	assert.Equal(t, map[string]any{"v": float64(1)}, back.Data)
	assert.Equal(t, true, back.Field("cutoff"))
}
