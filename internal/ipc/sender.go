package ipc

import (
	"context"
	"sync"

	"github.com/kyson/hostbridge/internal/core/bridge"
)

// FakeClient allows CLI and monitor tests to inject deterministic results
// per action.
type FakeClient struct {
	Results map[string]bridge.Result
	Err     error

	mu    sync.Mutex
	calls []string
}

func (f *FakeClient) Call(_ context.Context, action string, _ any) (bridge.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	f.mu.Unlock()

	if f.Err != nil {
		return bridge.Result{}, f.Err
	}
	res, ok := f.Results[action]
	if !ok {
		return bridge.Failuref("Unknown action: %s", action), nil
	}
	return res, nil
}

// Calls returns the actions called so far, in order.
func (f *FakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var _ Client = (*FakeClient)(nil)
var _ Client = (*UnixClient)(nil)

