// Package diag holds liveness actions for host-side testing.
package diag

import (
	"context"
	"time"

	"github.com/kyson/hostbridge/internal/core/bridge"
)

const defaultDelay = 2 * time.Second

type Manager struct {
	now func() time.Time
}

func New() *Manager {
	return &Manager{now: time.Now}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"testPing":        bridge.NoInput(m.Ping),
		"testDelayedPing": bridge.Typed(m.DelayedPing),
	}
}

func (m *Manager) Ping(ctx context.Context) (bridge.Result, error) {
	return bridge.SuccessMessage("pong", nil).With("timestamp", m.now().UnixMilli()), nil
}

type delayIn struct {
	// Delay is in milliseconds.
	Delay bridge.Int `json:"delay"`
}

// DelayedPing answers after the requested delay, which lets a host check
// that slow requests do not hold up others.
func (m *Manager) DelayedPing(ctx context.Context, in delayIn) (bridge.Result, error) {
	delay := defaultDelay
	if in.Delay.Set && in.Delay.Value > 0 {
		delay = time.Duration(in.Delay.Value) * time.Millisecond
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return bridge.Result{}, ctx.Err()
	case <-timer.C:
	}
	return bridge.SuccessMessage("delayed pong", nil).
		With("timestamp", m.now().UnixMilli()).
		With("delay", delay.Milliseconds()), nil
}
