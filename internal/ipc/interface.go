package ipc

import (
	"context"

	"github.com/kyson/hostbridge/internal/core/bridge"
)

// Client sends one action to the daemon and waits for its result.
type Client interface {
	Call(ctx context.Context, action string, data any) (bridge.Result, error)
}
