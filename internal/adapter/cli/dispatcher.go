package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/env"
	"github.com/kyson/hostbridge/internal/ipc"
)

var ErrDaemonUnavailable = errors.New("daemon unavailable")

var clientFactory = defaultClientFactory

func defaultClientFactory() ipc.Client {
	return ipc.NewClient(env.Get().SocketFile)
}

// SetClientFactory lets tests replace the daemon client.
func SetClientFactory(factory func() ipc.Client) {
	if factory == nil {
		clientFactory = defaultClientFactory
		return
	}
	clientFactory = factory
}

// ResetClientFactory restores the default client.
func ResetClientFactory() {
	clientFactory = defaultClientFactory
}

// callDaemon sends one action, returning ErrDaemonUnavailable when the
// socket is unreachable. A handler-level error is still a nil error here.
func callDaemon(ctx context.Context, action string, data any) (bridge.Result, error) {
	res, err := clientFactory().Call(ctx, action, data)
	if err != nil {
		if isDaemonUnavailable(err) {
			return bridge.Result{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
		return bridge.Result{}, fmt.Errorf("ipc call failed: %w", err)
	}
	return res, nil
}

func isDaemonUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "no such file or directory") {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
