// Package power reboots or shuts down the host.
package power

import (
	"context"
	"fmt"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

type Manager struct {
	engine *fallback.Engine
}

func New(engine *fallback.Engine) *Manager {
	if engine == nil {
		engine = fallback.New(nil)
	}
	return &Manager{engine: engine}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"powerReboot":   bridge.NoInput(m.Reboot),
		"powerShutdown": bridge.NoInput(m.Shutdown),
	}
}

// rebootChain and shutdownChain build a new candidate list on every call.
func rebootChain() []fallback.Candidate {
	return fallback.Chain(
		fallback.WithSudo("reboot"),
		fallback.WithSudo("systemctl", "reboot"),
		fallback.WithSudo("/sbin/reboot"),
	)
}

func shutdownChain() []fallback.Candidate {
	return []fallback.Candidate{
		fallback.Cmd("poweroff"),
		fallback.Cmd("shutdown", "-h", "now"),
		fallback.Cmd("sudo", "poweroff"),
		fallback.Cmd("sudo", "shutdown", "-h", "now"),
		fallback.Cmd("systemctl", "poweroff"),
		fallback.Cmd("sudo", "systemctl", "poweroff"),
		fallback.Cmd("/sbin/poweroff"),
		fallback.Cmd("sudo", "/sbin/poweroff"),
		fallback.Cmd("halt"),
		fallback.Cmd("sudo", "halt"),
	}
}

func (m *Manager) Reboot(ctx context.Context) (bridge.Result, error) {
	return m.run(ctx, "reboot", rebootChain())
}

func (m *Manager) Shutdown(ctx context.Context) (bridge.Result, error) {
	return m.run(ctx, "shutdown", shutdownChain())
}

func (m *Manager) run(ctx context.Context, what string, chain []fallback.Candidate) (bridge.Result, error) {
	logger.Info("Power action requested", "action", what)
	out, err := m.engine.Run(ctx, chain...)
	if err != nil {
		logger.Error("Power action failed", "action", what, "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to %s system: %w", what, err), nil), nil
	}
	logger.Info("Power action started", "action", what, "command", out.Winner.String())
	return bridge.SuccessMessage(fmt.Sprintf("System %s initiated with: %s", what, out.Winner), nil), nil
}
