package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/tui/monitor"
)

func newMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Live view of Wi-Fi, battery, volume, brightness and events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callDaemon(cmd.Context(), "testPing", nil); err != nil {
				return fmt.Errorf("failed to reach daemon: %w", err)
			}
			logger.Info("run monitor command")
			p := tea.NewProgram(monitor.NewModel(clientFactory()), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run monitor command failed: %w", err)
			}
			return nil
		},
	}
}
