package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/kyson/hostbridge/internal/env"
)

// loaded is the configuration resolved by the root command before any
// subcommand runs.
var loaded = config.Default()

// loadedPath is the config file resolved from --config or the home.
var loadedPath string

func NewRootCommand() *cobra.Command {
	var (
		homeDir    string
		debug      bool
		configPath string
	)
	cmd := &cobra.Command{
		Use:           "hostbridge",
		Short:         "Bridge host applications to system services",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 使用 setup 初始化环境，支持智能探测和注册
			if err := env.Setup(homeDir); err != nil {
				return fmt.Errorf("environment setup failed: %w", err)
			}

			path := configPath
			if path == "" {
				path = env.Get().ConfigFile
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			loaded = cfg
			loadedPath = path

			logCfg := logger.Config{
				Debug:     debug || cfg.Log.Debug,
				MaxSizeMB: cfg.Log.MaxSizeMB,
				// stdout 留给命令输出（stdio 模式下是协议）
				Output: os.Stderr,
			}
			if cmd.Name() == "serve" {
				logCfg.FilePath = logFile()
			}
			logger.Setup(logCfg)
			logger.Debug("Logger initialized", "home", env.Get().HomeDir, "config", path)
			return nil
		},
	}

	// bind global flags
	cmd.PersistentFlags().StringVar(&homeDir, "home", "", "Custom working directory (default: ~/.hostbridge)")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug mode")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <home>/config.yaml)")

	// register sub commands
	cmd.AddCommand(
		newVersionCommand(),
		newServeCommand(),
		newStartCommand(),
		newCheckCommand(),
		newCallCommand(),
		newEventsCommand(),
		newLogCommand(),
		newMonitorCommand(),
		newStatusCommand(),
		newStopCommand(),
		newTokenCommand(),
	)

	return cmd
}

func logFile() string {
	if loaded.Log.File != "" {
		return loaded.Log.File
	}
	return env.Get().LogFile
}

// execute command
func Execute() error {
	return NewRootCommand().Execute()
}
