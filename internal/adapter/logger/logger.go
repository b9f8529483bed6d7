package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	instance *slog.Logger
	once     sync.Once
)

// Config controls where and how verbosely the bridge logs.
type Config struct {
	Debug bool
	// FilePath, when set, sends logs to a size-rotated file instead of Output.
	FilePath string
	// MaxSizeMB is the rotation threshold for FilePath. Zero means 10MB.
	MaxSizeMB int
	// Output defaults to stdout. The stdio transport sets it to stderr
	// because stdout carries the protocol.
	Output io.Writer
}

// Setup 初始化全局 logger，只生效一次
func Setup(cfg Config) {
	once.Do(func() {
		ops := &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelInfo,
		}
		if cfg.Debug {
			ops.Level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(writerFor(cfg), ops)
		instance = slog.New(handler)
		slog.SetDefault(instance)
	})
}

func writerFor(cfg Config) io.Writer {
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			maxSize := cfg.MaxSizeMB
			if maxSize <= 0 {
				maxSize = 10
			}
			return &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    maxSize,
				MaxBackups: 3,
				Compress:   false,
			}
		}
	}
	if cfg.Output != nil {
		return cfg.Output
	}
	return os.Stdout
}

// get 经由 once 读取 instance，未 Setup 时使用默认配置
func get() *slog.Logger {
	Setup(Config{})
	return instance
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger { return get().With(args...) }

func Info(msg string, args ...any)  { get().Info(msg, args...) }
func Warn(msg string, args ...any)  { get().Warn(msg, args...) }
func Error(msg string, args ...any) { get().Error(msg, args...) }
func Debug(msg string, args ...any) { get().Debug(msg, args...) }
