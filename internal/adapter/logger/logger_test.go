package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Setup(t *testing.T) {
	logger.ResetForTest()

	logger.Setup(logger.Config{Debug: true, Output: &bytes.Buffer{}})
	l := logger.Get()
	assert.NotNil(t, l, "logger instance should not be nil")

	ctx := context.Background()
	assert.True(t, l.Enabled(ctx, slog.LevelDebug), "logger level should be debug")
}

func TestLogger_SetupOnlyOnce(t *testing.T) {
	logger.ResetForTest()

	var first, second bytes.Buffer
	logger.Setup(logger.Config{Output: &first})
	logger.Setup(logger.Config{Debug: true, Output: &second})

	logger.Info("hello once")
	assert.Contains(t, first.String(), "hello once")
	assert.Empty(t, second.String())
	assert.False(t, logger.Get().Enabled(context.Background(), slog.LevelDebug))
}

func TestLogger_FileConfig(t *testing.T) {
	logger.ResetForTest()

	logPath := filepath.Join(t.TempDir(), "logs", "bridge.log")
	logger.Setup(logger.Config{Debug: true, FilePath: logPath})

	logger.Info("test file log content", "action", "testPing")

	assert.FileExists(t, logPath)
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test file log content")
	assert.Contains(t, string(content), "action=testPing")
}

func TestLogger_ConcurrentFirstUse(t *testing.T) {
	logger.ResetForTest()

	var buf syncBuffer
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 0 {
				logger.Setup(logger.Config{Output: &buf})
			}
			logger.With("worker", i).Info("concurrent")
		}(i)
	}
	wg.Wait()

	assert.NotNil(t, logger.Get())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
