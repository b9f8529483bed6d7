package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/kyson/hostbridge/internal/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "not-exist.yaml"))

	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, 30*time.Second, cfg.Wifi.ScanCache.Std())
	assert.Equal(t, 8*time.Second, cfg.Wifi.ScanCutoff.Std())
	assert.Equal(t, "1.1.1.1", cfg.Speedtest.PingHost)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  debug: true
wifi:
  interface: wlan1
  scan_cache: 1m
speedtest:
  cutoff: 3
firewall:
  default_rules:
    - port: 443
      protocol: tcp
      description: HTTPS
transport:
  websocket: 127.0.0.1:7788
  jwt_secret: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "wlan1", cfg.Wifi.Interface)
	assert.Equal(t, time.Minute, cfg.Wifi.ScanCache.Std())
	assert.Equal(t, 3*time.Second, cfg.Speedtest.Cutoff.Std())
	assert.Equal(t, []config.PortRule{{Port: 443, Protocol: "tcp", Description: "HTTPS"}}, cfg.Firewall.DefaultRules)
	assert.Equal(t, "127.0.0.1:7788", cfg.Transport.Websocket)
	// 未覆盖的字段保持默认
	assert.Equal(t, 2*time.Second, cfg.Wifi.RescanDelay.Std())
	assert.True(t, cfg.Transport.Unix)
}

func TestLoad_JSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	content := `{
  // RPC for balance lookups
  "crypto": {"rpc_url": "http://127.0.0.1:8545"},
  "battery": {"poll_interval": "0s"},
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Crypto.RPCURL)
	assert.Zero(t, cfg.Battery.PollInterval)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("invalid json"), 0644))
	_, err := config.Load(bad)
	assert.Error(t, err)

	badPort := filepath.Join(dir, "port.yaml")
	require.NoError(t, os.WriteFile(badPort, []byte("firewall:\n  default_rules:\n    - port: 70000\n      protocol: tcp\n"), 0644))
	_, err = config.Load(badPort)
	assert.ErrorContains(t, err, "out of range")

	badDuration := filepath.Join(dir, "dur.yaml")
	require.NoError(t, os.WriteFile(badDuration, []byte("wifi:\n  scan_cache: soon\n"), 0644))
	_, err = config.Load(badDuration)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	cfg.Wifi.Interface = "wlp2s0"
	cfg.Timeouts.Command = config.Duration(3 * time.Second)

	require.NoError(t, config.Save(path, cfg))
	loaded, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestState(t *testing.T) {
	env.ResetForTest()
	t.Cleanup(env.ResetForTest)
	require.NoError(t, env.Init(t.TempDir()))

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, config.SaveState(&config.RuntimeState{PID: 42, Socket: "/tmp/x.sock", StartedAt: started}))

	s, err := config.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 42, s.PID)
	assert.Equal(t, "/tmp/x.sock", s.Socket)
	assert.True(t, started.Equal(s.StartedAt))

	require.NoError(t, config.ClearState())
	_, err = config.LoadState()
	assert.Error(t, err)
	assert.NoError(t, config.ClearState())
}
