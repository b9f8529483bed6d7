// Package speedtest measures latency and throughput against an HTTP
// endpoint. Transfers stop at a cutoff and report what they managed.
package speedtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

type Manager struct {
	cfg    config.SpeedtestConfig
	client *http.Client
	now    func() time.Time
}

func New(cfg config.SpeedtestConfig, client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{cfg: cfg, client: client, now: time.Now}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"speedPing":     bridge.Typed(m.Ping),
		"speedDownload": bridge.Typed(m.Download),
		"speedUpload":   bridge.Typed(m.Upload),
		"speedFull":     bridge.Typed(m.Full),
	}
}

// Mbps converts a transfer to megabits per second, with 2^20 bits to the
// megabit.
func Mbps(bytes int64, d time.Duration) float64 {
	s := d.Seconds()
	if s <= 0 {
		return 0
	}
	return float64(bytes) * 8 / (1 << 20) / s
}

type params struct {
	Host       string     `json:"host"`
	MaxSeconds bridge.Int `json:"maxSeconds"`
	// Bytes bounds the upload size; unset means upload until the cutoff.
	Bytes bridge.Int `json:"bytes"`
}

func (m *Manager) cutoff(p params) time.Duration {
	if p.MaxSeconds.Set && p.MaxSeconds.Value > 0 {
		return time.Duration(p.MaxSeconds.Value) * time.Second
	}
	return m.cfg.Cutoff.Std()
}

func traceURL(host string) string {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/") + "/cdn-cgi/trace?_=" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// Ping times one small HTTPS round trip, body included.
func (m *Manager) Ping(ctx context.Context, p params) (bridge.Result, error) {
	host := p.Host
	if host == "" {
		host = m.cfg.PingHost
	}
	ctx, cancel := context.WithTimeout(ctx, m.cutoff(p)+time.Second)
	defer cancel()

	start := m.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, traceURL(host), nil)
	if err != nil {
		return bridge.Failure(err.Error(), nil), nil
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return bridge.Failure(err.Error(), nil), nil
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return bridge.Failure(err.Error(), nil), nil
	}
	latency := float64(m.now().Sub(start).Microseconds()) / 1000
	return bridge.Success(nil).With("latencyMs", latency), nil
}

type transfer struct {
	bytes    int64
	duration time.Duration
	cut      bool
}

func (t transfer) result() bridge.Result {
	return bridge.Success(nil).
		With("bytes", t.bytes).
		With("duration", t.duration.Seconds()).
		With("mbps", Mbps(t.bytes, t.duration)).
		With("cutoff", t.cut)
}

func (m *Manager) measure(ctx context.Context, limit time.Duration, fn func(ctx context.Context, counter *progressReader) error) (transfer, error) {
	counter := &progressReader{}
	start := m.now()
	cut, err := fallback.WithCutoff(ctx, limit, func(ctx context.Context) error {
		return fn(ctx, counter)
	})
	t := transfer{bytes: counter.Bytes(), duration: m.now().Sub(start), cut: cut}
	if cut {
		logger.Debug("Transfer cut off", "bytes", t.bytes, "duration", t.duration)
	}
	return t, err
}

func (m *Manager) Download(ctx context.Context, p params) (bridge.Result, error) {
	url := m.cfg.DownloadURL
	t, err := m.measure(ctx, m.cutoff(p), func(ctx context.Context, counter *progressReader) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		counter.Reader = resp.Body
		_, err = io.Copy(io.Discard, counter)
		return err
	})
	if err != nil {
		logger.Warn("Download test failed", "url", url, "error", err)
		return bridge.Failure(err.Error(), nil), nil
	}
	return t.result().With("url", url), nil
}

func (m *Manager) Upload(ctx context.Context, p params) (bridge.Result, error) {
	url := m.cfg.UploadURL
	t, err := m.measure(ctx, m.cutoff(p), func(ctx context.Context, counter *progressReader) error {
		var body io.Reader = filler{}
		if p.Bytes.Set && p.Bytes.Value >= 0 {
			body = io.LimitReader(body, int64(p.Bytes.Value))
		}
		counter.Reader = body
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, counter)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if p.Bytes.Set && p.Bytes.Value >= 0 {
			req.ContentLength = int64(p.Bytes.Value)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	})
	if err != nil {
		logger.Warn("Upload test failed", "url", url, "error", err)
		return bridge.Failure(err.Error(), nil), nil
	}
	return t.result().With("url", url), nil
}

// Full runs ping, download and upload one after another so they do not
// compete for the link. Each part keeps its own status.
func (m *Manager) Full(ctx context.Context, p params) (bridge.Result, error) {
	ping, _ := m.Ping(ctx, p)
	download, _ := m.Download(ctx, p)
	upload, _ := m.Upload(ctx, p)
	return bridge.Success(nil).
		With("ping", ping).
		With("download", download).
		With("upload", upload), nil
}
