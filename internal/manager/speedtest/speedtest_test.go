package speedtest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(srvURL string) *Manager {
	cfg := config.Default().Speedtest
	cfg.DownloadURL = srvURL + "/__down"
	cfg.UploadURL = srvURL + "/__up"
	cfg.PingHost = srvURL
	cfg.Cutoff = config.Duration(time.Second)
	return New(cfg, nil)
}

func TestMbps(t *testing.T) {
	assert.Equal(t, 8.0, Mbps(1<<20, time.Second))
	assert.Equal(t, 0.0, Mbps(100, 0))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cdn-cgi/trace", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("_"))
		_, _ = w.Write([]byte("fl=1\nh=1.1.1.1\n"))
	}))
	defer srv.Close()

	res, err := newManager(srv.URL).Ping(context.Background(), params{})

	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)
	assert.GreaterOrEqual(t, res.Field("latencyMs").(float64), 0.0)
}

func TestPing_Unreachable(t *testing.T) {
	res, _ := newManager("http://127.0.0.1:1").Ping(context.Background(), params{})

	assert.Equal(t, bridge.StatusError, res.Status)
	assert.NotEmpty(t, res.Message)
}

func TestDownload_Complete(t *testing.T) {
	body := strings.Repeat("a", 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	res, _ := newManager(srv.URL).Download(context.Background(), params{})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, int64(1<<20), res.Field("bytes"))
	assert.Equal(t, false, res.Field("cutoff"))
	assert.Equal(t, srv.URL+"/__down", res.Field("url"))
	assert.Greater(t, res.Field("mbps").(float64), 0.0)
}

func TestDownload_CutoffIsSoftSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		buf := make([]byte, 32<<10)
		for {
			if _, err := w.Write(buf); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()
	m := newManager(srv.URL)
	m.cfg.Cutoff = config.Duration(200 * time.Millisecond)

	start := time.Now()
	res, _ := m.Download(context.Background(), params{})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, true, res.Field("cutoff"))
	assert.Greater(t, res.Field("bytes").(int64), int64(0))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDownload_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	res, _ := newManager(srv.URL).Download(context.Background(), params{})

	assert.Equal(t, bridge.StatusError, res.Status)
	assert.Equal(t, "HTTP 403", res.Message)
}

func TestUpload_Bounded(t *testing.T) {
	received := make(chan int64, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		received <- n
	}))
	defer srv.Close()

	res, _ := newManager(srv.URL).Upload(context.Background(), params{Bytes: bridge.NewInt(600 << 10)})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, int64(600<<10), <-received)
	assert.Equal(t, int64(600<<10), res.Field("bytes"))
	assert.Equal(t, false, res.Field("cutoff"))
}

func TestUpload_Cutoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer srv.Close()

	res, _ := newManager(srv.URL).Upload(context.Background(), params{MaxSeconds: bridge.NewInt(1)})

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, true, res.Field("cutoff"))
	assert.Greater(t, res.Field("bytes").(int64), int64(0))
}

func TestFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, _ := newManager(srv.URL).Full(context.Background(), params{Bytes: bridge.NewInt(1024)})

	require.True(t, res.OK())
	for _, part := range []string{"ping", "download", "upload"} {
		assert.True(t, res.Field(part).(bridge.Result).OK(), part)
	}
}
