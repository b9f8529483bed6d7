// Package system reports OS and application versions and the user locale.
package system

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jeandeaual/go-locale"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/config"
)

// maxBody caps how much of a remote version document is read.
const maxBody = 1 << 20

var releaseVersion = regexp.MustCompile(`(?m)^Version:\s*(.+)$`)

type Manager struct {
	cfg     config.SystemConfig
	client  *http.Client
	timeout time.Duration
	// locales is go-locale's GetLocales, swapped in tests.
	locales func() ([]string, error)
}

func New(cfg config.SystemConfig, client *http.Client, timeout time.Duration) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{cfg: cfg, client: client, timeout: timeout, locales: locale.GetLocales}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"systemGetCurrentVersion":   bridge.NoInput(m.CurrentVersion),
		"systemGetLatestVersion":    bridge.NoInput(m.LatestVersion),
		"systemGetLatestAppVersion": bridge.NoInput(m.LatestAppVersion),
		"systemGetLocale":           bridge.NoInput(m.Locale),
	}
}

type versionData struct {
	Version     string `json:"version"`
	FullVersion string `json:"fullVersion,omitempty"`
	Source      string `json:"source,omitempty"`
}

func failure(msg string, err error) bridge.Result {
	logger.Error(msg, "error", err)
	return bridge.Failuref("%s", msg).With("error", err.Error())
}

// CurrentVersion reads /etc/debian_version and falls back to os-release on
// non-Debian hosts.
func (m *Manager) CurrentVersion(ctx context.Context) (bridge.Result, error) {
	raw, err := os.ReadFile(m.cfg.DebianVersion)
	if err == nil {
		v := strings.TrimSpace(string(raw))
		return bridge.Success(versionData{Version: v, FullVersion: "Debian " + v}), nil
	}

	data, osErr := readOSRelease(m.cfg.OSReleaseFile)
	if osErr != nil {
		return failure("Failed to read system version", errors.Join(err, osErr)), nil
	}
	return bridge.Success(data), nil
}

func readOSRelease(path string) (versionData, error) {
	f, err := os.Open(path)
	if err != nil {
		return versionData{}, err
	}
	defer f.Close()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	if err := scanner.Err(); err != nil {
		return versionData{}, err
	}
	v := fields["VERSION_ID"]
	if v == "" {
		return versionData{}, fmt.Errorf("%s: no VERSION_ID", path)
	}
	full := fields["PRETTY_NAME"]
	if full == "" {
		full = strings.TrimSpace(fields["NAME"] + " " + v)
	}
	return versionData{Version: v, FullVersion: full}, nil
}

func (m *Manager) fetch(ctx context.Context, url string) ([]byte, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// LatestVersion reads the Version: line of the Debian stable Release file.
func (m *Manager) LatestVersion(ctx context.Context) (bridge.Result, error) {
	body, err := m.fetch(ctx, m.cfg.ReleaseURL)
	if err != nil {
		return failure("Failed to fetch latest version information", err), nil
	}
	match := releaseVersion.FindSubmatch(body)
	if match == nil {
		return bridge.Failure("Version information not found in release file", nil), nil
	}
	v := strings.TrimSpace(string(match[1]))
	return bridge.Success(versionData{Version: v, FullVersion: "Debian " + v}), nil
}

// LatestAppVersion asks the configured update endpoint, which may answer
// with {"version": "..."} or a bare version string. Without an endpoint,
// or when it is unreachable, the built-in version is reported.
func (m *Manager) LatestAppVersion(ctx context.Context) (bridge.Result, error) {
	static := bridge.Success(versionData{Version: m.cfg.AppVersion, Source: "static"})
	if m.cfg.AppVersionURL == "" {
		return static, nil
	}
	body, err := m.fetch(ctx, m.cfg.AppVersionURL)
	if err != nil {
		logger.Warn("App version endpoint unreachable", "url", m.cfg.AppVersionURL, "error", err)
		return static, nil
	}
	var doc struct {
		Version string `json:"version"`
	}
	v := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &doc) == nil && doc.Version != "" {
		v = doc.Version
	}
	if v == "" {
		return static, nil
	}
	return bridge.Success(versionData{Version: v, Source: "remote"}), nil
}

type localeData struct {
	Locale   string   `json:"locale"`
	Language string   `json:"language"`
	Region   string   `json:"region,omitempty"`
	Locales  []string `json:"locales"`
}

// Locale reports the user's preferred locales, most preferred first.
func (m *Manager) Locale(ctx context.Context) (bridge.Result, error) {
	locales, err := m.locales()
	if err != nil {
		return bridge.FailureFrom(fmt.Errorf("Failed to detect locale: %w", err), localeData{Locale: "en-US", Language: "en", Region: "US", Locales: []string{}}), nil
	}
	if len(locales) == 0 {
		locales = []string{"en-US"}
	}
	tag := strings.ReplaceAll(locales[0], "_", "-")
	lang, region, _ := strings.Cut(tag, "-")
	return bridge.Success(localeData{Locale: tag, Language: lang, Region: region, Locales: locales}), nil
}
