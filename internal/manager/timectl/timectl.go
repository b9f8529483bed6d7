// Package timectl manages the system clock, timezone and NTP through
// timedatectl, with coreutils fallbacks.
package timectl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

const (
	defaultZoneinfo  = "/usr/share/zoneinfo"
	defaultLocaltime = "/etc/localtime"
	dateTimeLayout   = "2006-01-02 15:04:05"
)

var (
	ErrTimezoneRequired = errors.New("Timezone parameter is required")
	ErrDateTimeRequired = errors.New("All date and time parameters are required (hours, minutes, seconds, day, month, year)")
	ErrInvalidTime      = errors.New("Invalid time values")
	ErrInvalidDate      = errors.New("Invalid date values")
	ErrInvalidTimezone  = errors.New("Invalid timezone")
)

type Manager struct {
	engine    *fallback.Engine
	zoneinfo  string
	localtime string
}

type Options struct {
	Engine *fallback.Engine
	// Zoneinfo and Localtime override the tz database paths.
	Zoneinfo  string
	Localtime string
}

func New(opts Options) *Manager {
	m := &Manager{engine: opts.Engine, zoneinfo: opts.Zoneinfo, localtime: opts.Localtime}
	if m.engine == nil {
		m.engine = fallback.New(nil)
	}
	if m.zoneinfo == "" {
		m.zoneinfo = defaultZoneinfo
	}
	if m.localtime == "" {
		m.localtime = defaultLocaltime
	}
	return m
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"timeListTimeZones":         bridge.NoInput(m.ListTimeZones),
		"timeGetCurrentTimezone":    bridge.NoInput(m.CurrentTimezone),
		"timeChangeTimeZone":        bridge.Typed(m.ChangeTimeZone),
		"timeSetAutoTimeSync":       bridge.Typed(m.SetAutoTimeSync),
		"timeGetAutoTimeSyncStatus": bridge.NoInput(m.AutoTimeSyncStatus),
		"timeSetSystemDateTime":     bridge.Typed(m.SetSystemDateTime),
	}
}

func lines(out string) []string {
	var zones []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			zones = append(zones, l)
		}
	}
	return zones
}

// walkZoneinfo lists zone names from the tz database directory, skipping
// the posix/ and right/ mirrors and the non-zone data files.
func (m *Manager) walkZoneinfo() ([]string, error) {
	var zones []string
	err := filepath.WalkDir(m.zoneinfo, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(m.zoneinfo, path)
		if d.IsDir() {
			if rel == "posix" || rel == "right" {
				return filepath.SkipDir
			}
			return nil
		}
		// zone.tab, leapseconds, posixrules, ...
		if !strings.Contains(rel, "/") && (strings.ContainsAny(rel, "._") || strings.ToLower(rel) == rel) {
			return nil
		}
		zones = append(zones, filepath.ToSlash(rel))
		return nil
	})
	return zones, err
}

func (m *Manager) haveZoneinfo() bool {
	info, err := os.Stat(m.zoneinfo)
	return err == nil && info.IsDir()
}

func (m *Manager) zoneExists(zone string) bool {
	_, err := os.Stat(filepath.Join(m.zoneinfo, zone))
	return err == nil
}

// ListTimeZones returns the sorted zone list. Names that timedatectl
// reports but that have no tz file are dropped when the database exists.
func (m *Manager) ListTimeZones(ctx context.Context) (bridge.Result, error) {
	out, err := m.engine.Run(ctx,
		fallback.Cmd("timedatectl", "list-timezones"),
		fallback.Op("zoneinfo walk", func(context.Context) (string, error) {
			zones, err := m.walkZoneinfo()
			return strings.Join(zones, "\n"), err
		}),
	)
	if err != nil {
		logger.Error("List timezones failed", "error", err)
		res := bridge.FailureFrom(err, []string{})
		res.Message = "Unable to load system timezones"
		return res, nil
	}

	zones := lines(out.Output)
	if _, statErr := os.Stat(m.zoneinfo); statErr == nil {
		kept := zones[:0]
		for _, z := range zones {
			if m.zoneExists(z) {
				kept = append(kept, z)
			}
		}
		zones = kept
	}
	if len(zones) == 0 {
		return bridge.Failure("Unable to load system timezones", []string{}), nil
	}
	sort.Strings(zones)
	return bridge.Success(zones), nil
}

func (m *Manager) readTimezone(ctx context.Context) (string, error) {
	out, err := m.engine.Run(ctx,
		fallback.Cmd("timedatectl", "show", "--property=Timezone", "--value"),
		fallback.Op("readlink localtime", func(context.Context) (string, error) {
			target, err := os.Readlink(m.localtime)
			if err != nil {
				return "", err
			}
			if zone, ok := strings.CutPrefix(target, m.zoneinfo+"/"); ok {
				return zone, nil
			}
			_, zone, ok := strings.Cut(target, "zoneinfo/")
			if !ok {
				return "", fmt.Errorf("%s does not point into zoneinfo: %s", m.localtime, target)
			}
			return zone, nil
		}),
	)
	if err != nil {
		return "", err
	}
	zone := strings.TrimSpace(out.Output)
	if zone == "" {
		return "", errors.New("empty timezone")
	}
	return zone, nil
}

type timezoneData struct {
	Timezone  string `json:"timezone"`
	Requested string `json:"requested,omitempty"`
}

func (m *Manager) CurrentTimezone(ctx context.Context) (bridge.Result, error) {
	zone, err := m.readTimezone(ctx)
	if err != nil {
		logger.Warn("Get timezone failed", "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to get current timezone: %w", err), timezoneData{Timezone: "UTC"}), nil
	}
	return bridge.Success(timezoneData{Timezone: zone}), nil
}

type timezoneIn struct {
	Timezone string `json:"timezone"`
}

func validZone(zone string) bool {
	if strings.HasPrefix(zone, "/") || strings.Contains(zone, "..") {
		return false
	}
	for _, r := range zone {
		if r <= ' ' {
			return false
		}
	}
	return true
}

func (m *Manager) ChangeTimeZone(ctx context.Context, in timezoneIn) (bridge.Result, error) {
	zone := strings.TrimSpace(in.Timezone)
	if zone == "" {
		return bridge.Result{}, ErrTimezoneRequired
	}
	if !validZone(zone) {
		return bridge.Result{}, fmt.Errorf("%w: %s", ErrInvalidTimezone, zone)
	}
	// ln -sf never fails, so an unknown zone would leave a dangling link.
	if m.haveZoneinfo() && !m.zoneExists(zone) {
		return bridge.Result{}, fmt.Errorf("%w: %s", ErrInvalidTimezone, zone)
	}

	_, v, err := fallback.RunVerified(ctx, m.engine, zone, m.readTimezone, fallback.Chain(
		fallback.WithSudo("timedatectl", "set-timezone", zone),
		fallback.WithSudo("ln", "-sf", filepath.Join(m.zoneinfo, zone), m.localtime),
	)...)
	if err != nil {
		logger.Error("Change timezone failed", "timezone", zone, "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to change timezone: %w", err), nil), nil
	}
	return bridge.SuccessMessage("Timezone changed to "+zone, timezoneData{Timezone: v.Actual, Requested: v.Requested}), nil
}

type syncData struct {
	AutoSync   bool   `json:"autoSync"`
	Requested  *bool  `json:"requested,omitempty"`
	TimeStatus string `json:"timeStatus,omitempty"`
}

// parseNTP reads the NTP state from `timedatectl status`, whose wording
// changed across systemd versions.
func parseNTP(status string) bool {
	for _, marker := range []string{"NTP enabled: yes", "Network time on: yes", "NTP service: active"} {
		if strings.Contains(status, marker) {
			return true
		}
	}
	return false
}

func (m *Manager) readNTP(ctx context.Context) (bool, string, error) {
	status, err := m.engine.Output(ctx, "timedatectl", "status")
	if err == nil {
		return parseNTP(status), strings.TrimSpace(status), nil
	}
	value, showErr := m.engine.Output(ctx, "timedatectl", "show", "--property=NTP", "--value")
	if showErr != nil {
		return false, "", err
	}
	return strings.TrimSpace(value) == "yes", "", nil
}

type syncIn struct {
	Enabled bool `json:"enabled"`
}

func (m *Manager) SetAutoTimeSync(ctx context.Context, in syncIn) (bridge.Result, error) {
	var status string
	get := func(ctx context.Context) (bool, error) {
		on, s, err := m.readNTP(ctx)
		status = s
		return on, err
	}
	_, v, err := fallback.RunVerified(ctx, m.engine, in.Enabled, get,
		fallback.WithSudo("timedatectl", "set-ntp", strconv.FormatBool(in.Enabled))...)
	if err != nil {
		logger.Error("Set NTP failed", "enabled", in.Enabled, "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to set automatic time sync: %w", err), nil), nil
	}
	verb := "disabled"
	if in.Enabled {
		verb = "enabled"
	}
	requested := v.Requested
	return bridge.SuccessMessage("Automatic time sync "+verb, syncData{
		AutoSync:   v.Actual,
		Requested:  &requested,
		TimeStatus: status,
	}), nil
}

func (m *Manager) AutoTimeSyncStatus(ctx context.Context) (bridge.Result, error) {
	on, status, err := m.readNTP(ctx)
	if err != nil {
		return bridge.FailureFrom(fmt.Errorf("Failed to get automatic time sync status: %w", err), syncData{}), nil
	}
	return bridge.Success(syncData{AutoSync: on, TimeStatus: status}), nil
}

type dateTimeIn struct {
	Hours   bridge.Int `json:"hours"`
	Minutes bridge.Int `json:"minutes"`
	Seconds bridge.Int `json:"seconds"`
	Day     bridge.Int `json:"day"`
	Month   bridge.Int `json:"month"`
	Year    bridge.Int `json:"year"`
}

// parse checks presence, then ranges, then that the day exists in that
// month.
func (in dateTimeIn) parse() (time.Time, error) {
	for _, f := range []bridge.Int{in.Hours, in.Minutes, in.Seconds, in.Day, in.Month, in.Year} {
		if !f.Set {
			return time.Time{}, ErrDateTimeRequired
		}
	}
	h, mi, s := in.Hours.Value, in.Minutes.Value, in.Seconds.Value
	if h < 0 || h > 23 || mi < 0 || mi > 59 || s < 0 || s > 59 {
		return time.Time{}, ErrInvalidTime
	}
	d, mo, y := in.Day.Value, in.Month.Value, in.Year.Value
	if d < 1 || d > 31 || mo < 1 || mo > 12 || y < 1970 || y > 2100 {
		return time.Time{}, ErrInvalidDate
	}
	t := time.Date(y, time.Month(mo), d, h, mi, s, 0, time.Local)
	if t.Day() != d {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

type dateTimeData struct {
	DateTime  string `json:"dateTime"`
	Requested string `json:"requested"`
}

func (m *Manager) SetSystemDateTime(ctx context.Context, in dateTimeIn) (bridge.Result, error) {
	t, err := in.parse()
	if err != nil {
		return bridge.Result{}, err
	}
	stamp := t.Format(dateTimeLayout)

	get := func(ctx context.Context) (string, error) {
		out, err := m.engine.Output(ctx, "date", "+%Y-%m-%d %H:%M:%S")
		return strings.TrimSpace(out), err
	}
	_, v, err := fallback.RunVerified(ctx, m.engine, stamp, get, fallback.Chain(
		fallback.WithSudo("timedatectl", "set-time", stamp),
		fallback.WithSudo("date", "-s", stamp),
	)...)
	if err != nil {
		logger.Error("Set date/time failed", "requested", stamp, "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to set system date/time: %w", err), nil), nil
	}
	return bridge.SuccessMessage("System date and time updated successfully", dateTimeData{
		DateTime:  v.Actual,
		Requested: v.Requested,
	}), nil
}
