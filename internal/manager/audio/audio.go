// Package audio reads and sets the master volume through ALSA or PulseAudio.
package audio

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

// ErrInvalidVolume is the validation error for out of range levels.
var ErrInvalidVolume = errors.New("Invalid volume level. Must be between 0 and 100.")

// fallbackVolume is reported alongside a failed read.
const fallbackVolume = 50

var (
	amixerPercent = regexp.MustCompile(`\[(\d+)%\]`)
	pactlPercent  = regexp.MustCompile(`(\d+)%`)
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
		"audioGetVolume": bridge.NoInput(m.GetVolume),
		"audioSetVolume": bridge.Typed(m.SetVolume),
	}
}

type volumeData struct {
	Volume int `json:"volume"`
}

func (m *Manager) GetVolume(ctx context.Context) (bridge.Result, error) {
	volume, err := m.readVolume(ctx)
	if err != nil {
		logger.Error("Get volume failed", "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to get system volume: %w", err), volumeData{Volume: fallbackVolume}), nil
	}
	return bridge.SuccessMessage("Volume retrieved successfully", volumeData{Volume: volume}), nil
}

func (m *Manager) readVolume(ctx context.Context) (int, error) {
	read := func(pattern *regexp.Regexp, argv ...string) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			out, err := m.engine.Output(ctx, argv...)
			if err != nil {
				return "", err
			}
			match := pattern.FindStringSubmatch(out)
			if match == nil {
				return "", fmt.Errorf("no volume in %q output", argv[0])
			}
			return match[1], nil
		}
	}

	out, err := m.engine.Run(ctx,
		fallback.Op("amixer get Master", read(amixerPercent, "amixer", "get", "Master")),
		fallback.Op("pactl get-sink-volume", read(pactlPercent, "pactl", "get-sink-volume", "@DEFAULT_SINK@")),
	)
	if err != nil {
		return 0, err
	}
	v, _ := strconv.Atoi(out.Output)
	return min(100, max(0, v)), nil
}

type setIn struct {
	Volume bridge.Int `json:"volume"`
}

type setData struct {
	Volume       int `json:"volume"`
	ActualVolume int `json:"actualVolume"`
}

// SetVolume tries every known mixer command and reads the level back.
// Setting the same level twice is harmless.
func (m *Manager) SetVolume(ctx context.Context, in setIn) (bridge.Result, error) {
	if !in.Volume.Set || in.Volume.Value < 0 || in.Volume.Value > 100 {
		return bridge.Result{}, ErrInvalidVolume
	}
	volume := in.Volume.Value
	level := fmt.Sprintf("%d%%", volume)
	logger.Info("Setting system volume", "volume", volume)

	out, v, err := fallback.RunVerified(ctx, m.engine, volume, m.readVolume,
		fallback.Cmd("amixer", "sset", "Master", level),
		fallback.Cmd("amixer", "-q", "sset", "Master", level),
		fallback.Cmd("pactl", "set-sink-volume", "@DEFAULT_SINK@", level),
		fallback.Cmd("amixer", "-c", "0", "sset", "Master", level),
		fallback.Cmd("amixer", "-D", "pulse", "sset", "Master", level),
		fallback.Op("alsactl store/restore", func(ctx context.Context) (string, error) {
			for _, argv := range [][]string{
				{"alsactl", "--file", "/tmp/asound.state", "store"},
				{"amixer", "sset", "Master", level},
				{"alsactl", "--file", "/tmp/asound.state", "restore"},
			} {
				if _, err := m.engine.Output(ctx, argv...); err != nil {
					return "", err
				}
			}
			return "", nil
		}),
	)
	if err != nil {
		logger.Error("Set volume failed", "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to set system volume: %w", err), nil), nil
	}

	return bridge.SuccessMessage(
		fmt.Sprintf("Volume set to %d%% using: %s", volume, out.Winner),
		setData{Volume: v.Requested, ActualVolume: v.Actual},
	), nil
}
