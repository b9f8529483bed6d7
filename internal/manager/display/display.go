// Package display controls backlight brightness.
package display

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

var ErrInvalidBrightness = errors.New("Invalid brightness level. Must be between 0 and 100.")

const (
	fallbackBrightness = 50
	defaultBacklight   = "/sys/class/backlight"
)

var errNoBacklight = errors.New("no backlight device found")

type Manager struct {
	engine *fallback.Engine
	// backlight is the sysfs class directory, replaceable in tests.
	backlight string
}

func New(engine *fallback.Engine, backlight string) *Manager {
	if engine == nil {
		engine = fallback.New(nil)
	}
	if backlight == "" {
		backlight = defaultBacklight
	}
	return &Manager{engine: engine, backlight: backlight}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"displayGetBrightness": bridge.NoInput(m.GetBrightness),
		"displaySetBrightness": bridge.Typed(m.SetBrightness),
	}
}

type brightnessData struct {
	Brightness int `json:"brightness"`
}

func (m *Manager) GetBrightness(ctx context.Context) (bridge.Result, error) {
	level, err := m.readBrightness(ctx)
	if err != nil {
		logger.Error("Get brightness failed", "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to get brightness: %w", err), brightnessData{Brightness: fallbackBrightness}), nil
	}
	return bridge.SuccessMessage("Brightness retrieved successfully", brightnessData{Brightness: level}), nil
}

func percent(cur, maxVal int) int {
	if maxVal <= 0 {
		maxVal = 255
	}
	p := int(math.Round(float64(cur) * 100 / float64(maxVal)))
	return min(100, max(0, p))
}

func (m *Manager) readBrightness(ctx context.Context) (int, error) {
	out, err := m.engine.Run(ctx,
		fallback.Op("brightnessctl get", func(ctx context.Context) (string, error) {
			cur, err := m.engine.Output(ctx, "brightnessctl", "get")
			if err != nil {
				return "", err
			}
			c, err := strconv.Atoi(strings.TrimSpace(cur))
			if err != nil {
				return "", fmt.Errorf("brightnessctl get: %w", err)
			}
			maxVal := 255
			if raw, err := m.engine.Output(ctx, "brightnessctl", "max"); err == nil {
				if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
					maxVal = v
				}
			}
			return strconv.Itoa(percent(c, maxVal)), nil
		}),
		fallback.Op("sysfs backlight", func(context.Context) (string, error) {
			dev, err := m.device()
			if err != nil {
				return "", err
			}
			c, err := readInt(filepath.Join(dev, "brightness"))
			if err != nil {
				return "", err
			}
			maxVal, err := readInt(filepath.Join(dev, "max_brightness"))
			if err != nil {
				return "", err
			}
			return strconv.Itoa(percent(c, maxVal)), nil
		}),
	)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out.Output)
}

// device returns the first backlight directory.
func (m *Manager) device() (string, error) {
	entries, err := os.ReadDir(m.backlight)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoBacklight, err)
	}
	for _, e := range entries {
		dir := filepath.Join(m.backlight, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "brightness")); err == nil {
			return dir, nil
		}
	}
	return "", errNoBacklight
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

type setIn struct {
	Brightness bridge.Int `json:"brightness"`
}

type setData struct {
	Brightness       int `json:"brightness"`
	ActualBrightness int `json:"actualBrightness"`
}

func (m *Manager) SetBrightness(ctx context.Context, in setIn) (bridge.Result, error) {
	if !in.Brightness.Set || in.Brightness.Value < 0 || in.Brightness.Value > 100 {
		return bridge.Result{}, ErrInvalidBrightness
	}
	level := in.Brightness.Value
	pct := fmt.Sprintf("%d%%", level)

	cands := fallback.Chain(
		fallback.WithSudo("brightnessctl", "set", pct),
		[]fallback.Candidate{fallback.Op("sysfs backlight write", func(context.Context) (string, error) {
			dev, err := m.device()
			if err != nil {
				return "", err
			}
			maxVal, err := readInt(filepath.Join(dev, "max_brightness"))
			if err != nil {
				return "", err
			}
			raw := int(math.Round(float64(level) * float64(maxVal) / 100))
			return "", os.WriteFile(filepath.Join(dev, "brightness"), []byte(strconv.Itoa(raw)), 0o644)
		})},
	)
	out, v, err := fallback.RunVerified(ctx, m.engine, level, m.readBrightness, cands...)
	if err != nil {
		logger.Error("Set brightness failed", "error", err)
		return bridge.FailureFrom(fmt.Errorf("Failed to set brightness: %w", err), nil), nil
	}
	return bridge.SuccessMessage(
		fmt.Sprintf("Brightness set to %d%% using: %s", level, out.Winner),
		setData{Brightness: v.Requested, ActualBrightness: v.Actual},
	), nil
}
