// Package battery reports battery state and watches it for changes.
package battery

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/distatus/battery"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/events"
)

// Reading is one battery, normalized. Capacities are in mWh.
type Reading struct {
	State        string  `json:"state"`
	Level        int     `json:"batteryLevel"`
	Charging     bool    `json:"charging"`
	ACConnected  bool    `json:"acConnected"`
	Current      float64 `json:"currentCapacity"`
	Full         float64 `json:"maxCapacity"`
	Design       float64 `json:"designedCapacity"`
	Voltage      float64 `json:"voltage"`
	ChargeRate   float64 `json:"chargeRate"`
	MinutesLeft  *int    `json:"timeRemaining"`
	CapacityUnit string  `json:"capacityUnit"`
}

// Source lists the batteries present.
type Source interface {
	Batteries() ([]Reading, error)
}

// SystemSource reads batteries through the OS power supply interface.
type SystemSource struct{}

func (SystemSource) Batteries() ([]Reading, error) {
	all, err := battery.GetAll()
	if err != nil {
		var errs battery.Errors
		if !errors.As(err, &errs) {
			return nil, err
		}
		// Keep the batteries that were at least partially readable.
		kept := all[:0]
		for i, b := range all {
			if i >= len(errs) || errs[i] == nil {
				kept = append(kept, b)
				continue
			}
			var partial battery.ErrPartial
			if errors.As(errs[i], &partial) && partial.Current == nil && partial.Full == nil {
				kept = append(kept, b)
			}
		}
		all = kept
	}

	out := make([]Reading, 0, len(all))
	for _, b := range all {
		if b == nil {
			continue
		}
		out = append(out, normalize(b))
	}
	return out, nil
}

func normalize(b *battery.Battery) Reading {
	r := Reading{
		State:        b.State.String(),
		Charging:     b.State.Raw == battery.Charging,
		Current:      b.Current,
		Full:         b.Full,
		Design:       b.Design,
		Voltage:      b.Voltage,
		ChargeRate:   b.ChargeRate,
		CapacityUnit: "mWh",
	}
	r.ACConnected = b.State.Raw != battery.Discharging && b.State.Raw != battery.Empty
	if b.Full > 0 {
		r.Level = min(100, int(math.Round(b.Current/b.Full*100)))
	}
	if b.State.Raw == battery.Discharging && b.ChargeRate > 0 {
		minutes := int(b.Current / b.ChargeRate * 60)
		r.MinutesLeft = &minutes
	}
	return r
}

type Manager struct {
	source Source
	events *events.Queue

	mu   sync.Mutex
	last *statusData
}

func New(source Source, queue *events.Queue) *Manager {
	if source == nil {
		source = SystemSource{}
	}
	return &Manager{source: source, events: queue}
}

func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"batteryGetInfo":     bridge.NoInput(m.Info),
		"batteryCheckStatus": bridge.NoInput(m.CheckStatus),
	}
}

type infoData struct {
	HasBattery bool `json:"hasBattery"`
	Reading
	AdditionalBatteries []Reading `json:"additionalBatteries"`
}

type statusData struct {
	BatteryLevel int  `json:"batteryLevel"`
	Charging     bool `json:"charging"`
	HasBattery   bool `json:"hasBattery"`
}

func (m *Manager) Info(ctx context.Context) (bridge.Result, error) {
	all, err := m.source.Batteries()
	if err != nil {
		logger.Warn("Battery read failed", "error", err)
		return bridge.Failure(err.Error(), statusData{}), nil
	}
	data := infoData{AdditionalBatteries: []Reading{}}
	if len(all) > 0 {
		data.HasBattery = true
		data.Reading = all[0]
		data.AdditionalBatteries = append(data.AdditionalBatteries, all[1:]...)
	}
	return bridge.Success(data), nil
}

func (m *Manager) status() (statusData, error) {
	all, err := m.source.Batteries()
	if err != nil {
		return statusData{}, err
	}
	if len(all) == 0 {
		return statusData{}, nil
	}
	return statusData{BatteryLevel: all[0].Level, Charging: all[0].Charging, HasBattery: true}, nil
}

func (m *Manager) CheckStatus(ctx context.Context) (bridge.Result, error) {
	s, err := m.status()
	if err != nil {
		return bridge.Failure(err.Error(), statusData{}), nil
	}
	return bridge.Success(s), nil
}

// poll queues a batteryStatusChanged event when level, charging or
// presence differs from the previous poll. The first poll only records.
func (m *Manager) poll() {
	s, err := m.status()
	if err != nil {
		logger.Debug("Battery poll failed", "error", err)
		return
	}
	m.mu.Lock()
	changed := m.last != nil && *m.last != s
	m.last = &s
	m.mu.Unlock()

	if changed && m.events != nil {
		m.events.Push(events.BatteryStatusChanged, s)
	}
}

// Watch polls every interval until ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.poll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}
