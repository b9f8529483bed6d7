package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/distatus/battery"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	readings []Reading
	err      error
}

func (f *fakeSource) Batteries() ([]Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reading(nil), f.readings...), f.err
}

func (f *fakeSource) set(r ...Reading) {
	f.mu.Lock()
	f.readings = r
	f.mu.Unlock()
}

func TestNormalize(t *testing.T) {
	r := normalize(&battery.Battery{
		State:      battery.State{Raw: battery.Discharging},
		Current:    25000,
		Full:       50000,
		Design:     55000,
		ChargeRate: 10000,
		Voltage:    12.1,
	})

	assert.Equal(t, 50, r.Level)
	assert.False(t, r.Charging)
	assert.False(t, r.ACConnected)
	require.NotNil(t, r.MinutesLeft)
	assert.Equal(t, 150, *r.MinutesLeft)

	r = normalize(&battery.Battery{State: battery.State{Raw: battery.Charging}, Current: 10, Full: 10})
	assert.True(t, r.Charging)
	assert.True(t, r.ACConnected)
	assert.Equal(t, 100, r.Level)
	assert.Nil(t, r.MinutesLeft)
}

func TestInfo(t *testing.T) {
	src := &fakeSource{readings: []Reading{{Level: 80}, {Level: 20}}}
	m := New(src, nil)

	res, err := m.Info(context.Background())

	require.NoError(t, err)
	data := res.Data.(infoData)
	assert.True(t, data.HasBattery)
	assert.Equal(t, 80, data.Level)
	assert.Len(t, data.AdditionalBatteries, 1)
}

func TestInfo_NoBattery(t *testing.T) {
	res, _ := New(&fakeSource{}, nil).Info(context.Background())

	require.True(t, res.OK())
	assert.False(t, res.Data.(infoData).HasBattery)
}

func TestCheckStatus_Failure(t *testing.T) {
	res, _ := New(&fakeSource{err: errors.New("no power_supply")}, nil).CheckStatus(context.Background())

	assert.Equal(t, bridge.StatusError, res.Status)
	assert.Equal(t, "no power_supply", res.Message)
	assert.Equal(t, statusData{}, res.Data)
}

func TestPoll_QueuesChanges(t *testing.T) {
	src := &fakeSource{readings: []Reading{{Level: 50}}}
	q := events.NewQueue()
	m := New(src, q)

	m.poll()
	m.poll()
	assert.Zero(t, q.Len(), "first poll only records, second is unchanged")

	src.set(Reading{Level: 50, Charging: true})
	m.poll()

	got := q.Pop()
	require.Len(t, got, 1)
	assert.Equal(t, events.BatteryStatusChanged, got[0].Type)
	assert.Equal(t, statusData{BatteryLevel: 50, Charging: true, HasBattery: true}, got[0].Value)
}

func TestWatch_StopsWithContext(t *testing.T) {
	src := &fakeSource{readings: []Reading{{Level: 50}}}
	q := events.NewQueue()
	m := New(src, q)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		m.Watch(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	src.set(Reading{Level: 49})

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("no event queued")
	}
	cancel()
	<-done
}
