package diag

import (
	"context"
	"testing"
	"time"

	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	m := New()
	m.now = func() time.Time { return time.UnixMilli(1700000000123) }

	res, err := m.Ping(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "pong", res.Message)
	assert.Equal(t, int64(1700000000123), res.Field("timestamp"))
}

func TestDelayedPing(t *testing.T) {
	start := time.Now()
	res, err := New().DelayedPing(context.Background(), delayIn{Delay: bridge.NewInt(30)})

	require.NoError(t, err)
	assert.Equal(t, "delayed pong", res.Message)
	assert.Equal(t, int64(30), res.Field("delay"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDelayedPing_DoesNotBlockPing(t *testing.T) {
	m := New()
	table, err := bridge.NewTable(m.Routes())
	require.NoError(t, err)
	d := bridge.NewDispatcher(table)

	order := make(chan string, 2)
	deliver := func(id string, _ bridge.Result) { order <- id }
	d.Dispatch(context.Background(), bridge.Envelope{MessageID: "slow", Action: "testDelayedPing", Data: []byte(`{"delay":200}`)}, deliver)
	d.Dispatch(context.Background(), bridge.Envelope{MessageID: "fast", Action: "testPing"}, deliver)

	assert.Equal(t, "fast", <-order)
	assert.Equal(t, "slow", <-order)
}

func TestDelayedPing_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().DelayedPing(ctx, delayIn{Delay: bridge.NewInt(10_000)})

	assert.ErrorIs(t, err, context.Canceled)
}
