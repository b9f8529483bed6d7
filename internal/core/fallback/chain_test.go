package fallback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kyson/hostbridge/internal/core/fallback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FirstSuccessWins(t *testing.T) {
	runner := fallback.NewFakeRunner().
		On("amixer sset Master 40%", "", errors.New("no mixer")).
		On("amixer -q sset Master 40%", "ok", nil).
		On("pactl set-sink-volume @DEFAULT_SINK@ 40%", "", nil)
	engine := fallback.New(runner)

	out, err := engine.Run(context.Background(),
		fallback.Cmd("amixer", "sset", "Master", "40%"),
		fallback.Cmd("amixer", "-q", "sset", "Master", "40%"),
		fallback.Cmd("pactl", "set-sink-volume", "@DEFAULT_SINK@", "40%"),
	)

	require.NoError(t, err)
	assert.Equal(t, "amixer -q sset Master 40%", out.Winner.String())
	assert.Equal(t, "ok", out.Output)
	assert.Len(t, out.Attempts, 2)
	assert.Zero(t, runner.Count("pactl set-sink-volume @DEFAULT_SINK@ 40%"), "later candidates must never run")
}

func TestRun_ExhaustedSurfacesLastError(t *testing.T) {
	first := errors.New("first failure")
	last := errors.New("last failure")
	runner := fallback.NewFakeRunner().
		On("reboot", "", first).
		On("sudo reboot", "", last)
	engine := fallback.New(runner)

	_, err := engine.Run(context.Background(), fallback.WithSudo("reboot")...)

	var exhausted *fallback.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "last failure", err.Error())
	assert.ErrorIs(t, err, last)
	assert.Len(t, exhausted.Attempts, 2)
	assert.Contains(t, exhausted.Trace(), "attempt 1: reboot: first failure")
	assert.Contains(t, exhausted.Trace(), "attempt 2: sudo reboot: last failure")
}

func TestRun_EmptyChain(t *testing.T) {
	_, err := fallback.New(fallback.NewFakeRunner()).Run(context.Background())
	assert.ErrorIs(t, err, fallback.ErrNoCandidates)
}

func TestRun_FuncCandidate(t *testing.T) {
	engine := fallback.New(fallback.NewFakeRunner())
	written := ""

	out, err := engine.Run(context.Background(),
		fallback.Cmd("brightnessctl", "set", "30%"),
		fallback.Op("sysfs write", func(ctx context.Context) (string, error) {
			written = "76"
			return "", nil
		}),
	)

	require.NoError(t, err)
	assert.Equal(t, "sysfs write", out.Winner.Name)
	assert.Equal(t, "76", written)
}

func TestRun_ParentCancelStopsChain(t *testing.T) {
	runner := fallback.NewFakeRunner()
	engine := fallback.New(runner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, fallback.Cmd("reboot"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.Calls())
}

func TestRunCutoff_IsSoftSuccess(t *testing.T) {
	runner := fallback.NewFakeRunner().OnResponse("nmcli -t dev wifi list", fallback.FakeResponse{
		Output: "partial",
		Delay:  time.Second,
	})
	engine := fallback.New(runner)

	out, err := engine.RunCutoff(context.Background(), 20*time.Millisecond, fallback.Cmd("nmcli", "-t", "dev", "wifi", "list"))

	require.NoError(t, err)
	assert.True(t, out.Cut)
	assert.Equal(t, "partial", out.Output)
}

func TestRunCutoff_LongerThanEngineTimeout(t *testing.T) {
	runner := fallback.NewFakeRunner().OnResponse("speedtest download", fallback.FakeResponse{
		Output: "partial",
		Delay:  time.Second,
	})
	engine := fallback.New(runner).WithTimeout(5 * time.Millisecond)

	out, err := engine.RunCutoff(context.Background(), 40*time.Millisecond, fallback.Cmd("speedtest", "download"))

	require.NoError(t, err)
	assert.True(t, out.Cut)
	assert.Equal(t, "partial", out.Output)
}

func TestWithCutoff_ParentCancellationIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	cut, err := fallback.WithCutoff(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.False(t, cut)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithCutoff_PassesThroughOrdinaryErrors(t *testing.T) {
	boom := errors.New("boom")

	cut, err := fallback.WithCutoff(context.Background(), time.Second, func(context.Context) error { return boom })
	assert.False(t, cut)
	assert.ErrorIs(t, err, boom)

	cut, err = fallback.WithCutoff(context.Background(), 0, func(context.Context) error { return nil })
	assert.False(t, cut)
	assert.NoError(t, err)
}

func TestRunVerified_MismatchIsNotFailure(t *testing.T) {
	runner := fallback.NewFakeRunner().On("brightnessctl set 40%", "", nil)
	engine := fallback.New(runner)

	out, v, err := fallback.RunVerified(context.Background(), engine, 40,
		func(context.Context) (int, error) { return 39, nil },
		fallback.Cmd("brightnessctl", "set", "40%"),
	)

	require.NoError(t, err)
	assert.Equal(t, "brightnessctl set 40%", out.Winner.String())
	assert.Equal(t, 40, v.Requested)
	assert.Equal(t, 39, v.Actual)
	assert.False(t, v.Match())
	assert.Equal(t, 1, runner.Count("brightnessctl set 40%"), "mismatch must not retry")
}

func TestRunVerified_ReadBackFailureKeepsRequested(t *testing.T) {
	runner := fallback.NewFakeRunner().On("timedatectl set-ntp true", "", nil)
	engine := fallback.New(runner)

	_, v, err := fallback.RunVerified(context.Background(), engine, true,
		func(context.Context) (bool, error) { return false, errors.New("timedatectl missing") },
		fallback.Cmd("timedatectl", "set-ntp", "true"),
	)

	require.NoError(t, err)
	assert.True(t, v.Actual)
	assert.Error(t, v.ReadErr)
}

func TestRunVerified_IdempotentRepeat(t *testing.T) {
	level := 0
	runner := fallback.NewFakeRunner()
	runner.Handler = func(argv []string) (string, error) {
		if len(argv) == 4 && argv[0] == "amixer" && argv[1] == "sset" {
			level = 40
			return "", nil
		}
		return "", errors.New("unexpected")
	}
	engine := fallback.New(runner)
	get := func(context.Context) (int, error) { return level, nil }

	for i := 0; i < 2; i++ {
		_, v, err := fallback.RunVerified(context.Background(), engine, 40, get, fallback.Cmd("amixer", "sset", "Master", "40%"))
		require.NoError(t, err)
		assert.True(t, v.Match())
	}
	assert.Equal(t, 40, level)
}
