package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPeriodic(t *testing.T, cfg PeriodicConfig, task Task) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewPeriodic(cfg, task, zerolog.Nop()).Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func TestPeriodicRunsOnStartAndStops(t *testing.T) {
	var ticks atomic.Int32
	cancel, done := runPeriodic(t, PeriodicConfig{Name: "test", Interval: time.Hour, RunOnStart: true}, func(context.Context) error {
		ticks.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("periodic job did not stop")
	}
}

func TestPeriodicKeepsTickingAfterErrors(t *testing.T) {
	var ticks atomic.Int32
	runPeriodic(t, PeriodicConfig{Name: "test", Interval: 5 * time.Millisecond}, func(context.Context) error {
		ticks.Add(1)
		return errors.New("boom")
	})

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestPeriodicWakesOnNudge(t *testing.T) {
	var ticks atomic.Int32
	wake := NewSignal()
	runPeriodic(t, PeriodicConfig{Name: "test", Interval: time.Hour, Wake: wake}, func(context.Context) error {
		ticks.Add(1)
		return nil
	})

	wake.Nudge()
	assert.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSignalNeverBlocks(t *testing.T) {
	s := NewSignal()
	for i := 0; i < 100; i++ {
		s.Nudge()
	}
	assert.Len(t, s.C(), 1)

	var nilSignal *Signal
	assert.NotPanics(t, nilSignal.Nudge)
	assert.Nil(t, nilSignal.C())
}
