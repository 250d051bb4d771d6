package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func noop(context.Context) error {
	return nil
}

func TestParseTimeOfDay(t *testing.T) {
	at, err := ParseTimeOfDay("05:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 5, Minute: 30}, at)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestIntervalJob(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s := New(time.Second, Every("update", 10*time.Minute, noop))
	s.init(start)

	ctx := context.Background()
	assert.Equal(t, []string{"update"}, s.runDue(ctx, start))
	assert.Empty(t, s.runDue(ctx, start.Add(9*time.Minute)))
	assert.Equal(t, []string{"update"}, s.runDue(ctx, start.Add(11*time.Minute)))
	assert.Empty(t, s.runDue(ctx, start.Add(20*time.Minute)))
}

func TestDailyJob(t *testing.T) {
	msk := mustLocation(t, "Europe/Moscow")
	start := time.Date(2024, 3, 10, 4, 0, 0, 0, msk)
	s := New(time.Second, DailyAt("populate", TimeOfDay{Hour: 5}, msk, noop))
	s.init(start)

	ctx := context.Background()
	assert.Empty(t, s.runDue(ctx, start))
	assert.Empty(t, s.runDue(ctx, start.Add(59*time.Minute)))
	assert.Equal(t, []string{"populate"}, s.runDue(ctx, start.Add(time.Hour)))
	assert.Empty(t, s.runDue(ctx, start.Add(2*time.Hour)))
	assert.Equal(t, []string{"populate"}, s.runDue(ctx, start.Add(25*time.Hour)))
}

func TestDailyJobUsesLocation(t *testing.T) {
	msk := mustLocation(t, "Europe/Moscow")
	j := DailyAt("reset", TimeOfDay{Minute: 1}, msk, noop)
	// 21:30 UTC is 00:30 next day in Moscow
	next := j.next(time.Date(2024, 3, 10, 21, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 11, 21, 1, 0, 0, time.UTC), next.UTC())
}

func TestNearMidnight(t *testing.T) {
	msk := mustLocation(t, "Europe/Moscow")
	near := NearMidnight(msk, 15*time.Minute)
	assert.True(t, near(time.Date(2024, 3, 10, 23, 50, 0, 0, msk)))
	assert.True(t, near(time.Date(2024, 3, 11, 0, 10, 0, 0, msk)))
	assert.False(t, near(time.Date(2024, 3, 11, 0, 20, 0, 0, msk)))
	assert.False(t, near(time.Date(2024, 3, 10, 23, 40, 0, 0, msk)))
	assert.True(t, near(time.Date(2024, 3, 10, 20, 55, 0, 0, time.UTC)))
}

func TestSkippedJobWaitsForNextTrigger(t *testing.T) {
	start := time.Date(2024, 3, 10, 23, 55, 0, 0, time.UTC)
	calls := 0
	j := Every("update", 10*time.Minute, func(context.Context) error {
		calls++
		return nil
	}).SkipWhen(NearMidnight(time.UTC, 15*time.Minute))
	s := New(time.Second, j)
	s.init(start)

	ctx := context.Background()
	assert.Empty(t, s.runDue(ctx, start))
	assert.Empty(t, s.runDue(ctx, start.Add(10*time.Minute)))
	assert.Equal(t, []string{"update"}, s.runDue(ctx, start.Add(20*time.Minute)))
	assert.Equal(t, 1, calls)
}

func TestJobsRunInOrderAndFailuresDoNotStopLoop(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	var order []string
	s := New(time.Second,
		Every("update", time.Minute, func(context.Context) error {
			order = append(order, "update")
			return errors.New("tracker unavailable")
		}),
		Every("cleanup", time.Minute, func(context.Context) error {
			order = append(order, "cleanup")
			return nil
		}),
	)
	s.init(start)
	assert.Equal(t, []string{"update", "cleanup"}, s.runDue(context.Background(), start))
	assert.Equal(t, []string{"update", "cleanup"}, order)
}

func TestCancelStopsBetweenJobs(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	s := New(time.Second,
		Every("update", time.Minute, func(context.Context) error {
			cancel()
			return nil
		}),
		Every("cleanup", time.Minute, noop),
	)
	s.init(start)
	assert.Equal(t, []string{"update"}, s.runDue(ctx, start))
}

func TestRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	s := New(time.Hour, Every("update", time.Hour, func(context.Context) error {
		ran <- struct{}{}
		cancel()
		return nil
	}))
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Len(t, ran, 1)
}
