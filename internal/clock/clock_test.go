package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleepReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	fake := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, fake, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepNonPositiveDuration(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), nil, 0))
}

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	short := fake.After(time.Minute)
	long := fake.After(time.Hour)

	fake.Advance(2 * time.Minute)

	select {
	case got := <-short:
		require.Equal(t, start.Add(2*time.Minute), got)
	default:
		t.Fatal("expected short timer to fire")
	}

	select {
	case <-long:
		t.Fatal("long timer fired too early")
	default:
	}

	fake.Advance(time.Hour)
	select {
	case <-long:
	default:
		t.Fatal("expected long timer to fire")
	}
}

func TestSleepWithFakeClock(t *testing.T) {
	t.Parallel()

	fake := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan error, 1)
	go func() {
		done <- Sleep(context.Background(), fake, 5*time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fake.BlockUntilWaiting(ctx, 1))

	fake.Advance(5 * time.Second)
	require.NoError(t, <-done)
}
