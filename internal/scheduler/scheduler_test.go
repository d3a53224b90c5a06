package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesTickAndStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)

	go func() {
		done <- s.Run(ctx, func(_ context.Context, _ time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	if ticks.Load() < 3 {
		t.Fatalf("ticks = %d, want >= 3", ticks.Load())
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)

	go func() {
		done <- s.Run(ctx, func(_ context.Context, _ time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
				return nil
			}
			return errors.New("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler halted on tick error")
	}
	if ticks.Load() < 2 {
		t.Fatalf("ticks = %d, want >= 2 despite the first error", ticks.Load())
	}
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s := New(Options{Interval: time.Minute, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, func(_ context.Context, _ time.Time) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 8, 28, 10, 2, 30, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}

	unaligned := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())
	if got := unaligned.nextTick(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unaligned next = %s", got)
	}
}
