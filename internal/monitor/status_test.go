package monitor

import (
	"testing"
	"time"
)

func TestTrackerCountersAndSnapshot(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(func() time.Time { return now })

	tick := now.Add(time.Minute)
	tracker.BeginTick(tick, tick.Add(5*time.Minute))
	tracker.RecordCheck()
	tracker.RecordCheck()
	tracker.RecordSuccess()
	tracker.RecordFailure()
	tracker.RecordPending(1)

	now = now.Add(30 * time.Second)
	status := tracker.Snapshot(true)

	if status.ChecksToday != 1 {
		t.Fatalf("checks today = %d, want 1", status.ChecksToday)
	}
	if status.TotalChecks != 2 {
		t.Fatalf("total checks = %d, want 2", status.TotalChecks)
	}
	if status.SuccessfulChangesToday != 1 || status.TotalChanges != 1 {
		t.Fatalf("success counters: %+v", status)
	}
	if status.ErrorsToday != 1 {
		t.Fatalf("errors today = %d", status.ErrorsToday)
	}
	if status.PendingConfirmations != 1 {
		t.Fatalf("pending = %d", status.PendingConfirmations)
	}
	if !status.LastCheck.Equal(tick) || !status.NextCheck.Equal(tick.Add(5*time.Minute)) {
		t.Fatalf("tick stamps: %+v", status)
	}
	if status.UptimeSeconds != 30 {
		t.Fatalf("uptime = %d, want 30", status.UptimeSeconds)
	}
	if !status.Active {
		t.Fatal("active flag should pass through")
	}
}

func TestTrackerDailyRollover(t *testing.T) {
	now := time.Date(2026, 8, 28, 23, 50, 0, 0, time.UTC)
	tracker := NewTracker(func() time.Time { return now })

	tracker.BeginTick(now, now.Add(5*time.Minute))
	tracker.RecordSuccess()
	tracker.RecordFailure()

	// Cross UTC midnight: daily counters reset, totals survive.
	now = now.Add(20 * time.Minute)
	status := tracker.Snapshot(true)

	if status.ChecksToday != 0 || status.SuccessfulChangesToday != 0 || status.ErrorsToday != 0 {
		t.Fatalf("daily counters must reset at midnight: %+v", status)
	}
	if status.TotalChanges != 1 {
		t.Fatalf("total changes = %d, want 1", status.TotalChanges)
	}
}

func TestTrackerPendingNeverNegative(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.RecordPending(-3)
	if got := tracker.Snapshot(false).PendingConfirmations; got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}
