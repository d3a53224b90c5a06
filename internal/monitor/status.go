package monitor

import (
	"sync"
	"time"
)

// Status is the read model of the control loop's counters. It is derived
// bookkeeping: every number here is reconcilable from the attempt ledger.
type Status struct {
	Active                 bool      `json:"active"`
	StartedAt              time.Time `json:"started_at"`
	LastCheck              time.Time `json:"last_check,omitempty"`
	NextCheck              time.Time `json:"next_check,omitempty"`
	ChecksToday            int       `json:"checks_today"`
	SuccessfulChangesToday int       `json:"successful_changes_today"`
	ErrorsToday            int       `json:"errors_today"`
	PendingConfirmations   int       `json:"pending_confirmations"`
	TotalChecks            int64     `json:"total_checks"`
	TotalChanges           int64     `json:"total_changes"`
	UptimeSeconds          int64     `json:"uptime_seconds"`
}

// Tracker accumulates status counters alongside ledger writes. Daily
// counters roll over at UTC midnight. Readers never block the control loop
// for longer than a counter update.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	startedAt time.Time
	day       time.Time

	lastCheck time.Time
	nextCheck time.Time

	checksToday    int
	successesToday int
	errorsToday    int
	pending        int

	totalChecks  int64
	totalChanges int64
}

// NewTracker creates a Tracker; now is injectable for tests and defaults to
// time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{now: now}
	t.startedAt = now().UTC()
	t.day = t.startedAt.Truncate(24 * time.Hour)
	return t
}

// BeginTick stamps the tick times and bumps the daily check counter once
// per scheduler tick, regardless of per-subscription outcomes.
func (t *Tracker) BeginTick(at, next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.lastCheck = at.UTC()
	t.nextCheck = next.UTC()
	t.checksToday++
}

// RecordCheck counts one completed subscription check.
func (t *Tracker) RecordCheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalChecks++
}

// RecordSuccess counts an applied price change.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.successesToday++
	t.totalChanges++
}

// RecordFailure counts a failed gateway application.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.errorsToday++
}

// RecordPending tracks attempts awaiting confirmation; delta is +1 when one
// is deferred and -1 when it is resolved.
func (t *Tracker) RecordPending(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending += delta
	if t.pending < 0 {
		t.pending = 0
	}
}

// Snapshot returns a copy of the counters for status displays.
func (t *Tracker) Snapshot(active bool) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	now := t.now().UTC()
	return Status{
		Active:                 active,
		StartedAt:              t.startedAt,
		LastCheck:              t.lastCheck,
		NextCheck:              t.nextCheck,
		ChecksToday:            t.checksToday,
		SuccessfulChangesToday: t.successesToday,
		ErrorsToday:            t.errorsToday,
		PendingConfirmations:   t.pending,
		TotalChecks:            t.totalChecks,
		TotalChanges:           t.totalChanges,
		UptimeSeconds:          int64(now.Sub(t.startedAt).Seconds()),
	}
}

// rollover resets the daily counters when the UTC day changes. Callers hold
// the mutex.
func (t *Tracker) rollover() {
	today := t.now().UTC().Truncate(24 * time.Hour)
	if today.Equal(t.day) {
		return
	}
	t.day = today
	t.checksToday = 0
	t.successesToday = 0
	t.errorsToday = 0
}
