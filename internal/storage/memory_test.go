package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newAttempt(id, productID string, status AttemptStatus, attemptedAt time.Time) Attempt {
	return Attempt{
		ID:            id,
		ProductID:     productID,
		OldPrice:      decimal.NewFromInt(1000),
		NewPrice:      decimal.NewFromInt(950),
		ChangePercent: decimal.NewFromInt(-5),
		Status:        status,
		Reason:        "test",
		TriggeredBy:   TriggerSchedule,
		AttemptedAt:   attemptedAt,
	}
}

func TestMemoryStoreResolveExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.InsertAttempt(ctx, newAttempt("a1", "p1", StatusPending, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.ResolveAttempt(ctx, "a1", StatusSuccess, "applied", "req-1", time.Now().UTC()); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	err := store.ResolveAttempt(ctx, "a1", StatusFailed, "late", "", time.Now().UTC())
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve: got %v, want ErrAlreadyResolved", err)
	}

	attempt, err := store.GetAttempt(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attempt.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", attempt.Status)
	}
	if attempt.CompletedAt == nil {
		t.Fatal("completed_at must be set")
	}
	if attempt.GatewayRequestID != "req-1" {
		t.Fatalf("request id = %q", attempt.GatewayRequestID)
	}
}

func TestMemoryStoreResolveRejectsNonTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.InsertAttempt(ctx, newAttempt("a1", "p1", StatusPending, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.ResolveAttempt(ctx, "a1", StatusPending, "", "", time.Now().UTC()); err == nil {
		t.Fatal("pending is not a terminal status")
	}
}

func TestMemoryStoreResolveUnknownAttempt(t *testing.T) {
	store := NewMemoryStore()
	err := store.ResolveAttempt(context.Background(), "nope", StatusFailed, "", "", time.Now().UTC())
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("got %v, want ErrAttemptNotFound", err)
	}
}

// Random replay: whatever order resolutions arrive in, each attempt ends up
// with exactly one terminal status.
func TestMemoryStoreResolveReplayProperty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rng := rand.New(rand.NewSource(42))

	const n = 50
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("attempt-%d", i)
		ids = append(ids, id)
		if err := store.InsertAttempt(ctx, newAttempt(id, "p1", StatusPending, time.Now().UTC())); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	terminal := []AttemptStatus{StatusSuccess, StatusFailed, StatusBlocked}
	resolved := make(map[string]int)
	for i := 0; i < n*4; i++ {
		id := ids[rng.Intn(n)]
		status := terminal[rng.Intn(len(terminal))]
		err := store.ResolveAttempt(ctx, id, status, "replay", "", time.Now().UTC())
		switch {
		case err == nil:
			resolved[id]++
		case errors.Is(err, ErrAlreadyResolved):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for id, count := range resolved {
		if count != 1 {
			t.Fatalf("attempt %s resolved %d times", id, count)
		}
	}
}

func TestMemoryStoreListOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		attempt := newAttempt(fmt.Sprintf("a%d", i), "p1", StatusBlocked, base.Add(time.Duration(i)*time.Minute))
		if err := store.InsertAttempt(ctx, attempt); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := store.InsertAttempt(ctx, newAttempt("other", "p2", StatusBlocked, base.Add(time.Hour))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recent, err := store.ListAttemptsByProduct(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].ID != "a4" {
		t.Fatalf("newest first: got %s", recent[0].ID)
	}

	all, err := store.ListRecentAttempts(ctx, 0)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("len = %d, want 6", len(all))
	}
	if all[0].ID != "other" {
		t.Fatalf("newest first across products: got %s", all[0].ID)
	}

	count, err := store.CountAttempts(ctx)
	if err != nil || count != 6 {
		t.Fatalf("count = %d, err = %v", count, err)
	}
}

func TestMemoryStoreCountPendingAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	for i, status := range []AttemptStatus{StatusPending, StatusPending, StatusSuccess, StatusBlocked} {
		if err := store.InsertAttempt(ctx, newAttempt(fmt.Sprintf("a%d", i), "p1", status, now)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	count, err := store.CountPendingAttempts(ctx)
	if err != nil || count != 2 {
		t.Fatalf("pending count = %d, err = %v, want 2", count, err)
	}

	if err := store.ResolveAttempt(ctx, "a0", StatusSuccess, "applied", "", now); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	count, _ = store.CountPendingAttempts(ctx)
	if count != 1 {
		t.Fatalf("pending count after resolve = %d, want 1", count)
	}
}

func TestMemoryStoreSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.GetSettings(ctx, "p1"); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("got %v, want ErrSettingsNotFound", err)
	}

	now := time.Now().UTC()
	settings := AutomationSettings{
		ProductID:                 "p1",
		Mode:                      ModeAuto,
		MonitoringIntervalMinutes: 5,
		MaxPriceChangePercent:     decimal.NewFromInt(10),
		MaxDailyChanges:           3,
		MinMinutesBetweenChanges:  30,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := store.UpsertSettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetSettings(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Mode != ModeAuto || got.MaxDailyChanges != 3 || !got.MaxPriceChangePercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	settings.Mode = ModeManual
	if err := store.UpsertSettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = store.GetSettings(ctx, "p1")
	if got.Mode != ModeManual {
		t.Fatalf("mode = %s, want manual", got.Mode)
	}

	if err := store.DeleteSettings(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSettings(ctx, "p1"); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}

func TestApplyModeDerivedFlags(t *testing.T) {
	if ModeManual.AutoApply() {
		t.Fatal("manual must not auto-apply")
	}
	if !ModeAutoConfirm.AutoApply() || !ModeAutoConfirm.RequireConfirmation() {
		t.Fatal("auto_confirm applies automatically but requires confirmation")
	}
	if !ModeAuto.AutoApply() || ModeAuto.RequireConfirmation() {
		t.Fatal("auto applies without confirmation")
	}
}
