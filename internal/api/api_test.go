package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/competitor"
	"marketplace-repricer/internal/monitor"
	"marketplace-repricer/internal/registry"
	"marketplace-repricer/internal/storage"
)

type recordingUpdater struct {
	calls int
	fail  bool
}

func (u *recordingUpdater) UpdatePrice(_ context.Context, productID string, price decimal.Decimal) (string, error) {
	u.calls++
	if u.fail {
		return "", fmt.Errorf("gateway down")
	}
	return fmt.Sprintf("req-%d", u.calls), nil
}

type apiFixture struct {
	server  *httptest.Server
	updater *recordingUpdater
	store   *storage.MemoryStore
	svc     *monitor.Service
}

func newAPIFixture(t *testing.T, mode storage.ApplyMode) *apiFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	updater := &recordingUpdater{}
	source := &competitor.Static{Prices: map[string][]decimal.Decimal{
		"prod-1": {decimal.NewFromInt(950), decimal.NewFromInt(980)},
	}}

	svc := monitor.New(registry.New(), source, updater, store, store, monitor.Options{
		Stagger:  time.Millisecond,
		Interval: time.Minute,
		Defaults: monitor.Defaults{Mode: mode},
	}, zerolog.Nop())

	srv := NewServer(svc, store, store, Options{}, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &apiFixture{server: ts, updater: updater, store: store, svc: svc}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func monitorRequest() map[string]any {
	return map[string]any{
		"name":          "Widget",
		"current_price": "1000",
		"competitors": []map[string]any{
			{"competitor_id": "c1", "price": "950"},
			{"competitor_id": "c2", "price": "980"},
		},
		"strategy": map[string]any{"kind": "match_lowest"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestStartMonitoringAppliesImmediately(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", monitorRequest())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	if f.updater.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.updater.calls)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/subscriptions", nil)
	subs := decodeBody[[]registry.Subscription](t, resp)
	if len(subs) != 1 || subs[0].Product.ID != "prod-1" {
		t.Fatalf("subscriptions = %+v", subs)
	}
	if !subs[0].Product.CurrentPrice.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("current price = %s, want 950", subs[0].Product.CurrentPrice)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/attempts", nil)
	attempts := decodeBody[[]storage.Attempt](t, resp)
	if len(attempts) != 1 || attempts[0].Status != storage.StatusSuccess {
		t.Fatalf("attempts = %+v", attempts)
	}
}

// brokenSettings fails every write, standing in for an unavailable store.
type brokenSettings struct {
	storage.SettingsStore
}

func (brokenSettings) UpsertSettings(context.Context, storage.AutomationSettings) error {
	return fmt.Errorf("settings store unavailable")
}

func TestStartMonitoringStoreFailureIsServerError(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &competitor.Static{Prices: map[string][]decimal.Decimal{}}
	svc := monitor.New(registry.New(), source, &recordingUpdater{}, store, brokenSettings{store}, monitor.Options{
		Stagger:  time.Millisecond,
		Interval: time.Minute,
		Defaults: monitor.Defaults{Mode: storage.ModeAuto},
	}, zerolog.Nop())

	srv := NewServer(svc, store, store, Options{}, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	f := &apiFixture{server: ts}
	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", monitorRequest())
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for a store failure", resp.StatusCode)
	}
}

func TestStartMonitoringInvalidStrategyIsBadRequest(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	req := monitorRequest()
	req["strategy"] = map[string]any{"kind": "surge"}
	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartMonitoringRejectsMissingCompetitors(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	req := monitorRequest()
	req["competitors"] = []map[string]any{}
	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStopMonitoringUnknownProduct(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodDelete, "/api/v1/products/ghost/monitor", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestConfirmPendingAttempt(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAutoConfirm)

	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", monitorRequest())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("monitor status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// auto_confirm defers the change: no gateway call yet.
	if f.updater.calls != 0 {
		t.Fatalf("gateway calls = %d, want 0 before confirmation", f.updater.calls)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/products/prod-1/attempts", nil)
	attempts := decodeBody[[]storage.Attempt](t, resp)
	if len(attempts) != 1 || attempts[0].Status != storage.StatusPending {
		t.Fatalf("attempts = %+v", attempts)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/attempts/"+attempts[0].ID+"/confirm", nil)
	confirmed := decodeBody[storage.Attempt](t, resp)
	if confirmed.Status != storage.StatusSuccess {
		t.Fatalf("confirmed status = %s, want success", confirmed.Status)
	}
	if f.updater.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.updater.calls)
	}

	// A second confirmation is a conflict.
	resp = f.do(t, http.MethodPost, "/api/v1/attempts/"+attempts[0].ID+"/confirm", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second confirm status = %d, want 409", resp.StatusCode)
	}
}

func TestRejectPendingAttempt(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAutoConfirm)

	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", monitorRequest())
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/v1/products/prod-1/attempts", nil)
	attempts := decodeBody[[]storage.Attempt](t, resp)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %+v", attempts)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/attempts/"+attempts[0].ID+"/reject", nil)
	rejected := decodeBody[storage.Attempt](t, resp)
	if rejected.Status != storage.StatusBlocked {
		t.Fatalf("rejected status = %s, want blocked", rejected.Status)
	}
	if f.updater.calls != 0 {
		t.Fatalf("gateway calls = %d, rejection must not hit the gateway", f.updater.calls)
	}
}

func TestConfirmUnknownAttempt(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodPost, "/api/v1/attempts/nope/confirm", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	payload := map[string]any{
		"mode":                        "auto_confirm",
		"monitoring_interval_minutes": 10,
		"max_price_change_percent":    "15",
		"max_daily_changes":           3,
		"min_minutes_between_changes": 30,
	}
	resp := f.do(t, http.MethodPut, "/api/v1/products/prod-9/settings", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/v1/products/prod-9/settings", nil)
	settings := decodeBody[storage.AutomationSettings](t, resp)
	if settings.Mode != storage.ModeAutoConfirm || settings.MaxDailyChanges != 3 {
		t.Fatalf("settings = %+v", settings)
	}
	if !settings.MaxPriceChangePercent.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("max change = %s, want 15", settings.MaxPriceChangePercent)
	}
}

func TestPutSettingsRejectsInvalidMode(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	payload := map[string]any{
		"mode":                        "yolo",
		"monitoring_interval_minutes": 5,
		"max_price_change_percent":    "10",
		"max_daily_changes":           5,
	}
	resp := f.do(t, http.MethodPut, "/api/v1/products/prod-9/settings", payload)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSettingsUnknownProduct(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodGet, "/api/v1/products/ghost/settings", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", monitorRequest())
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/v1/status", nil)
	status := decodeBody[monitor.Status](t, resp)
	if !status.Active {
		t.Fatal("status should be active with one subscription")
	}
	if status.SuccessfulChangesToday != 1 {
		t.Fatalf("successful changes = %d, want 1", status.SuccessfulChangesToday)
	}
}

func TestApplyManualOverCapIsBlocked(t *testing.T) {
	f := newAPIFixture(t, storage.ModeAuto)

	resp := f.do(t, http.MethodPost, "/api/v1/products/prod-1/monitor", monitorRequest())
	resp.Body.Close()

	// 950 -> 500 is far beyond the default 10% cap.
	resp = f.do(t, http.MethodPost, "/api/v1/products/prod-1/apply", map[string]any{"price": "500"})
	attempt := decodeBody[storage.Attempt](t, resp)
	if attempt.Status != storage.StatusBlocked {
		t.Fatalf("status = %s, want blocked", attempt.Status)
	}
}
