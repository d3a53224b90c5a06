package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplyMode states how price changes for a product are executed.
type ApplyMode string

const (
	// ModeManual disables automatic application entirely.
	ModeManual ApplyMode = "manual"
	// ModeAutoConfirm computes changes automatically but defers each one
	// for manual confirmation.
	ModeAutoConfirm ApplyMode = "auto_confirm"
	// ModeAuto applies accepted changes without confirmation.
	ModeAuto ApplyMode = "auto"
)

// AutoApply reports whether the engine may evaluate changes for the product.
func (m ApplyMode) AutoApply() bool {
	return m == ModeAuto || m == ModeAutoConfirm
}

// RequireConfirmation reports whether an accepted change still needs a
// human sign-off before the gateway is called.
func (m ApplyMode) RequireConfirmation() bool {
	return m != ModeAuto
}

// AutomationSettings is the per-product repricing configuration.
type AutomationSettings struct {
	ProductID                 string          `json:"product_id"`
	Mode                      ApplyMode       `json:"mode"`
	MonitoringIntervalMinutes int             `json:"monitoring_interval_minutes"`
	MaxPriceChangePercent     decimal.Decimal `json:"max_price_change_percent"`
	MaxDailyChanges           int             `json:"max_daily_changes"`
	MinMinutesBetweenChanges  int             `json:"min_minutes_between_changes"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

// AttemptStatus is the lifecycle state of a price-change attempt.
type AttemptStatus string

const (
	StatusPending AttemptStatus = "pending"
	StatusSuccess AttemptStatus = "success"
	StatusFailed  AttemptStatus = "failed"
	StatusBlocked AttemptStatus = "blocked"
)

// Terminal reports whether the status ends the attempt lifecycle.
func (s AttemptStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusBlocked
}

// Trigger identifies what initiated a price-change attempt.
type Trigger string

const (
	TriggerCompetitorPrice Trigger = "competitor_price"
	TriggerStrategyRule    Trigger = "strategy_rule"
	TriggerManual          Trigger = "manual"
	TriggerSchedule        Trigger = "schedule"
)

// Attempt is one evaluated price change in the append-only ledger. Once
// CompletedAt is set the record is never rewritten.
type Attempt struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	OldPrice         decimal.Decimal `json:"old_price"`
	NewPrice         decimal.Decimal `json:"new_price"`
	ChangePercent    decimal.Decimal `json:"change_percent"`
	Status           AttemptStatus   `json:"status"`
	Reason           string          `json:"reason"`
	TriggeredBy      Trigger         `json:"triggered_by"`
	AttemptedAt      time.Time       `json:"attempted_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	GatewayRequestID string          `json:"gateway_request_id,omitempty"`
}
