// Package guardrail holds the safety checks applied to every proposed price
// change before the marketplace gateway may be called. The gate is a pure
// function over settings, ledger history, and the proposed change, so the
// scheduler path and the manual path evaluate identical rules.
package guardrail

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/pricing"
	"marketplace-repricer/internal/storage"
)

// Outcome classifies the gate's verdict.
type Outcome string

const (
	// Accepted permits an immediate gateway call.
	Accepted Outcome = "accepted"
	// Blocked rejects the change outright; it is recorded but never applied.
	Blocked Outcome = "blocked"
	// Deferred records the change as pending manual confirmation.
	Deferred Outcome = "deferred"
)

// Decision is the gate's verdict with the audit reason.
type Decision struct {
	Outcome       Outcome
	Reason        string
	ChangePercent decimal.Decimal
}

// Evaluate gates a proposed (oldPrice → newPrice) change. attempts is the
// product's ledger history; now anchors the calendar-day and interval checks.
// No external calls happen here.
func Evaluate(settings storage.AutomationSettings, attempts []storage.Attempt, oldPrice, newPrice decimal.Decimal, now time.Time) Decision {
	changePct := pricing.ChangePercent(oldPrice, newPrice)

	if settings.MaxPriceChangePercent.IsPositive() && changePct.Abs().GreaterThan(settings.MaxPriceChangePercent) {
		return Decision{
			Outcome:       Blocked,
			Reason:        fmt.Sprintf("change of %s%% exceeds the %s%% cap", changePct.Round(2), settings.MaxPriceChangePercent),
			ChangePercent: changePct,
		}
	}

	if settings.MaxDailyChanges > 0 {
		if n := successesOn(attempts, now); n >= settings.MaxDailyChanges {
			return Decision{
				Outcome:       Blocked,
				Reason:        fmt.Sprintf("daily limit of %d changes reached (%d today)", settings.MaxDailyChanges, n),
				ChangePercent: changePct,
			}
		}
	}

	if settings.MinMinutesBetweenChanges > 0 {
		if last, ok := lastSuccess(attempts); ok {
			elapsed := now.Sub(last)
			minInterval := time.Duration(settings.MinMinutesBetweenChanges) * time.Minute
			if elapsed < minInterval {
				return Decision{
					Outcome:       Blocked,
					Reason:        fmt.Sprintf("last change %s ago, minimum interval is %d minutes", elapsed.Round(time.Second), settings.MinMinutesBetweenChanges),
					ChangePercent: changePct,
				}
			}
		}
	}

	if settings.Mode == storage.ModeAuto {
		return Decision{
			Outcome:       Accepted,
			Reason:        fmt.Sprintf("change of %s%% within guardrails", changePct.Round(2)),
			ChangePercent: changePct,
		}
	}

	return Decision{
		Outcome:       Deferred,
		Reason:        fmt.Sprintf("change of %s%% within guardrails, requires confirmation", changePct.Round(2)),
		ChangePercent: changePct,
	}
}

// successesOn counts successful attempts on the same UTC calendar day as now.
func successesOn(attempts []storage.Attempt, now time.Time) int {
	day := now.UTC().Truncate(24 * time.Hour)
	count := 0
	for _, attempt := range attempts {
		if attempt.Status != storage.StatusSuccess {
			continue
		}
		if attempt.AttemptedAt.UTC().Truncate(24 * time.Hour).Equal(day) {
			count++
		}
	}
	return count
}

// lastSuccess returns the completion time of the most recent successful
// attempt, falling back to its start time if completion was never stamped.
func lastSuccess(attempts []storage.Attempt) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, attempt := range attempts {
		if attempt.Status != storage.StatusSuccess {
			continue
		}
		at := attempt.AttemptedAt
		if attempt.CompletedAt != nil {
			at = *attempt.CompletedAt
		}
		if !found || at.After(latest) {
			latest = at
			found = true
		}
	}
	return latest, found
}
