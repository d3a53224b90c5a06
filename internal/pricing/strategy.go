package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind enumerates the supported repricing rules.
type StrategyKind string

const (
	// MatchLowest follows the cheapest competitor exactly.
	MatchLowest StrategyKind = "match_lowest"
	// Undercut goes below the cheapest competitor by a percentage.
	Undercut StrategyKind = "undercut"
	// Premium prices above the competitor average by a percentage.
	Premium StrategyKind = "premium"
	// CustomAverage matches the competitor average.
	CustomAverage StrategyKind = "custom_average"
)

// Strategy is the rule used to derive a recommended price from competitor
// observations. MinPrice/MaxPrice, when positive, clamp the result; zero
// values fall back to the engine defaults relative to the current price.
// A strategy is immutable once attached to a subscription for a cycle; a
// replacement takes effect on the next cycle.
type Strategy struct {
	Kind     StrategyKind    `json:"kind"`
	Percent  decimal.Decimal `json:"percent,omitempty"`
	MinPrice decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice decimal.Decimal `json:"max_price,omitempty"`
}

// IsZero reports whether the strategy is unset.
func (s Strategy) IsZero() bool {
	return s.Kind == ""
}

// Validate checks the strategy is well formed.
func (s Strategy) Validate() error {
	switch s.Kind {
	case MatchLowest, CustomAverage:
	case Undercut, Premium:
		if s.Percent.IsNegative() {
			return fmt.Errorf("strategy %s: percent cannot be negative", s.Kind)
		}
	case "":
		return fmt.Errorf("strategy kind is required")
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	if s.MinPrice.IsPositive() && s.MaxPrice.IsPositive() && s.MinPrice.GreaterThan(s.MaxPrice) {
		return fmt.Errorf("strategy min price %s exceeds max price %s", s.MinPrice, s.MaxPrice)
	}
	return nil
}

// Observation is a single competitor price seen during discovery. Lists of
// observations are replaced wholesale each cycle, never edited in place.
type Observation struct {
	CompetitorID string          `json:"competitor_id"`
	Price        decimal.Decimal `json:"price"`
	ObservedAt   time.Time       `json:"observed_at"`
}
