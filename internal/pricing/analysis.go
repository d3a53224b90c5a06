package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// deadBandPct is the minimum relative difference before a recommended
	// price is worth applying; smaller moves would oscillate on noise.
	deadBandPct = decimal.NewFromInt(1)

	defaultFloorFactor   = decimal.RequireFromString("0.8")
	defaultCeilingFactor = decimal.RequireFromString("1.2")
)

// Recommendation is the outcome of one analysis pass.
type Recommendation struct {
	Recommended   decimal.Decimal `json:"recommended"`
	ShouldChange  bool            `json:"should_change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Reason        string          `json:"reason"`
	MinCompetitor decimal.Decimal `json:"min_competitor"`
	MaxCompetitor decimal.Decimal `json:"max_competitor"`
	AvgCompetitor decimal.Decimal `json:"avg_competitor"`
}

// Analyze maps the current price, a competitor snapshot, and a strategy to a
// recommended price. Deterministic and side-effect free.
func Analyze(current decimal.Decimal, observations []Observation, strategy Strategy) Recommendation {
	prices := make([]decimal.Decimal, 0, len(observations))
	for _, obs := range observations {
		if obs.Price.IsPositive() {
			prices = append(prices, obs.Price)
		}
	}

	if len(prices) == 0 {
		return Recommendation{
			Recommended: current,
			Reason:      "no competitor data",
		}
	}

	minP, maxP, avgP := summarize(prices)

	var recommended decimal.Decimal
	var reason string
	switch strategy.Kind {
	case Undercut:
		factor := decimal.NewFromInt(1).Sub(strategy.Percent.Div(hundred))
		recommended = minP.Mul(factor)
		reason = fmt.Sprintf("undercut lowest competitor %s by %s%%", minP, strategy.Percent)
	case Premium:
		factor := decimal.NewFromInt(1).Add(strategy.Percent.Div(hundred))
		recommended = avgP.Mul(factor)
		reason = fmt.Sprintf("premium of %s%% over competitor average %s", strategy.Percent, avgP.Round(2))
	case CustomAverage:
		recommended = avgP
		reason = fmt.Sprintf("match competitor average %s", avgP.Round(2))
	default:
		// MatchLowest doubles as the fallback.
		recommended = minP
		reason = fmt.Sprintf("match lowest competitor %s", minP)
	}

	floor, ceiling := thresholds(current, strategy)
	switch {
	case recommended.LessThan(floor):
		recommended = floor
		reason += fmt.Sprintf(", clamped to floor %s", floor)
	case recommended.GreaterThan(ceiling):
		recommended = ceiling
		reason += fmt.Sprintf(", clamped to ceiling %s", ceiling)
	}

	// Marketplace prices are whole currency units. Rounding must not escape
	// the clamp band, so a result that would cross a fractional bound rounds
	// toward the inside instead; a band narrower than one unit keeps the
	// exact bound value.
	if rounded := recommended.Round(0); !rounded.LessThan(floor) && !rounded.GreaterThan(ceiling) {
		recommended = rounded
	} else if up := recommended.Ceil(); !up.GreaterThan(ceiling) {
		recommended = up
	} else if down := recommended.Floor(); !down.LessThan(floor) {
		recommended = down
	}

	change := ChangePercent(current, recommended)
	should := change.Abs().GreaterThanOrEqual(deadBandPct)
	if !should && !recommended.Equal(current) {
		reason += fmt.Sprintf(", within %s%% dead-band", deadBandPct)
	}

	return Recommendation{
		Recommended:   recommended,
		ShouldChange:  should,
		ChangePercent: change,
		Reason:        reason,
		MinCompetitor: minP,
		MaxCompetitor: maxP,
		AvgCompetitor: avgP,
	}
}

// ChangePercent returns the relative difference between old and new as a
// signed percentage. Zero when old is zero.
func ChangePercent(oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	if oldPrice.IsZero() {
		return decimal.Zero
	}
	return newPrice.Sub(oldPrice).Div(oldPrice).Mul(hundred)
}

func summarize(prices []decimal.Decimal) (minP, maxP, avgP decimal.Decimal) {
	minP = prices[0]
	maxP = prices[0]
	sum := decimal.Zero
	for _, p := range prices {
		if p.LessThan(minP) {
			minP = p
		}
		if p.GreaterThan(maxP) {
			maxP = p
		}
		sum = sum.Add(p)
	}
	avgP = sum.Div(decimal.NewFromInt(int64(len(prices))))
	return minP, maxP, avgP
}

func thresholds(current decimal.Decimal, strategy Strategy) (floor, ceiling decimal.Decimal) {
	floor = current.Mul(defaultFloorFactor)
	if strategy.MinPrice.IsPositive() {
		floor = strategy.MinPrice
	}
	ceiling = current.Mul(defaultCeilingFactor)
	if strategy.MaxPrice.IsPositive() {
		ceiling = strategy.MaxPrice
	}
	return floor, ceiling
}
