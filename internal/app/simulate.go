package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/guardrail"
	"marketplace-repricer/internal/pricing"
	"marketplace-repricer/internal/storage"
)

// Simulate runs one offline analysis pass over the given prices: the
// strategy engine and the guardrail gate, with no gateway call and no
// ledger write.
func (a *App) Simulate(_ context.Context, opts SimulateOptions) error {
	if !opts.CurrentPrice.IsPositive() {
		return errors.New("current price must be positive")
	}
	if len(opts.CompetitorPrices) == 0 {
		return errors.New("at least one competitor price is required")
	}

	strategy := pricing.Strategy{
		Kind:    pricing.StrategyKind(opts.StrategyKind),
		Percent: opts.StrategyPercent,
	}
	if err := strategy.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	observations := make([]pricing.Observation, 0, len(opts.CompetitorPrices))
	for i, price := range opts.CompetitorPrices {
		observations = append(observations, pricing.Observation{
			CompetitorID: fmt.Sprintf("competitor-%d", i+1),
			Price:        price,
			ObservedAt:   now,
		})
	}

	recommendation := pricing.Analyze(opts.CurrentPrice, observations, strategy)

	settings := storage.AutomationSettings{
		ProductID:                opts.ProductID,
		Mode:                     storage.ApplyMode(a.Config.Automation.Mode),
		MaxPriceChangePercent:    decimal.NewFromFloat(a.Config.Automation.MaxPriceChangePercent),
		MaxDailyChanges:          a.Config.Automation.MaxDailyChanges,
		MinMinutesBetweenChanges: a.Config.Automation.MinMinutesBetweenChanges,
	}
	decision := guardrail.Evaluate(settings, nil, opts.CurrentPrice, recommendation.Recommended, now)

	fmt.Fprintf(os.Stdout, "current price:     %s\n", opts.CurrentPrice.StringFixed(2))
	fmt.Fprintf(os.Stdout, "competitors:       min=%s max=%s avg=%s\n",
		recommendation.MinCompetitor.StringFixed(2),
		recommendation.MaxCompetitor.StringFixed(2),
		recommendation.AvgCompetitor.StringFixed(2),
	)
	fmt.Fprintf(os.Stdout, "recommended price: %s\n", recommendation.Recommended.StringFixed(2))
	fmt.Fprintf(os.Stdout, "change:            %s%%\n", recommendation.ChangePercent.StringFixed(2))
	fmt.Fprintf(os.Stdout, "analysis:          %s\n", recommendation.Reason)
	if !recommendation.ShouldChange {
		fmt.Fprintln(os.Stdout, "verdict:           no change needed")
		return nil
	}
	fmt.Fprintf(os.Stdout, "guardrail:         %s (%s)\n", decision.Outcome, decision.Reason)
	return nil
}
