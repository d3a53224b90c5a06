package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"marketplace-repricer/internal/app"
)

var (
	simulateCurrent     float64
	simulateCompetitors []float64
	simulateStrategy    string
	simulatePercent     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one offline analysis pass over given prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCurrent <= 0 {
			return errors.New("--current must be greater than 0")
		}
		if len(simulateCompetitors) == 0 {
			return errors.New("--competitor is required at least once")
		}

		prices := make([]decimal.Decimal, 0, len(simulateCompetitors))
		for _, p := range simulateCompetitors {
			if p <= 0 {
				return errors.New("competitor prices must be greater than 0")
			}
			prices = append(prices, decimal.NewFromFloat(p))
		}

		opts := app.SimulateOptions{
			ProductID:        "simulated",
			CurrentPrice:     decimal.NewFromFloat(simulateCurrent),
			CompetitorPrices: prices,
			StrategyKind:     simulateStrategy,
			StrategyPercent:  decimal.NewFromFloat(simulatePercent),
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current listing price")
	simulateCmd.Flags().Float64SliceVar(&simulateCompetitors, "competitor", nil, "Competitor price (repeatable)")
	simulateCmd.Flags().StringVar(&simulateStrategy, "strategy", "match_lowest", "Strategy kind (match_lowest, undercut, premium, custom_average)")
	simulateCmd.Flags().Float64Var(&simulatePercent, "percent", 0, "Strategy percentage for undercut/premium")
}
