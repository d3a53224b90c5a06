// Package competitor supplies refreshed competitor price observations per
// product per cycle. Discovery itself lives outside this system; the loop
// only depends on the observation shape, so a perturbing simulator stands in
// when no live feed is wired.
package competitor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/pricing"
)

// Source refreshes the observation list for a product. The returned slice
// replaces the previous one wholesale; callers never mutate it in place.
// An empty result is legal and means no competitor data this cycle.
type Source interface {
	Fetch(ctx context.Context, productID string, previous []pricing.Observation) ([]pricing.Observation, error)
}

// Static always returns the same configured prices, stamped with the fetch
// time. Used by tests and the simulate command.
type Static struct {
	Prices map[string][]decimal.Decimal
}

// Fetch returns the configured prices for the product.
func (s *Static) Fetch(_ context.Context, productID string, _ []pricing.Observation) ([]pricing.Observation, error) {
	prices := s.Prices[productID]
	now := time.Now().UTC()
	out := make([]pricing.Observation, 0, len(prices))
	for i, price := range prices {
		out = append(out, pricing.Observation{
			CompetitorID: competitorID(i),
			Price:        price,
			ObservedAt:   now,
		})
	}
	return out, nil
}

// Simulator perturbs the previous observation list by a bounded random
// percentage each cycle, imitating competitor price drift.
type Simulator struct {
	// MaxDriftPercent bounds the per-cycle move; defaults to 2.
	MaxDriftPercent float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator constructs a Simulator with a seeded random source.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		MaxDriftPercent: 2,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Fetch rebuilds the observation list from the previous one, drifting each
// price by up to ±MaxDriftPercent. Previous entries are never modified.
func (s *Simulator) Fetch(_ context.Context, _ string, previous []pricing.Observation) ([]pricing.Observation, error) {
	if len(previous) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maxDrift := s.MaxDriftPercent
	if maxDrift <= 0 {
		maxDrift = 2
	}

	now := time.Now().UTC()
	out := make([]pricing.Observation, 0, len(previous))
	for _, obs := range previous {
		driftPct := (s.rng.Float64()*2 - 1) * maxDrift
		factor := decimal.NewFromFloat(1 + driftPct/100)
		out = append(out, pricing.Observation{
			CompetitorID: obs.CompetitorID,
			Price:        obs.Price.Mul(factor).Round(2),
			ObservedAt:   now,
		})
	}
	return out, nil
}

func competitorID(i int) string {
	return "competitor-" + string(rune('a'+i%26))
}
