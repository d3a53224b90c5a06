// Package gateway wraps the marketplace pricing API behind a narrow
// interface so the control loop can be driven against fakes in tests.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceUpdater applies a price change through the marketplace API. The call
// is at-most-once per attempt, fallible, and retryable by the caller.
type PriceUpdater interface {
	// UpdatePrice sets the product's price and returns the marketplace
	// request id when the API provides one.
	UpdatePrice(ctx context.Context, productID string, price decimal.Decimal) (requestID string, err error)
}
