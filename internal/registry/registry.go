// Package registry holds the in-memory set of actively monitored products.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/pricing"
)

// Product is the monitored product snapshot carried by a subscription.
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// Subscription bundles a product with its latest competitor snapshot and
// assigned strategy. Observation lists are replaced wholesale each cycle,
// never edited in place, so a snapshot handed out by List stays coherent.
type Subscription struct {
	Product       Product               `json:"product"`
	Observations  []pricing.Observation `json:"observations"`
	Strategy      pricing.Strategy      `json:"strategy"`
	AddedAt       time.Time             `json:"added_at"`
	LastCheckedAt time.Time             `json:"last_checked_at"`
}

// Registry is a concurrent map of subscriptions keyed by product id.
// Exactly one subscription exists per product; re-adding replaces.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{subs: make(map[string]Subscription)}
}

// Add creates or replaces the subscription for sub's product.
func (r *Registry) Add(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.Product.ID] = sub
}

// Remove deletes the subscription and reports whether it existed.
func (r *Registry) Remove(productID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[productID]
	delete(r.subs, productID)
	return ok
}

// Get returns the subscription for a product.
func (r *Registry) Get(productID string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[productID]
	return sub, ok
}

// List returns a snapshot of all subscriptions ordered by product id. The
// scheduler iterates this snapshot so concurrent Add/Remove cannot tear a
// cycle; items removed mid-cycle are re-checked with Get before processing.
func (r *Registry) List() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product.ID < out[j].Product.ID })
	return out
}

// Len reports the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// UpdateObservations replaces the product's observation list wholesale and
// stamps the check time. Reports false if the subscription is gone.
func (r *Registry) UpdateObservations(productID string, observations []pricing.Observation, checkedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[productID]
	if !ok {
		return false
	}
	sub.Observations = observations
	sub.LastCheckedAt = checkedAt
	r.subs[productID] = sub
	return true
}

// UpdatePrice records the product's new current price after a successful
// gateway application. Reports false if the subscription is gone.
func (r *Registry) UpdatePrice(productID string, price decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[productID]
	if !ok {
		return false
	}
	sub.Product.CurrentPrice = price
	r.subs[productID] = sub
	return true
}
