// Package gateway routes generation requests across providers with
// quota-aware failover. Selection is deterministic: providers are walked in
// ascending priority rank and the first eligible one wins.
package gateway

import (
	"errors"
	"sort"
	"time"

	"certgate/internal/health"
	"certgate/internal/provider"
)

// ErrNoProviderAvailable is returned when every configured provider is
// quota-exhausted or cooling down.
var ErrNoProviderAvailable = errors.New("no provider available")

// Selector picks the highest-priority eligible provider.
type Selector struct {
	order  []provider.Identity
	health *health.Store
}

// NewSelector creates a selector over the given providers. The slice is
// copied and sorted by rank; ties break on name so selection stays
// reproducible.
func NewSelector(ids []provider.Identity, store *health.Store) *Selector {
	order := make([]provider.Identity, len(ids))
	copy(order, ids)
	sort.Slice(order, func(i, j int) bool {
		if order[i].Rank != order[j].Rank {
			return order[i].Rank < order[j].Rank
		}
		return order[i].Name < order[j].Name
	})
	return &Selector{order: order, health: store}
}

// Select returns the first eligible provider in priority order, or
// ErrNoProviderAvailable when none qualify. No randomness: the same health
// snapshot always yields the same choice.
func (s *Selector) Select(now time.Time) (provider.Identity, error) {
	for _, id := range s.order {
		if s.health.Eligible(id.Name, now) {
			return id, nil
		}
	}
	return provider.Identity{}, ErrNoProviderAvailable
}
