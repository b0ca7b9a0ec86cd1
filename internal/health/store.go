// Package health tracks per-provider quota and error state for failover.
// The store is the only mutable state that outlives a single request.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"certgate/internal/logging"
	"certgate/internal/provider"
)

// Limits holds the per-provider quota semantics. Window lengths differ by
// provider (request-per-minute vs tokens-per-day style quotas).
type Limits struct {
	QuotaUnits     int           // full quota at the start of a window
	Window         time.Duration // quota window length
	CostPerCall    int           // units charged when the provider reports no usage
	ErrorThreshold int           // consecutive errors before cooldown
	Cooldown       time.Duration // ineligibility period after repeated errors
}

// QuotaState is a read-only snapshot of one provider's health.
type QuotaState struct {
	RemainingUnits    int       `json:"remaining_units"`
	WindowResetAt     time.Time `json:"window_reset_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CooldownUntil     time.Time `json:"cooldown_until"`
}

// entry holds one provider's mutable state behind its own lock, so updates
// to different providers never contend.
type entry struct {
	mu     sync.Mutex
	limits Limits
	state  QuotaState
}

// Store tracks quota and error state for a fixed provider set. The entry map
// is immutable after construction; only entry contents change.
type Store struct {
	entries map[string]*entry
}

// NewStore creates a store for the given providers, each starting at full
// quota.
func NewStore(limits map[string]Limits) *Store {
	entries := make(map[string]*entry, len(limits))
	for name, l := range limits {
		if l.QuotaUnits <= 0 {
			l.QuotaUnits = 1000
		}
		if l.Window <= 0 {
			l.Window = 24 * time.Hour
		}
		if l.CostPerCall <= 0 {
			l.CostPerCall = 1
		}
		if l.ErrorThreshold <= 0 {
			l.ErrorThreshold = 3
		}
		if l.Cooldown <= 0 {
			l.Cooldown = 30 * time.Second
		}
		entries[name] = &entry{
			limits: l,
			state:  QuotaState{RemainingUnits: l.QuotaUnits},
		}
	}
	return &Store{entries: entries}
}

// RecordOutcome updates a provider's state from one gateway invocation.
// unitCost is the usage the provider reported; zero means unreported and
// the configured cost-per-call is charged instead.
func (s *Store) RecordOutcome(id string, kind provider.OutcomeKind, unitCost int, now time.Time) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	log := logging.Get(logging.CategoryHealth)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeResetLocked(now)

	switch kind {
	case provider.OutcomeSuccess:
		cost := unitCost
		if cost <= 0 {
			cost = e.limits.CostPerCall
		}
		e.state.RemainingUnits -= cost
		if e.state.RemainingUnits <= 0 {
			e.state.RemainingUnits = 0
			// Local budget drained: treat like a provider-side window.
			e.state.WindowResetAt = now.Add(e.limits.Window)
		}
		e.state.ConsecutiveErrors = 0

	case provider.OutcomeQuotaExhausted:
		e.state.RemainingUnits = 0
		e.state.WindowResetAt = now.Add(e.limits.Window)
		log.Info("provider quota exhausted",
			zap.String("provider", id),
			zap.Time("window_reset_at", e.state.WindowResetAt))

	case provider.OutcomeTransientError:
		e.state.ConsecutiveErrors++
		if e.state.ConsecutiveErrors >= e.limits.ErrorThreshold {
			e.state.CooldownUntil = now.Add(e.limits.Cooldown)
			e.state.ConsecutiveErrors = 0
			log.Warn("provider entering cooldown",
				zap.String("provider", id),
				zap.Time("cooldown_until", e.state.CooldownUntil))
		}

	case provider.OutcomeFatalError:
		// Fatal errors end the run immediately; the streak is tracked but
		// never triggers a cooldown on its own.
		e.state.ConsecutiveErrors++
	}
}

// Eligible reports whether a provider may be selected at the given time.
func (s *Store) Eligible(id string, now time.Time) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeResetLocked(now)

	if e.state.RemainingUnits == 0 && now.Before(e.state.WindowResetAt) {
		return false
	}
	if now.Before(e.state.CooldownUntil) {
		return false
	}
	return true
}

// Snapshot returns a copy of every provider's current state.
func (s *Store) Snapshot(now time.Time) map[string]QuotaState {
	out := make(map[string]QuotaState, len(s.entries))
	for name, e := range s.entries {
		e.mu.Lock()
		e.maybeResetLocked(now)
		out[name] = e.state
		e.mu.Unlock()
	}
	return out
}

// maybeResetLocked refills quota once the window has elapsed. Idempotent:
// repeated calls after the reset point observe full quota.
func (e *entry) maybeResetLocked(now time.Time) {
	if !e.state.WindowResetAt.IsZero() && !now.Before(e.state.WindowResetAt) {
		e.state.RemainingUnits = e.limits.QuotaUnits
		e.state.WindowResetAt = time.Time{}
	}
}
