package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgate/internal/provider"
)

func testLimits() map[string]Limits {
	return map[string]Limits{
		"alpha": {QuotaUnits: 100, Window: time.Minute, CostPerCall: 1, ErrorThreshold: 3, Cooldown: 30 * time.Second},
		"beta":  {QuotaUnits: 50, Window: 24 * time.Hour, CostPerCall: 5, ErrorThreshold: 2, Cooldown: time.Minute},
	}
}

func TestStore_SuccessDecrementsQuota(t *testing.T) {
	store := NewStore(testLimits())
	now := time.Now()

	t.Run("reported usage is charged", func(t *testing.T) {
		store.RecordOutcome("alpha", provider.OutcomeSuccess, 10, now)
		assert.Equal(t, 90, store.Snapshot(now)["alpha"].RemainingUnits)
	})

	t.Run("unreported usage falls back to cost per call", func(t *testing.T) {
		store.RecordOutcome("beta", provider.OutcomeSuccess, 0, now)
		assert.Equal(t, 45, store.Snapshot(now)["beta"].RemainingUnits)
	})

	t.Run("remaining units never go negative", func(t *testing.T) {
		store.RecordOutcome("alpha", provider.OutcomeSuccess, 10_000, now)
		state := store.Snapshot(now)["alpha"]
		assert.Equal(t, 0, state.RemainingUnits)
		assert.False(t, state.WindowResetAt.IsZero(), "drained budget starts a window")
	})
}

func TestStore_QuotaExhaustionAndReset(t *testing.T) {
	store := NewStore(testLimits())
	now := time.Now()

	store.RecordOutcome("alpha", provider.OutcomeQuotaExhausted, 0, now)

	state := store.Snapshot(now)["alpha"]
	require.Equal(t, 0, state.RemainingUnits)
	require.Equal(t, now.Add(time.Minute), state.WindowResetAt)

	assert.False(t, store.Eligible("alpha", now))
	assert.False(t, store.Eligible("alpha", now.Add(59*time.Second)))

	// Crossing the reset point restores full quota, idempotently.
	after := now.Add(61 * time.Second)
	assert.True(t, store.Eligible("alpha", after))
	assert.True(t, store.Eligible("alpha", after), "reset must be idempotent")
	assert.Equal(t, 100, store.Snapshot(after)["alpha"].RemainingUnits)
}

func TestStore_DistinctWindowsPerProvider(t *testing.T) {
	store := NewStore(testLimits())
	now := time.Now()

	store.RecordOutcome("alpha", provider.OutcomeQuotaExhausted, 0, now)
	store.RecordOutcome("beta", provider.OutcomeQuotaExhausted, 0, now)

	later := now.Add(2 * time.Minute)
	assert.True(t, store.Eligible("alpha", later), "alpha has a one-minute window")
	assert.False(t, store.Eligible("beta", later), "beta has a 24h window")
}

func TestStore_CooldownAfterRepeatedErrors(t *testing.T) {
	store := NewStore(testLimits())
	now := time.Now()

	store.RecordOutcome("alpha", provider.OutcomeTransientError, 0, now)
	store.RecordOutcome("alpha", provider.OutcomeTransientError, 0, now)
	assert.True(t, store.Eligible("alpha", now), "below threshold, still eligible")

	store.RecordOutcome("alpha", provider.OutcomeTransientError, 0, now)
	assert.False(t, store.Eligible("alpha", now), "threshold reached, cooling down")
	assert.True(t, store.Eligible("alpha", now.Add(31*time.Second)), "cooldown expired")
}

func TestStore_FatalErrorsNeverCooldown(t *testing.T) {
	store := NewStore(testLimits())
	now := time.Now()

	for i := 0; i < 5; i++ {
		store.RecordOutcome("alpha", provider.OutcomeFatalError, 0, now)
	}

	assert.True(t, store.Eligible("alpha", now))
	assert.Equal(t, 5, store.Snapshot(now)["alpha"].ConsecutiveErrors)
}

func TestStore_SuccessClearsErrorStreak(t *testing.T) {
	store := NewStore(testLimits())
	now := time.Now()

	store.RecordOutcome("alpha", provider.OutcomeTransientError, 0, now)
	store.RecordOutcome("alpha", provider.OutcomeTransientError, 0, now)
	store.RecordOutcome("alpha", provider.OutcomeSuccess, 1, now)
	store.RecordOutcome("alpha", provider.OutcomeTransientError, 0, now)

	assert.True(t, store.Eligible("alpha", now), "streak restarted after success")
	assert.Equal(t, 1, store.Snapshot(now)["alpha"].ConsecutiveErrors)
}

func TestStore_UnknownProviderIneligible(t *testing.T) {
	store := NewStore(testLimits())
	assert.False(t, store.Eligible("gamma", time.Now()))
}

func TestStore_ConcurrentUpdatesNoLostWrites(t *testing.T) {
	store := NewStore(map[string]Limits{
		"alpha": {QuotaUnits: 10_000, Window: time.Hour, CostPerCall: 1},
		"beta":  {QuotaUnits: 10_000, Window: time.Hour, CostPerCall: 1},
	})
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.RecordOutcome("alpha", provider.OutcomeSuccess, 1, now)
		}()
		go func() {
			defer wg.Done()
			store.RecordOutcome("beta", provider.OutcomeSuccess, 1, now)
		}()
	}
	wg.Wait()

	snapshot := store.Snapshot(now)
	assert.Equal(t, 9_900, snapshot["alpha"].RemainingUnits)
	assert.Equal(t, 9_900, snapshot["beta"].RemainingUnits)
}
