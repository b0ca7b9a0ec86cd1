package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgate/internal/health"
	"certgate/internal/provider"
)

// countingClient implements provider.Client and counts invocations.
type countingClient struct {
	name  string
	calls atomic.Int64
	fn    func() (*provider.Completion, error)
}

func (c *countingClient) Name() string { return c.name }

func (c *countingClient) Invoke(ctx context.Context, system, user string) (*provider.Completion, error) {
	c.calls.Add(1)
	return c.fn()
}

func succeeding(name, content string, units int) *countingClient {
	return &countingClient{name: name, fn: func() (*provider.Completion, error) {
		return &provider.Completion{Content: content, TotalUnits: units}, nil
	}}
}

func quotaLimited(name string) *countingClient {
	return &countingClient{name: name, fn: func() (*provider.Completion, error) {
		return nil, &provider.QuotaError{Provider: name, Reason: "429"}
	}}
}

func flaky(name string) *countingClient {
	return &countingClient{name: name, fn: func() (*provider.Completion, error) {
		return nil, &provider.TransientError{Provider: name, Reason: "503"}
	}}
}

func broken(name string) *countingClient {
	return &countingClient{name: name, fn: func() (*provider.Completion, error) {
		return nil, &provider.FatalError{Provider: name, Reason: "invalid request"}
	}}
}

func newTestGateway(clients map[string]provider.Client, store *health.Store, cfg Config) *Gateway {
	ids := make([]provider.Identity, 0, len(clients))
	rank := 0
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, ok := clients[name]; ok {
			ids = append(ids, provider.Identity{Name: name, Rank: rank})
			rank++
		}
	}
	return New(NewSelector(ids, store), store, clients, cfg)
}

func TestGenerate_TransparentFailover(t *testing.T) {
	// Provider A signals quota exhaustion; B is healthy. The caller sees a
	// clean success via B and A was invoked exactly once.
	store := newTestHealth()
	alpha := quotaLimited("alpha")
	beta := succeeding("beta", "artifact-body", 42)
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha, "beta": beta}, store, Config{})

	result, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	require.NoError(t, err, "failover must be invisible to the caller")
	assert.Equal(t, "artifact-body", result.Artifact)
	assert.Equal(t, "beta", result.Provider)
	assert.Equal(t, 42, result.UnitsUsed)

	assert.Equal(t, int64(1), alpha.calls.Load(), "exhausted provider invoked exactly once")
	assert.Equal(t, int64(1), beta.calls.Load())

	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "quota_exhausted", result.Attempts[0].Outcome)
	assert.Equal(t, "success", result.Attempts[1].Outcome)

	// The exhaustion was recorded against the health store.
	snapshot := store.Snapshot(time.Now())
	assert.Equal(t, 0, snapshot["alpha"].RemainingUnits)
}

func TestGenerate_AllProvidersExhaustedUpFront(t *testing.T) {
	// Every provider is already known exhausted: no network call is made.
	store := newTestHealth()
	now := time.Now()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		store.RecordOutcome(name, provider.OutcomeQuotaExhausted, 0, now)
	}

	alpha := succeeding("alpha", "x", 1)
	beta := succeeding("beta", "x", 1)
	gamma := succeeding("gamma", "x", 1)
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha, "beta": beta, "gamma": gamma}, store, Config{})

	result, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
	assert.Empty(t, result.Attempts)
	assert.Equal(t, int64(0), alpha.calls.Load())
	assert.Equal(t, int64(0), beta.calls.Load())
	assert.Equal(t, int64(0), gamma.calls.Load())
}

func TestGenerate_TransientRetriesBounded(t *testing.T) {
	store := newTestHealth()
	alpha := flaky("alpha")
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha}, store, Config{TransientRetries: 2})

	_, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, int64(3), alpha.calls.Load(), "one attempt plus two retries")
}

func TestGenerate_TransientThenRecovers(t *testing.T) {
	store := newTestHealth()
	failures := 0
	alpha := &countingClient{name: "alpha"}
	alpha.fn = func() (*provider.Completion, error) {
		if failures < 1 {
			failures++
			return nil, &provider.TransientError{Provider: "alpha", Reason: "timeout"}
		}
		return &provider.Completion{Content: "slow but fine", TotalUnits: 3}, nil
	}
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha}, store, Config{TransientRetries: 2})

	result, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	require.NoError(t, err)
	assert.Equal(t, "slow but fine", result.Artifact)
	assert.Len(t, result.Attempts, 2)
}

func TestGenerate_FatalErrorNoRetry(t *testing.T) {
	store := newTestHealth()
	alpha := broken("alpha")
	beta := succeeding("beta", "never used", 1)
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha, "beta": beta}, store, Config{})

	_, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, int64(1), alpha.calls.Load())
	assert.Equal(t, int64(0), beta.calls.Load(), "fatal errors do not fail over")
}

func TestGenerate_FailoverChain(t *testing.T) {
	// Priority [alpha, beta, gamma] with alpha and beta exhausted: the
	// request lands on gamma.
	store := newTestHealth()
	now := time.Now()
	store.RecordOutcome("alpha", provider.OutcomeQuotaExhausted, 0, now)
	store.RecordOutcome("beta", provider.OutcomeQuotaExhausted, 0, now)

	alpha := succeeding("alpha", "x", 1)
	beta := succeeding("beta", "x", 1)
	gamma := succeeding("gamma", "from-gamma", 7)
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha, "beta": beta, "gamma": gamma}, store, Config{})

	result, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	require.NoError(t, err)
	assert.Equal(t, "gamma", result.Provider)
	assert.Equal(t, "from-gamma", result.Artifact)
	assert.Equal(t, int64(0), alpha.calls.Load())
	assert.Equal(t, int64(0), beta.calls.Load())

	snapshot := store.Snapshot(now)
	assert.Equal(t, 0, snapshot["alpha"].RemainingUnits)
	assert.Equal(t, 0, snapshot["beta"].RemainingUnits)
}

func TestGenerate_NilCompletionWithoutError(t *testing.T) {
	// A misbehaving client returning (nil, nil) must surface as a fatal
	// failure, not a panic.
	store := newTestHealth()
	alpha := &countingClient{name: "alpha", fn: func() (*provider.Completion, error) {
		return nil, nil
	}}
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha}, store, Config{})

	result, err := gw.Generate(context.Background(), provider.Request{Instruction: "build it"})
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "fatal_error", result.Attempts[0].Outcome)
}

func TestGenerate_CanceledContext(t *testing.T) {
	store := newTestHealth()
	alpha := succeeding("alpha", "x", 1)
	gw := newTestGateway(map[string]provider.Client{"alpha": alpha}, store, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Generate(ctx, provider.Request{Instruction: "build it"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), alpha.calls.Load())
}
