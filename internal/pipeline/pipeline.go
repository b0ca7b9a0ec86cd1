// Package pipeline orchestrates generation, parallel review, quorum
// evaluation, and final arbitration into a single certification run.
//
// State machine:
//
//	Generating -> Reviewing -> Evaluating -> Adjudicating -> Certified
//	                                     \-> Rejected (short-circuit)
//	Generating -> Failed (infrastructure)
//	Adjudicating -> Rejected (quality)
//
// Failed and Rejected are distinct terminal states: Failed means no artifact
// could be produced or judged; Rejected means an artifact was produced and
// fairly judged unacceptable. Callers distinguish them through the error
// taxonomy: failures return an error, rejections return a normal Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certgate/internal/arbiter"
	"certgate/internal/gateway"
	"certgate/internal/health"
	"certgate/internal/logging"
	"certgate/internal/provider"
	"certgate/internal/review"
)

// ErrInternalTimeout is returned when the whole pipeline exceeds its own
// deadline, as opposed to a single provider or reviewer call timing out.
var ErrInternalTimeout = errors.New("pipeline deadline exceeded")

// Re-exported so callers can match the full failure taxonomy against one
// package.
var (
	ErrNoProviderAvailable = gateway.ErrNoProviderAvailable
	ErrGenerationFailed    = gateway.ErrGenerationFailed
)

// Phase is the pipeline run state.
type Phase int

const (
	PhaseGenerating Phase = iota
	PhaseReviewing
	PhaseEvaluating
	PhaseAdjudicating
	PhaseCertified
	PhaseRejected
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseGenerating:
		return "generating"
	case PhaseReviewing:
		return "reviewing"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseAdjudicating:
		return "adjudicating"
	case PhaseCertified:
		return "certified"
	case PhaseRejected:
		return "rejected"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Result is a completed certification run. Certified requires both quorum
// and arbiter approval.
type Result struct {
	RunID          string                 `json:"run_id"`
	State          Phase                  `json:"-"`
	Artifact       string                 `json:"artifact"`
	Provider       string                 `json:"provider"`
	Attempts       []gateway.Attempt      `json:"attempts"`
	Consensus      review.ConsensusRecord `json:"consensus"`
	Arbiter        *arbiter.Verdict       `json:"arbiter,omitempty"` // nil when short-circuited
	TotalElapsedMs int64                  `json:"total_elapsed_ms"`
	Certified      bool                   `json:"certified"`
}

// RunRecord is the audit row written after every run, terminal failures
// included.
type RunRecord struct {
	RunID            string
	Instruction      string
	State            string
	Provider         string
	Artifact         string
	Certified        bool
	ApprovalCount    int
	QuorumThreshold  int
	QuorumReached    bool
	ArbiterApproved  *bool
	ArbiterRationale string
	Verdicts         []review.Verdict
	Attempts         []gateway.Attempt
	ElapsedMs        int64
	CreatedAt        time.Time
}

// Auditor persists run records. Implemented by the SQLite store; nil
// disables auditing.
type Auditor interface {
	RecordRun(record RunRecord, snapshot map[string]health.QuotaState) error
}

// Config tunes pipeline behavior.
type Config struct {
	// SkipArbiterOnFailedQuorum short-circuits straight to Rejected when
	// quorum already failed, saving the arbiter call. Default false: the
	// arbiter is always consulted and its ruling recorded.
	SkipArbiterOnFailedQuorum bool
	// Deadline bounds total pipeline latency. Zero disables it.
	Deadline time.Duration
}

// Pipeline wires the stages together. Safe for concurrent use, one run per
// call; the only mutable state is the tunable config, which hot reload may
// replace between runs.
type Pipeline struct {
	gw    *gateway.Gateway
	pool  *review.Pool
	gate  *arbiter.Gate
	store *health.Store
	audit Auditor
	now   func() time.Time

	cfgMu sync.RWMutex
	cfg   Config
}

// SetConfig replaces the pipeline tunables. In-flight runs keep the config
// they started with.
func (p *Pipeline) SetConfig(cfg Config) {
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
}

func (p *Pipeline) configSnapshot() Config {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

// New creates a pipeline. audit may be nil.
func New(gw *gateway.Gateway, pool *review.Pool, gate *arbiter.Gate, store *health.Store, audit Auditor, cfg Config) *Pipeline {
	return &Pipeline{
		gw:    gw,
		pool:  pool,
		gate:  gate,
		store: store,
		audit: audit,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Certify runs the full pipeline for one request. Rejection is a normal
// result; only infrastructure conditions return an error.
func (p *Pipeline) Certify(ctx context.Context, req provider.Request) (*Result, error) {
	log := logging.Get(logging.CategoryPipeline)
	runID := uuid.NewString()
	start := p.now()
	cfg := p.configSnapshot()

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	log.Info("run starting", zap.String("run_id", runID), zap.String("state", PhaseGenerating.String()))

	// Generating
	gen, err := p.gw.Generate(ctx, req)
	if err != nil {
		err = p.classifyFailure(ctx, err)
		p.recordFailure(runID, req, gen, err, start)
		return nil, err
	}

	// Reviewing
	log.Debug("run advancing", zap.String("run_id", runID), zap.String("state", PhaseReviewing.String()))
	verdicts := p.pool.ReviewAll(ctx, gen.Artifact)
	if err := p.deadlineHit(ctx); err != nil {
		p.recordFailure(runID, req, gen, err, start)
		return nil, err
	}

	// Evaluating (pure)
	consensus := review.Evaluate(verdicts)

	result := &Result{
		RunID:     runID,
		Artifact:  gen.Artifact,
		Provider:  gen.Provider,
		Attempts:  gen.Attempts,
		Consensus: consensus,
	}

	// Adjudicating, unless configured to short-circuit a failed quorum.
	if !consensus.QuorumReached && cfg.SkipArbiterOnFailedQuorum {
		log.Info("quorum failed, arbitration skipped", zap.String("run_id", runID))
		result.State = PhaseRejected
	} else {
		log.Debug("run advancing", zap.String("run_id", runID), zap.String("state", PhaseAdjudicating.String()))
		verdict := p.gate.Adjudicate(ctx, gen.Artifact, consensus)
		if err := p.deadlineHit(ctx); err != nil {
			p.recordFailure(runID, req, gen, err, start)
			return nil, err
		}
		result.Arbiter = &verdict
		if consensus.QuorumReached && verdict.Approved {
			result.State = PhaseCertified
			result.Certified = true
		} else {
			result.State = PhaseRejected
		}
	}

	result.TotalElapsedMs = p.now().Sub(start).Milliseconds()
	log.Info("run complete",
		zap.String("run_id", runID),
		zap.String("state", result.State.String()),
		zap.Bool("certified", result.Certified),
		zap.Int64("elapsed_ms", result.TotalElapsedMs))

	p.recordRun(req, result)
	return result, nil
}

// ProviderStatus exposes current failover state for observability tooling.
func (p *Pipeline) ProviderStatus() map[string]health.QuotaState {
	return p.store.Snapshot(p.now())
}

// classifyFailure maps a generation error onto the caller-facing taxonomy.
// A pipeline-deadline expiry takes precedence over whatever the gateway saw.
func (p *Pipeline) classifyFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrInternalTimeout)
	}
	return err
}

func (p *Pipeline) deadlineHit(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrInternalTimeout
	}
	return nil
}

func (p *Pipeline) recordRun(req provider.Request, result *Result) {
	if p.audit == nil {
		return
	}
	record := RunRecord{
		RunID:           result.RunID,
		Instruction:     req.Instruction,
		State:           result.State.String(),
		Provider:        result.Provider,
		Artifact:        result.Artifact,
		Certified:       result.Certified,
		ApprovalCount:   result.Consensus.ApprovalCount,
		QuorumThreshold: result.Consensus.QuorumThreshold,
		QuorumReached:   result.Consensus.QuorumReached,
		Verdicts:        result.Consensus.Verdicts,
		Attempts:        result.Attempts,
		ElapsedMs:       result.TotalElapsedMs,
		CreatedAt:       p.now(),
	}
	if result.Arbiter != nil {
		approved := result.Arbiter.Approved
		record.ArbiterApproved = &approved
		record.ArbiterRationale = result.Arbiter.Rationale
	}
	if err := p.audit.RecordRun(record, p.store.Snapshot(p.now())); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("failed to audit run",
			zap.String("run_id", result.RunID), zap.Error(err))
	}
}

func (p *Pipeline) recordFailure(runID string, req provider.Request, gen *gateway.Result, cause error, start time.Time) {
	logging.Get(logging.CategoryPipeline).Warn("run failed",
		zap.String("run_id", runID),
		zap.Error(cause))
	if p.audit == nil {
		return
	}
	record := RunRecord{
		RunID:       runID,
		Instruction: req.Instruction,
		State:       PhaseFailed.String(),
		ElapsedMs:   p.now().Sub(start).Milliseconds(),
		CreatedAt:   p.now(),
	}
	if gen != nil {
		record.Attempts = gen.Attempts
	}
	if err := p.audit.RecordRun(record, p.store.Snapshot(p.now())); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("failed to audit run",
			zap.String("run_id", runID), zap.Error(err))
	}
}
