package review

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"certgate/internal/logging"
	"certgate/internal/provider"
)

// reviewerSystemPrompt instructs a reviewer to return a parseable verdict.
const reviewerSystemPrompt = `You are an independent reviewer in a certification pipeline.
Judge whether the submitted artifact is acceptable for release: it must be
complete, coherent, and free of placeholder or fabricated content.

## Response Format (JSON only, no markdown)
{
  "approved": true/false,
  "rationale": "one short paragraph explaining your judgment"
}

If you cannot produce JSON, respond with a single line reading exactly
"VERDICT: APPROVED" or "VERDICT: REJECTED" followed by your rationale.
Only return the verdict, no other text.`

// Reviewer binds a reviewer identity to its capability client.
type Reviewer struct {
	ID     string
	Client provider.Client
}

// PoolConfig tunes the reviewer pool.
type PoolConfig struct {
	ReviewTimeout time.Duration // per reviewer call
}

// Pool holds a fixed set of reviewers and dispatches the same artifact to
// all of them concurrently.
type Pool struct {
	reviewers []Reviewer
	cfg       PoolConfig
}

// NewPool creates a pool over a fixed reviewer set.
func NewPool(reviewers []Reviewer, cfg PoolConfig) *Pool {
	if cfg.ReviewTimeout <= 0 {
		cfg.ReviewTimeout = 90 * time.Second
	}
	return &Pool{reviewers: reviewers, cfg: cfg}
}

// Size returns the number of configured reviewers.
func (p *Pool) Size() int { return len(p.reviewers) }

// ReviewAll sends the artifact to every reviewer in parallel and waits for
// all of them. A reviewer that errors or times out yields a rejected verdict
// instead of failing the batch; the quorum rule needs all N verdicts, so
// there is no early exit. Verdict order matches registration order
// regardless of completion order.
func (p *Pool) ReviewAll(ctx context.Context, artifact string) []Verdict {
	log := logging.Get(logging.CategoryReview)
	verdicts := make([]Verdict, len(p.reviewers))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, r := range p.reviewers {
		eg.Go(func() error {
			verdicts[i] = p.reviewOne(egCtx, r, artifact)
			return nil
		})
	}
	// Workers never return errors; failures become rejected verdicts.
	_ = eg.Wait()

	approvals := 0
	for _, v := range verdicts {
		if v.Approved {
			approvals++
		}
	}
	log.Info("review batch complete",
		zap.Int("reviewers", len(verdicts)),
		zap.Int("approvals", approvals))
	return verdicts
}

func (p *Pool) reviewOne(ctx context.Context, r Reviewer, artifact string) Verdict {
	log := logging.Get(logging.CategoryReview)
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ReviewTimeout)
	defer cancel()

	start := time.Now()
	userPrompt := fmt.Sprintf("## Artifact to Review\n%s", artifact)
	completion, err := r.Client.Invoke(callCtx, reviewerSystemPrompt, userPrompt)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		log.Warn("reviewer failed",
			zap.String("reviewer", r.ID),
			zap.Error(err))
		return Verdict{
			ReviewerID: r.ID,
			Approved:   false,
			Rationale:  ReviewerUnavailableRationale,
			ElapsedMs:  elapsed,
		}
	}

	approved, rationale := ParseVerdict(completion.Content)
	log.Debug("reviewer verdict",
		zap.String("reviewer", r.ID),
		zap.Bool("approved", approved),
		zap.Int64("elapsed_ms", elapsed))
	return Verdict{
		ReviewerID: r.ID,
		Approved:   approved,
		Rationale:  rationale,
		ElapsedMs:  elapsed,
	}
}
