// Package review dispatches a candidate artifact to independent reviewers in
// parallel and reduces their verdicts to a quorum decision.
package review

import (
	"encoding/json"
	"strings"
)

// Verdict is one reviewer's judgment of an artifact. Immutable once created.
type Verdict struct {
	ReviewerID string `json:"reviewer_id"`
	Approved   bool   `json:"approved"`
	Rationale  string `json:"rationale"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// ReviewerUnavailableRationale marks verdicts derived from reviewer errors
// or timeouts rather than an actual judgment.
const ReviewerUnavailableRationale = "reviewer unavailable"

// verdictMarkerApproved and verdictMarkerRejected are the plain-text
// fallback markers reviewers are instructed to emit alongside JSON.
const (
	verdictMarkerApproved = "VERDICT: APPROVED"
	verdictMarkerRejected = "VERDICT: REJECTED"
)

// ParseVerdict reduces a reviewer's raw textual output to an approval plus
// rationale. The contract is fail-closed: anything ambiguous, malformed, or
// missing an explicit approval marker parses as rejected.
func ParseVerdict(raw string) (approved bool, rationale string) {
	cleaned := stripFences(raw)

	// Strict path: JSON object with an explicit approved field.
	var parsed struct {
		Approved  *bool  `json:"approved"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil && parsed.Approved != nil {
		rationale = strings.TrimSpace(parsed.Rationale)
		if rationale == "" {
			rationale = "no rationale given"
		}
		return *parsed.Approved, rationale
	}

	// Fallback: unambiguous marker line. Both or neither present is
	// ambiguous and rejects.
	upper := strings.ToUpper(cleaned)
	hasApprove := strings.Contains(upper, verdictMarkerApproved)
	hasReject := strings.Contains(upper, verdictMarkerRejected)
	if hasApprove && !hasReject {
		return true, strings.TrimSpace(raw)
	}
	if hasReject && !hasApprove {
		return false, strings.TrimSpace(raw)
	}
	return false, "ambiguous verdict: " + truncate(strings.TrimSpace(raw), 300)
}

// stripFences removes markdown code fences around a JSON payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
