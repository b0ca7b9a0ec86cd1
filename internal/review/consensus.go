package review

// ConsensusRecord is the quorum decision over a full verdict set.
type ConsensusRecord struct {
	Verdicts        []Verdict `json:"verdicts"`
	ApprovalCount   int       `json:"approval_count"`
	QuorumThreshold int       `json:"quorum_threshold"`
	QuorumReached   bool      `json:"quorum_reached"`
}

// Evaluate applies the majority quorum rule to a verdict set. Pure and
// deterministic: the threshold is ceil((N+1)/2), so for 3 reviewers 2
// approvals reach quorum, for 5 reviewers 3.
func Evaluate(verdicts []Verdict) ConsensusRecord {
	approvals := 0
	for _, v := range verdicts {
		if v.Approved {
			approvals++
		}
	}
	threshold := (len(verdicts) + 2) / 2 // ceil((N+1)/2)
	return ConsensusRecord{
		Verdicts:        verdicts,
		ApprovalCount:   approvals,
		QuorumThreshold: threshold,
		QuorumReached:   approvals >= threshold,
	}
}
