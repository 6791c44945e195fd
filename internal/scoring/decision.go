package scoring

import (
	"github.com/corridorsec/harrier/internal/domain"
)

// Decider maps a final score to a categorical outcome. State-free;
// thresholds come from configuration so deployments can tune them.
type Decider struct {
	thresholds domain.DecisionThresholds
}

// NewDecider creates a decision engine with the given thresholds.
func NewDecider(thresholds domain.DecisionThresholds) *Decider {
	return &Decider{thresholds: thresholds}
}

// Decide maps a score to APPROVE, REVIEW or BLOCK. Boundaries are
// half-open: a score exactly at a threshold takes the higher category.
func (d *Decider) Decide(score float64) string {
	switch {
	case score < d.thresholds.Review:
		return domain.DecisionApprove
	case score < d.thresholds.Block:
		return domain.DecisionReview
	default:
		return domain.DecisionBlock
	}
}

// severity orders decisions for escalation checks.
var severity = map[string]int{
	domain.DecisionApprove: 0,
	domain.DecisionReview:  1,
	domain.DecisionBlock:   2,
}

// Escalates reports whether to is a strictly tighter decision than from.
func Escalates(from, to string) bool {
	return severity[to] > severity[from]
}
