// Package classifier defines the contract for turning a free-text
// override justification into structured signals, plus two
// implementations: a local rule-based one and a remote HTTP one. The
// arbiter only ever sees Signals; classification failures degrade to a
// neutral default and never block a decision.
package classifier

import (
	"context"
)

// Urgency grades how time-sensitive a justification claims to be.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Quality grades how substantive the justification is.
type Quality string

const (
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// Signals is the structured classification of one justification.
type Signals struct {
	WorkRelated bool    `json:"work_related"`
	Urgency     Urgency `json:"urgency"`
	Quality     Quality `json:"quality"`
}

// Neutral is the safe default used whenever classification is
// unavailable: not work-related, low urgency, fair quality.
func Neutral() Signals {
	return Signals{WorkRelated: false, Urgency: UrgencyLow, Quality: QualityFair}
}

// Context carries request state a classifier may weigh alongside the
// reason text.
type Context struct {
	App             string `json:"app"`
	Hour            int    `json:"hour"`
	TrustScore      int    `json:"trust_score"`
	RecentOverrides int    `json:"recent_overrides"`
}

// Example is a caller-supplied labelled justification used by the rule
// classifier to grade quality by similarity.
type Example struct {
	Input   string  `json:"input"`
	Quality Quality `json:"quality"`
}

// Classifier turns a justification into signals. Implementations must
// return Neutral() rather than an error whenever the underlying
// mechanism is unavailable; the error return exists for context
// cancellation only.
type Classifier interface {
	Classify(ctx context.Context, reason string, rctx Context) (Signals, error)
}
