// Package risk scores access requests with an additive, capped heuristic
// and maps the score to an advisory recommendation.
//
// Every rule contributes a fixed number of points and is reported back as
// a Factor, so an approver can see exactly why a score came out the way it
// did.  The score is advisory only; approval always stays with a human.
package risk

// Level is the coarse risk bucket shown next to the score.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Recommendation is the suggested decision for an approver.
type Recommendation string

const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendReview  Recommendation = "REVIEW"
	RecommendDeny    Recommendation = "DENY"
)

// Fixed thresholds.
const (
	MaxScore        = 100
	DenyThreshold   = 70
	ReviewThreshold = 40
)

// Rule identifiers reported in Factors.
const (
	RuleOutOfHours         = "out_of_hours"
	RuleHighRiskAction     = "high_risk_action"
	RuleProductionAccount  = "production_account"
	RuleShortJustification = "short_justification"
	RuleRequestBurst       = "request_burst"
)

// Signal is a human-readable explanation line.
type Signal struct {
	Label    string `json:"label"`
	Positive bool   `json:"positive"`
}

// Factor records the points one rule added to the raw score.
type Factor struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
}

// Assessment is the result of scoring a single request.  It is derived on
// every call and never persisted.
type Assessment struct {
	Score          int            `json:"score"`
	Level          Level          `json:"level"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     int            `json:"confidence"`
	Signals        []Signal       `json:"signals"`
	Factors        []Factor       `json:"factors"`
}
