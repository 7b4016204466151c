package risk

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

const (
	pointsOutOfHours         = 15
	pointsPerHighRiskAction  = 10
	pointsProductionAccount  = 20
	pointsShortJustification = 10
	pointsRequestBurst       = 15

	businessHourStart = 9
	businessHourEnd   = 17

	minJustificationLen = 20
	burstWindow         = 30 * time.Minute
	burstThreshold      = 2

	productionMarker = "prod"
)

// highRiskMarkers flag an action when any appears as a case-sensitive
// substring, e.g. "ec2:CreateSnapshot" matches "Create".
var highRiskMarkers = []string{"Delete", "Create", "Admin", "Terminate", "*"}

// escalationMarkers drive the "Privilege escalation" signal.
var escalationMarkers = []string{"Admin", "*"}

// Assess scores req as of now.  recent should hold the requester's other
// requests; only entries from the same user inside the trailing burst
// window are counted.  Missing fields simply keep their rule from firing.
func Assess(req types.AccessRequest, recent []types.AccessRequest, now time.Time) Assessment {
	factors := make([]Factor, 0, 5)
	add := func(rule string, points int) {
		if points > 0 {
			factors = append(factors, Factor{Rule: rule, Points: points})
		}
	}

	offHours := OutOfHours(now)
	if offHours {
		add(RuleOutOfHours, pointsOutOfHours)
	}
	add(RuleHighRiskAction, CountHighRiskActions(req.RequestedActions)*pointsPerHighRiskAction)
	if strings.Contains(req.AccountID, productionMarker) {
		add(RuleProductionAccount, pointsProductionAccount)
	}
	if utf8.RuneCountInString(req.Justification) < minJustificationLen {
		add(RuleShortJustification, pointsShortJustification)
	}
	if CountRecent(req.UserEmail, recent, now) > burstThreshold {
		add(RuleRequestBurst, pointsRequestBurst)
	}

	raw := 0
	for _, f := range factors {
		raw += f.Points
	}
	score := min(raw, MaxScore)

	return Assessment{
		Score:          score,
		Level:          LevelFor(score),
		Recommendation: RecommendationFor(score),
		Confidence:     MaxScore - score,
		Signals:        signals(offHours, hasEscalation(req.RequestedActions)),
		Factors:        factors,
	}
}

// OutOfHours reports whether now falls outside [09:00, 17:00) in now's
// own location.
func OutOfHours(now time.Time) bool {
	h := now.Hour()
	return h < businessHourStart || h >= businessHourEnd
}

// CountHighRiskActions returns how many actions carry a high-risk marker.
func CountHighRiskActions(actions []string) int {
	n := 0
	for _, a := range actions {
		if containsAny(a, highRiskMarkers) {
			n++
		}
	}
	return n
}

// CountRecent counts requests by email whose RequestedAt falls strictly
// inside the trailing burst window.  An empty email never matches.
func CountRecent(email string, recent []types.AccessRequest, now time.Time) int {
	if strings.TrimSpace(email) == "" {
		return 0
	}
	cutoff := now.Add(-burstWindow)
	n := 0
	for _, r := range recent {
		if r.UserEmail != email || r.RequestedAt == nil {
			continue
		}
		if r.RequestedAt.After(cutoff) {
			n++
		}
	}
	return n
}

// LevelFor maps a score onto its level.
func LevelFor(score int) Level {
	switch {
	case score >= DenyThreshold:
		return LevelHigh
	case score >= ReviewThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// RecommendationFor maps a score onto its recommendation.
func RecommendationFor(score int) Recommendation {
	switch {
	case score >= DenyThreshold:
		return RecommendDeny
	case score >= ReviewThreshold:
		return RecommendReview
	default:
		return RecommendApprove
	}
}

// signals builds the display list.  "Known user" and "Normal location" are
// always emitted; no identity or geo check backs them yet.  Production
// account and burst contributions have no signal of their own.
func signals(offHours, escalation bool) []Signal {
	out := []Signal{
		{Label: "Known user", Positive: true},
		{Label: "Normal location", Positive: true},
	}
	if offHours {
		out = append(out, Signal{Label: "Unusual time"})
	}
	if escalation {
		out = append(out, Signal{Label: "Privilege escalation"})
	}
	return out
}

func hasEscalation(actions []string) bool {
	for _, a := range actions {
		if containsAny(a, escalationMarkers) {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
