package license

import (
	"time"
)

// RiskLevel is the categorical triage level derived from the risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is the output of AssessRisk. Score is an unbounded additive
// signal for administrative triage, not a percentage; do not conflate it with
// the verification score.
type RiskAssessment struct {
	Level   RiskLevel `json:"risk_level"`
	Score   int       `json:"score"`
	Factors []string  `json:"factors,omitempty"`
}

// Risk level thresholds.
const (
	riskHighThreshold   = 60
	riskMediumThreshold = 30
)

// AssessRisk computes the additive risk score and level for a license.
// lastPayment, when non-nil, is the most recent payment on record and feeds
// the stale-payment factor; pass nil when the license has no payment history.
//
// The expired and expiring-soon factors stack: an expired license always has
// daysUntilExpiry below the 30-day warning window, so both deductions apply.
// That matches the deployed behavior and is pinned by tests.
func AssessRisk(l *License, lastPayment *time.Time, now time.Time) RiskAssessment {
	score := 0
	var factors []string

	if l.MaxActivations > 0 && float64(l.ActivationCount) > 0.8*float64(l.MaxActivations) {
		score += 30
		factors = append(factors, "High activation usage")
	}

	if l.ExpiresAt != nil {
		daysUntilExpiry := int(l.ExpiresAt.Sub(now).Hours() / 24)
		if daysUntilExpiry < 30 {
			score += 20
			factors = append(factors, "License expiring soon")
		}
		if daysUntilExpiry < 0 {
			score += 50
			factors = append(factors, "License expired")
		}
	}

	if l.LastVerifiedAt != nil {
		daysSince := int(now.Sub(*l.LastVerifiedAt).Hours() / 24)
		if daysSince > 90 {
			score += 15
			factors = append(factors, "Long time since verification")
		}
	}

	if l.Binding != nil && len(l.Binding.AllowedHardwareIDs) > 3 {
		score += 25
		factors = append(factors, "Multiple hardware bindings")
	}

	if l.Status == StatusSuspended {
		score += 60
		factors = append(factors, "License suspended")
	}

	if lastPayment != nil && now.Sub(*lastPayment).Hours() > 180*24 {
		score += 10
		factors = append(factors, "Stale payment history")
	}

	level := RiskLow
	switch {
	case score >= riskHighThreshold:
		level = RiskHigh
	case score >= riskMediumThreshold:
		level = RiskMedium
	}

	return RiskAssessment{Level: level, Score: score, Factors: factors}
}

// VerificationScore computes the 0-100 validation-health score. It is
// maintained independently of AssessRisk: different inputs, different scale,
// both surfaced to callers.
func VerificationScore(l *License, now time.Time) int {
	score := 100

	if l.IsExpired(now) {
		score -= 50
	}

	if l.MaxActivations > 0 {
		ratio := l.ActivationRatio()
		if ratio > 0.9 {
			score -= 20
		} else if ratio > 0.7 {
			score -= 10
		}
	}

	if l.Status == StatusSuspended {
		score -= 40
	}

	if l.LastVerifiedAt != nil {
		daysSince := int(now.Sub(*l.LastVerifiedAt).Hours() / 24)
		if daysSince > 90 {
			score -= 15
		} else if daysSince > 30 {
			score -= 5
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
