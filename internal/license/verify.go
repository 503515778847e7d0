package license

import (
	"time"
)

// VerifyThreshold is the minimum confidence for the verification pipeline's
// pass/fail decision. Distinct from the key codec's AcceptanceThreshold; both
// gate business behavior and are documented deliberately.
const VerifyThreshold = 70

// Verification confidence deductions per failing dimension. Cumulative across
// independent failures, clamped at zero.
const (
	deductFormat       = 40
	deductChecksum     = 30
	deductExpired      = 50
	deductExpiringSoon = 10
	deductLimitReached = 40
	deductHighUsage    = 15
	deductHardware     = 35
	deductStatus       = 60
)

// VerificationChecks holds the independent boolean dimensions of a
// verification result.
type VerificationChecks struct {
	Format     bool `json:"format"`
	Checksum   bool `json:"checksum"`
	Expiration bool `json:"expiration"`
	Activation bool `json:"activation"`
	Hardware   bool `json:"hardware"`
	Status     bool `json:"status"`
}

// All reports whether every check passed.
func (c VerificationChecks) All() bool {
	return c.Format && c.Checksum && c.Expiration && c.Activation && c.Hardware && c.Status
}

// VerificationResult aggregates the multi-check verification outcome with
// diagnostics for callers. Invalid licenses are reported here, never raised
// as errors, so feature gates can fail closed without special-casing.
type VerificationResult struct {
	IsValid           bool               `json:"is_valid"`
	Confidence        int                `json:"confidence"`
	Checks            VerificationChecks `json:"checks"`
	Issues            []string           `json:"issues,omitempty"`
	Recommendations   []string           `json:"recommendations,omitempty"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	VerificationScore int                `json:"verification_score"`
}

// VerifyLicense composes key validation, expiration, activation usage,
// binding and status into a single result. sys may be nil when the caller
// offers no system fingerprint; the hardware check then passes vacuously.
//
// Pure with respect to its inputs. Side effects (lazy expiration transition,
// last-verified stamping) belong to the service layer.
func VerifyLicense(l *License, sys *SystemInfo, keyValidation KeyValidation, now time.Time) VerificationResult {
	confidence := 100
	checks := VerificationChecks{
		Format:     true,
		Checksum:   true,
		Expiration: true,
		Activation: true,
		Hardware:   true,
		Status:     true,
	}
	var issues []string

	if !keyValidation.FormatOK {
		checks.Format = false
		confidence -= deductFormat
		issues = append(issues, "License key format is invalid")
	} else if !keyValidation.IsValid {
		checks.Checksum = false
		confidence -= deductChecksum
		issues = append(issues, keyValidation.Issues...)
	}

	expiringSoon := false
	if l.IsExpired(now) || l.Status == StatusExpired {
		checks.Expiration = false
		confidence -= deductExpired
		issues = append(issues, "License has expired")
	} else if l.ExpiresAt != nil && l.ExpiresAt.Sub(now) < 30*24*time.Hour {
		expiringSoon = true
		confidence -= deductExpiringSoon
		issues = append(issues, "License expires within 30 days")
	}

	highUsage := false
	if l.MaxActivations > 0 && l.ActivationCount >= l.MaxActivations {
		checks.Activation = false
		confidence -= deductLimitReached
		issues = append(issues, "Activation limit reached")
	} else if l.ActivationRatio() > 0.8 {
		highUsage = true
		confidence -= deductHighUsage
		issues = append(issues, "Activation usage is high")
	}

	if sys != nil && !CheckBinding(l, *sys) {
		checks.Hardware = false
		confidence -= deductHardware
		issues = append(issues, "System does not match the license hardware binding")
	}

	if l.Status != StatusActive {
		checks.Status = false
		if l.Status != StatusExpired {
			// Expired already deducted through the expiration dimension.
			confidence -= deductStatus
		}
		issues = append(issues, "License status is "+string(l.Status))
	}

	if confidence < 0 {
		confidence = 0
	}

	return VerificationResult{
		IsValid:           confidence >= VerifyThreshold && checks.All(),
		Confidence:        confidence,
		Checks:            checks,
		Issues:            issues,
		Recommendations:   recommendations(checks, expiringSoon, highUsage),
		RiskLevel:         AssessRisk(l, nil, now).Level,
		VerificationScore: VerificationScore(l, now),
	}
}

// recommendations derives advisory strings from the failed-check set. The
// output is deterministic for a given input so callers and tests can assert
// exact lists.
func recommendations(checks VerificationChecks, expiringSoon, highUsage bool) []string {
	var recs []string
	if !checks.Format || !checks.Checksum {
		recs = append(recs, "Verify the license key was entered correctly")
	}
	if !checks.Expiration {
		recs = append(recs, "Renew the license to restore access")
	} else if expiringSoon {
		recs = append(recs, "License expires soon; renew to avoid interruption")
	}
	if !checks.Activation {
		recs = append(recs, "Review activation patterns or increase the activation limit")
	} else if highUsage {
		recs = append(recs, "Activation usage is approaching the limit")
	}
	if !checks.Hardware {
		recs = append(recs, "Register this system's domain or hardware ID with the license")
	}
	if !checks.Status {
		recs = append(recs, "Contact support to reinstate the license")
	}
	return recs
}
