package license

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyValidation is the result of structural and checksum validation of a key.
// FormatOK distinguishes structural failures from checksum or pattern-quality
// deductions; the verification pipeline weights them differently.
type KeyValidation struct {
	IsValid    bool     `json:"is_valid"`
	FormatOK   bool     `json:"format_ok"`
	Confidence int      `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
}

// Validation scoring constants. AcceptanceThreshold gates real business
// decisions (key creation and the activation workflow both refuse keys below
// it), so it is deliberately a named, documented constant.
const (
	// AcceptanceThreshold is the minimum confidence at which a key is
	// considered valid.
	AcceptanceThreshold = 75

	// formatFailureConfidence is the confidence assigned on structural
	// failure. The format check short-circuits, so no further deductions
	// apply.
	formatFailureConfidence = 0

	checksumPenalty   = 25
	repeatPenalty     = 15
	sequentialPenalty = 10
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}$`)

// repeatRunLen is the run length at which identical characters count as a
// repeating pattern. RE2 has no backreferences, so this is a scan rather
// than a regex.
const repeatRunLen = 4

func hasRepeatRun(s string) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= repeatRunLen {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// sequentialRuns is the fixed table of 4-character ascending runs that mark a
// key as predictable.
var sequentialRuns = buildSequentialRuns()

func buildSequentialRuns() []string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const digits = "0123456789"
	runs := make([]string, 0, len(letters)+len(digits)-6)
	for i := 0; i+4 <= len(letters); i++ {
		runs = append(runs, letters[i:i+4])
	}
	for i := 0; i+4 <= len(digits); i++ {
		runs = append(runs, digits[i:i+4])
	}
	return runs
}

// ValidateKey checks a license key's structure, per-segment checksums and
// pattern quality, returning a confidence in [0,100]. A key passes when its
// confidence reaches AcceptanceThreshold.
func ValidateKey(key string) KeyValidation {
	key = NormalizeKey(key)

	if !keyPattern.MatchString(key) {
		return KeyValidation{
			IsValid:    false,
			FormatOK:   false,
			Confidence: formatFailureConfidence,
			Issues:     []string{"Invalid format"},
		}
	}

	confidence := 100
	var issues []string

	segments := strings.Split(key, "-")
	for i, seg := range segments {
		data, check := seg[:KeySegmentDataLen], seg[KeySegmentDataLen]
		expected, err := SegmentChecksum(data)
		if err != nil || expected != check {
			confidence -= checksumPenalty
			issues = append(issues, fmt.Sprintf("Invalid checksum in segment %d", i+1))
		}
	}

	stripped := strings.ReplaceAll(key, "-", "")
	if hasRepeatRun(stripped) {
		confidence -= repeatPenalty
		issues = append(issues, "Contains repeating patterns")
	}
	if containsSequentialRun(stripped) {
		confidence -= sequentialPenalty
		issues = append(issues, "Contains sequential characters")
	}

	if confidence < 0 {
		confidence = 0
	}

	return KeyValidation{
		IsValid:    confidence >= AcceptanceThreshold,
		FormatOK:   true,
		Confidence: confidence,
		Issues:     issues,
	}
}

func containsSequentialRun(s string) bool {
	for _, run := range sequentialRuns {
		if strings.Contains(s, run) {
			return true
		}
	}
	return false
}
