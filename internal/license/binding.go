package license

import (
	"github.com/IGLOU-EU/go-wildcard/v2"
)

// CheckBinding evaluates whether a requesting system may activate or use a
// license under its hardware binding configuration.
//
// With no binding configured the check always passes. Otherwise in strict
// mode at least one of hardware ID or domain must match; in non-strict mode
// the binding is advisory and the check passes regardless.
func CheckBinding(l *License, sys SystemInfo) bool {
	if l.Binding == nil {
		return true
	}
	b := l.Binding

	hardwareAllowed := false
	for _, id := range b.AllowedHardwareIDs {
		if id == sys.HardwareID {
			hardwareAllowed = true
			break
		}
	}

	domainAllowed := DomainAllowed(b.AllowedDomains, sys.Domain)

	return hardwareAllowed || domainAllowed || !b.StrictMode
}

// DomainAllowed reports whether domain matches any entry in patterns. Entries
// are exact names, the catch-all "*", or "*.suffix" wildcards; "*.example.com"
// matches "shop.example.com" but not the bare "example.com".
func DomainAllowed(patterns []string, domain string) bool {
	if domain == "" {
		return false
	}
	for _, p := range patterns {
		if wildcard.Match(p, domain) {
			return true
		}
	}
	return false
}
