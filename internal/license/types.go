package license

import (
	"time"
)

// LicenseType classifies the commercial terms of a license.
type LicenseType string

const (
	TypeLifetime LicenseType = "lifetime"
	TypeMonthly  LicenseType = "monthly"
	TypeYearly   LicenseType = "yearly"
	TypeTrial    LicenseType = "trial"
)

// Status is the lifecycle state of a license.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// HardwareBinding restricts which systems may activate or use a license.
// A nil binding means no restriction is configured. In strict mode at least
// one of hardware ID or domain must match; otherwise the binding is advisory.
type HardwareBinding struct {
	AllowedHardwareIDs []string `json:"allowed_hardware_ids"`
	AllowedDomains     []string `json:"allowed_domains"`
	StrictMode         bool     `json:"strict_mode"`
}

// SystemInfo identifies the system requesting activation or verification.
type SystemInfo struct {
	HardwareID string `json:"hardware_id"`
	Domain     string `json:"domain"`
	IPAddress  string `json:"ip_address,omitempty"`
}

// License is the central entity of the engine.
//
// ActivationCount is a monotonic cumulative counter: deactivations do not
// decrement it. Currently-active occupancy is derived from activation rows.
type License struct {
	ID          string      `json:"id"`
	LicenseKey  string      `json:"license_key"`
	Type        LicenseType `json:"type"`
	Status      Status      `json:"status"`
	ClientName  string      `json:"client_name"`
	ClientEmail string      `json:"client_email"`

	MaxUsers        int `json:"max_users"`
	MaxStores       int `json:"max_stores"`
	MaxActivations  int `json:"max_activations"`
	ActivationCount int `json:"activation_count"`

	IssuedAt        time.Time  `json:"issued_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastActivatedAt *time.Time `json:"last_activated_at,omitempty"`
	LastVerifiedAt  *time.Time `json:"last_verified_at,omitempty"`

	AllowedDomains []string         `json:"allowed_domains,omitempty"`
	Binding        *HardwareBinding `json:"hardware_binding,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Activation is one binding event of a license to a system. Rows are never
// hard-deleted; deactivation flips IsActive and records the reason.
type Activation struct {
	ID                 string     `json:"id"`
	ActivationKey      string     `json:"activation_key"`
	LicenseID          string     `json:"license_id"`
	Domain             string     `json:"domain"`
	HardwareID         string     `json:"hardware_id"`
	IPAddress          string     `json:"ip_address,omitempty"`
	IsActive           bool       `json:"is_active"`
	ActivatedAt        time.Time  `json:"activated_at"`
	LastVerifiedAt     *time.Time `json:"last_verified_at,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

// Payment is a financial record consumed read-only by the risk scorer.
type Payment struct {
	ID        string    `json:"id"`
	LicenseID string    `json:"license_id"`
	Amount    int64     `json:"amount_cents"`
	Currency  string    `json:"currency"`
	PaidAt    time.Time `json:"paid_at"`
}

// IsExpired reports whether the license has an expiry in the past relative
// to now. Licenses without ExpiresAt never expire.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// ActivationRatio returns ActivationCount/MaxActivations, or 0 when no limit
// is configured.
func (l *License) ActivationRatio() float64 {
	if l.MaxActivations <= 0 {
		return 0
	}
	return float64(l.ActivationCount) / float64(l.MaxActivations)
}
