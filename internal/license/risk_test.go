package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestAssessRisk(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		license     License
		lastPayment *time.Time
		wantScore   int
		wantLevel   RiskLevel
		wantFactors []string
	}{
		{
			name: "healthy license",
			license: License{
				Status:          StatusActive,
				MaxActivations:  10,
				ActivationCount: 2,
				ExpiresAt:       timePtr(now.AddDate(1, 0, 0)),
				LastVerifiedAt:  timePtr(now.AddDate(0, 0, -1)),
			},
			wantScore: 0,
			wantLevel: RiskLow,
		},
		{
			name: "high activation usage is medium risk",
			license: License{
				Status:          StatusActive,
				MaxActivations:  10,
				ActivationCount: 9,
				ExpiresAt:       timePtr(now.AddDate(1, 0, 0)),
			},
			wantScore:   30,
			wantLevel:   RiskMedium,
			wantFactors: []string{"High activation usage"},
		},
		{
			name: "usage at exactly 80 percent does not count",
			license: License{
				Status:          StatusActive,
				MaxActivations:  10,
				ActivationCount: 8,
			},
			wantScore: 0,
			wantLevel: RiskLow,
		},
		{
			name: "expiring soon",
			license: License{
				Status:    StatusActive,
				ExpiresAt: timePtr(now.AddDate(0, 0, 10)),
			},
			wantScore:   20,
			wantLevel:   RiskLow,
			wantFactors: []string{"License expiring soon"},
		},
		{
			name: "expired license stacks expiring soon",
			license: License{
				Status:    StatusActive,
				ExpiresAt: timePtr(now.AddDate(0, 0, -10)),
			},
			wantScore:   70,
			wantLevel:   RiskHigh,
			wantFactors: []string{"License expiring soon", "License expired"},
		},
		{
			name: "lifetime license has no expiry factors",
			license: License{
				Status: StatusActive,
			},
			wantScore: 0,
			wantLevel: RiskLow,
		},
		{
			name: "long time since verification",
			license: License{
				Status:         StatusActive,
				LastVerifiedAt: timePtr(now.AddDate(0, 0, -120)),
			},
			wantScore:   15,
			wantLevel:   RiskLow,
			wantFactors: []string{"Long time since verification"},
		},
		{
			name: "never verified carries no verification factor",
			license: License{
				Status: StatusActive,
			},
			wantScore: 0,
			wantLevel: RiskLow,
		},
		{
			name: "broad hardware binding",
			license: License{
				Status: StatusActive,
				Binding: &HardwareBinding{
					AllowedHardwareIDs: []string{"hw-1", "hw-2", "hw-3", "hw-4"},
				},
			},
			wantScore:   25,
			wantLevel:   RiskLow,
			wantFactors: []string{"Multiple hardware bindings"},
		},
		{
			name: "three hardware bindings is fine",
			license: License{
				Status: StatusActive,
				Binding: &HardwareBinding{
					AllowedHardwareIDs: []string{"hw-1", "hw-2", "hw-3"},
				},
			},
			wantScore: 0,
			wantLevel: RiskLow,
		},
		{
			name: "suspended license is high risk on its own",
			license: License{
				Status: StatusSuspended,
			},
			wantScore:   60,
			wantLevel:   RiskHigh,
			wantFactors: []string{"License suspended"},
		},
		{
			name: "stale payment history",
			license: License{
				Status: StatusActive,
			},
			lastPayment: timePtr(now.AddDate(0, 0, -200)),
			wantScore:   10,
			wantLevel:   RiskLow,
			wantFactors: []string{"Stale payment history"},
		},
		{
			name: "recent payment carries no factor",
			license: License{
				Status: StatusActive,
			},
			lastPayment: timePtr(now.AddDate(0, 0, -30)),
			wantScore:   0,
			wantLevel:   RiskLow,
		},
		{
			name: "factors accumulate",
			license: License{
				Status:          StatusSuspended,
				MaxActivations:  10,
				ActivationCount: 9,
				ExpiresAt:       timePtr(now.AddDate(0, 0, -10)),
				LastVerifiedAt:  timePtr(now.AddDate(0, 0, -120)),
			},
			wantScore: 175,
			wantLevel: RiskHigh,
			wantFactors: []string{
				"High activation usage",
				"License expiring soon",
				"License expired",
				"Long time since verification",
				"License suspended",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessRisk(&tt.license, tt.lastPayment, now)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, tt.wantFactors, got.Factors)
		})
	}
}

func TestVerificationScore(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		license License
		want    int
	}{
		{
			name: "healthy license",
			license: License{
				Status:          StatusActive,
				MaxActivations:  10,
				ActivationCount: 2,
				ExpiresAt:       timePtr(now.AddDate(1, 0, 0)),
				LastVerifiedAt:  timePtr(now.AddDate(0, 0, -1)),
			},
			want: 100,
		},
		{
			name: "expired",
			license: License{
				Status:    StatusActive,
				ExpiresAt: timePtr(now.AddDate(0, 0, -1)),
			},
			want: 50,
		},
		{
			name: "usage over ninety percent",
			license: License{
				Status:          StatusActive,
				MaxActivations:  10,
				ActivationCount: 10,
			},
			want: 80,
		},
		{
			name: "usage over seventy percent",
			license: License{
				Status:          StatusActive,
				MaxActivations:  10,
				ActivationCount: 8,
			},
			want: 90,
		},
		{
			name: "suspended",
			license: License{
				Status: StatusSuspended,
			},
			want: 60,
		},
		{
			name: "stale verification over ninety days",
			license: License{
				Status:         StatusActive,
				LastVerifiedAt: timePtr(now.AddDate(0, 0, -100)),
			},
			want: 85,
		},
		{
			name: "stale verification over thirty days",
			license: License{
				Status:         StatusActive,
				LastVerifiedAt: timePtr(now.AddDate(0, 0, -45)),
			},
			want: 95,
		},
		{
			name: "deductions accumulate and clamp at zero",
			license: License{
				Status:          StatusSuspended,
				MaxActivations:  10,
				ActivationCount: 10,
				ExpiresAt:       timePtr(now.AddDate(0, 0, -10)),
				LastVerifiedAt:  timePtr(now.AddDate(0, 0, -120)),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerificationScore(&tt.license, now))
		})
	}
}
