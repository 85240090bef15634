package alert

import (
	"testing"

	"github.com/scribehq/scribe/core/internal/domain"
)

func TestEstimateImpact(t *testing.T) {
	cases := []struct {
		name        string
		severity    domain.Severity
		category    string
		occurrences int64
		tier        string
		wantUsers   int64
		wantRevenue float64
		wantBreach  bool
	}{
		{
			name:        "low generic",
			severity:    domain.SeverityLow,
			category:    "content",
			occurrences: 1,
			wantUsers:   1,
			wantRevenue: 1.5,
		},
		{
			name:        "critical database breaches sla",
			severity:    domain.SeverityCritical,
			category:    "database",
			occurrences: 3,
			wantUsers:   1200,
			wantRevenue: 1800,
			wantBreach:  true,
		},
		{
			name:        "critical security enterprise",
			severity:    domain.SeverityCritical,
			category:    "security",
			occurrences: 1,
			tier:        "enterprise",
			wantUsers:   1000,
			wantRevenue: 15000,
			wantBreach:  true,
		},
		{
			name:        "high auth free tier",
			severity:    domain.SeverityHigh,
			category:    "auth",
			occurrences: 2,
			tier:        "free",
			wantUsers:   200,
			wantRevenue: 150,
		},
		{
			name:        "high volume alone never breaches",
			severity:    domain.SeverityHigh,
			category:    "security",
			occurrences: 100,
			wantUsers:   20000,
			wantRevenue: 30000,
		},
		{
			name:        "zero occurrences clamp to one",
			severity:    domain.SeverityMedium,
			category:    "api",
			occurrences: 0,
			tier:        "pro",
			wantUsers:   3,
			wantRevenue: 13.5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			impact := estimateImpact(tc.severity, tc.category, tc.occurrences, tc.tier)
			if impact.UsersAffected != tc.wantUsers {
				t.Fatalf("users = %d, want %d", impact.UsersAffected, tc.wantUsers)
			}
			if impact.RevenueEstimate != tc.wantRevenue {
				t.Fatalf("revenue = %v, want %v", impact.RevenueEstimate, tc.wantRevenue)
			}
			if impact.SLABreach != tc.wantBreach {
				t.Fatalf("sla breach = %v, want %v", impact.SLABreach, tc.wantBreach)
			}
		})
	}
}
