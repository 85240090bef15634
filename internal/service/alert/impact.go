package alert

import (
	"strings"

	"github.com/scribehq/scribe/core/internal/domain"
)

// Business impact is a deterministic function of severity, category and
// volume. The numbers are triage heuristics for operators, not billing data.
const (
	revenuePerUser     = 1.5
	slaBreachUserFloor = 1000
)

func severityMultiplier(severity domain.Severity) int64 {
	switch severity {
	case domain.SeverityCritical:
		return 50
	case domain.SeverityHigh:
		return 10
	case domain.SeverityMedium:
		return 3
	default:
		return 1
	}
}

func categoryMultiplier(category string) int64 {
	switch strings.ToLower(category) {
	case "security":
		return 20
	case "auth":
		return 10
	case "database":
		return 8
	default:
		return 1
	}
}

func tierMultiplier(tier string) float64 {
	switch strings.ToLower(tier) {
	case "enterprise":
		return 10
	case "pro":
		return 3
	case "free":
		return 0.5
	default:
		return 1
	}
}

// estimateImpact derives the blast-radius estimate attached to an alert.
func estimateImpact(severity domain.Severity, category string, occurrences int64, customerTier string) domain.BusinessImpact {
	if occurrences < 1 {
		occurrences = 1
	}
	users := severityMultiplier(severity) * categoryMultiplier(category) * occurrences
	return domain.BusinessImpact{
		UsersAffected:   users,
		RevenueEstimate: float64(users) * revenuePerUser * tierMultiplier(customerTier),
		SLABreach:       severity == domain.SeverityCritical && users >= slaBreachUserFloor,
	}
}
