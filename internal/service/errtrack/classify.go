package errtrack

import (
	"strings"

	"github.com/scribehq/scribe/core/internal/domain"
)

// keywordRule maps substring matches to a classification outcome. Rules are
// evaluated in order; the first hit wins.
type keywordRule[T any] struct {
	keywords []string
	outcome  T
}

var severityRules = []keywordRule[domain.Severity]{
	{[]string{"out of memory", "memory", "oom", "connection refused", "connection reset", "security", "data loss", "corrupt"}, domain.SeverityCritical},
	{[]string{"500", "502", "503", "504", "timeout", "timed out", "deadline exceeded", "unauthorized", "forbidden", "auth"}, domain.SeverityHigh},
	{[]string{"validation", "invalid", "404", "not found", "rate limit", "too many requests"}, domain.SeverityMedium},
}

var categoryRules = []keywordRule[domain.ErrorCategory]{
	{[]string{"sql", "database", "pgx", "postgres", "query", "transaction", "deadlock"}, domain.CategoryDatabase},
	{[]string{"unauthorized", "forbidden", "token", "credential", "permission", "auth"}, domain.CategoryAuth},
	{[]string{"timeout", "timed out", "dial", "dns", "connection", "tls", "http", "socket"}, domain.CategoryNetwork},
	{[]string{"validation", "invalid", "required", "missing field", "malformed", "parse"}, domain.CategoryValidation},
	{[]string{"panic", "nil pointer", "index out of range", "runtime", "goroutine", "stack overflow"}, domain.CategoryRuntime},
	{[]string{"quota", "billing", "subscription", "plan limit", "workflow"}, domain.CategoryBusiness},
}

// classifySeverity walks the severity cascade over the error text. A failure
// inside classification degrades to the safe default instead of propagating.
func classifySeverity(errType, message string) (severity domain.Severity) {
	severity = domain.SeverityLow
	defer func() {
		if recover() != nil {
			severity = domain.SeverityLow
		}
	}()
	haystack := strings.ToLower(errType + " " + message)
	for _, rule := range severityRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.outcome
			}
		}
	}
	return severity
}

// classifyCategory walks the category cascade over message, stack and endpoint.
func classifyCategory(errType, message, stack, endpoint string) (category domain.ErrorCategory) {
	category = domain.CategoryUnknown
	defer func() {
		if recover() != nil {
			category = domain.CategoryUnknown
		}
	}()
	haystack := strings.ToLower(strings.Join([]string{errType, message, stack, endpoint}, " "))
	for _, rule := range categoryRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.outcome
			}
		}
	}
	return category
}
