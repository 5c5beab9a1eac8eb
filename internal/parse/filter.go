package parse

import (
	"strings"

	"github.com/bissquit/status-aggregator/internal/domain"
)

// EnvironmentFilter allows titles whose environment prefix is in the allow-list.
// Comparison is case-insensitive.
type EnvironmentFilter struct {
	allowed map[string]struct{}
}

// NewEnvironmentFilter creates a filter for the given environments.
func NewEnvironmentFilter(environments []string) *EnvironmentFilter {
	allowed := make(map[string]struct{}, len(environments))
	for _, env := range environments {
		allowed[strings.ToLower(strings.TrimSpace(env))] = struct{}{}
	}
	return &EnvironmentFilter{allowed: allowed}
}

// Name returns the filter name.
func (f *EnvironmentFilter) Name() string { return "environment" }

// Allow checks the Environment capture group.
func (f *EnvironmentFilter) Allow(_ domain.RawIncident, match Match) bool {
	env, ok := match[EnvironmentGroup]
	if !ok {
		return false
	}
	_, allowed := f.allowed[strings.ToLower(env)]
	return allowed
}

// SeverityFilter allows incidents at least as severe as the threshold.
// Lower severity numbers are more severe.
type SeverityFilter struct {
	maximum int
}

// NewSeverityFilter creates a filter with the given maximum severity number.
func NewSeverityFilter(maximum int) *SeverityFilter {
	return &SeverityFilter{maximum: maximum}
}

// Name returns the filter name.
func (f *SeverityFilter) Name() string { return "severity" }

// Allow checks the incident severity.
func (f *SeverityFilter) Allow(incident domain.RawIncident, _ Match) bool {
	return incident.Severity <= f.maximum
}
