package domain

import "fmt"

// ComponentStatus represents the health of a component.
type ComponentStatus string

// Component statuses, ordered by severity.
const (
	ComponentStatusUp       ComponentStatus = "Up"
	ComponentStatusDegraded ComponentStatus = "Degraded"
	ComponentStatusDown     ComponentStatus = "Down"
)

// IsValid checks if the component status is valid.
func (s ComponentStatus) IsValid() bool {
	switch s {
	case ComponentStatusUp, ComponentStatusDegraded, ComponentStatusDown:
		return true
	}
	return false
}

// Severity returns the ordinal of the status: Up is 0, Down is the highest.
// Unknown statuses are treated as Up.
func (s ComponentStatus) Severity() int {
	switch s {
	case ComponentStatusDegraded:
		return 1
	case ComponentStatusDown:
		return 2
	default:
		return 0
	}
}

// MoreSevereThan reports whether s is strictly worse than other.
func (s ComponentStatus) MoreSevereThan(other ComponentStatus) bool {
	return s.Severity() > other.Severity()
}

// MaxStatus returns the worst of the given statuses. No arguments yields Up.
func MaxStatus(statuses ...ComponentStatus) ComponentStatus {
	result := ComponentStatusUp
	for _, s := range statuses {
		if s.MoreSevereThan(result) {
			result = s
		}
	}
	return result
}

// ParseComponentStatus converts a stored value back into a ComponentStatus.
func ParseComponentStatus(value string) (ComponentStatus, error) {
	s := ComponentStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid component status: %q", value)
	}
	return s, nil
}
