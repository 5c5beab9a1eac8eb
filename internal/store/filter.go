package store

import (
	"sort"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
)

// EntityFilter selects component-affecting entities. Nil fields are ignored.
// Every implementation returns results ordered by start time, then row key.
type EntityFilter struct {
	Path         *string
	ParentRowKey *string
	ActiveOnly   bool

	// StartedAtOrBefore keeps entities with StartTime <= value.
	StartedAtOrBefore *time.Time

	// ActiveOrEndedAtOrAfter keeps active entities and those with EndTime >= value.
	ActiveOrEndedAtOrAfter *time.Time
}

// Matches evaluates the filter against an entity in memory.
func (f EntityFilter) Matches(e domain.ComponentAffectingEntity, parentRowKey string) bool {
	if f.Path != nil && e.Path() != *f.Path {
		return false
	}
	if f.ParentRowKey != nil && parentRowKey != *f.ParentRowKey {
		return false
	}
	if f.ActiveOnly && !e.IsActive() {
		return false
	}
	if f.StartedAtOrBefore != nil && e.Start().After(*f.StartedAtOrBefore) {
		return false
	}
	if f.ActiveOrEndedAtOrAfter != nil && !e.IsActive() && e.End().Before(*f.ActiveOrEndedAtOrAfter) {
		return false
	}
	return true
}

// ByPath filters by exact affected path.
func ByPath(path string) EntityFilter {
	return EntityFilter{Path: &path}
}

// ByParent filters children linked to the given parent row key.
func ByParent(rowKey string) EntityFilter {
	return EntityFilter{ParentRowKey: &rowKey}
}

// Active filters entities without an end time.
func Active() EntityFilter {
	return EntityFilter{ActiveOnly: true}
}

// SortEntities orders entities by start time, then row key, so that every
// query result is deterministic.
func SortEntities[T domain.ComponentAffectingEntity](entities []T) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if !a.Start().Equal(b.Start()) {
			return a.Start().Before(b.Start())
		}
		return a.RowKey() < b.RowKey()
	})
}
