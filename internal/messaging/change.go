// Package messaging generates the human-readable messages of events.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store"
)

// Change is a status transition of one component caused by one entity.
type Change struct {
	Timestamp               time.Time
	EntityRowKey            string
	AffectedComponentPath   string
	AffectedComponentStatus domain.ComponentStatus
	Type                    domain.MessageType
}

// ChangeProvider derives status changes from the incident groups of an event.
type ChangeProvider struct {
	repo store.Repository
}

// NewChangeProvider creates a new change provider.
func NewChangeProvider(repo store.Repository) *ChangeProvider {
	return &ChangeProvider{repo: repo}
}

// Get returns a Start change per group and an End change per ended group,
// in chronological order. Starts sort before ends at the same instant.
func (p *ChangeProvider) Get(ctx context.Context, event *domain.Event) ([]Change, error) {
	groups, err := p.repo.ListIncidentGroups(ctx, store.ByParent(event.RowKey()))
	if err != nil {
		return nil, fmt.Errorf("list groups of event %s: %w", event.RowKey(), err)
	}

	changes := make([]Change, 0, 2*len(groups))
	for _, group := range groups {
		changes = append(changes, Change{
			Timestamp:               group.StartTime,
			EntityRowKey:            group.RowKey(),
			AffectedComponentPath:   group.Path(),
			AffectedComponentStatus: group.Status(),
			Type:                    domain.MessageTypeStart,
		})
		if group.EndTime != nil {
			changes = append(changes, Change{
				Timestamp:               *group.EndTime,
				EntityRowKey:            group.RowKey(),
				AffectedComponentPath:   group.Path(),
				AffectedComponentStatus: group.Status(),
				Type:                    domain.MessageTypeEnd,
			})
		}
	}

	SortChanges(changes)
	return changes, nil
}

// SortChanges orders changes by time, starts before ends, then by entity row key.
func SortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Type != b.Type {
			return a.Type == domain.MessageTypeStart
		}
		return a.EntityRowKey < b.EntityRowKey
	})
}
