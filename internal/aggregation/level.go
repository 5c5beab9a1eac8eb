package aggregation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store"
)

// Level describes one aggregation level of the hierarchy.
type Level interface {
	Kind() domain.AggregationKind

	// CandidatePath maps the affected path of an incident to the path aggregations
	// of this level are keyed by.
	CandidatePath(path string) string

	// FindCandidates returns aggregations at path that are temporally compatible with t:
	// started at or before t, and either active or ended at or after t.
	// Results are ordered by start time, then row key.
	FindCandidates(ctx context.Context, path string, t time.Time) ([]domain.Aggregation, error)

	// IsLinkable reports whether the aggregation has at least one child and a
	// persisted parent, so that new children can be attached to it.
	IsLinkable(ctx context.Context, aggregation domain.Aggregation) (bool, error)
}

func compatibleWith(path string, t time.Time) store.EntityFilter {
	return store.EntityFilter{
		Path:                   &path,
		StartedAtOrBefore:      &t,
		ActiveOrEndedAtOrAfter: &t,
	}
}

// GroupLevel aggregates incidents at their exact affected path.
type GroupLevel struct {
	repo store.Repository
}

// NewGroupLevel creates the incident group level.
func NewGroupLevel(repo store.Repository) *GroupLevel {
	return &GroupLevel{repo: repo}
}

// Kind returns AggregationKindIncidentGroup.
func (l *GroupLevel) Kind() domain.AggregationKind { return domain.AggregationKindIncidentGroup }

// CandidatePath returns path unchanged.
func (l *GroupLevel) CandidatePath(path string) string { return path }

// FindCandidates lists compatible groups.
func (l *GroupLevel) FindCandidates(ctx context.Context, path string, t time.Time) ([]domain.Aggregation, error) {
	groups, err := l.repo.ListIncidentGroups(ctx, compatibleWith(path, t))
	if err != nil {
		return nil, fmt.Errorf("list candidate groups: %w", err)
	}
	result := make([]domain.Aggregation, 0, len(groups))
	for _, g := range groups {
		result = append(result, g)
	}
	return result, nil
}

// IsLinkable checks the group has incidents and its event exists.
func (l *GroupLevel) IsLinkable(ctx context.Context, aggregation domain.Aggregation) (bool, error) {
	group, ok := aggregation.(*domain.IncidentGroup)
	if !ok {
		return false, fmt.Errorf("unexpected aggregation kind %s", aggregation.Kind())
	}

	incidents, err := l.repo.ListIncidents(ctx, store.ByParent(group.Key))
	if err != nil {
		return false, fmt.Errorf("list group incidents: %w", err)
	}
	if len(incidents) == 0 {
		return false, nil
	}

	if _, err := l.repo.GetEvent(ctx, group.ParentRowKey); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get group event: %w", err)
	}
	return true, nil
}

// NewGroup creates a group for parsed under the given event with an unused row key.
func (l *GroupLevel) NewGroup(ctx context.Context, parsed domain.ParsedIncident, eventRowKey string) (*domain.IncidentGroup, error) {
	group := domain.NewIncidentGroup(parsed, eventRowKey)
	key, err := unusedKey(group.Key, func(key string) error {
		_, err := l.repo.GetIncidentGroup(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("allocate group key: %w", err)
	}
	group.Key = key
	return group, nil
}

// EventLevel aggregates groups under their top-level component.
type EventLevel struct {
	repo store.Repository
}

// NewEventLevel creates the event level.
func NewEventLevel(repo store.Repository) *EventLevel {
	return &EventLevel{repo: repo}
}

// Kind returns AggregationKindEvent.
func (l *EventLevel) Kind() domain.AggregationKind { return domain.AggregationKindEvent }

// CandidatePath truncates path to the top-level component.
func (l *EventLevel) CandidatePath(path string) string {
	return domain.TruncatePath(path, domain.EventPathDepth)
}

// FindCandidates lists compatible events.
func (l *EventLevel) FindCandidates(ctx context.Context, path string, t time.Time) ([]domain.Aggregation, error) {
	events, err := l.repo.ListEvents(ctx, compatibleWith(path, t))
	if err != nil {
		return nil, fmt.Errorf("list candidate events: %w", err)
	}
	result := make([]domain.Aggregation, 0, len(events))
	for _, e := range events {
		result = append(result, e)
	}
	return result, nil
}

// IsLinkable checks the event has groups.
func (l *EventLevel) IsLinkable(ctx context.Context, aggregation domain.Aggregation) (bool, error) {
	groups, err := l.repo.ListIncidentGroups(ctx, store.ByParent(aggregation.RowKey()))
	if err != nil {
		return false, fmt.Errorf("list event groups: %w", err)
	}
	return len(groups) > 0, nil
}

// NewEvent creates an event for parsed with an unused row key.
func (l *EventLevel) NewEvent(ctx context.Context, parsed domain.ParsedIncident) (*domain.Event, error) {
	event := domain.NewEvent(parsed)
	key, err := unusedKey(event.Key, func(key string) error {
		_, err := l.repo.GetEvent(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("allocate event key: %w", err)
	}
	event.Key = key
	return event, nil
}

// unusedKey returns base, or base with the lowest numeric suffix that get reports as not found.
// Keys collide when an unusable aggregation started at the same second on the same path.
func unusedKey(base string, get func(key string) error) (string, error) {
	key := base
	for i := 1; ; i++ {
		err := get(key)
		if errors.Is(err, store.ErrNotFound) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
		key = base + "-" + strconv.Itoa(i)
	}
}
