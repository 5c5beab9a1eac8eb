// Package aggregation links incidents into incident groups and events and
// decides when those aggregations end.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/store"
)

// Config holds the grace windows during which a recently ended child
// still keeps its parent aggregation open.
type Config struct {
	IncidentGroupEndDelay time.Duration
	EventEndDelay         time.Duration
}

// DefaultConfig returns default aggregation settings.
func DefaultConfig() Config {
	return Config{
		IncidentGroupEndDelay: 15 * time.Minute,
		EventEndDelay:         15 * time.Minute,
	}
}

// Updater closes aggregations whose children have all ended.
type Updater struct {
	repo   store.Repository
	config Config
}

// NewUpdater creates a new updater.
func NewUpdater(repo store.Repository, config Config) *Updater {
	return &Updater{repo: repo, config: config}
}

// Update re-evaluates an aggregation as of referenceTime and reports whether it was deactivated.
// Calling it again with the same inputs leaves the aggregation unchanged.
func (u *Updater) Update(ctx context.Context, aggregation domain.Aggregation, referenceTime time.Time) (bool, error) {
	switch a := aggregation.(type) {
	case *domain.IncidentGroup:
		return u.UpdateGroup(ctx, a, referenceTime)
	case *domain.Event:
		return u.UpdateEvent(ctx, a, referenceTime)
	default:
		return false, fmt.Errorf("update aggregation: unsupported kind %s", aggregation.Kind())
	}
}

// UpdateGroup closes the group once every incident has ended outside the grace window.
func (u *Updater) UpdateGroup(ctx context.Context, group *domain.IncidentGroup, referenceTime time.Time) (bool, error) {
	if !group.IsActive() {
		return false, nil
	}

	incidents, err := u.repo.ListIncidents(ctx, store.ByParent(group.Key))
	if err != nil {
		return false, fmt.Errorf("list group incidents: %w", err)
	}

	children := make([]domain.ComponentAffectingEntity, 0, len(incidents))
	for _, incident := range incidents {
		children = append(children, incident)
	}

	return u.deactivate(ctx, group, children, u.config.IncidentGroupEndDelay, referenceTime, func() error {
		return u.repo.SaveIncidentGroup(ctx, group)
	})
}

// UpdateEvent updates the event's active groups first, then closes the event once
// every group has ended outside the grace window.
func (u *Updater) UpdateEvent(ctx context.Context, event *domain.Event, referenceTime time.Time) (bool, error) {
	if !event.IsActive() {
		return false, nil
	}

	groups, err := u.repo.ListIncidentGroups(ctx, store.ByParent(event.Key))
	if err != nil {
		return false, fmt.Errorf("list event groups: %w", err)
	}

	children := make([]domain.ComponentAffectingEntity, 0, len(groups))
	for _, group := range groups {
		if _, err := u.UpdateGroup(ctx, group, referenceTime); err != nil {
			return false, err
		}
		children = append(children, group)
	}

	return u.deactivate(ctx, event, children, u.config.EventEndDelay, referenceTime, func() error {
		return u.repo.SaveEvent(ctx, event)
	})
}

func (u *Updater) deactivate(
	ctx context.Context,
	aggregation domain.Aggregation,
	children []domain.ComponentAffectingEntity,
	grace time.Duration,
	referenceTime time.Time,
	save func() error,
) (bool, error) {
	logger := ctxlog.FromContext(ctx).With("kind", aggregation.Kind(), "row_key", aggregation.RowKey())

	if len(children) == 0 {
		logger.Debug("aggregation has no children, keeping it active")
		return false, nil
	}

	var latestEnd time.Time
	for _, child := range children {
		if child.IsActive() {
			return false, nil
		}
		if child.End().After(latestEnd) {
			latestEnd = *child.End()
		}
	}

	if referenceTime.Sub(latestEnd) < grace {
		logger.Debug("aggregation children ended within grace window",
			"latest_end", latestEnd,
			"reference_time", referenceTime,
		)
		return false, nil
	}

	aggregation.SetEnd(latestEnd)
	if err := save(); err != nil {
		return false, fmt.Errorf("save deactivated %s: %w", aggregation.Kind(), err)
	}

	metrics.AggregationsDeactivated.WithLabelValues(string(aggregation.Kind())).Inc()
	logger.Info("aggregation deactivated", "end_time", latestEnd)
	return true, nil
}

// UpdateAll re-evaluates every active event and its groups as of now.
// Returns the number of deactivated events.
func (u *Updater) UpdateAll(ctx context.Context, now time.Time) (int, error) {
	events, err := u.repo.ListEvents(ctx, store.Active())
	if err != nil {
		return 0, fmt.Errorf("list active events: %w", err)
	}

	deactivated := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return deactivated, err
		}
		ok, err := u.UpdateEvent(ctx, event, now)
		if err != nil {
			return deactivated, fmt.Errorf("update event %s: %w", event.Key, err)
		}
		if ok {
			deactivated++
		}
	}
	return deactivated, nil
}
