package aggregation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/store"
)

// LinkListener is called after an incident has been linked to a group and persisted.
type LinkListener interface {
	OnLink(ctx context.Context, group *domain.IncidentGroup, incident *domain.Incident) error
}

// Factory creates incidents and resolves the groups and events they belong to.
type Factory struct {
	repo      store.Repository
	linker    *Linker
	groups    *GroupLevel
	events    *EventLevel
	listeners []LinkListener
}

// NewFactory creates a factory. Listeners run in the given order.
func NewFactory(repo store.Repository, linker *Linker, listeners ...LinkListener) *Factory {
	return &Factory{
		repo:      repo,
		linker:    linker,
		groups:    NewGroupLevel(repo),
		events:    NewEventLevel(repo),
		listeners: listeners,
	}
}

// CreateIncident persists the incident for parsed and links it into the hierarchy.
// An incident that already exists with a persisted group is only updated with
// its mitigation time; a missing event above that group is recreated first.
func (f *Factory) CreateIncident(ctx context.Context, parsed domain.ParsedIncident) (*domain.Incident, error) {
	logger := ctxlog.FromContext(ctx).With("incident_id", parsed.ID, "path", parsed.AffectedComponentPath)

	existing, err := f.repo.GetIncident(ctx, domain.IncidentRowKey(parsed.ID, parsed.AffectedComponentPath))
	switch {
	case err == nil:
		group, err := f.existingGroup(ctx, existing)
		if err != nil {
			return nil, err
		}
		if group != nil {
			if err := f.ensureEvent(ctx, group); err != nil {
				return nil, err
			}
			return f.updateExisting(ctx, existing, parsed)
		}
		logger.Warn("incident has no persisted group, relinking", "group_row_key", existing.ParentRowKey)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("get incident: %w", err)
	}

	var (
		group    *domain.IncidentGroup
		newGroup bool
		event    *domain.Event
		newEvent bool
	)

	found, err := f.linker.FindUsable(ctx, f.groups, parsed.AffectedComponentPath, parsed.CreationTime)
	if err != nil {
		return nil, fmt.Errorf("find incident group: %w", err)
	}
	if found != nil {
		group = found.(*domain.IncidentGroup)
	} else {
		foundEvent, err := f.linker.FindUsable(ctx, f.events, parsed.AffectedComponentPath, parsed.CreationTime)
		if err != nil {
			return nil, fmt.Errorf("find event: %w", err)
		}
		if foundEvent != nil {
			event = foundEvent.(*domain.Event)
		} else {
			if event, err = f.events.NewEvent(ctx, parsed); err != nil {
				return nil, err
			}
			newEvent = true
		}

		if group, err = f.groups.NewGroup(ctx, parsed, event.Key); err != nil {
			return nil, err
		}
		newGroup = true
	}

	incident := domain.NewIncident(parsed, group.Key)

	// Leaf first, then parents: a partial write leaves at most an orphaned leaf.
	if err := f.repo.SaveIncident(ctx, incident); err != nil {
		return nil, err
	}
	metrics.EntitiesCreated.WithLabelValues("incident").Inc()

	if newGroup {
		if err := f.repo.SaveIncidentGroup(ctx, group); err != nil {
			return nil, err
		}
		metrics.EntitiesCreated.WithLabelValues(string(domain.AggregationKindIncidentGroup)).Inc()
		logger.Info("created incident group", "row_key", group.Key, "event_row_key", group.ParentRowKey)
	}
	if newEvent {
		if err := f.repo.SaveEvent(ctx, event); err != nil {
			return nil, err
		}
		metrics.EntitiesCreated.WithLabelValues(string(domain.AggregationKindEvent)).Inc()
		logger.Info("created event", "row_key", event.Key, "event_path", event.AffectedComponentPath)
	}

	for _, listener := range f.listeners {
		if err := listener.OnLink(ctx, group, incident); err != nil {
			return nil, fmt.Errorf("link listener: %w", err)
		}
	}

	logger.Info("linked incident", "row_key", incident.RowKey(), "group_row_key", group.Key)
	return incident, nil
}

func (f *Factory) existingGroup(ctx context.Context, incident *domain.Incident) (*domain.IncidentGroup, error) {
	group, err := f.repo.GetIncidentGroup(ctx, incident.ParentRowKey)
	if err == nil {
		return group, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("get incident group: %w", err)
}

// ensureEvent recreates the event of a group whose creation was interrupted
// between saving the group and saving its event.
func (f *Factory) ensureEvent(ctx context.Context, group *domain.IncidentGroup) error {
	_, err := f.repo.GetEvent(ctx, group.ParentRowKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("get group event: %w", err)
	}

	event := &domain.Event{
		Key:                   group.ParentRowKey,
		AffectedComponentPath: domain.TruncatePath(group.AffectedComponentPath, domain.EventPathDepth),
		StartTime:             group.StartTime,
	}
	if err := f.repo.SaveEvent(ctx, event); err != nil {
		return err
	}
	metrics.EntitiesCreated.WithLabelValues(string(domain.AggregationKindEvent)).Inc()
	ctxlog.FromContext(ctx).Warn("recreated missing event",
		"row_key", event.Key,
		"group_row_key", group.Key,
	)
	return nil
}

func (f *Factory) updateExisting(ctx context.Context, incident *domain.Incident, parsed domain.ParsedIncident) (*domain.Incident, error) {
	if !incident.IsActive() || parsed.MitigationTime == nil {
		return incident, nil
	}

	incident.EndTime = parsed.MitigationTime
	if err := f.repo.SaveIncident(ctx, incident); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("incident mitigated",
		"row_key", incident.RowKey(),
		"end_time", *incident.EndTime,
	)
	return incident, nil
}
