// Package export builds the published snapshot: the component tree and the recent event timeline.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/store"
)

// ComponentExporter applies active aggregations onto a fresh component tree.
type ComponentExporter struct {
	repo             store.Repository
	visibilityPeriod time.Duration
}

// NewComponentExporter creates a new component exporter.
// Events stay visible for visibilityPeriod after they end.
func NewComponentExporter(repo store.Repository, visibilityPeriod time.Duration) *ComponentExporter {
	return &ComponentExporter{
		repo:             repo,
		visibilityPeriod: visibilityPeriod,
	}
}

// Export returns the root of a tree with the status of every affected path applied.
// Only the node at the affected path is set; ancestors derive their status on read.
func (e *ComponentExporter) Export(ctx context.Context, now time.Time) (*component.Component, error) {
	logger := ctxlog.FromContext(ctx)

	groups, err := e.repo.ListIncidentGroups(ctx, store.Active())
	if err != nil {
		return nil, fmt.Errorf("list active incident groups: %w", err)
	}

	visibleSince := now.Add(-e.visibilityPeriod)
	events, err := e.repo.ListEvents(ctx, store.EntityFilter{ActiveOrEndedAtOrAfter: &visibleSince})
	if err != nil {
		return nil, fmt.Errorf("list visible events: %w", err)
	}

	entities := make([]domain.ComponentAffectingEntity, 0, len(groups)+len(events))
	for _, group := range groups {
		entities = append(entities, group)
	}
	for _, event := range events {
		entities = append(entities, event)
	}

	root := component.NewRoot()
	for _, entity := range MostSevereByPath(entities) {
		node := root.GetByPath(entity.Path())
		if node == nil {
			metrics.ExportSkippedPaths.Inc()
			logger.Warn("skipping entity with unknown component path",
				"row_key", entity.RowKey(),
				"path", entity.Path(),
			)
			continue
		}
		node.Status = entity.Status()
	}
	return root, nil
}

// MostSevereByPath drops Up entities and keeps the most severe entity per path.
// Ties go to the lowest row key. The result is ordered by path.
func MostSevereByPath(entities []domain.ComponentAffectingEntity) []domain.ComponentAffectingEntity {
	byPath := make(map[string]domain.ComponentAffectingEntity)
	for _, entity := range entities {
		if entity.Status() == domain.ComponentStatusUp {
			continue
		}

		current, ok := byPath[entity.Path()]
		switch {
		case !ok,
			entity.Status().MoreSevereThan(current.Status()),
			entity.Status() == current.Status() && entity.RowKey() < current.RowKey():
			byPath[entity.Path()] = entity
		}
	}

	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	result := make([]domain.ComponentAffectingEntity, 0, len(paths))
	for _, path := range paths {
		result = append(result, byPath[path])
	}
	return result
}
