package aggregation

import (
	"context"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/store"
)

// SeverityBump raises a group's status when a more severe incident links to it.
// Group status never decreases.
type SeverityBump struct {
	repo store.Repository
}

// NewSeverityBump creates the listener.
func NewSeverityBump(repo store.Repository) *SeverityBump {
	return &SeverityBump{repo: repo}
}

// OnLink persists the raised status immediately.
func (l *SeverityBump) OnLink(ctx context.Context, group *domain.IncidentGroup, incident *domain.Incident) error {
	if !incident.Status().MoreSevereThan(group.Status()) {
		return nil
	}

	previous := group.AffectedComponentStatus
	group.AffectedComponentStatus = incident.AffectedComponentStatus
	if err := l.repo.SaveIncidentGroup(ctx, group); err != nil {
		group.AffectedComponentStatus = previous
		return err
	}

	ctxlog.FromContext(ctx).Info("raised incident group status",
		"row_key", group.Key,
		"from", previous,
		"to", group.AffectedComponentStatus,
	)
	return nil
}
