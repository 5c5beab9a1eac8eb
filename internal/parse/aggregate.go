package parse

import (
	"context"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
)

// Aggregate runs every parser against an incident.
type Aggregate struct {
	parsers []Parser
}

// NewAggregate creates an aggregate over the given parsers.
func NewAggregate(parsers ...Parser) *Aggregate {
	return &Aggregate{parsers: parsers}
}

// Parse returns the union of all successful parses, in parser order.
// An incident can affect several components at once.
func (a *Aggregate) Parse(ctx context.Context, incident domain.RawIncident) []domain.ParsedIncident {
	var parsed []domain.ParsedIncident
	for _, p := range a.parsers {
		result, ok := p.TryParse(ctx, incident)
		if !ok {
			continue
		}
		metrics.IncidentsParsed.WithLabelValues(p.Name()).Inc()
		parsed = append(parsed, result)
	}

	if len(parsed) == 0 {
		ctxlog.FromContext(ctx).Info("no parser handled incident",
			"incident_id", incident.ID,
			"title", incident.Title,
		)
	}
	return parsed
}
