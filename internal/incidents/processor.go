package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/status-aggregator/internal/aggregation"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/parse"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/store"
)

// Result summarizes one processing pass.
type Result struct {
	Fetched int
	Parsed  int

	// Cursor is the latest creation time seen, or the input cursor if nothing was fetched.
	Cursor time.Time
}

// Processor parses new incidents and links them into the hierarchy.
type Processor struct {
	source  Source
	parser  *parse.Aggregate
	factory *aggregation.Factory
	repo    store.Repository
}

// NewProcessor creates a new processor.
func NewProcessor(source Source, parser *parse.Aggregate, factory *aggregation.Factory, repo store.Repository) *Processor {
	return &Processor{
		source:  source,
		parser:  parser,
		factory: factory,
		repo:    repo,
	}
}

// Process fetches incidents created since the cursor and links them strictly in
// ascending creation order: each link decision depends on the ones before it.
func (p *Processor) Process(ctx context.Context, since time.Time) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	result := Result{Cursor: since}

	raw, err := p.source.FetchIncidents(ctx, since)
	if err != nil {
		return result, fmt.Errorf("fetch incidents: %w", err)
	}
	SortByCreation(raw)

	result.Fetched = len(raw)
	metrics.IncidentsFetched.Add(float64(len(raw)))
	logger.Info("fetched incidents", "count", len(raw), "since", since)

	for _, incident := range raw {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		for _, parsed := range p.parser.Parse(ctx, incident) {
			if _, err := p.factory.CreateIncident(ctx, parsed); err != nil {
				return result, fmt.Errorf("create incident %s: %w", incident.ID, err)
			}
			result.Parsed++
		}

		if created := incident.Source.CreateDate.UTC(); created.After(result.Cursor) {
			result.Cursor = created
		}
	}

	return result, nil
}

// RefreshActive re-reads every active incident from the source and closes
// the ones that have been mitigated since they were stored.
func (p *Processor) RefreshActive(ctx context.Context) (int, error) {
	logger := ctxlog.FromContext(ctx)

	active, err := p.repo.ListIncidents(ctx, store.Active())
	if err != nil {
		return 0, fmt.Errorf("list active incidents: %w", err)
	}

	byAPIID := make(map[string][]*domain.Incident)
	var order []string
	for _, incident := range active {
		if _, seen := byAPIID[incident.IncidentAPIID]; !seen {
			order = append(order, incident.IncidentAPIID)
		}
		byAPIID[incident.IncidentAPIID] = append(byAPIID[incident.IncidentAPIID], incident)
	}

	mitigated := 0
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return mitigated, err
		}

		raw, err := p.source.GetIncident(ctx, id)
		if err != nil {
			if errors.Is(err, ErrIncidentNotFound) {
				logger.Warn("active incident no longer exists in source", "incident_id", id)
				continue
			}
			return mitigated, fmt.Errorf("get incident %s: %w", id, err)
		}
		if !raw.IsMitigated() {
			continue
		}

		end := raw.MitigationData.Date.UTC()
		for _, incident := range byAPIID[id] {
			incident.EndTime = &end
			if err := p.repo.SaveIncident(ctx, incident); err != nil {
				return mitigated, err
			}
			mitigated++
			logger.Info("incident mitigated", "row_key", incident.RowKey(), "end_time", end)
		}
	}
	return mitigated, nil
}
