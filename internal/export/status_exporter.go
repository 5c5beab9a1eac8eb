package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/publish"
)

// StatusExporter builds the status document and hands it to a sink.
type StatusExporter struct {
	components *ComponentExporter
	events     *EventsExporter
	sink       publish.Sink
	blobName   string
}

// NewStatusExporter creates a new status exporter.
func NewStatusExporter(components *ComponentExporter, events *EventsExporter, sink publish.Sink, blobName string) *StatusExporter {
	return &StatusExporter{
		components: components,
		events:     events,
		sink:       sink,
		blobName:   blobName,
	}
}

// Build assembles the status document as of now.
func (e *StatusExporter) Build(ctx context.Context, cursor, now time.Time) (*domain.StatusDocument, error) {
	root, err := e.components.Export(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("export components: %w", err)
	}

	events, err := e.events.Export(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("export events: %w", err)
	}

	return &domain.StatusDocument{
		Cursor:        cursor.UTC(),
		LastUpdated:   now.UTC(),
		RootComponent: root.Export(),
		RecentEvents:  events,
	}, nil
}

// Export builds, serializes and publishes the status document.
func (e *StatusExporter) Export(ctx context.Context, cursor, now time.Time) (*domain.StatusDocument, error) {
	doc, err := e.Build(ctx, cursor, now)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal status document: %w", err)
	}

	if err := e.sink.SaveBlob(ctx, e.blobName, data); err != nil {
		return nil, fmt.Errorf("publish status document: %w", err)
	}

	ctxlog.FromContext(ctx).Info("status document exported",
		"blob", e.blobName,
		"root_status", doc.RootComponent.Status,
		"recent_events", len(doc.RecentEvents),
	)
	return doc, nil
}
