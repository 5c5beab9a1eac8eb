package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/store"
)

// EventExporter splits the stored messages of an event into published sub-events.
type EventExporter struct {
	repo store.Repository
}

// NewEventExporter creates a new event exporter.
func NewEventExporter(repo store.Repository) *EventExporter {
	return &EventExporter{repo: repo}
}

// Export returns the sub-events of one event. Each Start message opens a new
// sub-event, End closes the current one, Manual joins whatever is open.
func (e *EventExporter) Export(ctx context.Context, event *domain.Event) ([]domain.ExportedEvent, error) {
	messages, err := e.repo.ListMessages(ctx, event.RowKey())
	if err != nil {
		return nil, fmt.Errorf("list messages of event %s: %w", event.RowKey(), err)
	}

	b := &batcher{path: event.Path(), logger: ctxlog.FromContext(ctx)}
	for _, message := range sortedNonEmpty(messages) {
		b.add(message)
	}
	b.finish(!event.IsActive())
	return b.events, nil
}

func sortedNonEmpty(messages []*domain.Message) []*domain.Message {
	result := make([]*domain.Message, 0, len(messages))
	for _, message := range messages {
		if message.Contents != "" {
			result = append(result, message)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Time.Before(result[j].Time)
	})
	return result
}

type batchState int

const (
	stateNoOpenBatch batchState = iota
	stateAccumulating
)

type batcher struct {
	path   string
	logger *slog.Logger

	state  batchState
	batch  []*domain.Message
	events []domain.ExportedEvent
}

func (b *batcher) add(message *domain.Message) {
	switch message.Type {
	case domain.MessageTypeStart:
		b.commit(true)
		b.append(message)
	case domain.MessageTypeEnd:
		b.append(message)
		b.commit(true)
	case domain.MessageTypeManual:
		b.append(message)
	default:
		b.logger.Warn("skipping message with unknown type",
			"type", message.Type,
			"time", message.Time,
		)
	}
}

func (b *batcher) append(message *domain.Message) {
	b.batch = append(b.batch, message)
	b.state = stateAccumulating
}

// finish commits the trailing batch. An ongoing event keeps it open-ended.
func (b *batcher) finish(hasEndTime bool) {
	b.commit(hasEndTime)
}

// commit emits the batch as a sub-event ending at its latest message.
// An empty batch emits nothing.
func (b *batcher) commit(hasEndTime bool) {
	if b.state == stateNoOpenBatch || len(b.batch) == 0 {
		return
	}

	exported := domain.ExportedEvent{
		AffectedComponentPath: b.path,
		StartTime:             b.batch[0].Time.UTC(),
		Messages:              make([]domain.ExportedMessage, 0, len(b.batch)),
	}
	for _, message := range b.batch {
		exported.Messages = append(exported.Messages, domain.ExportedMessage{
			Time:     message.Time.UTC(),
			Contents: message.Contents,
		})
	}
	if hasEndTime {
		end := b.batch[len(b.batch)-1].Time.UTC()
		exported.EndTime = &end
	}

	b.events = append(b.events, exported)
	b.batch = nil
	b.state = stateNoOpenBatch
}

// EventsExporter exports every event visible on the status page.
type EventsExporter struct {
	repo             store.Repository
	exporter         *EventExporter
	visibilityPeriod time.Duration
}

// NewEventsExporter creates a new events exporter.
func NewEventsExporter(repo store.Repository, exporter *EventExporter, visibilityPeriod time.Duration) *EventsExporter {
	return &EventsExporter{
		repo:             repo,
		exporter:         exporter,
		visibilityPeriod: visibilityPeriod,
	}
}

// Export returns sub-events of events active or ended within the visibility
// period, newest first.
func (e *EventsExporter) Export(ctx context.Context, now time.Time) ([]domain.ExportedEvent, error) {
	visibleSince := now.Add(-e.visibilityPeriod)
	events, err := e.repo.ListEvents(ctx, store.EntityFilter{ActiveOrEndedAtOrAfter: &visibleSince})
	if err != nil {
		return nil, fmt.Errorf("list visible events: %w", err)
	}

	result := make([]domain.ExportedEvent, 0, len(events))
	for _, event := range events {
		exported, err := e.exporter.Export(ctx, event)
		if err != nil {
			return nil, err
		}
		result = append(result, exported...)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	return result, nil
}
