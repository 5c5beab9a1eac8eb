package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/store"
)

// Updater keeps the stored messages of an event in line with its groups.
type Updater struct {
	repo              store.Repository
	changes           *ChangeProvider
	builder           *ContentBuilder
	startMessageDelay time.Duration
}

// NewUpdater creates a new message updater.
func NewUpdater(repo store.Repository, changes *ChangeProvider, builder *ContentBuilder, startMessageDelay time.Duration) *Updater {
	return &Updater{
		repo:              repo,
		changes:           changes,
		builder:           builder,
		startMessageDelay: startMessageDelay,
	}
}

// Update replays every change of the event on a fresh tree, then saves the
// planned messages and deletes generated messages that are no longer planned.
// Manual messages are never modified. All contents are rendered before the
// first write, so a rendering error leaves the stored messages untouched.
func (u *Updater) Update(ctx context.Context, event *domain.Event, now time.Time) error {
	logger := ctxlog.FromContext(ctx).With("event_row_key", event.RowKey())

	changes, err := u.changes.Get(ctx, event)
	if err != nil {
		return err
	}

	plan := NewPlan()
	processor := NewProcessor(component.NewRoot(), plan, u.startMessageDelay, now)
	for _, change := range changes {
		processor.Process(ctx, change)
	}

	planned := plan.Messages()
	wanted := make([]*domain.Message, 0, len(planned))
	for _, message := range planned {
		contents, err := u.builder.Build(message.Type, message.Component, message.Status)
		if err != nil {
			return fmt.Errorf("build %s message for event %s: %w", message.Type, event.RowKey(), err)
		}
		wanted = append(wanted, &domain.Message{
			EventRowKey: event.RowKey(),
			Time:        message.Time.UTC(),
			Contents:    contents,
			Type:        message.Type,
		})
	}

	stored, err := u.repo.ListMessages(ctx, event.RowKey())
	if err != nil {
		return fmt.Errorf("list messages of event %s: %w", event.RowKey(), err)
	}
	existing := make(map[int64]*domain.Message, len(stored))
	for _, message := range stored {
		existing[message.Time.UnixNano()] = message
	}

	var saved, deleted int
	for _, message := range wanted {
		key := message.Time.UnixNano()
		current, ok := existing[key]
		delete(existing, key)

		if ok && current.IsManual() {
			logger.Debug("keeping manual message", "time", message.Time)
			continue
		}
		if ok && current.Type == message.Type && current.Contents == message.Contents {
			continue
		}
		if err := u.repo.SaveMessage(ctx, message); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		metrics.MessagesWritten.WithLabelValues("save").Inc()
		saved++
	}

	for _, message := range existing {
		if message.IsManual() {
			continue
		}
		if err := u.repo.DeleteMessage(ctx, event.RowKey(), message.Time); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		metrics.MessagesWritten.WithLabelValues("delete").Inc()
		deleted++
	}

	if saved > 0 || deleted > 0 {
		logger.Info("event messages updated", "saved", saved, "deleted", deleted)
	}
	return nil
}
