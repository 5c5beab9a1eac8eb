// Package aggregator runs the aggregation pipeline end to end.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/status-aggregator/internal/aggregation"
	"github.com/bissquit/status-aggregator/internal/export"
	"github.com/bissquit/status-aggregator/internal/incidents"
	"github.com/bissquit/status-aggregator/internal/messaging"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
	"github.com/bissquit/status-aggregator/internal/store"
	"github.com/google/uuid"
)

// CursorName is the cursor holding the creation time of the newest processed incident.
const CursorName = "incidents"

// Config tunes the runner.
type Config struct {
	EventVisibilityPeriod time.Duration
	BatchSize             int
	RunTimeout            time.Duration
}

// Summary describes one completed run.
type Summary struct {
	RunID         string    `json:"run_id"`
	Fetched       int       `json:"fetched"`
	Parsed        int       `json:"parsed"`
	Mitigated     int       `json:"mitigated"`
	Deactivated   int       `json:"deactivated"`
	EventsUpdated int       `json:"events_updated"`
	Cursor        time.Time `json:"cursor"`
}

// Runner executes aggregation runs. Runs and resets never overlap.
type Runner struct {
	repo      store.Repository
	cursors   store.CursorStore
	processor *incidents.Processor
	updater   *aggregation.Updater
	messages  *messaging.Updater
	exporter  *export.StatusExporter
	config    Config
	now       func() time.Time

	mu sync.Mutex
}

// NewRunner creates a new runner.
func NewRunner(
	repo store.Repository,
	cursors store.CursorStore,
	processor *incidents.Processor,
	updater *aggregation.Updater,
	messages *messaging.Updater,
	exporter *export.StatusExporter,
	config Config,
) *Runner {
	return &Runner{
		repo:      repo,
		cursors:   cursors,
		processor: processor,
		updater:   updater,
		messages:  messages,
		exporter:  exporter,
		config:    config,
		now:       time.Now,
	}
}

// Run executes one aggregation pass: refresh active incidents, link new ones,
// close finished aggregations, update messages, save the cursor and publish.
// Any failure aborts the pass before the cursor is saved; the next pass
// redoes the same work.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{RunID: uuid.NewString()}
	ctx, logger := ctxlog.With(ctx, "run_id", summary.RunID)

	started := time.Now()
	err := r.run(ctx, &summary)

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RunDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())

	if err != nil {
		logger.Error("aggregation run failed", "error", err, "duration", time.Since(started))
		return summary, err
	}

	logger.Info("aggregation run completed",
		"fetched", summary.Fetched,
		"parsed", summary.Parsed,
		"mitigated", summary.Mitigated,
		"deactivated", summary.Deactivated,
		"events_updated", summary.EventsUpdated,
		"cursor", summary.Cursor,
		"duration", time.Since(started),
	)
	return summary, nil
}

func (r *Runner) run(ctx context.Context, summary *Summary) error {
	now := r.now().UTC()

	cursor, err := r.cursors.GetCursor(ctx, CursorName)
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}

	summary.Mitigated, err = r.processor.RefreshActive(ctx)
	if err != nil {
		return fmt.Errorf("refresh active incidents: %w", err)
	}

	result, err := r.processor.Process(ctx, cursor)
	if err != nil {
		return fmt.Errorf("process incidents: %w", err)
	}
	summary.Fetched = result.Fetched
	summary.Parsed = result.Parsed
	summary.Cursor = result.Cursor

	summary.Deactivated, err = r.updater.UpdateAll(ctx, now)
	if err != nil {
		return fmt.Errorf("update active aggregations: %w", err)
	}

	visibleSince := now.Add(-r.config.EventVisibilityPeriod)
	events, err := r.repo.ListEvents(ctx, store.EntityFilter{ActiveOrEndedAtOrAfter: &visibleSince})
	if err != nil {
		return fmt.Errorf("list visible events: %w", err)
	}
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.messages.Update(ctx, event, now); err != nil {
			return fmt.Errorf("update messages: %w", err)
		}
		summary.EventsUpdated++
	}

	if err := r.cursors.SetCursor(ctx, CursorName, result.Cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	if _, err := r.exporter.Export(ctx, result.Cursor, now); err != nil {
		return fmt.Errorf("export status: %w", err)
	}
	return nil
}

// Loop runs immediately and then every interval until ctx is done.
// Each run is bounded by the configured run timeout.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("aggregation loop started", "interval", interval, "run_timeout", r.config.RunTimeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.runWithTimeout(ctx, logger)

		select {
		case <-ctx.Done():
			logger.Info("aggregation loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) runWithTimeout(ctx context.Context, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}

	runCtx := ctx
	if r.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.RunTimeout)
		defer cancel()
	}

	// errors are logged by Run; the next tick retries
	if _, err := r.Run(runCtx); err != nil {
		logger.Debug("run will be retried on next tick", "error", err)
	}
}

// Reset deletes every entity and cursor.
func (r *Runner) Reset(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := ctxlog.FromContext(ctx)

	deleted, err := r.repo.DeleteAll(ctx, r.config.BatchSize)
	if err != nil {
		return deleted, fmt.Errorf("delete entities: %w", err)
	}
	if err := r.cursors.DeleteCursors(ctx); err != nil {
		return deleted, fmt.Errorf("delete cursors: %w", err)
	}

	logger.Warn("aggregation state reset", "deleted", deleted)
	return deleted, nil
}
