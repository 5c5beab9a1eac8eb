package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
)

// Linker selects the existing aggregation a new child should join.
type Linker struct {
	updater *Updater
}

// NewLinker creates a new linker.
func NewLinker(updater *Updater) *Linker {
	return &Linker{updater: updater}
}

// FindUsable returns the first candidate at the level that has children and
// is still active after being updated as of t. Returns nil if none is usable.
func (l *Linker) FindUsable(ctx context.Context, level Level, path string, t time.Time) (domain.Aggregation, error) {
	logger := ctxlog.FromContext(ctx).With("kind", level.Kind(), "path", path)

	candidates, err := level.FindCandidates(ctx, level.CandidatePath(path), t)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		linkable, err := level.IsLinkable(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !linkable {
			logger.Debug("candidate is not linkable", "row_key", candidate.RowKey())
			continue
		}

		if _, err := l.updater.Update(ctx, candidate, t); err != nil {
			return nil, fmt.Errorf("update candidate %s: %w", candidate.RowKey(), err)
		}
		if !candidate.IsActive() {
			logger.Debug("candidate is inactive", "row_key", candidate.RowKey())
			continue
		}

		logger.Debug("found usable aggregation", "row_key", candidate.RowKey())
		return candidate, nil
	}
	return nil, nil
}
