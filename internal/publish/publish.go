// Package publish writes serialized status documents to external sinks.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/metrics"
)

// Sink stores a named blob with overwrite semantics.
type Sink interface {
	Name() string
	SaveBlob(ctx context.Context, name string, data []byte) error
}

// Multi writes to every sink in order. A failing sink does not prevent the
// remaining sinks from receiving the blob.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name returns "multi".
func (m *Multi) Name() string { return "multi" }

// SaveBlob writes data to every sink and joins their errors.
func (m *Multi) SaveBlob(ctx context.Context, name string, data []byte) error {
	logger := ctxlog.FromContext(ctx)

	var errs []error
	for _, sink := range m.sinks {
		if err := sink.SaveBlob(ctx, name, data); err != nil {
			metrics.PublishErrors.WithLabelValues(sink.Name()).Inc()
			logger.Error("failed to publish status document", "sink", sink.Name(), "blob", name, "error", err)
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			continue
		}
		logger.Debug("status document published", "sink", sink.Name(), "blob", name, "bytes", len(data))
	}
	return errors.Join(errs...)
}
