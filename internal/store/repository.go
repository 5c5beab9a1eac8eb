// Package store defines persistence for incidents, aggregations, messages and cursors.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Repository stores the entity hierarchy. Saves are insert-or-replace by row key;
// the store guarantees atomic single-entity writes only.
type Repository interface {
	GetIncident(ctx context.Context, rowKey string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter EntityFilter) ([]*domain.Incident, error)
	SaveIncident(ctx context.Context, incident *domain.Incident) error

	GetIncidentGroup(ctx context.Context, rowKey string) (*domain.IncidentGroup, error)
	ListIncidentGroups(ctx context.Context, filter EntityFilter) ([]*domain.IncidentGroup, error)
	SaveIncidentGroup(ctx context.Context, group *domain.IncidentGroup) error

	GetEvent(ctx context.Context, rowKey string) (*domain.Event, error)
	ListEvents(ctx context.Context, filter EntityFilter) ([]*domain.Event, error)
	SaveEvent(ctx context.Context, event *domain.Event) error

	ListMessages(ctx context.Context, eventRowKey string) ([]*domain.Message, error)
	SaveMessage(ctx context.Context, message *domain.Message) error
	DeleteMessage(ctx context.Context, eventRowKey string, t time.Time) error

	// DeleteAll removes every entity, batchSize rows at a time.
	// Returns the number of rows removed.
	DeleteAll(ctx context.Context, batchSize int) (int, error)
}

// CursorStore keeps named timestamps between runs.
type CursorStore interface {
	// GetCursor returns the zero time if the cursor was never set.
	GetCursor(ctx context.Context, name string) (time.Time, error)
	SetCursor(ctx context.Context, name string, value time.Time) error
	DeleteCursors(ctx context.Context) error
}
