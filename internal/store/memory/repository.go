// Package memory provides an in-memory implementation of the entity and cursor stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store"
)

type messageKey struct {
	eventRowKey string
	unixNano    int64
}

// Repository implements store.Repository and store.CursorStore in memory.
// Stored values are copied on read and write so callers never share state with the store.
type Repository struct {
	mu        sync.RWMutex
	incidents map[string]domain.Incident
	groups    map[string]domain.IncidentGroup
	events    map[string]domain.Event
	messages  map[messageKey]domain.Message
	cursors   map[string]time.Time
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		incidents: make(map[string]domain.Incident),
		groups:    make(map[string]domain.IncidentGroup),
		events:    make(map[string]domain.Event),
		messages:  make(map[messageKey]domain.Message),
		cursors:   make(map[string]time.Time),
	}
}

// GetIncident returns an incident by row key.
func (r *Repository) GetIncident(_ context.Context, rowKey string) (*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	incident, ok := r.incidents[rowKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &incident, nil
}

// ListIncidents returns incidents matching the filter.
func (r *Repository) ListIncidents(_ context.Context, filter store.EntityFilter) ([]*domain.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Incident, 0)
	for _, incident := range r.incidents {
		incident := incident
		if filter.Matches(&incident, incident.ParentRowKey) {
			result = append(result, &incident)
		}
	}
	store.SortEntities(result)
	return result, nil
}

// SaveIncident inserts or replaces an incident.
func (r *Repository) SaveIncident(_ context.Context, incident *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.incidents[incident.RowKey()] = copyIncident(*incident)
	return nil
}

// GetIncidentGroup returns a group by row key.
func (r *Repository) GetIncidentGroup(_ context.Context, rowKey string) (*domain.IncidentGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[rowKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &group, nil
}

// ListIncidentGroups returns groups matching the filter.
func (r *Repository) ListIncidentGroups(_ context.Context, filter store.EntityFilter) ([]*domain.IncidentGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.IncidentGroup, 0)
	for _, group := range r.groups {
		group := group
		if filter.Matches(&group, group.ParentRowKey) {
			result = append(result, &group)
		}
	}
	store.SortEntities(result)
	return result, nil
}

// SaveIncidentGroup inserts or replaces a group.
func (r *Repository) SaveIncidentGroup(_ context.Context, group *domain.IncidentGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *group
	stored.EndTime = copyTime(group.EndTime)
	r.groups[group.Key] = stored
	return nil
}

// GetEvent returns an event by row key.
func (r *Repository) GetEvent(_ context.Context, rowKey string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[rowKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &event, nil
}

// ListEvents returns events matching the filter. Events have no parent.
func (r *Repository) ListEvents(_ context.Context, filter store.EntityFilter) ([]*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Event, 0)
	for _, event := range r.events {
		event := event
		if filter.Matches(&event, "") {
			result = append(result, &event)
		}
	}
	store.SortEntities(result)
	return result, nil
}

// SaveEvent inserts or replaces an event.
func (r *Repository) SaveEvent(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *event
	stored.EndTime = copyTime(event.EndTime)
	r.events[event.Key] = stored
	return nil
}

// ListMessages returns the messages of an event ordered by time.
func (r *Repository) ListMessages(_ context.Context, eventRowKey string) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Message, 0)
	for key, message := range r.messages {
		if key.eventRowKey != eventRowKey {
			continue
		}
		message := message
		result = append(result, &message)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Time.Before(result[j].Time)
	})
	return result, nil
}

// SaveMessage inserts or replaces a message.
func (r *Repository) SaveMessage(_ context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages[messageKey{message.EventRowKey, message.Time.UnixNano()}] = *message
	return nil
}

// DeleteMessage removes a message. Deleting a missing message is not an error.
func (r *Repository) DeleteMessage(_ context.Context, eventRowKey string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, messageKey{eventRowKey, t.UnixNano()})
	return nil
}

// DeleteAll removes every entity. The batch size is irrelevant in memory.
func (r *Repository) DeleteAll(_ context.Context, _ int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := len(r.incidents) + len(r.groups) + len(r.events) + len(r.messages)
	r.incidents = make(map[string]domain.Incident)
	r.groups = make(map[string]domain.IncidentGroup)
	r.events = make(map[string]domain.Event)
	r.messages = make(map[messageKey]domain.Message)
	return deleted, nil
}

// GetCursor returns a stored cursor or the zero time.
func (r *Repository) GetCursor(_ context.Context, name string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cursors[name], nil
}

// SetCursor stores a cursor.
func (r *Repository) SetCursor(_ context.Context, name string, value time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursors[name] = value.UTC()
	return nil
}

// DeleteCursors removes every cursor.
func (r *Repository) DeleteCursors(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cursors = make(map[string]time.Time)
	return nil
}

func copyIncident(incident domain.Incident) domain.Incident {
	incident.EndTime = copyTime(incident.EndTime)
	return incident
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
