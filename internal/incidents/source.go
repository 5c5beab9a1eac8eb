// Package incidents reads raw incidents and feeds them into the aggregation hierarchy.
package incidents

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
)

// ErrIncidentNotFound is returned when the source does not know an incident.
var ErrIncidentNotFound = errors.New("incident not found")

// Source is the incident-management system.
type Source interface {
	// FetchIncidents returns every incident created at or after since, fully drained.
	FetchIncidents(ctx context.Context, since time.Time) ([]domain.RawIncident, error)
	// GetIncident returns the current state of one incident.
	GetIncident(ctx context.Context, id string) (domain.RawIncident, error)
}

// StaticSource is an in-memory Source.
type StaticSource struct {
	mu        sync.RWMutex
	incidents map[string]domain.RawIncident
}

// NewStaticSource creates a source holding the given incidents.
func NewStaticSource(incidents ...domain.RawIncident) *StaticSource {
	s := &StaticSource{incidents: make(map[string]domain.RawIncident)}
	s.Put(incidents...)
	return s
}

// Put adds or replaces incidents.
func (s *StaticSource) Put(incidents ...domain.RawIncident) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, incident := range incidents {
		s.incidents[incident.ID] = incident
	}
}

// FetchIncidents returns incidents created at or after since, oldest first.
func (s *StaticSource) FetchIncidents(_ context.Context, since time.Time) ([]domain.RawIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RawIncident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		if !incident.Source.CreateDate.Before(since) {
			result = append(result, incident)
		}
	}
	SortByCreation(result)
	return result, nil
}

// GetIncident returns one incident.
func (s *StaticSource) GetIncident(_ context.Context, id string) (domain.RawIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	incident, ok := s.incidents[id]
	if !ok {
		return domain.RawIncident{}, ErrIncidentNotFound
	}
	return incident, nil
}

// SortByCreation orders incidents by creation time, then id.
func SortByCreation(incidents []domain.RawIncident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		a, b := incidents[i].Source.CreateDate, incidents[j].Source.CreateDate
		if !a.Equal(b) {
			return a.Before(b)
		}
		return incidents[i].ID < incidents[j].ID
	})
}
