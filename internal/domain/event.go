package domain

import (
	"strconv"
	"strings"
	"time"
)

// AggregationKind identifies an aggregation level.
type AggregationKind string

// Aggregation kinds.
const (
	AggregationKindIncidentGroup AggregationKind = "incident_group"
	AggregationKindEvent         AggregationKind = "event"
)

// ComponentAffectingEntity is anything that applies a status onto a component path
// over a time window.
type ComponentAffectingEntity interface {
	RowKey() string
	Path() string
	Status() ComponentStatus
	Start() time.Time
	End() *time.Time
	IsActive() bool
}

// Aggregation is a ComponentAffectingEntity that child entities link to.
type Aggregation interface {
	ComponentAffectingEntity
	Kind() AggregationKind
	SetEnd(t time.Time)
}

// AggregationRowKey builds a deterministic row key for an aggregation.
// Re-running the pipeline on the same input produces the same keys.
func AggregationRowKey(path string, start time.Time) string {
	return escapeKey(path) + "_" + strconv.FormatInt(start.UTC().Unix(), 10)
}

func escapeKey(path string) string {
	return strings.NewReplacer("/", "_", " ", "").Replace(path)
}

// IncidentGroup aggregates incidents that affect the same path in overlapping windows.
type IncidentGroup struct {
	Key                     string          `json:"row_key"`
	ParentRowKey            string          `json:"parent_row_key"`
	AffectedComponentPath   string          `json:"affected_component_path"`
	AffectedComponentStatus ComponentStatus `json:"affected_component_status"`
	StartTime               time.Time       `json:"start_time"`
	EndTime                 *time.Time      `json:"end_time,omitempty"`
}

// NewIncidentGroup creates an open group for a parsed incident, owned by the given event.
func NewIncidentGroup(parsed ParsedIncident, eventRowKey string) *IncidentGroup {
	return &IncidentGroup{
		Key:                     AggregationRowKey(parsed.AffectedComponentPath, parsed.CreationTime),
		ParentRowKey:            eventRowKey,
		AffectedComponentPath:   parsed.AffectedComponentPath,
		AffectedComponentStatus: parsed.AffectedComponentStatus,
		StartTime:               parsed.CreationTime,
	}
}

// RowKey returns the storage key of the group.
func (g *IncidentGroup) RowKey() string { return g.Key }

// Path returns the affected component path.
func (g *IncidentGroup) Path() string { return g.AffectedComponentPath }

// Status returns the affected component status.
func (g *IncidentGroup) Status() ComponentStatus { return g.AffectedComponentStatus }

// Start returns the start time.
func (g *IncidentGroup) Start() time.Time { return g.StartTime }

// End returns the end time, nil while active.
func (g *IncidentGroup) End() *time.Time { return g.EndTime }

// IsActive returns true while the group has no end time.
func (g *IncidentGroup) IsActive() bool { return g.EndTime == nil }

// Kind returns AggregationKindIncidentGroup.
func (g *IncidentGroup) Kind() AggregationKind { return AggregationKindIncidentGroup }

// SetEnd closes the group.
func (g *IncidentGroup) SetEnd(t time.Time) { g.EndTime = &t }

// Event is the top-level aggregation of groups under one top-level component.
// Events carry no status of their own.
type Event struct {
	Key                   string     `json:"row_key"`
	AffectedComponentPath string     `json:"affected_component_path"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               *time.Time `json:"end_time,omitempty"`
}

// NewEvent creates an open event for a parsed incident, scoped to the top-level component.
func NewEvent(parsed ParsedIncident) *Event {
	path := TruncatePath(parsed.AffectedComponentPath, EventPathDepth)
	return &Event{
		Key:                   AggregationRowKey(path, parsed.CreationTime),
		AffectedComponentPath: path,
		StartTime:             parsed.CreationTime,
	}
}

// RowKey returns the storage key of the event.
func (e *Event) RowKey() string { return e.Key }

// Path returns the affected component path.
func (e *Event) Path() string { return e.AffectedComponentPath }

// Status always returns Up: live severity comes from the event's active groups.
func (e *Event) Status() ComponentStatus { return ComponentStatusUp }

// Start returns the start time.
func (e *Event) Start() time.Time { return e.StartTime }

// End returns the end time, nil while active.
func (e *Event) End() *time.Time { return e.EndTime }

// IsActive returns true while the event has no end time.
func (e *Event) IsActive() bool { return e.EndTime == nil }

// Kind returns AggregationKindEvent.
func (e *Event) Kind() AggregationKind { return AggregationKindEvent }

// SetEnd closes the event.
func (e *Event) SetEnd(t time.Time) { e.EndTime = &t }
