package domain

import "time"

// ExportedMessage is a message as shown on the public status page.
type ExportedMessage struct {
	Time     time.Time `json:"time"`
	Contents string    `json:"contents"`
}

// ExportedEvent is a contiguous run of messages for an event.
type ExportedEvent struct {
	AffectedComponentPath string            `json:"affected_component_path"`
	StartTime             time.Time         `json:"start_time"`
	EndTime               *time.Time        `json:"end_time,omitempty"`
	Messages              []ExportedMessage `json:"messages"`
}

// ExportedComponent is the serialized form of a component tree node.
type ExportedComponent struct {
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Path          string              `json:"path"`
	Status        ComponentStatus     `json:"status"`
	SubComponents []ExportedComponent `json:"sub_components,omitempty"`
}

// StatusDocument is the document published once per run.
type StatusDocument struct {
	Cursor        time.Time         `json:"cursor"`
	LastUpdated   time.Time         `json:"last_updated"`
	RootComponent ExportedComponent `json:"root_component"`
	RecentEvents  []ExportedEvent   `json:"recent_events"`
}
