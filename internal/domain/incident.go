package domain

import "time"

// RawIncident is an incident as reported by the incident-management system.
type RawIncident struct {
	ID             string          `json:"id" validate:"required"`
	Title          string          `json:"title" validate:"required"`
	Subtitle       string          `json:"subtitle,omitempty"`
	Severity       int             `json:"severity" validate:"min=0"`
	Source         IncidentSource  `json:"source"`
	MitigationData *MitigationData `json:"mitigation_data,omitempty"`
}

// IncidentSource describes where and when an incident was raised.
type IncidentSource struct {
	CreateDate time.Time `json:"create_date" validate:"required"`
}

// MitigationData is present once an incident has been mitigated.
type MitigationData struct {
	Date time.Time `json:"date"`
}

// IsMitigated returns true if the incident has a mitigation date.
func (i *RawIncident) IsMitigated() bool {
	return i.MitigationData != nil && !i.MitigationData.Date.IsZero()
}

// ParsedIncident is a raw incident normalized to the component it affects.
type ParsedIncident struct {
	ID                      string
	AffectedComponentPath   string
	AffectedComponentStatus ComponentStatus
	CreationTime            time.Time
	MitigationTime          *time.Time
}

// NewParsedIncident builds a ParsedIncident from a raw incident and the resolved component.
func NewParsedIncident(raw RawIncident, path string, status ComponentStatus) ParsedIncident {
	parsed := ParsedIncident{
		ID:                      raw.ID,
		AffectedComponentPath:   path,
		AffectedComponentStatus: status,
		CreationTime:            raw.Source.CreateDate.UTC(),
	}
	if raw.IsMitigated() {
		mitigated := raw.MitigationData.Date.UTC()
		parsed.MitigationTime = &mitigated
	}
	return parsed
}

// IsActive returns true while the incident has not been mitigated.
func (p ParsedIncident) IsActive() bool {
	return p.MitigationTime == nil
}

// Incident is the persisted leaf entity for one parsed incident.
// One raw incident can affect several components, so the row key combines
// the incident API id with the affected path.
type Incident struct {
	IncidentAPIID           string          `json:"incident_api_id"`
	ParentRowKey            string          `json:"parent_row_key"`
	AffectedComponentPath   string          `json:"affected_component_path"`
	AffectedComponentStatus ComponentStatus `json:"affected_component_status"`
	StartTime               time.Time       `json:"start_time"`
	EndTime                 *time.Time      `json:"end_time,omitempty"`
}

// NewIncident creates an incident entity linked to the given group.
func NewIncident(parsed ParsedIncident, groupRowKey string) *Incident {
	return &Incident{
		IncidentAPIID:           parsed.ID,
		ParentRowKey:            groupRowKey,
		AffectedComponentPath:   parsed.AffectedComponentPath,
		AffectedComponentStatus: parsed.AffectedComponentStatus,
		StartTime:               parsed.CreationTime,
		EndTime:                 parsed.MitigationTime,
	}
}

// IncidentRowKey returns the row key of the incident entity for a parsed incident.
func IncidentRowKey(apiID, path string) string {
	return apiID + "_" + escapeKey(path)
}

// RowKey returns the storage key of the incident.
func (i *Incident) RowKey() string {
	return IncidentRowKey(i.IncidentAPIID, i.AffectedComponentPath)
}

// Path returns the affected component path.
func (i *Incident) Path() string { return i.AffectedComponentPath }

// Status returns the affected component status.
func (i *Incident) Status() ComponentStatus { return i.AffectedComponentStatus }

// Start returns the start time.
func (i *Incident) Start() time.Time { return i.StartTime }

// End returns the end time, nil while active.
func (i *Incident) End() *time.Time { return i.EndTime }

// IsActive returns true while the incident has no end time.
func (i *Incident) IsActive() bool { return i.EndTime == nil }
