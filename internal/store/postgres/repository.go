// Package postgres provides PostgreSQL implementation of the entity and cursor stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements store.Repository and store.CursorStore using PostgreSQL.
type Repository struct {
	db querier
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `incident_api_id, parent_row_key, affected_component_path,
	affected_component_status, start_time, end_time`

// GetIncident retrieves an incident by row key.
func (r *Repository) GetIncident(ctx context.Context, rowKey string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE row_key = $1`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, rowKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents retrieves incidents matching the filter.
func (r *Repository) ListIncidents(ctx context.Context, filter store.EntityFilter) ([]*domain.Incident, error) {
	where, args := buildWhere(filter, true)
	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + ` ORDER BY start_time, row_key`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

// SaveIncident inserts or replaces an incident.
func (r *Repository) SaveIncident(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			row_key, incident_api_id, parent_row_key, affected_component_path,
			affected_component_status, start_time, end_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (row_key) DO UPDATE SET
			parent_row_key = EXCLUDED.parent_row_key,
			affected_component_status = EXCLUDED.affected_component_status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time
	`
	_, err := r.db.Exec(ctx, query,
		incident.RowKey(),
		incident.IncidentAPIID,
		incident.ParentRowKey,
		incident.AffectedComponentPath,
		incident.AffectedComponentStatus,
		incident.StartTime,
		incident.EndTime,
	)
	if err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

const groupColumns = `row_key, parent_row_key, affected_component_path,
	affected_component_status, start_time, end_time`

// GetIncidentGroup retrieves a group by row key.
func (r *Repository) GetIncidentGroup(ctx context.Context, rowKey string) (*domain.IncidentGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM incident_groups WHERE row_key = $1`
	group, err := scanGroup(r.db.QueryRow(ctx, query, rowKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get incident group: %w", err)
	}
	return group, nil
}

// ListIncidentGroups retrieves groups matching the filter.
func (r *Repository) ListIncidentGroups(ctx context.Context, filter store.EntityFilter) ([]*domain.IncidentGroup, error) {
	where, args := buildWhere(filter, true)
	query := `SELECT ` + groupColumns + ` FROM incident_groups` + where + ` ORDER BY start_time, row_key`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incident groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*domain.IncidentGroup, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident groups: %w", err)
	}
	return groups, nil
}

// SaveIncidentGroup inserts or replaces a group.
func (r *Repository) SaveIncidentGroup(ctx context.Context, group *domain.IncidentGroup) error {
	query := `
		INSERT INTO incident_groups (
			row_key, parent_row_key, affected_component_path,
			affected_component_status, start_time, end_time
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (row_key) DO UPDATE SET
			parent_row_key = EXCLUDED.parent_row_key,
			affected_component_status = EXCLUDED.affected_component_status,
			end_time = EXCLUDED.end_time
	`
	_, err := r.db.Exec(ctx, query,
		group.Key,
		group.ParentRowKey,
		group.AffectedComponentPath,
		group.AffectedComponentStatus,
		group.StartTime,
		group.EndTime,
	)
	if err != nil {
		return fmt.Errorf("save incident group: %w", err)
	}
	return nil
}

const eventColumns = `row_key, affected_component_path, start_time, end_time`

// GetEvent retrieves an event by row key.
func (r *Repository) GetEvent(ctx context.Context, rowKey string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE row_key = $1`
	event, err := scanEvent(r.db.QueryRow(ctx, query, rowKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListEvents retrieves events matching the filter.
func (r *Repository) ListEvents(ctx context.Context, filter store.EntityFilter) ([]*domain.Event, error) {
	where, args := buildWhere(filter, false)
	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY start_time, row_key`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// SaveEvent inserts or replaces an event.
func (r *Repository) SaveEvent(ctx context.Context, event *domain.Event) error {
	query := `
		INSERT INTO events (row_key, affected_component_path, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (row_key) DO UPDATE SET end_time = EXCLUDED.end_time
	`
	_, err := r.db.Exec(ctx, query, event.Key, event.AffectedComponentPath, event.StartTime, event.EndTime)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// ListMessages retrieves the messages of an event ordered by time.
func (r *Repository) ListMessages(ctx context.Context, eventRowKey string) ([]*domain.Message, error) {
	query := `
		SELECT event_row_key, message_time, contents, type
		FROM messages
		WHERE event_row_key = $1
		ORDER BY message_time
	`
	rows, err := r.db.Query(ctx, query, eventRowKey)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.EventRowKey, &m.Time, &m.Contents, &m.Type); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Time = m.Time.UTC()
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// SaveMessage inserts or replaces a message.
func (r *Repository) SaveMessage(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (event_row_key, message_time, contents, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_row_key, message_time) DO UPDATE SET
			contents = EXCLUDED.contents,
			type = EXCLUDED.type
	`
	_, err := r.db.Exec(ctx, query, message.EventRowKey, message.Time, message.Contents, message.Type)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message. Deleting a missing message is not an error.
func (r *Repository) DeleteMessage(ctx context.Context, eventRowKey string, t time.Time) error {
	_, err := r.db.Exec(ctx, `DELETE FROM messages WHERE event_row_key = $1 AND message_time = $2`, eventRowKey, t)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteAll removes every entity, batchSize rows per statement, leaves first.
func (r *Repository) DeleteAll(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	tables := []string{"messages", "incidents", "incident_groups", "events"}

	total := 0
	for _, table := range tables {
		query := fmt.Sprintf(`DELETE FROM %[1]s WHERE ctid IN (SELECT ctid FROM %[1]s LIMIT $1)`, table)
		for {
			if err := ctx.Err(); err != nil {
				return total, fmt.Errorf("delete %s: %w", table, err)
			}
			tag, err := r.db.Exec(ctx, query, batchSize)
			if err != nil {
				return total, fmt.Errorf("delete %s: %w", table, err)
			}
			total += int(tag.RowsAffected())
			if tag.RowsAffected() < int64(batchSize) {
				break
			}
		}
	}
	return total, nil
}

// GetCursor returns a stored cursor or the zero time.
func (r *Repository) GetCursor(ctx context.Context, name string) (time.Time, error) {
	var value time.Time
	err := r.db.QueryRow(ctx, `SELECT value FROM cursors WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}
	return value.UTC(), nil
}

// SetCursor stores a cursor.
func (r *Repository) SetCursor(ctx context.Context, name string, value time.Time) error {
	query := `
		INSERT INTO cursors (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := r.db.Exec(ctx, query, name, value.UTC()); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// DeleteCursors removes every cursor.
func (r *Repository) DeleteCursors(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cursors`); err != nil {
		return fmt.Errorf("delete cursors: %w", err)
	}
	return nil
}

// buildWhere translates an EntityFilter into a WHERE clause.
// Tables without a parent reference ignore ParentRowKey filters by matching nothing.
func buildWhere(filter store.EntityFilter, hasParent bool) (string, []any) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.Path != nil {
		conditions = append(conditions, fmt.Sprintf("affected_component_path = $%d", argNum))
		args = append(args, *filter.Path)
		argNum++
	}

	if filter.ParentRowKey != nil {
		if hasParent {
			conditions = append(conditions, fmt.Sprintf("parent_row_key = $%d", argNum))
			args = append(args, *filter.ParentRowKey)
			argNum++
		} else {
			conditions = append(conditions, "FALSE")
		}
	}

	if filter.ActiveOnly {
		conditions = append(conditions, "end_time IS NULL")
	}

	if filter.StartedAtOrBefore != nil {
		conditions = append(conditions, fmt.Sprintf("start_time <= $%d", argNum))
		args = append(args, *filter.StartedAtOrBefore)
		argNum++
	}

	if filter.ActiveOrEndedAtOrAfter != nil {
		conditions = append(conditions, fmt.Sprintf("(end_time IS NULL OR end_time >= $%d)", argNum))
		args = append(args, *filter.ActiveOrEndedAtOrAfter)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.IncidentAPIID,
		&incident.ParentRowKey,
		&incident.AffectedComponentPath,
		&incident.AffectedComponentStatus,
		&incident.StartTime,
		&incident.EndTime,
	)
	if err != nil {
		return nil, err
	}
	incident.StartTime = incident.StartTime.UTC()
	incident.EndTime = utcPtr(incident.EndTime)
	return &incident, nil
}

func scanGroup(row pgx.Row) (*domain.IncidentGroup, error) {
	var group domain.IncidentGroup
	err := row.Scan(
		&group.Key,
		&group.ParentRowKey,
		&group.AffectedComponentPath,
		&group.AffectedComponentStatus,
		&group.StartTime,
		&group.EndTime,
	)
	if err != nil {
		return nil, err
	}
	group.StartTime = group.StartTime.UTC()
	group.EndTime = utcPtr(group.EndTime)
	return &group, nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var event domain.Event
	err := row.Scan(&event.Key, &event.AffectedComponentPath, &event.StartTime, &event.EndTime)
	if err != nil {
		return nil, err
	}
	event.StartTime = event.StartTime.UTC()
	event.EndTime = utcPtr(event.EndTime)
	return &event, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
