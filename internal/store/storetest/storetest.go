// Package storetest holds behaviour checks shared by every store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// RunRepository checks a Repository. The repository must be empty.
func RunRepository(t *testing.T, repo store.Repository) {
	t.Run("incidents", func(t *testing.T) { testIncidents(t, repo) })
	t.Run("groups and events", func(t *testing.T) { testAggregations(t, repo) })
	t.Run("messages", func(t *testing.T) { testMessages(t, repo) })
	t.Run("delete all", func(t *testing.T) { testDeleteAll(t, repo) })
}

// RunCursorStore checks a CursorStore.
func RunCursorStore(t *testing.T, cursors store.CursorStore) {
	ctx := context.Background()
	require.NoError(t, cursors.DeleteCursors(ctx))

	value, err := cursors.GetCursor(ctx, "incidents")
	require.NoError(t, err)
	assert.True(t, value.IsZero(), "unset cursors are zero")

	local := base.In(time.FixedZone("UTC+3", 3*60*60))
	require.NoError(t, cursors.SetCursor(ctx, "incidents", local))
	require.NoError(t, cursors.SetCursor(ctx, "other", base.Add(time.Hour)))

	value, err = cursors.GetCursor(ctx, "incidents")
	require.NoError(t, err)
	assert.True(t, base.Equal(value))
	assert.Equal(t, time.UTC, value.Location())

	require.NoError(t, cursors.SetCursor(ctx, "incidents", base.Add(time.Minute)))
	value, err = cursors.GetCursor(ctx, "incidents")
	require.NoError(t, err)
	assert.True(t, base.Add(time.Minute).Equal(value), "set overwrites")

	require.NoError(t, cursors.DeleteCursors(ctx))
	for _, name := range []string{"incidents", "other"} {
		value, err = cursors.GetCursor(ctx, name)
		require.NoError(t, err)
		assert.True(t, value.IsZero(), name)
	}
}

func testIncidents(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	_, err := repo.GetIncident(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	first := &domain.Incident{
		IncidentAPIID:           "100",
		ParentRowKey:            "group-a",
		AffectedComponentPath:   "Registry/Gallery",
		AffectedComponentStatus: domain.ComponentStatusDown,
		StartTime:               base.Add(time.Hour),
	}
	second := &domain.Incident{
		IncidentAPIID:           "101",
		ParentRowKey:            "group-b",
		AffectedComponentPath:   "Registry/Search",
		AffectedComponentStatus: domain.ComponentStatusDegraded,
		StartTime:               base,
		EndTime:                 ptr(base.Add(30 * time.Minute)),
	}
	require.NoError(t, repo.SaveIncident(ctx, first))
	require.NoError(t, repo.SaveIncident(ctx, second))

	got, err := repo.GetIncident(ctx, first.RowKey())
	require.NoError(t, err)
	assert.Equal(t, first.IncidentAPIID, got.IncidentAPIID)
	assert.Equal(t, first.ParentRowKey, got.ParentRowKey)
	assert.Equal(t, first.AffectedComponentStatus, got.AffectedComponentStatus)
	assert.True(t, first.StartTime.Equal(got.StartTime))
	assert.Nil(t, got.EndTime)

	all, err := repo.ListIncidents(ctx, store.EntityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.RowKey(), all[0].RowKey(), "ordered by start time")

	active, err := repo.ListIncidents(ctx, store.Active())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.RowKey(), active[0].RowKey())

	children, err := repo.ListIncidents(ctx, store.ByParent("group-b"))
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, second.RowKey(), children[0].RowKey())

	// replacing by row key closes the incident
	first.EndTime = ptr(base.Add(2 * time.Hour))
	require.NoError(t, repo.SaveIncident(ctx, first))
	active, err = repo.ListIncidents(ctx, store.Active())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func testAggregations(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	event := &domain.Event{
		Key:                   domain.AggregationRowKey("Registry/Gallery", base),
		AffectedComponentPath: "Registry/Gallery",
		StartTime:             base,
	}
	ended := &domain.Event{
		Key:                   domain.AggregationRowKey("Registry/Search", base.Add(-48*time.Hour)),
		AffectedComponentPath: "Registry/Search",
		StartTime:             base.Add(-48 * time.Hour),
		EndTime:               ptr(base.Add(-47 * time.Hour)),
	}
	require.NoError(t, repo.SaveEvent(ctx, event))
	require.NoError(t, repo.SaveEvent(ctx, ended))

	group := &domain.IncidentGroup{
		Key:                     domain.AggregationRowKey("Registry/Gallery", base.Add(time.Minute)),
		ParentRowKey:            event.Key,
		AffectedComponentPath:   "Registry/Gallery",
		AffectedComponentStatus: domain.ComponentStatusDown,
		StartTime:               base.Add(time.Minute),
	}
	require.NoError(t, repo.SaveIncidentGroup(ctx, group))

	gotGroup, err := repo.GetIncidentGroup(ctx, group.Key)
	require.NoError(t, err)
	assert.Equal(t, event.Key, gotGroup.ParentRowKey)
	assert.Equal(t, domain.ComponentStatusDown, gotGroup.Status())

	_, err = repo.GetEvent(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetIncidentGroup(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	groups, err := repo.ListIncidentGroups(ctx, store.ByPath("Registry/Gallery"))
	require.NoError(t, err)
	require.Len(t, groups, 1)

	events, err := repo.ListEvents(ctx, store.ByPath("Registry/Search"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ended.Key, events[0].Key)
	require.NotNil(t, events[0].EndTime)
	assert.True(t, ended.EndTime.Equal(*events[0].EndTime))

	visible, err := repo.ListEvents(ctx, store.EntityFilter{ActiveOrEndedAtOrAfter: ptr(base.Add(-24 * time.Hour))})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, event.Key, visible[0].Key)

	started, err := repo.ListEvents(ctx, store.EntityFilter{StartedAtOrBefore: ptr(base.Add(-time.Hour))})
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, ended.Key, started[0].Key)

	// events have no parent, so a parent filter matches nothing
	orphans, err := repo.ListEvents(ctx, store.ByParent(event.Key))
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func testMessages(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	eventKey := domain.AggregationRowKey("Registry/Gallery", base)

	later := &domain.Message{EventRowKey: eventKey, Time: base.Add(time.Hour), Contents: "ended", Type: domain.MessageTypeEnd}
	earlier := &domain.Message{EventRowKey: eventKey, Time: base, Contents: "started", Type: domain.MessageTypeStart}
	other := &domain.Message{EventRowKey: "other", Time: base, Contents: "elsewhere", Type: domain.MessageTypeManual}
	for _, m := range []*domain.Message{later, earlier, other} {
		require.NoError(t, repo.SaveMessage(ctx, m))
	}

	messages, err := repo.ListMessages(ctx, eventKey)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "started", messages[0].Contents)
	assert.Equal(t, "ended", messages[1].Contents)

	earlier.Contents = "started again"
	require.NoError(t, repo.SaveMessage(ctx, earlier))
	messages, err = repo.ListMessages(ctx, eventKey)
	require.NoError(t, err)
	require.Len(t, messages, 2, "time is unique per event")
	assert.Equal(t, "started again", messages[0].Contents)

	require.NoError(t, repo.DeleteMessage(ctx, eventKey, base.Add(time.Hour)))
	require.NoError(t, repo.DeleteMessage(ctx, eventKey, base.Add(5*time.Hour)), "missing messages are ignored")
	messages, err = repo.ListMessages(ctx, eventKey)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	messages, err = repo.ListMessages(ctx, "other")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsManual())
}

func testDeleteAll(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	// left behind by the previous subtests: 2 incidents, 1 group, 2 events, 2 messages
	deleted, err := repo.DeleteAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)

	incidents, err := repo.ListIncidents(ctx, store.EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, incidents)
	events, err := repo.ListEvents(ctx, store.EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	deleted, err = repo.DeleteAll(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
