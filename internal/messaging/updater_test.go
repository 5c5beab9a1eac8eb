package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updaterFixture struct {
	repo    *memory.Repository
	updater *Updater
	event   *domain.Event
}

func newUpdaterFixture(t *testing.T, builder *ContentBuilder) *updaterFixture {
	t.Helper()
	repo := memory.NewRepository()

	if builder == nil {
		var err error
		builder, err = NewContentBuilder()
		require.NoError(t, err)
	}

	event := &domain.Event{
		Key:                   "Registry_Gallery_1772359200",
		AffectedComponentPath: component.GalleryPath,
		StartTime:             baseTime,
	}
	require.NoError(t, repo.SaveEvent(context.Background(), event))

	return &updaterFixture{
		repo:    repo,
		updater: NewUpdater(repo, NewChangeProvider(repo), builder, delay),
		event:   event,
	}
}

func (f *updaterFixture) addGroup(t *testing.T, key string, status domain.ComponentStatus, startAt time.Time, endAt *time.Time) {
	t.Helper()
	require.NoError(t, f.repo.SaveIncidentGroup(context.Background(), &domain.IncidentGroup{
		Key:                     key,
		ParentRowKey:            f.event.Key,
		AffectedComponentPath:   component.GalleryPath,
		AffectedComponentStatus: status,
		StartTime:               startAt,
		EndTime:                 endAt,
	}))
}

func (f *updaterFixture) messages(t *testing.T) []*domain.Message {
	t.Helper()
	messages, err := f.repo.ListMessages(context.Background(), f.event.Key)
	require.NoError(t, err)
	return messages
}

func ptr(t time.Time) *time.Time { return &t }

func TestUpdater_CreatesStartAndEnd(t *testing.T) {
	ctx := context.Background()
	f := newUpdaterFixture(t, nil)
	f.addGroup(t, "g1", domain.ComponentStatusDown, baseTime, ptr(baseTime.Add(time.Hour)))

	require.NoError(t, f.updater.Update(ctx, f.event, baseTime.Add(2*time.Hour)))

	messages := f.messages(t)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.MessageTypeStart, messages[0].Type)
	assert.Equal(t, baseTime, messages[0].Time)
	assert.Equal(t, "**Gallery is down.** You may encounter issues browsing the Gallery website.", messages[0].Contents)
	assert.Equal(t, domain.MessageTypeEnd, messages[1].Type)
	assert.Equal(t, baseTime.Add(time.Hour), messages[1].Time)

	// replaying the same state changes nothing
	require.NoError(t, f.updater.Update(ctx, f.event, baseTime.Add(3*time.Hour)))
	assert.Equal(t, messages, f.messages(t))
}

func TestUpdater_SuppressedStartAppearsLater(t *testing.T) {
	ctx := context.Background()
	f := newUpdaterFixture(t, nil)
	f.addGroup(t, "g1", domain.ComponentStatusDegraded, baseTime, nil)

	require.NoError(t, f.updater.Update(ctx, f.event, baseTime.Add(5*time.Minute)))
	assert.Empty(t, f.messages(t))

	require.NoError(t, f.updater.Update(ctx, f.event, baseTime.Add(20*time.Minute)))
	require.Len(t, f.messages(t), 1)
}

func TestUpdater_PreservesManualMessages(t *testing.T) {
	ctx := context.Background()
	f := newUpdaterFixture(t, nil)
	f.addGroup(t, "g1", domain.ComponentStatusDown, baseTime, ptr(baseTime.Add(time.Hour)))

	manualAtStart := &domain.Message{EventRowKey: f.event.Key, Time: baseTime, Contents: "Investigating.", Type: domain.MessageTypeManual}
	manualUpdate := &domain.Message{EventRowKey: f.event.Key, Time: baseTime.Add(30 * time.Minute), Contents: "Fix deployed.", Type: domain.MessageTypeManual}
	stale := &domain.Message{EventRowKey: f.event.Key, Time: baseTime.Add(10 * time.Minute), Contents: "old", Type: domain.MessageTypeStart}
	for _, m := range []*domain.Message{manualAtStart, manualUpdate, stale} {
		require.NoError(t, f.repo.SaveMessage(ctx, m))
	}

	require.NoError(t, f.updater.Update(ctx, f.event, baseTime.Add(2*time.Hour)))

	messages := f.messages(t)
	require.Len(t, messages, 3)
	assert.Equal(t, manualAtStart, messages[0])
	assert.Equal(t, manualUpdate, messages[1])
	assert.Equal(t, domain.MessageTypeEnd, messages[2].Type)
}

func TestUpdater_RenderErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	builder, err := NewContentBuilderWith(map[domain.MessageType]string{
		domain.MessageTypeStart: "{{.Name}} {{.Action}}",
		domain.MessageTypeEnd:   "{{.Name}} {{.Action}}",
	}, []ActionDescription{{component.SearchPath, "searching"}})
	require.NoError(t, err)

	f := newUpdaterFixture(t, builder)
	f.addGroup(t, "g1", domain.ComponentStatusDown, baseTime, ptr(baseTime.Add(time.Hour)))
	stale := &domain.Message{EventRowKey: f.event.Key, Time: baseTime.Add(10 * time.Minute), Contents: "old", Type: domain.MessageTypeStart}
	require.NoError(t, f.repo.SaveMessage(ctx, stale))

	err = f.updater.Update(ctx, f.event, baseTime.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrMissingActionDescription)

	assert.Equal(t, []*domain.Message{stale}, f.messages(t))
}

func TestChangeProvider_Get(t *testing.T) {
	f := newUpdaterFixture(t, nil)
	f.addGroup(t, "g2", domain.ComponentStatusDegraded, baseTime.Add(time.Minute), nil)
	f.addGroup(t, "g1", domain.ComponentStatusDown, baseTime, ptr(baseTime.Add(time.Hour)))
	require.NoError(t, f.repo.SaveIncidentGroup(context.Background(), &domain.IncidentGroup{
		Key:                     "other",
		ParentRowKey:            "another-event",
		AffectedComponentPath:   component.SearchPath,
		AffectedComponentStatus: domain.ComponentStatusDown,
		StartTime:               baseTime,
	}))

	changes, err := NewChangeProvider(f.repo).Get(context.Background(), f.event)
	require.NoError(t, err)

	require.Len(t, changes, 3)
	assert.Equal(t, "g1", changes[0].EntityRowKey)
	assert.Equal(t, domain.MessageTypeStart, changes[0].Type)
	assert.Equal(t, "g2", changes[1].EntityRowKey)
	assert.Equal(t, "g1", changes[2].EntityRowKey)
	assert.Equal(t, domain.MessageTypeEnd, changes[2].Type)
}
