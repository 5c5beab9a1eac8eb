package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/component"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store"
	"github.com/bissquit/status-aggregator/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *memory.Repository
	updater *Updater
	factory *Factory
}

func newFixture(cfg Config) *fixture {
	repo := memory.NewRepository()
	updater := NewUpdater(repo, cfg)
	return &fixture{
		repo:    repo,
		updater: updater,
		factory: NewFactory(repo, NewLinker(updater), NewSeverityBump(repo)),
	}
}

func parsed(id, path string, status domain.ComponentStatus, created time.Time, mitigated *time.Time) domain.ParsedIncident {
	return domain.ParsedIncident{
		ID:                      id,
		AffectedComponentPath:   path,
		AffectedComponentStatus: status,
		CreationTime:            created,
		MitigationTime:          mitigated,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func (f *fixture) counts(t *testing.T) (incidents, groups, events int) {
	t.Helper()
	ctx := context.Background()

	i, err := f.repo.ListIncidents(ctx, store.EntityFilter{})
	require.NoError(t, err)
	g, err := f.repo.ListIncidentGroups(ctx, store.EntityFilter{})
	require.NoError(t, err)
	e, err := f.repo.ListEvents(ctx, store.EntityFilter{})
	require.NoError(t, err)
	return len(i), len(g), len(e)
}

func TestFactory_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())
	path := domain.JoinPath(component.V3GlobalPath, component.USNCInstanceName)

	first, err := f.factory.CreateIncident(ctx, parsed("INC1", path, domain.ComponentStatusDown, baseTime, nil))
	require.NoError(t, err)
	assert.True(t, first.IsActive())

	group, err := f.repo.GetIncidentGroup(ctx, first.ParentRowKey)
	require.NoError(t, err)
	assert.True(t, group.IsActive())
	assert.Equal(t, domain.ComponentStatusDown, group.AffectedComponentStatus)
	assert.Equal(t, path, group.AffectedComponentPath)

	event, err := f.repo.GetEvent(ctx, group.ParentRowKey)
	require.NoError(t, err)
	assert.True(t, event.IsActive())
	assert.Equal(t, component.RestorePath, event.AffectedComponentPath)
	assert.Equal(t, baseTime, event.StartTime)

	second, err := f.factory.CreateIncident(ctx, parsed("INC2", path, domain.ComponentStatusDegraded, baseTime.Add(5*time.Minute), nil))
	require.NoError(t, err)
	assert.Equal(t, first.ParentRowKey, second.ParentRowKey)

	group, err = f.repo.GetIncidentGroup(ctx, first.ParentRowKey)
	require.NoError(t, err)
	assert.Equal(t, domain.ComponentStatusDown, group.AffectedComponentStatus)

	incidents, groups, events := f.counts(t)
	assert.Equal(t, 2, incidents)
	assert.Equal(t, 1, groups)
	assert.Equal(t, 1, events)
}

func TestFactory_SeverityIsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())
	path := component.SearchChinaPath

	statuses := []domain.ComponentStatus{
		domain.ComponentStatusDegraded,
		domain.ComponentStatusDown,
		domain.ComponentStatusDegraded,
		domain.ComponentStatusUp,
	}

	var groupKey string
	previous := domain.ComponentStatusUp
	for i, status := range statuses {
		incident, err := f.factory.CreateIncident(ctx, parsed(
			string(rune('A'+i)), path, status, baseTime.Add(time.Duration(i)*time.Minute), nil,
		))
		require.NoError(t, err)
		if groupKey == "" {
			groupKey = incident.ParentRowKey
		}
		require.Equal(t, groupKey, incident.ParentRowKey)

		group, err := f.repo.GetIncidentGroup(ctx, groupKey)
		require.NoError(t, err)
		assert.False(t, previous.MoreSevereThan(group.AffectedComponentStatus), "status decreased at step %d", i)
		previous = group.AffectedComponentStatus
	}
	assert.Equal(t, domain.ComponentStatusDown, previous)
}

func TestFactory_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	batch := []domain.ParsedIncident{
		parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil),
		parsed("INC2", component.GalleryPath, domain.ComponentStatusDegraded, baseTime.Add(time.Minute), nil),
		parsed("INC3", component.SearchGlobalPath, domain.ComponentStatusDegraded, baseTime.Add(2*time.Minute), nil),
	}

	for run := 0; run < 2; run++ {
		for _, p := range batch {
			_, err := f.factory.CreateIncident(ctx, p)
			require.NoError(t, err)
		}
	}

	incidents, groups, events := f.counts(t)
	assert.Equal(t, 3, incidents)
	assert.Equal(t, 2, groups)
	assert.Equal(t, 2, events)
}

func TestFactory_ExistingIncidentGetsMitigated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	_, err := f.factory.CreateIncident(ctx, parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil))
	require.NoError(t, err)

	mitigated := baseTime.Add(20 * time.Minute)
	incident, err := f.factory.CreateIncident(ctx, parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, &mitigated))
	require.NoError(t, err)
	require.NotNil(t, incident.EndTime)
	assert.Equal(t, mitigated, *incident.EndTime)

	stored, err := f.repo.GetIncident(ctx, incident.RowKey())
	require.NoError(t, err)
	assert.False(t, stored.IsActive())
}

func TestFactory_TemporalCompatibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	later, err := f.factory.CreateIncident(ctx, parsed("LATE", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil))
	require.NoError(t, err)

	earlier, err := f.factory.CreateIncident(ctx, parsed("EARLY", component.GalleryPath, domain.ComponentStatusDown, baseTime.Add(-time.Hour), nil))
	require.NoError(t, err)

	assert.NotEqual(t, later.ParentRowKey, earlier.ParentRowKey)

	groups, err := f.repo.ListIncidentGroups(ctx, store.EntityFilter{})
	require.NoError(t, err)
	for _, g := range groups {
		incidents, err := f.repo.ListIncidents(ctx, store.ByParent(g.Key))
		require.NoError(t, err)
		for _, i := range incidents {
			assert.False(t, g.StartTime.After(i.StartTime), "group %s starts after incident %s", g.Key, i.RowKey())
		}
	}
}

func TestFactory_ClosedGroupIsNotReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{IncidentGroupEndDelay: 5 * time.Minute, EventEndDelay: time.Hour})

	end := baseTime.Add(10 * time.Minute)
	first, err := f.factory.CreateIncident(ctx, parsed("INC1", component.SearchGlobalPath, domain.ComponentStatusDegraded, baseTime, &end))
	require.NoError(t, err)

	// Within the group grace window: joins the same group.
	second, err := f.factory.CreateIncident(ctx, parsed("INC2", component.SearchGlobalPath, domain.ComponentStatusDegraded, end.Add(3*time.Minute), nil))
	require.NoError(t, err)
	assert.Equal(t, first.ParentRowKey, second.ParentRowKey)

	end2 := end.Add(4 * time.Minute)
	_, err = f.factory.CreateIncident(ctx, parsed("INC2", component.SearchGlobalPath, domain.ComponentStatusDegraded, end.Add(3*time.Minute), &end2))
	require.NoError(t, err)

	// After the group grace window but within the event grace window: new group, same event.
	third, err := f.factory.CreateIncident(ctx, parsed("INC3", component.SearchGlobalPath, domain.ComponentStatusDown, end2.Add(30*time.Minute), nil))
	require.NoError(t, err)
	assert.NotEqual(t, first.ParentRowKey, third.ParentRowKey)

	oldGroup, err := f.repo.GetIncidentGroup(ctx, first.ParentRowKey)
	require.NoError(t, err)
	require.False(t, oldGroup.IsActive())
	assert.Equal(t, end2, *oldGroup.EndTime)

	newGroup, err := f.repo.GetIncidentGroup(ctx, third.ParentRowKey)
	require.NoError(t, err)
	assert.Equal(t, oldGroup.ParentRowKey, newGroup.ParentRowKey)
}

func TestFactory_NewEventAfterEventGraceWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{IncidentGroupEndDelay: time.Minute, EventEndDelay: time.Minute})

	end := baseTime.Add(10 * time.Minute)
	first, err := f.factory.CreateIncident(ctx, parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, &end))
	require.NoError(t, err)

	second, err := f.factory.CreateIncident(ctx, parsed("INC2", component.GalleryPath, domain.ComponentStatusDown, end.Add(time.Hour), nil))
	require.NoError(t, err)

	firstGroup, err := f.repo.GetIncidentGroup(ctx, first.ParentRowKey)
	require.NoError(t, err)
	secondGroup, err := f.repo.GetIncidentGroup(ctx, second.ParentRowKey)
	require.NoError(t, err)
	assert.NotEqual(t, firstGroup.ParentRowKey, secondGroup.ParentRowKey)

	_, _, events := f.counts(t)
	assert.Equal(t, 2, events)
}

func TestFactory_GroupsOfSameTopLevelShareEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	a, err := f.factory.CreateIncident(ctx, parsed("A", component.V3GlobalPath, domain.ComponentStatusDown, baseTime, nil))
	require.NoError(t, err)
	b, err := f.factory.CreateIncident(ctx, parsed("B", component.V2ProtocolPath, domain.ComponentStatusDegraded, baseTime.Add(time.Minute), nil))
	require.NoError(t, err)

	groupA, err := f.repo.GetIncidentGroup(ctx, a.ParentRowKey)
	require.NoError(t, err)
	groupB, err := f.repo.GetIncidentGroup(ctx, b.ParentRowKey)
	require.NoError(t, err)

	assert.NotEqual(t, groupA.Key, groupB.Key)
	assert.Equal(t, groupA.ParentRowKey, groupB.ParentRowKey)
}

func TestFactory_RelinksOrphanedIncident(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	orphan := domain.NewIncident(parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil), "missing-group")
	require.NoError(t, f.repo.SaveIncident(ctx, orphan))

	incident, err := f.factory.CreateIncident(ctx, parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil))
	require.NoError(t, err)
	assert.NotEqual(t, "missing-group", incident.ParentRowKey)

	_, err = f.repo.GetIncidentGroup(ctx, incident.ParentRowKey)
	assert.NoError(t, err)
}

type failingEventRepo struct {
	*memory.Repository
	failures int
}

func (r *failingEventRepo) SaveEvent(ctx context.Context, event *domain.Event) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("save event: connection reset")
	}
	return r.Repository.SaveEvent(ctx, event)
}

func TestFactory_RecreatesEventAfterInterruptedCreate(t *testing.T) {
	ctx := context.Background()
	repo := &failingEventRepo{Repository: memory.NewRepository(), failures: 1}
	updater := NewUpdater(repo, Config{IncidentGroupEndDelay: time.Minute, EventEndDelay: time.Minute})
	factory := NewFactory(repo, NewLinker(updater), NewSeverityBump(repo))

	_, err := factory.CreateIncident(ctx, parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil))
	require.Error(t, err)

	mitigated := baseTime.Add(10 * time.Minute)
	incident, err := factory.CreateIncident(ctx, parsed("INC1", component.GalleryPath, domain.ComponentStatusDown, baseTime, &mitigated))
	require.NoError(t, err)

	group, err := repo.GetIncidentGroup(ctx, incident.ParentRowKey)
	require.NoError(t, err)
	event, err := repo.GetEvent(ctx, group.ParentRowKey)
	require.NoError(t, err)
	assert.Equal(t, domain.TruncatePath(component.GalleryPath, domain.EventPathDepth), event.AffectedComponentPath)
	assert.True(t, baseTime.Equal(event.StartTime))

	deactivated, err := updater.UpdateAll(ctx, baseTime.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deactivated)

	group, err = repo.GetIncidentGroup(ctx, incident.ParentRowKey)
	require.NoError(t, err)
	assert.False(t, group.IsActive())
}

func TestUpdater_Update(t *testing.T) {
	ctx := context.Background()
	grace := 10 * time.Minute

	t.Run("no children keeps group active", func(t *testing.T) {
		f := newFixture(Config{IncidentGroupEndDelay: grace})
		group := domain.NewIncidentGroup(parsed("X", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil), "event")

		deactivated, err := f.updater.Update(ctx, group, baseTime.Add(24*time.Hour))
		require.NoError(t, err)
		assert.False(t, deactivated)
		assert.True(t, group.IsActive())
	})

	t.Run("active child keeps group active", func(t *testing.T) {
		f := newFixture(Config{IncidentGroupEndDelay: grace})
		incident, err := f.factory.CreateIncident(ctx, parsed("X", component.GalleryPath, domain.ComponentStatusDown, baseTime, nil))
		require.NoError(t, err)
		group, err := f.repo.GetIncidentGroup(ctx, incident.ParentRowKey)
		require.NoError(t, err)

		deactivated, err := f.updater.Update(ctx, group, baseTime.Add(24*time.Hour))
		require.NoError(t, err)
		assert.False(t, deactivated)
	})

	t.Run("ended children within grace keep group active", func(t *testing.T) {
		f := newFixture(Config{IncidentGroupEndDelay: grace})
		end := baseTime.Add(time.Hour)
		incident, err := f.factory.CreateIncident(ctx, parsed("X", component.GalleryPath, domain.ComponentStatusDown, baseTime, &end))
		require.NoError(t, err)
		group, err := f.repo.GetIncidentGroup(ctx, incident.ParentRowKey)
		require.NoError(t, err)

		deactivated, err := f.updater.Update(ctx, group, end.Add(grace-time.Second))
		require.NoError(t, err)
		assert.False(t, deactivated)
	})

	t.Run("ended children after grace close group at latest end", func(t *testing.T) {
		f := newFixture(Config{IncidentGroupEndDelay: grace})
		end1 := baseTime.Add(time.Hour)
		end2 := baseTime.Add(2 * time.Hour)
		first, err := f.factory.CreateIncident(ctx, parsed("X", component.GalleryPath, domain.ComponentStatusDown, baseTime, &end1))
		require.NoError(t, err)
		_, err = f.factory.CreateIncident(ctx, parsed("Y", component.GalleryPath, domain.ComponentStatusDown, baseTime.Add(time.Minute), &end2))
		require.NoError(t, err)
		group, err := f.repo.GetIncidentGroup(ctx, first.ParentRowKey)
		require.NoError(t, err)

		ref := end2.Add(grace)
		deactivated, err := f.updater.Update(ctx, group, ref)
		require.NoError(t, err)
		assert.True(t, deactivated)
		require.NotNil(t, group.EndTime)
		assert.Equal(t, end2, *group.EndTime)

		stored, err := f.repo.GetIncidentGroup(ctx, group.Key)
		require.NoError(t, err)
		assert.Equal(t, end2, *stored.EndTime)

		deactivated, err = f.updater.Update(ctx, stored, ref)
		require.NoError(t, err)
		assert.False(t, deactivated)
		assert.Equal(t, end2, *stored.EndTime)
	})
}

func TestUpdater_UpdateAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{IncidentGroupEndDelay: time.Minute, EventEndDelay: time.Minute})

	end := baseTime.Add(30 * time.Minute)
	closed, err := f.factory.CreateIncident(ctx, parsed("A", component.GalleryPath, domain.ComponentStatusDown, baseTime, &end))
	require.NoError(t, err)
	open, err := f.factory.CreateIncident(ctx, parsed("B", component.SearchGlobalPath, domain.ComponentStatusDown, baseTime, nil))
	require.NoError(t, err)

	deactivated, err := f.updater.UpdateAll(ctx, end.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deactivated)

	closedGroup, err := f.repo.GetIncidentGroup(ctx, closed.ParentRowKey)
	require.NoError(t, err)
	assert.False(t, closedGroup.IsActive())
	closedEvent, err := f.repo.GetEvent(ctx, closedGroup.ParentRowKey)
	require.NoError(t, err)
	require.False(t, closedEvent.IsActive())
	assert.Equal(t, end, *closedEvent.EndTime)

	openGroup, err := f.repo.GetIncidentGroup(ctx, open.ParentRowKey)
	require.NoError(t, err)
	assert.True(t, openGroup.IsActive())
}

func TestUnusedKey(t *testing.T) {
	taken := map[string]bool{"k": true, "k-1": true}
	key, err := unusedKey("k", func(key string) error {
		if taken[key] {
			return nil
		}
		return store.ErrNotFound
	})
	require.NoError(t, err)
	assert.Equal(t, "k-2", key)
}
