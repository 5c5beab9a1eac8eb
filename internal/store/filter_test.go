package store

import (
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestEntityFilter_Matches(t *testing.T) {
	active := &domain.IncidentGroup{Key: "a", ParentRowKey: "event", AffectedComponentPath: "Registry/Gallery", StartTime: base}
	ended := &domain.IncidentGroup{Key: "b", ParentRowKey: "event", AffectedComponentPath: "Registry/Search", StartTime: base.Add(-2 * time.Hour), EndTime: ptr(base.Add(-time.Hour))}

	tests := []struct {
		name   string
		filter EntityFilter
		active bool
		ended  bool
	}{
		{"empty", EntityFilter{}, true, true},
		{"path", ByPath("Registry/Search"), false, true},
		{"parent", ByParent("event"), true, true},
		{"other parent", ByParent("other"), false, false},
		{"active", Active(), true, false},
		{"started before", EntityFilter{StartedAtOrBefore: ptr(base.Add(-time.Minute))}, false, true},
		{"started at", EntityFilter{StartedAtOrBefore: ptr(base)}, true, true},
		{"ended at or after", EntityFilter{ActiveOrEndedAtOrAfter: ptr(base.Add(-time.Hour))}, true, true},
		{"ended too early", EntityFilter{ActiveOrEndedAtOrAfter: ptr(base.Add(-time.Minute))}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.active, tt.filter.Matches(active, active.ParentRowKey))
			assert.Equal(t, tt.ended, tt.filter.Matches(ended, ended.ParentRowKey))
		})
	}
}

func TestSortEntities(t *testing.T) {
	entities := []*domain.Event{
		{Key: "c", StartTime: base.Add(time.Hour)},
		{Key: "b", StartTime: base},
		{Key: "a", StartTime: base},
	}

	SortEntities(entities)

	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
