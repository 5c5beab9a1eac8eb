package memory

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository(t *testing.T) {
	storetest.RunRepository(t, NewRepository())
}

func TestCursorStore(t *testing.T) {
	storetest.RunCursorStore(t, NewRepository())
}

func TestRepository_CopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	end := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	event := &domain.Event{Key: "Registry_Gallery_1", AffectedComponentPath: "Registry/Gallery", EndTime: &end}
	require.NoError(t, repo.SaveEvent(ctx, event))

	end = end.Add(time.Hour)
	event.AffectedComponentPath = "Registry/Search"

	got, err := repo.GetEvent(ctx, "Registry_Gallery_1")
	require.NoError(t, err)
	assert.Equal(t, "Registry/Gallery", got.AffectedComponentPath)
	assert.Equal(t, 11, got.EndTime.Hour())
}
