//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/bissquit/status-aggregator/internal/pkg/postgres"
	storepostgres "github.com/bissquit/status-aggregator/internal/store/postgres"
	storeredis "github.com/bissquit/status-aggregator/internal/store/redis"
	"github.com/bissquit/status-aggregator/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	resetState(t)

	pool, err := postgres.Connect(ctx, postgres.Config{URL: databaseURL, MaxOpenConns: 2, ConnectAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := storepostgres.NewRepository(pool)
	storetest.RunRepository(t, repo)
	storetest.RunCursorStore(t, repo)
}

func TestRedisCursorStore(t *testing.T) {
	ctx := context.Background()

	cursors, err := storeredis.NewCursorStore(ctx, storeredis.Config{Addr: redisAddr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cursors.Close() })

	require.NoError(t, cursors.Ping(ctx))
	storetest.RunCursorStore(t, cursors)
}
