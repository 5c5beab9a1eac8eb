package testutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/bissquit/status-aggregator/internal/pkg/postgres"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	redisImage    = "redis:7-alpine"
	redisPort     = "6379/tcp"
	startTimeout  = 60 * time.Second
)

// Backends holds the storage containers used by integration tests.
type Backends struct {
	DatabaseURL string
	RedisAddr   string

	containers []testcontainers.Container
}

// StartBackends starts PostgreSQL and Redis and applies migrations to the
// database. Containers already started are terminated when a later step fails.
func StartBackends(ctx context.Context, migrations fs.FS) (b *Backends, err error) {
	b = &Backends{}
	defer func() {
		if err != nil {
			_ = b.Terminate(context.Background())
			b = nil
		}
	}()

	pg, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("statusaggregator"),
		tcpostgres.WithUsername("aggregator"),
		tcpostgres.WithPassword("aggregator"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	b.containers = append(b.containers, pg)

	if b.DatabaseURL, err = pg.ConnectionString(ctx, "sslmode=disable"); err != nil {
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}
	if err = postgres.Migrate(migrations, b.DatabaseURL, postgres.MigrateUp); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	redis, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{redisPort},
			WaitingFor:   wait.ForListeningPort(redisPort).WithStartupTimeout(startTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}
	b.containers = append(b.containers, redis)

	if b.RedisAddr, err = redis.PortEndpoint(ctx, redisPort, ""); err != nil {
		return nil, fmt.Errorf("redis endpoint: %w", err)
	}
	return b, nil
}

// Terminate stops every started container.
func (b *Backends) Terminate(ctx context.Context) error {
	var errs []error
	for i := len(b.containers) - 1; i >= 0; i-- {
		if err := b.containers[i].Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.containers = nil
	return errors.Join(errs...)
}
