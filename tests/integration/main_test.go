//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/app"
	"github.com/bissquit/status-aggregator/internal/config"
	"github.com/bissquit/status-aggregator/internal/identity"
	"github.com/bissquit/status-aggregator/internal/testutil"
	"github.com/bissquit/status-aggregator/migrations"
)

const (
	adminSigningKey  = "admin-secret"
	sourceSigningKey = "source-secret"
	sourceIssuer     = "status-aggregator"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testApp       *app.App
	testConfig    *config.Config
	incidentAPI   *fakeIncidentAPI
	adminToken    string
	databaseURL   string
	redisAddr     string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	backends, err := testutil.StartBackends(ctx, migrations.FS)
	if err != nil {
		log.Fatalf("start backends: %v", err)
	}
	databaseURL = backends.DatabaseURL
	redisAddr = backends.RedisAddr

	sourceAuth, err := identity.NewAuthenticator(identity.Config{SigningKey: sourceSigningKey, Issuer: sourceIssuer})
	if err != nil {
		log.Fatalf("create source authenticator: %v", err)
	}
	incidentAPI = newFakeIncidentAPI(sourceAuth)
	sourceServer := httptest.NewServer(incidentAPI)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Log = config.LogConfig{Level: "error", Format: "text"}
	cfg.Storage = config.StorageConfig{Mode: config.StoragePostgres, Cursor: config.StorageRedis}
	cfg.Database.URL = databaseURL
	cfg.Database.MaxOpenConns = 5
	cfg.Database.ConnectAttempts = 3
	cfg.Redis.Addr = redisAddr
	cfg.IncidentSource.BaseURL = sourceServer.URL
	cfg.IncidentSource.SigningKey = sourceSigningKey
	cfg.IncidentSource.Issuer = sourceIssuer
	cfg.IncidentSource.RateLimit = 1000
	cfg.Admin.SigningKey = adminSigningKey
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid test config: %v", err)
	}
	testConfig = &cfg

	testApp, err = app.New(testConfig)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}
	testServer = httptest.NewServer(testApp.Router())

	adminAuth, err := identity.NewAuthenticator(identity.Config{SigningKey: adminSigningKey, Issuer: cfg.Admin.Issuer})
	if err != nil {
		log.Fatalf("create admin authenticator: %v", err)
	}
	adminToken, err = adminAuth.Issue("integration-tests", time.Hour)
	if err != nil {
		log.Fatalf("issue admin token: %v", err)
	}

	testValidator, err = testutil.LoadOpenAPIValidator(testutil.OpenAPISpecPath())
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	code := m.Run()

	testServer.Close()
	sourceServer.Close()
	testApp.Close()
	if err := backends.Terminate(ctx); err != nil {
		log.Printf("terminate backends: %v", err)
	}
	os.Exit(code)
}

// newClient returns a contract-checked client.
func newClient(t *testing.T) *testutil.Client {
	t.Helper()
	return testutil.NewClient(t, testServer.URL, testValidator)
}

// newAdminClient returns a client carrying a valid admin token.
func newAdminClient(t *testing.T) *testutil.Client {
	t.Helper()
	return newClient(t).WithToken(adminToken)
}
