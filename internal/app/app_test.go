package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/config"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, adminKey string) *App {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Log.Level = "error"
	cfg.Admin.SigningKey = adminKey
	cfg.Publish.Directory = t.TempDir()
	require.NoError(t, cfg.Validate())

	a, err := New(&cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func get(t *testing.T, a *App, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestApp_SystemRoutes(t *testing.T) {
	a := newTestApp(t, "")

	assert.Equal(t, http.StatusOK, get(t, a, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, a, "/readyz").Code)

	rec := get(t, a, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestApp_RunOncePublishes(t *testing.T) {
	a := newTestApp(t, "")

	assert.Equal(t, http.StatusServiceUnavailable, get(t, a, "/api/v1/status").Code)

	summary, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Fetched)

	rec := get(t, a, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc domain.StatusDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, domain.ComponentStatusUp, doc.RootComponent.Status)
	assert.Empty(t, doc.RecentEvents)
}

func TestApp_AdminRoutesDisabledWithoutKey(t *testing.T) {
	a := newTestApp(t, "")

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_AdminRun(t *testing.T) {
	a := newTestApp(t, "admin-secret")

	auth, err := identity.NewAuthenticator(identity.Config{SigningKey: "admin-secret", Issuer: a.config.Admin.Issuer})
	require.NoError(t, err)
	token, err := auth.Issue("ops", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id"`)

	assert.Equal(t, http.StatusOK, get(t, a, "/api/v1/status").Code)
}

func TestApp_Shutdown(t *testing.T) {
	a := newTestApp(t, "")

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run() }()

	require.Eventually(t, func() bool {
		_, ok := a.cache.Raw(a.config.Publish.BlobName)
		return ok
	}, 5*time.Second, 10*time.Millisecond, "loop runs immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
