package httpsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/incidents"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key"

var created = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    baseURL,
		SigningKey: testSigningKey,
		Issuer:     "tests",
		PageSize:   2,
		RateLimit:  1000,
	})
	require.NoError(t, err)
	return client
}

func requireValidToken(t *testing.T, r *http.Request) {
	t.Helper()

	header := r.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(header, "Bearer "))

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(token *jwt.Token) (any, error) {
		return []byte(testSigningKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "tests", claims.Issuer)
	assert.Equal(t, tokenSubject, claims.Subject)
}

func incident(id string) domain.RawIncident {
	return domain.RawIncident{
		ID:       id,
		Title:    "Probe check 'Gallery homepage' is failing",
		Severity: 1,
		Source:   domain.IncidentSource{CreateDate: created},
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{SigningKey: "k"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)

	client, err := NewClient(Config{BaseURL: "http://localhost", SigningKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, client.config.PageSize)
	assert.Equal(t, defaultTimeout, client.config.Timeout)
	assert.NotNil(t, client.limiter)
}

func TestClient_FetchIncidents_FollowsPages(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireValidToken(t, r)
		assert.Equal(t, "/incidents", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "2026-03-01T09:00:00Z", r.URL.Query().Get("since"))
			assert.Equal(t, "2", r.URL.Query().Get("top"))
			_ = json.NewEncoder(w).Encode(incidentPage{
				Value:    []domain.RawIncident{incident("1"), incident("2")},
				NextLink: server.URL + "/incidents?page=2",
			})
		case "2":
			_ = json.NewEncoder(w).Encode(incidentPage{
				Value: []domain.RawIncident{incident("3")},
			})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.FetchIncidents(context.Background(), created.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.Equal(t, "1", result[0].ID)
	assert.Equal(t, "3", result[2].ID)
}

func TestClient_FetchIncidents_SkipsInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		invalid := incident("")
		noDate := incident("2")
		noDate.Source.CreateDate = time.Time{}
		_ = json.NewEncoder(w).Encode(incidentPage{
			Value: []domain.RawIncident{invalid, noDate, incident("3")},
		})
	}))
	defer server.Close()

	result, err := newTestClient(t, server.URL).FetchIncidents(context.Background(), created)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "3", result[0].ID)
}

func TestClient_GetIncident(t *testing.T) {
	mitigated := created.Add(time.Hour)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireValidToken(t, r)
		if r.URL.Path != "/incidents/42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		i := incident("42")
		i.MitigationData = &domain.MitigationData{Date: mitigated}
		_ = json.NewEncoder(w).Encode(i)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	got, err := client.GetIncident(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, got.IsMitigated())
	assert.True(t, mitigated.Equal(got.MitigationData.Date))

	_, err = client.GetIncident(context.Background(), "missing")
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).FetchIncidents(context.Background(), created)
			require.Error(t, err)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.code, statusErr.Code)
			assert.Equal(t, "nope", statusErr.Body)
			assert.Equal(t, tt.retryable, statusErr.IsRetryable())
		})
	}
}

func TestClient_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(incidentPage{})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server.URL).FetchIncidents(ctx, created)
	assert.Error(t, err)
}
