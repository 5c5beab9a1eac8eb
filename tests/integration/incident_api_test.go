//go:build integration

package integration

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/identity"
	"github.com/bissquit/status-aggregator/internal/incidents"
)

// fakeIncidentAPI serves a StaticSource over the incident API wire format.
type fakeIncidentAPI struct {
	mu     sync.Mutex
	source *incidents.StaticSource
	auth   *identity.Authenticator
}

func newFakeIncidentAPI(auth *identity.Authenticator) *fakeIncidentAPI {
	return &fakeIncidentAPI{source: incidents.NewStaticSource(), auth: auth}
}

func (f *fakeIncidentAPI) Put(list ...domain.RawIncident) {
	f.current().Put(list...)
}

// Clear drops every incident.
func (f *fakeIncidentAPI) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = incidents.NewStaticSource()
}

func (f *fakeIncidentAPI) current() *incidents.StaticSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *fakeIncidentAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if _, err := f.auth.ValidateToken(r.Context(), token); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/incidents":
		var since time.Time
		if v := r.URL.Query().Get("since"); v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			since = parsed
		}
		list, _ := f.current().FetchIncidents(r.Context(), since)
		writeJSON(w, map[string]any{"value": list})

	case strings.HasPrefix(r.URL.Path, "/incidents/"):
		incident, err := f.current().GetIncident(r.Context(), strings.TrimPrefix(r.URL.Path, "/incidents/"))
		if errors.Is(err, incidents.ErrIncidentNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, incident)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
