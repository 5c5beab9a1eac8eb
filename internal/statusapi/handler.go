package statusapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/bissquit/status-aggregator/internal/aggregator"
	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/bissquit/status-aggregator/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// ErrNotPublished is returned before the first document is published.
var ErrNotPublished = errors.New("status has not been published yet")

// ErrComponentNotFound is returned for an unknown component path.
var ErrComponentNotFound = errors.New("component not found")

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotPublished, Status: http.StatusServiceUnavailable},
	{Error: ErrComponentNotFound, Status: http.StatusNotFound},
	{Error: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "run timed out"},
}

// Runner is the pipeline controlled by the admin routes.
type Runner interface {
	Run(ctx context.Context) (aggregator.Summary, error)
	Reset(ctx context.Context) (int, error)
}

// Handler handles HTTP requests for the status API.
type Handler struct {
	cache     *Cache
	blobName  string
	runner    Runner
	validator *validator.Validate
}

// NewHandler creates a new status handler.
func NewHandler(cache *Cache, blobName string, runner Runner) *Handler {
	return &Handler{
		cache:     cache,
		blobName:  blobName,
		runner:    runner,
		validator: validator.New(),
	}
}

// RegisterRoutes registers public read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/status", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Get("/components", h.ListComponents)
		r.Get("/component", h.GetComponent)
		r.Get("/events", h.ListEvents)
	})
}

// RegisterAdminRoutes registers routes that require a bearer token.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/run", h.TriggerRun)
		r.Post("/reset", h.Reset)
	})
}

// ComponentResponse is one node of the flattened component tree.
type ComponentResponse struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Path        string                 `json:"path"`
	Status      domain.ComponentStatus `json:"status"`
}

// EventsQuery holds the events listing filters.
type EventsQuery struct {
	Active *bool `validate:"-"`
	Limit  int   `validate:"min=0,max=100"`
}

// ResetResponse is returned by the reset route.
type ResetResponse struct {
	Deleted int `json:"deleted"`
}

// GetStatus handles GET /status and returns the document exactly as published.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.cache.Raw(h.blobName)
	if !ok {
		httputil.HandleError(r.Context(), w, ErrNotPublished, errorMappings)
		return
	}

	httputil.RawJSON(w, http.StatusOK, raw)
}

// ListComponents handles GET /status/components.
func (h *Handler) ListComponents(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.cache.Document(h.blobName)
	if !ok {
		httputil.HandleError(r.Context(), w, ErrNotPublished, errorMappings)
		return
	}

	var components []ComponentResponse
	walk(doc.RootComponent, func(c domain.ExportedComponent) bool {
		components = append(components, toResponse(c))
		return true
	})
	httputil.JSON(w, http.StatusOK, components)
}

// GetComponent handles GET /status/component?path=Registry/Gallery.
func (h *Handler) GetComponent(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.Error(w, http.StatusBadRequest, "path is required")
		return
	}

	doc, ok := h.cache.Document(h.blobName)
	if !ok {
		httputil.HandleError(r.Context(), w, ErrNotPublished, errorMappings)
		return
	}

	found, ok := find(doc.RootComponent, path)
	if !ok {
		httputil.HandleError(r.Context(), w, ErrComponentNotFound, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, found)
}

// ListEvents handles GET /status/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query, err := parseEventsQuery(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(query); err != nil {
		httputil.Error(w, http.StatusBadRequest, "limit must be between 0 and 100")
		return
	}

	doc, ok := h.cache.Document(h.blobName)
	if !ok {
		httputil.HandleError(r.Context(), w, ErrNotPublished, errorMappings)
		return
	}

	events := make([]domain.ExportedEvent, 0, len(doc.RecentEvents))
	for _, event := range doc.RecentEvents {
		if query.Active != nil && (event.EndTime == nil) != *query.Active {
			continue
		}
		events = append(events, event)
		if query.Limit > 0 && len(events) == query.Limit {
			break
		}
	}
	httputil.JSON(w, http.StatusOK, events)
}

// TriggerRun handles POST /admin/run.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())
	logger.Info("aggregation run requested", "subject", httputil.GetSubject(r.Context()))

	summary, err := h.runner.Run(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, summary)
}

// Reset handles POST /admin/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())
	logger.Warn("aggregation reset requested", "subject", httputil.GetSubject(r.Context()))

	deleted, err := h.runner.Reset(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, ResetResponse{Deleted: deleted})
}

func parseEventsQuery(r *http.Request) (EventsQuery, error) {
	var query EventsQuery
	values := r.URL.Query()

	if v := values.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return query, errors.New("active must be a boolean")
		}
		query.Active = &active
	}
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return query, errors.New("limit must be an integer")
		}
		query.Limit = limit
	}
	return query, nil
}

func toResponse(c domain.ExportedComponent) ComponentResponse {
	return ComponentResponse{
		Name:        c.Name,
		Description: c.Description,
		Path:        c.Path,
		Status:      c.Status,
	}
}

func walk(c domain.ExportedComponent, visit func(domain.ExportedComponent) bool) bool {
	if !visit(c) {
		return false
	}
	for _, sub := range c.SubComponents {
		if !walk(sub, visit) {
			return false
		}
	}
	return true
}

func find(root domain.ExportedComponent, path string) (domain.ExportedComponent, bool) {
	var found domain.ExportedComponent
	ok := false
	walk(root, func(c domain.ExportedComponent) bool {
		if c.Path == path {
			found, ok = c, true
			return false
		}
		return true
	})
	return found, ok
}
