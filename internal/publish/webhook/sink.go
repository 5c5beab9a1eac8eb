// Package webhook posts status changes to a Mattermost-compatible incoming webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "StatusAggregator"
)

// Config holds webhook sink configuration.
type Config struct {
	URL      string
	Username string
	IconURL  string
	Timeout  time.Duration
}

// Sink posts a message whenever the root status or the set of active events of a
// published document differs from the previous one. The first document only
// records the baseline.
type Sink struct {
	config     Config
	httpClient *http.Client

	mu       sync.Mutex
	previous map[string]state
}

type state struct {
	root   domain.ComponentStatus
	active map[string]domain.ExportedEvent
}

// NewSink creates a webhook sink.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink: url is required")
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Sink{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		previous:   make(map[string]state),
	}, nil
}

// Name returns "webhook".
func (s *Sink) Name() string { return "webhook" }

// SaveBlob compares the document with the previous one of the same name and
// posts the difference. A failed post keeps the previous state so the change
// is reported again on the next run.
func (s *Sink) SaveBlob(ctx context.Context, name string, data []byte) error {
	var doc domain.StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode status document: %w", err)
	}
	current := stateOf(doc)

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, seen := s.previous[name]
	if !seen {
		s.previous[name] = current
		return nil
	}

	text, changed := describeChange(previous, current)
	if !changed {
		return nil
	}

	if err := s.post(ctx, text); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("status change posted", "blob", name, "root_status", current.root, "webhook", maskURL(s.config.URL))
	s.previous[name] = current
	return nil
}

func stateOf(doc domain.StatusDocument) state {
	active := make(map[string]domain.ExportedEvent)
	for _, event := range doc.RecentEvents {
		if event.EndTime == nil {
			active[event.AffectedComponentPath] = event
		}
	}
	return state{root: doc.RootComponent.Status, active: active}
}

func describeChange(previous, current state) (string, bool) {
	var lines []string

	for _, path := range sortedKeys(current.active) {
		if _, ok := previous.active[path]; ok {
			continue
		}
		event := current.active[path]
		line := fmt.Sprintf("- **%s** affected since %s", path, event.StartTime.UTC().Format(time.RFC822))
		if n := len(event.Messages); n > 0 {
			line += ": " + event.Messages[n-1].Contents
		}
		lines = append(lines, line)
	}
	for _, path := range sortedKeys(previous.active) {
		if _, ok := current.active[path]; !ok {
			lines = append(lines, fmt.Sprintf("- **%s** recovered", path))
		}
	}

	if len(lines) == 0 && previous.root == current.root {
		return "", false
	}
	return fmt.Sprintf("### Status: %s\n\n%s", current.root, strings.Join(lines, "\n")), true
}

func sortedKeys(m map[string]domain.ExportedEvent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type webhookPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

func (s *Sink) post(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{
		Text:     text,
		Username: s.config.Username,
		IconURL:  s.config.IconURL,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Message: fmt.Sprintf("send request: %v", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &Error{Code: resp.StatusCode, Message: "invalid or expired webhook"}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Code: resp.StatusCode, Message: "webhook not found"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Code: resp.StatusCode, Message: "rate limited", Retryable: true}
	case resp.StatusCode >= 500:
		return &Error{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", body), Retryable: true}
	default:
		return &Error{Code: resp.StatusCode, Message: fmt.Sprintf("unexpected response: %s", body)}
	}
}

// maskURL hides the webhook secret for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// Error is returned when the webhook rejects a message.
type Error struct {
	Code      int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}
