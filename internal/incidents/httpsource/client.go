// Package httpsource reads incidents from the incident-management HTTP API.
package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/bissquit/status-aggregator/internal/incidents"
	"github.com/bissquit/status-aggregator/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultPageSize  = 100
	defaultRateLimit = 5.0
	tokenTTL         = 5 * time.Minute
	tokenSubject     = "status-aggregator"
	maxErrorBodySize = 1024
)

// Config holds incident API client configuration.
type Config struct {
	BaseURL    string
	SigningKey string
	Issuer     string
	PageSize   int
	RateLimit  float64 // requests per second
	Timeout    time.Duration
}

// Client implements incidents.Source over HTTP.
// Requests carry a short-lived HS256 bearer token and are rate limited.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	validate   *validator.Validate
}

// NewClient creates a new incident API client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("incident source: base url is required")
	}
	if config.SigningKey == "" {
		return nil, errors.New("incident source: signing key is required")
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("incident source configured",
		"base_url", config.BaseURL,
		"page_size", config.PageSize,
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		validate: validator.New(),
	}, nil
}

type incidentPage struct {
	Value    []domain.RawIncident `json:"value"`
	NextLink string               `json:"next_link,omitempty"`
}

// FetchIncidents follows next links until every page created at or after since is read.
// Incidents failing validation are logged and skipped.
func (c *Client) FetchIncidents(ctx context.Context, since time.Time) ([]domain.RawIncident, error) {
	logger := ctxlog.FromContext(ctx)

	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("top", strconv.Itoa(c.config.PageSize))
	next := c.config.BaseURL + "/incidents?" + query.Encode()

	var result []domain.RawIncident
	for pages := 0; next != ""; pages++ {
		var page incidentPage
		if err := c.get(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}

		for _, incident := range page.Value {
			if err := c.validate.Struct(incident); err != nil {
				logger.Warn("skipping invalid incident", "incident_id", incident.ID, "error", err)
				continue
			}
			result = append(result, incident)
		}
		next = page.NextLink
	}
	return result, nil
}

// GetIncident reads one incident.
func (c *Client) GetIncident(ctx context.Context, id string) (domain.RawIncident, error) {
	var incident domain.RawIncident
	if err := c.get(ctx, c.config.BaseURL+"/incidents/"+url.PathEscape(id), &incident); err != nil {
		return domain.RawIncident{}, err
	}
	if err := c.validate.Struct(incident); err != nil {
		return domain.RawIncident{}, fmt.Errorf("invalid incident %s: %w", id, err)
	}
	return incident, nil
}

func (c *Client) get(ctx context.Context, target string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	token, err := c.token(time.Now())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return incidents.ErrIncidentNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) token(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    c.config.Issuer,
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.config.SigningKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("incident api error %d: %s", e.Code, e.Body)
}

// IsRetryable reports whether the request may succeed on the next run.
func (e *StatusError) IsRetryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
