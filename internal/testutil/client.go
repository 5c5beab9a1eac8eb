package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"
)

// Client calls a running status API and checks every exchange against the contract.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Validator  *OpenAPIValidator
	t          *testing.T
}

// NewClient creates a client. A nil validator disables contract checks.
func NewClient(t *testing.T, baseURL string, validator *OpenAPIValidator) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Validator:  validator,
		t:          t,
	}
}

// WithToken returns a copy of the client sending the bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.Token = token
	return &clone
}

// GET sends a GET request.
func (c *Client) GET(path string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path)
}

// POST sends an empty POST request.
func (c *Client) POST(path string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path)
}

func (c *Client) do(method, path string) *http.Response {
	c.t.Helper()

	req, err := http.NewRequest(method, c.BaseURL+path, nil)
	if err != nil {
		c.t.Fatalf("create request: %v", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })

	if c.Validator != nil {
		c.Validator.CheckResponse(c.t, req, resp)
	}
	return resp
}

// DecodeJSON decodes a response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode response %q: %v", truncate(string(body), 200), err)
	}
}
