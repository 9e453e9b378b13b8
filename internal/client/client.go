// Package client is a typed HTTP client for the reasond REST surface. It is
// used by the MCP adapter and by tools that re-enter the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reasond/internal/core"
)

// Client talks to one reasond server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return core.WrapError(core.KindInternal, err, "request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError maps a taxonomy wire payload back onto a core.Error.
func decodeError(status int, body []byte) error {
	var wire core.ErrorResponse
	if err := json.Unmarshal(body, &wire); err != nil || wire.ErrorType == "" {
		return core.NewError(core.KindInternal, "server returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	kind := kindFromWire(wire.ErrorType)
	e := core.NewError(kind, "%s", wire.Error)
	if wire.Details != "" {
		e = e.WithDetails("%s", wire.Details)
	}
	return e
}

func kindFromWire(errorType string) core.Kind {
	for k := core.KindInternal; k <= core.KindResourceLimit; k++ {
		if k.String() == errorType {
			return k
		}
	}
	return core.KindInternal
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) (core.HealthResponse, error) {
	var out core.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// Metrics fetches the /metrics snapshot.
func (c *Client) Metrics(ctx context.Context) (core.MetricsSnapshot, error) {
	var out core.MetricsSnapshot
	err := c.do(ctx, http.MethodGet, "/metrics", nil, &out)
	return out, err
}

// CreateSession opens a rule session.
func (c *Client) CreateSession(ctx context.Context, req core.CreateSessionRequest) (core.SessionResponse, error) {
	var out core.SessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions", req, &out)
	return out, err
}

// GetSession fetches one rule session.
func (c *Client) GetSession(ctx context.Context, id string) (core.SessionResponse, error) {
	var out core.SessionResponse
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &out)
	return out, err
}

// ListSessions lists a principal's rule sessions.
func (c *Client) ListSessions(ctx context.Context, principal string) (core.SessionListResponse, error) {
	var out core.SessionListResponse
	err := c.do(ctx, http.MethodGet, "/sessions/principal/"+principal, nil, &out)
	return out, err
}

// Terminate ends a rule session.
func (c *Client) Terminate(ctx context.Context, id string) (core.TerminateResponse, error) {
	var out core.TerminateResponse
	err := c.do(ctx, http.MethodDelete, "/sessions/"+id, nil, &out)
	return out, err
}

// Evaluate runs a script in a rule session.
func (c *Client) Evaluate(ctx context.Context, id string, req core.EvalRequest) (core.EvalResult, error) {
	var out core.EvalResult
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/evaluate", req, &out)
	return out, err
}

// CreateLogicSession opens a logic session.
func (c *Client) CreateLogicSession(ctx context.Context, req core.CreateSessionRequest) (core.SessionResponse, error) {
	var out core.SessionResponse
	err := c.do(ctx, http.MethodPost, "/devils/sessions", req, &out)
	return out, err
}

// GetLogicSession fetches one logic session.
func (c *Client) GetLogicSession(ctx context.Context, id string) (core.SessionResponse, error) {
	var out core.SessionResponse
	err := c.do(ctx, http.MethodGet, "/devils/sessions/"+id, nil, &out)
	return out, err
}

// TerminateLogicSession ends a logic session.
func (c *Client) TerminateLogicSession(ctx context.Context, id string) (core.TerminateResponse, error) {
	var out core.TerminateResponse
	err := c.do(ctx, http.MethodDelete, "/devils/sessions/"+id, nil, &out)
	return out, err
}

// Query runs a goal in a logic session.
func (c *Client) Query(ctx context.Context, id string, req core.QueryRequest) (core.QueryResponse, error) {
	var out core.QueryResponse
	err := c.do(ctx, http.MethodPost, "/devils/sessions/"+id+"/query", req, &out)
	return out, err
}

// Consult loads clauses into a logic session.
func (c *Client) Consult(ctx context.Context, id string, clauses []string) (core.ConsultResponse, error) {
	var out core.ConsultResponse
	err := c.do(ctx, http.MethodPost, "/devils/sessions/"+id+"/consult", core.ConsultRequest{Clauses: clauses}, &out)
	return out, err
}

// Retract removes a clause from a logic session.
func (c *Client) Retract(ctx context.Context, id string, req core.RetractRequest) (core.RetractResponse, error) {
	var out core.RetractResponse
	err := c.do(ctx, http.MethodPost, "/devils/sessions/"+id+"/retract", req, &out)
	return out, err
}
