// Package nomad is a minimal Nomad HTTP API client covering exactly the
// calls a synchronous job dispatch needs: dispatch, evaluation
// allocations, log frames, allocation status, and deregistration.
package nomad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client communicates with the Nomad HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Nomad API client. An empty Address falls back to
// DefaultAddress; a zero Timeout means no client-side timeout.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger.With("component", "nomad"),
	}
}

// Dispatch instantiates a parameterized job. The payload, if any, goes
// out base64-encoded as the API requires.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResponse, error) {
	body := struct {
		Meta             map[string]string `json:"Meta,omitempty"`
		Payload          []byte            `json:"Payload,omitempty"`
		IdPrefixTemplate string            `json:"IdPrefixTemplate,omitempty"`
	}{req.Meta, req.Payload, req.IDPrefixTemplate}

	var out DispatchResponse
	err := c.do(ctx, http.MethodPost, "/v1/job/"+url.PathEscape(req.JobID)+"/dispatch", nil, body, &out)
	return out, err
}

// EvalAllocations lists the allocations produced by an evaluation.
// A young evaluation may legitimately return none.
func (c *Client) EvalAllocations(ctx context.Context, evalID string) ([]Allocation, error) {
	var out []Allocation
	err := c.do(ctx, http.MethodGet, "/v1/evaluation/"+url.PathEscape(evalID)+"/allocations", nil, nil, &out)
	return out, err
}

// LogChunk fetches a single log frame for one task stream at the given
// offset. The zero LogChunk is returned when the server has nothing new.
func (c *Client) LogChunk(ctx context.Context, allocID, task, logType string, offset int64) (LogChunk, error) {
	q := url.Values{
		"task":   {task},
		"type":   {logType},
		"origin": {"start"},
		"offset": {strconv.FormatInt(offset, 10)},
	}

	var out LogChunk
	err := c.do(ctx, http.MethodGet, "/v1/client/fs/logs/"+url.PathEscape(allocID), q, nil, &out)
	return out, err
}

// Allocation fetches the current client status of an allocation.
func (c *Client) Allocation(ctx context.Context, allocID string) (AllocStatus, error) {
	var out AllocStatus
	err := c.do(ctx, http.MethodGet, "/v1/allocation/"+url.PathEscape(allocID), nil, nil, &out)
	return out, err
}

// Deregister stops and removes the dispatched job instance.
func (c *Client) Deregister(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/job/"+url.PathEscape(jobID), nil, nil, nil)
}

// do executes one API request. Non-2xx responses become an *APIError
// carrying the response body verbatim. When dest is non-nil and the
// response body is non-empty, the body is decoded into dest.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	if query == nil {
		query = url.Values{}
	}
	if c.cfg.Region != "" {
		query.Set("region", c.cfg.Region)
	}
	if c.cfg.Namespace != "" {
		query.Set("namespace", c.cfg.Namespace)
	}

	u := c.cfg.Address + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("X-Nomad-Token", c.cfg.Token)
	}

	c.logger.Debug("nomad request", "method", method, "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("nomad response", "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if dest == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
