package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 64 * 1024

// APIError is a non-2xx response from the orchestrator.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend API error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client talks to the orchestrator REST API.
type Client struct {
	baseURL string
	agentID string
	creds   CredentialsProvider
	http    *http.Client
	log     *slog.Logger
}

// Options overrides the defaults for NewClient.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a client for the orchestrator at baseURL.
func NewClient(baseURL, agentID string, creds CredentialsProvider, opts *Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		agentID: agentID,
		creds:   creds,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     slog.Default(),
	}
	if opts != nil {
		if opts.HTTPClient != nil {
			c.http = opts.HTTPClient
		}
		if opts.Logger != nil {
			c.log = opts.Logger
		}
	}
	return c
}

// PushResult sends the result envelope for one operation. The envelope is
// already serialized; it is embedded untouched in the request body.
func (c *Client) PushResult(ctx context.Context, operationID string, result json.RawMessage) error {
	body := struct {
		AgentID string          `json:"agent_id"`
		Result  json.RawMessage `json:"result"`
	}{AgentID: c.agentID, Result: result}

	path := fmt.Sprintf("/api/v1/agent/operations/%s/result", url.PathEscape(operationID))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("push result for operation %s: %w", operationID, err)
	}
	c.log.Info("pushed result to backend", "operation_id", operationID, "bytes", len(result))
	return nil
}

// DownloadOperation fetches the full body of an operation. The event stream
// caps event sizes; oversized operations carry a marker instead of a body
// and are fetched through this endpoint.
func (c *Client) DownloadOperation(ctx context.Context, operationID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/v1/agent/operations/%s/request", url.PathEscape(operationID))
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("download operation %s: %w", operationID, err)
	}
	return out, nil
}

// AckOperation tells the orchestrator the operation was received and is
// still being worked on.
func (c *Client) AckOperation(ctx context.Context, operationID string) error {
	path := fmt.Sprintf("/api/v1/agent/operations/%s/ack", url.PathEscape(operationID))
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("ack operation %s: %w", operationID, err)
	}
	return nil
}

// Ping checks reachability of the orchestrator and returns its response.
func (c *Client) Ping(ctx context.Context, traceID string) (map[string]interface{}, error) {
	path := "/api/v1/agent/ping"
	if traceID != "" {
		path += "?trace_id=" + url.QueryEscape(traceID)
	}
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("ping backend: %w", err)
	}
	return out, nil
}

// PushMetrics sends scraped platform metrics as a result envelope under the
// fixed "metrics" operation id.
func (c *Client) PushMetrics(ctx context.Context, lines []string) error {
	payload, err := json.Marshal(map[string]interface{}{"metrics": lines})
	if err != nil {
		return fmt.Errorf("marshal metrics payload: %w", err)
	}
	return c.PushResult(ctx, "metrics", payload)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	creds := c.creds.Credentials()
	req.Header.Set(HeaderID, creds.ID)
	req.Header.Set(HeaderToken, creds.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: text}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
