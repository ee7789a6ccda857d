// Package snowflake implements a client for the Snowflake SQL statement API
// and the token providers the agent authenticates with.
package snowflake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenProvider supplies a bearer token for each request. The platform
// rotates tokens, so providers are consulted on every call.
type TokenProvider interface {
	Token(ctx context.Context) (token, tokenType string, err error)
}

// Options configures the statement API endpoint and session defaults.
type Options struct {
	Host      string // platform-injected host; takes precedence over Account
	Account   string // account locator, used when Host is empty
	Database  string
	Schema    string
	Warehouse string
	Role      string
}

// Client calls the SQL statement API (POST and GET /api/v2/statements).
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	tokens    TokenProvider
	opts      Options
	userAgent string
	log       *slog.Logger
}

// Request is one statement execution request. Binds are positional and
// matched to ? placeholders in order.
type Request struct {
	Statement string
	Timeout   int // statement timeout in seconds; 0 uses the account default
	Database  string
	Schema    string
	Warehouse string
	Role      string
	Binds     []interface{}
}

// ColumnType describes one result column.
type ColumnType struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Scale     *int64 `json:"scale"`
	Precision *int64 `json:"precision"`
	Nullable  bool   `json:"nullable"`
}

// ResultSet is a fully fetched statement result. Values are strings or nil;
// the statement API serializes every column type to text.
type ResultSet struct {
	StatementHandle string
	Columns         []ColumnType
	Rows            [][]interface{}
	NumRows         int64
}

// APIError is a non-2xx response that did not carry a statement error body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StatementError is a statement that Snowflake rejected or that failed
// during execution.
type StatementError struct {
	Code     string
	SQLState string
	Message  string
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement failed: code=%s sqlState=%s message=%s", e.Code, e.SQLState, e.Message)
}

// CodeInt returns the numeric error code. The statement API reports codes as
// zero-padded strings.
func (e *StatementError) CodeInt() int {
	n, err := strconv.Atoi(strings.TrimLeft(e.Code, "0"))
	if err != nil {
		return 0
	}
	return n
}

type binding struct {
	Type  string  `json:"type"`
	Value *string `json:"value"`
}

type statementRequest struct {
	Statement string             `json:"statement"`
	Timeout   int                `json:"timeout,omitempty"`
	Database  string             `json:"database,omitempty"`
	Schema    string             `json:"schema,omitempty"`
	Warehouse string             `json:"warehouse,omitempty"`
	Role      string             `json:"role,omitempty"`
	Bindings  map[string]binding `json:"bindings,omitempty"`
}

type statementResponse struct {
	Code              string `json:"code"`
	SQLState          string `json:"sqlState"`
	Message           string `json:"message"`
	StatementHandle   string `json:"statementHandle"`
	ResultSetMetaData struct {
		NumRows       int64 `json:"numRows"`
		PartitionInfo []struct {
			RowCount int64 `json:"rowCount"`
		} `json:"partitionInfo"`
		RowType []ColumnType `json:"rowType"`
	} `json:"resultSetMetaData"`
	Data [][]interface{} `json:"data"`
}

// NewClient constructs a Client for the given endpoint. When opts.Host is
// empty the account locator is used to build the public hostname.
func NewClient(opts Options, tokens TokenProvider, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	rawURL := ""
	switch {
	case opts.Host != "":
		rawURL = "https://" + opts.Host
	case opts.Account != "":
		rawURL = fmt.Sprintf("https://%s.snowflakecomputing.com", opts.Account)
	default:
		return nil, fmt.Errorf("snowflake host or account is required")
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		tokens:    tokens,
		opts:      opts,
		userAgent: "snowbridge",
		log:       log,
	}, nil
}

// NewClientForTest creates a Client pointing at the given base URL. Intended
// for tests against mock HTTP servers.
func NewClientForTest(base *url.URL, tokens TokenProvider) *Client {
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: 30 * time.Second},
		tokens:    tokens,
		userAgent: "test",
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Execute runs a statement and waits for its result. Statements that outlive
// the API's initial window are followed via their handle until they finish.
func (c *Client) Execute(ctx context.Context, req Request) (*ResultSet, error) {
	var resp statementResponse
	status, err := c.doJSON(ctx, http.MethodPost, c.statementsURL(nil), c.buildBody(req), &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return c.waitForCompletion(ctx, resp.StatementHandle)
	}
	return c.collectResult(ctx, &resp)
}

// SubmitAsync submits a statement without waiting and returns its handle.
func (c *Client) SubmitAsync(ctx context.Context, req Request) (string, error) {
	var resp statementResponse
	query := url.Values{"async": {"true"}}
	if _, err := c.doJSON(ctx, http.MethodPost, c.statementsURL(query), c.buildBody(req), &resp); err != nil {
		return "", err
	}
	if resp.StatementHandle == "" {
		return "", fmt.Errorf("async submit returned no statement handle")
	}
	c.log.Debug("statement submitted", "handle", resp.StatementHandle)
	return resp.StatementHandle, nil
}

// Status checks a statement by handle. done is false while it is still
// executing; a failed statement surfaces as a *StatementError.
func (c *Client) Status(ctx context.Context, handle string) (*ResultSet, bool, error) {
	var resp statementResponse
	status, err := c.doJSON(ctx, http.MethodGet, c.statementURL(handle, nil), nil, &resp)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusAccepted {
		return nil, false, nil
	}
	rs, err := c.collectResult(ctx, &resp)
	if err != nil {
		return nil, true, err
	}
	return rs, true, nil
}

// Cancel cancels a running statement.
func (c *Client) Cancel(ctx context.Context, handle string) error {
	u := *c.baseURL
	u.Path = path.Join(u.Path, "api/v2/statements", handle, "cancel")
	_, err := c.doJSON(ctx, http.MethodPost, u.String(), nil, nil)
	return err
}

func (c *Client) waitForCompletion(ctx context.Context, handle string) (*ResultSet, error) {
	if handle == "" {
		return nil, fmt.Errorf("statement accepted without a handle")
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.Cancel(context.WithoutCancel(ctx), handle)
			return nil, fmt.Errorf("wait for statement %s: %w", handle, ctx.Err())
		case <-ticker.C:
		}
		rs, done, err := c.Status(ctx, handle)
		if err != nil {
			return nil, err
		}
		if done {
			return rs, nil
		}
	}
}

// collectResult fetches any remaining partitions so callers always see the
// complete row set.
func (c *Client) collectResult(ctx context.Context, resp *statementResponse) (*ResultSet, error) {
	rs := &ResultSet{
		StatementHandle: resp.StatementHandle,
		Columns:         resp.ResultSetMetaData.RowType,
		Rows:            resp.Data,
		NumRows:         resp.ResultSetMetaData.NumRows,
	}
	for partition := 1; partition < len(resp.ResultSetMetaData.PartitionInfo); partition++ {
		var page statementResponse
		query := url.Values{"partition": {strconv.Itoa(partition)}}
		if _, err := c.doJSON(ctx, http.MethodGet, c.statementURL(resp.StatementHandle, query), nil, &page); err != nil {
			return nil, fmt.Errorf("fetch partition %d: %w", partition, err)
		}
		rs.Rows = append(rs.Rows, page.Data...)
	}
	return rs, nil
}

func (c *Client) buildBody(req Request) statementRequest {
	body := statementRequest{
		Statement: req.Statement,
		Timeout:   req.Timeout,
		Database:  firstNonEmpty(req.Database, c.opts.Database),
		Schema:    firstNonEmpty(req.Schema, c.opts.Schema),
		Warehouse: firstNonEmpty(req.Warehouse, c.opts.Warehouse),
		Role:      firstNonEmpty(req.Role, c.opts.Role),
		Bindings:  buildBindings(req.Binds),
	}
	return body
}

func (c *Client) statementsURL(query url.Values) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, "api/v2/statements")
	if query == nil {
		query = url.Values{}
	}
	query.Set("requestId", uuid.New().String())
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) statementURL(handle string, query url.Values) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, "api/v2/statements", handle)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) doJSON(ctx context.Context, method, urlStr string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	token, tokenType, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Snowflake-Authorization-Token-Type", tokenType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var stmtErr statementResponse
		if jsonErr := json.Unmarshal(bodyBytes, &stmtErr); jsonErr == nil && stmtErr.Message != "" {
			return resp.StatusCode, &StatementError{
				Code:     stmtErr.Code,
				SQLState: stmtErr.SQLState,
				Message:  stmtErr.Message,
			}
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func buildBindings(binds []interface{}) map[string]binding {
	if len(binds) == 0 {
		return nil
	}
	out := make(map[string]binding, len(binds))
	for i, v := range binds {
		out[strconv.Itoa(i+1)] = bindValue(v)
	}
	return out
}

// bindValue maps a Go value to a statement API binding. The API expects
// every bound value as a string.
func bindValue(v interface{}) binding {
	str := func(s string) *string { return &s }
	switch t := v.(type) {
	case nil:
		return binding{Type: "TEXT", Value: nil}
	case string:
		return binding{Type: "TEXT", Value: str(t)}
	case bool:
		return binding{Type: "BOOLEAN", Value: str(strconv.FormatBool(t))}
	case int:
		return binding{Type: "FIXED", Value: str(strconv.Itoa(t))}
	case int64:
		return binding{Type: "FIXED", Value: str(strconv.FormatInt(t, 10))}
	case float64:
		return binding{Type: "REAL", Value: str(strconv.FormatFloat(t, 'g', -1, 64))}
	case time.Time:
		return binding{Type: "TEXT", Value: str(t.UTC().Format(time.RFC3339Nano))}
	default:
		return binding{Type: "TEXT", Value: str(fmt.Sprint(t))}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
