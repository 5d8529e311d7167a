// Package clickhouse wraps the ClickHouse HTTP interface: query execution,
// JSONEachRow decoding, and connection validation with classified
// diagnostics.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds probe and collector queries.
	DefaultTimeout = 15 * time.Second
	// ExecTimeout bounds individual executor statements.
	ExecTimeout = 30 * time.Second
)

// StatusError is an HTTP-level failure from the cluster. The body is kept
// for diagnostics and step result messages.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clickhouse: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to a single cluster over HTTP. Credentials are held in
// memory only; a Client is built per call site and not shared.
type Client struct {
	Host     string
	Port     int
	Protocol string
	Username string
	Database string

	password string
	baseURL  string
	httpc    *http.Client
}

// New builds a client with the decrypted password. Timeout zero means
// DefaultTimeout.
func New(host string, port int, protocol, username, password, database string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Host:     host,
		Port:     port,
		Protocol: protocol,
		Username: username,
		Database: database,
		password: password,
		baseURL:  fmt.Sprintf("%s://%s:%d", protocol, host, port),
		httpc:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) params(query string) url.Values {
	v := url.Values{}
	v.Set("user", c.Username)
	v.Set("password", c.password)
	if query != "" {
		v.Set("query", query)
	}
	if c.Database != "" {
		v.Set("database", c.Database)
	}
	return v
}

// Execute runs a query via GET and returns the trimmed response text.
func (c *Client) Execute(ctx context.Context, query string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+c.params(query).Encode(), nil)
	if err != nil {
		return "", err
	}
	return c.do(req)
}

// Post runs a statement via POST body. Used by the executor so DDL with
// arbitrary length is not squeezed into the query string.
func (c *Client) Post(ctx context.Context, statement string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"?"+c.params("").Encode(), strings.NewReader(statement))
	if err != nil {
		return "", err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return strings.TrimSpace(string(body)), nil
}

// ExecuteJSON runs a query with FORMAT JSONEachRow and decodes each line
// into a map.
func (c *Client) ExecuteJSON(ctx context.Context, query string) ([]map[string]any, error) {
	raw, err := c.Execute(ctx, query+" FORMAT JSONEachRow")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return []map[string]any{}, nil
	}
	rows := make([]map[string]any, 0, 16)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("decode JSONEachRow line: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Databases lists database names on the cluster.
func (c *Client) Databases(ctx context.Context) ([]string, error) {
	out, err := c.Execute(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	var dbs []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			dbs = append(dbs, line)
		}
	}
	return dbs, nil
}

// Tables lists tables with basic metadata for one database.
func (c *Client) Tables(ctx context.Context, database string) ([]map[string]any, error) {
	return c.ExecuteJSON(ctx,
		"SELECT name, engine, total_rows, total_bytes FROM system.tables WHERE database = '"+
			EscapeLiteral(database)+"' ORDER BY name")
}

// EscapeLiteral escapes a value for a single-quoted literal in a
// read-only metadata query.
func EscapeLiteral(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

// TestResult is the structured outcome of a connection validation.
type TestResult struct {
	OK            bool     `json:"ok"`
	ErrorCode     string   `json:"error_code,omitempty"`
	Message       string   `json:"message"`
	Suggestions   []string `json:"suggestions,omitempty"`
	LatencyMs     *int64   `json:"latency_ms,omitempty"`
	ServerVersion string   `json:"server_version,omitempty"`
	CurrentUser   string   `json:"current_user,omitempty"`
	RawError      string   `json:"raw_error,omitempty"`
}

// Validate probes the cluster: SELECT 1 with wall-time latency, then
// best-effort version and current-user detection.
func (c *Client) Validate(ctx context.Context) TestResult {
	start := time.Now()
	if _, err := c.Execute(ctx, "SELECT 1"); err != nil {
		latency := time.Since(start).Milliseconds()
		code, msg := Classify(err)
		return TestResult{
			OK:          false,
			ErrorCode:   code,
			Message:     msg,
			Suggestions: Suggestions(code),
			LatencyMs:   &latency,
			RawError:    err.Error(),
		}
	}
	latency := time.Since(start).Milliseconds()

	result := TestResult{
		OK:        true,
		Message:   "Connection successful",
		LatencyMs: &latency,
	}
	// Version and current user are nice-to-have; tolerate failures.
	if version, err := c.Execute(ctx, "SELECT version()"); err == nil {
		result.ServerVersion = version
	}
	if current, err := c.Execute(ctx, "SELECT currentUser()"); err == nil {
		result.CurrentUser = current
	}
	return result
}
