package proposal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/grantline/grantline/internal/types"
)

// HTTPExecutorClient talks to the executor service over its internal
// API. A circuit breaker keeps a dead executor from tying up proposal
// requests in connect timeouts.
type HTTPExecutorClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPExecutorClient builds a client for the executor at baseURL,
// authenticating with the shared internal API key.
func NewHTTPExecutorClient(baseURL, apiKey string, timeout time.Duration) *HTTPExecutorClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExecutorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "executor",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// SubmitJob posts a job request and decodes the terminal job result.
func (c *HTTPExecutorClient) SubmitJob(ctx context.Context, req *types.CreateJobRequest) (*types.JobResult, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.submit(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.JobResult), nil
}

func (c *HTTPExecutorClient) submit(ctx context.Context, req *types.CreateJobRequest) (*types.JobResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/executor/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Internal-Api-Key", c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("executor returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result types.JobResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	return &result, nil
}
