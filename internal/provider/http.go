package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-cli/internal/workflow"
)

// ClientOption configures the HTTP client.
type ClientOption func(*httpClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit sets a per-second request rate limit toward the provider.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an HTTP provider client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// dispatchResponse is the provider's acknowledgement of an enrichment request.
type dispatchResponse struct {
	Handle string `json:"handle"`
}

func (c *httpClient) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "provider: rate limit")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "provider: marshal dispatch")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/enrichments", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "provider: build dispatch request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "provider: dispatch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.New(fmt.Sprintf("provider: dispatch returned %d: %s", resp.StatusCode, snippet))
		return "", workflow.NewStepError(resp.StatusCode, err)
	}

	var dr dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", eris.Wrap(err, "provider: decode dispatch response")
	}
	if dr.Handle == "" {
		return "", eris.New("provider: dispatch response missing handle")
	}
	return dr.Handle, nil
}
