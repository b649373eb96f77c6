// Package investigate provides the HTTP client for the investigation
// collaborator, the external service that studies a topic against the
// source corpus and returns a behavior trace. The client implements
// dispatch.Investigator with retry and backoff.
package investigate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/c360studio/speccorpus/corpus"
	"github.com/c360studio/speccorpus/dispatch"
)

// maxResponseSize limits the collaborator response body to prevent
// memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client sends investigation requests to the collaborator endpoint.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a collaborator client for the given endpoint URL.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Investigations can be slow
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// investigationRequest is the wire form of an investigation job. Files
// carries the corpus files selected by the source handle's glob patterns
// so the collaborator sees the exact file set every retry.
type investigationRequest struct {
	Phase     string           `json:"phase"`
	TopicID   string           `json:"topic_id"`
	Statement string           `json:"statement"`
	Source    corpus.SourceRef `json:"source"`
	Files     []string         `json:"files,omitempty"`
}

// Investigate sends the job to the collaborator and returns its trace.
// Transient failures are retried with jittered exponential backoff;
// fatal failures return immediately.
func (c *Client) Investigate(ctx context.Context, req dispatch.Request) (*corpus.Trace, error) {
	if req.Statement == "" {
		return nil, NewFatalError(fmt.Errorf("statement is required"))
	}

	var files []string
	if req.Source.Root != "" {
		var err error
		files, err = req.Source.ResolveFiles()
		if err != nil {
			return nil, NewFatalError(fmt.Errorf("resolve corpus files: %w", err))
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		trace, err := c.doRequest(ctx, req, files)
		if err == nil {
			return trace, nil
		}

		lastErr = err

		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Investigation request failed, retrying",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.retryConfig.MaxAttempts),
				slog.Duration("backoff", backoff),
				slog.String("topic_id", req.TopicID),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("investigation failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple jobs retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the collaborator.
func (c *Client) doRequest(ctx context.Context, req dispatch.Request, files []string) (*corpus.Trace, error) {
	body, err := json.Marshal(investigationRequest{
		Phase:     string(req.Phase),
		TopicID:   req.TopicID,
		Statement: req.Statement,
		Source:    req.Source,
		Files:     files,
	})
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		err := fmt.Errorf("collaborator returned status %d: %s", httpResp.StatusCode, truncate(respBody, 200))
		if isRetryableStatus(httpResp.StatusCode) {
			return nil, NewTransientError(err)
		}
		return nil, NewFatalError(err)
	}

	var trace corpus.Trace
	if err := json.Unmarshal(respBody, &trace); err != nil {
		return nil, NewFatalError(fmt.Errorf("unmarshal trace: %w", err))
	}

	return &trace, nil
}

// isRetryableStatus reports whether the HTTP status indicates a
// transient condition.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
