package audioproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
)

// Service identifiers of the external processing backends.
const (
	ServiceSeparator = "separator"
	ServiceAnalyzer  = "analyzer"
	ServiceGenerator = "generator"
	ServiceEnhancer  = "enhancer"
)

// InvokeRequest is the narrow call contract every processing service accepts:
// input paths, an output directory inside the job's scratch space, and
// free-form string parameters.
type InvokeRequest struct {
	InputPaths map[string]string `json:"input_paths"`
	OutputDir  string            `json:"output_dir,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// InvokeResponse carries the produced artifacts and service-specific metadata
// which callers decode into their typed form.
type InvokeResponse struct {
	OutputPaths map[string]string `json:"output_paths,omitempty"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
}

// Invoker is the boundary stages call through; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, service string, req InvokeRequest) (*InvokeResponse, error)
}

// Client talks HTTP to the processing services. Unreachable backends retry
// with bounded backoff and then surface as services.ErrUnavailable
// (retryable); explicit rejections surface as services.ErrService (fatal).
type Client struct {
	endpoints  map[string]string
	httpClient *http.Client
	logger     *slog.Logger
	attempts   int
	backoff    time.Duration
}

// Option customizes the processing client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (used in tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger for retry visibility.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "audioproc")
		}
	}
}

// WithEndpoint overrides a single service endpoint (used in tests).
func WithEndpoint(service, baseURL string) Option {
	return func(c *Client) {
		base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if base != "" {
			c.endpoints[service] = base
		}
	}
}

// NewClient constructs a processing client from configuration.
func NewClient(cfg config.Processing, opts ...Option) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(cfg.RetryBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	client := &Client{
		endpoints: map[string]string{
			ServiceSeparator: strings.TrimRight(cfg.SeparatorURL, "/"),
			ServiceAnalyzer:  strings.TrimRight(cfg.AnalyzerURL, "/"),
			ServiceGenerator: strings.TrimRight(cfg.GeneratorURL, "/"),
			ServiceEnhancer:  strings.TrimRight(cfg.EnhancerURL, "/"),
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewNop(),
		attempts:   attempts,
		backoff:    backoff,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Invoke calls the named service and returns its outputs.
func (c *Client) Invoke(ctx context.Context, service string, req InvokeRequest) (*InvokeResponse, error) {
	endpoint, ok := c.endpoints[service]
	if !ok || endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "invoke", fmt.Sprintf("no endpoint for service %q", service), nil)
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", service, err)
	}

	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		resp, err := c.post(ctx, service, endpoint+"/invoke", encoded)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !services.IsRetryable(err) || attempt == c.attempts-1 {
			break
		}
		logging.WithContext(ctx, c.logger).Warn("processing service retry",
			logging.Args(
				logging.String("service", service),
				logging.Int("attempt", attempt+1),
				logging.Error(err),
			)...)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, service, url string, body []byte) (*InvokeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrUnavailable, "", service, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "", service, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var decoded InvokeResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, services.Wrap(services.ErrService, "", service, "malformed response", err)
		}
		return &decoded, nil
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrUnavailable, "", service, fmt.Sprintf("status %d", resp.StatusCode), nil)
	default:
		return nil, services.Wrap(services.ErrService, "", service, rejectionReason(payload, resp.StatusCode), nil)
	}
}

func rejectionReason(payload []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		return strings.TrimSpace(body.Error)
	}
	return fmt.Sprintf("status %d", status)
}
