package bus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/internal/tlsutil"
	"github.com/BaSui01/agentbus/types"
)

// Transport is a named alternate delivery strategy with the same
// PublishResult contract as in-process delivery.
type Transport interface {
	// Name identifies the transport in results and logs.
	Name() string

	// Deliver sends one envelope and reports the outcome. Deliver never
	// panics; all failures are reported through the result.
	Deliver(ctx context.Context, env *envelope.Envelope) *PublishResult

	// Close releases transport resources.
	Close() error
}

// HTTPTransportConfig configures outbound HTTP push delivery.
type HTTPTransportConfig struct {
	// BaseURL of the receiving agent, e.g. "https://coder.internal:8443".
	// Envelopes are POSTed to {BaseURL}/messages.
	BaseURL string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds a single delivery call. Default 30s.
	Timeout time.Duration
}

// httpTransport pushes envelopes to a remote agent over HTTP.
// Delivery failures are never retried internally; the caller's publish
// retry loop, if any, governs retries.
type httpTransport struct {
	config *HTTPTransportConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPTransport creates an HTTP push transport with a hardened TLS client.
func NewHTTPTransport(config *HTTPTransportConfig, logger *zap.Logger) (Transport, error) {
	if config == nil || config.BaseURL == "" {
		return nil, types.NewError(types.ErrConfig, "http transport requires a base URL").WithComponent("bus")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &httpTransport{
		config: config,
		client: tlsutil.SecureHTTPClient(config.Timeout),
		logger: logger.With(zap.String("component", "bus"), zap.String("transport", "http")),
	}, nil
}

func (t *httpTransport) Name() string { return "http:" + t.config.BaseURL }

// Deliver POSTs the envelope to {BaseURL}/messages. Any 2xx status is a
// success; every other outcome fails with the status code and text.
func (t *httpTransport) Deliver(ctx context.Context, env *envelope.Envelope) *PublishResult {
	result := &PublishResult{DeliveredTo: []string{}}
	if env == nil {
		result.Errors = append(result.Errors, "envelope is nil")
		return result
	}
	result.MessageID = env.ID

	body, err := envelope.Marshal(env)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("marshal envelope: %v", err))
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	url := strings.TrimRight(t.config.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("build request: %v", err))
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("HTTP delivery failed",
			zap.String("message_id", env.ID),
			zap.String("url", url),
			zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("http delivery: %v", err))
		return result
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn("HTTP delivery rejected",
			zap.String("message_id", env.ID),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		result.Errors = append(result.Errors, fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		return result
	}

	result.Success = true
	result.DeliveredTo = append(result.DeliveredTo, t.Name())
	return result
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

var _ Transport = (*httpTransport)(nil)
