package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	instrumentation   = "finitefield.org/storefront/internal/commerce"
)

// Client issues GraphQL operations against the headless commerce backend.
type Client struct {
	endpoint string
	apiKey   string
	channel  string
	http     *http.Client
	logger   *zap.Logger
	tracer   trace.Tracer
	ops      metric.Int64Counter
}

// ClientOption customises Client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithAPIKey sets the storefront API key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithChannel scopes requests to a sales channel.
func WithChannel(channel string) ClientOption {
	return func(c *Client) {
		c.channel = strings.TrimSpace(channel)
	}
}

// WithLogger sets the logger used for failed operations.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient constructs a GraphQL client for endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentation),
	}
	for _, opt := range opts {
		opt(c)
	}
	counter, err := otel.GetMeterProvider().Meter(instrumentation).Int64Counter(
		"commerce.graphql.operations",
		metric.WithDescription("Count of GraphQL operations by name and outcome"),
	)
	if err != nil {
		c.logger.Warn("commerce: unable to register operation metric", zap.Error(err))
	} else {
		c.ops = counter
	}
	return c
}

type graphQLRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors Errors          `json:"errors"`
}

// do executes one operation. Data is decoded into out even when errors are present; in that case
// the returned error is of type Errors.
func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "graphql "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("graphql.operation.name", operation)),
	)
	defer func() {
		outcome := "ok"
		switch {
		case IsUnauthorized(err):
			outcome = "unauthorized"
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if c.ops != nil {
			c.ops.Add(ctx, 1, metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("outcome", outcome),
			))
		}
		span.End()
	}()

	payload, err := json.Marshal(graphQLRequest{OperationName: operation, Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("commerce: encode %s: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("commerce: build %s: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Storefront-Key", c.apiKey)
	}
	if c.channel != "" {
		req.Header.Set("X-Channel", c.channel)
	}
	if token := requestctx.AuthToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if strings.HasPrefix(strings.TrimSpace(query), "mutation") {
		req.Header.Set(idempotencyHeader, ulid.Make().String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewError(http.StatusText(resp.StatusCode), CodeNotAuthorized)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("commerce: %s status %d: %s", operation, resp.StatusCode, drainError(resp.Body))
	}

	var body graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("commerce: decode %s: %w", operation, err)
	}
	if out != nil && len(body.Data) > 0 && !bytes.Equal(body.Data, []byte("null")) {
		if err := json.Unmarshal(body.Data, out); err != nil {
			return fmt.Errorf("commerce: decode %s data: %w", operation, err)
		}
	}
	if len(body.Errors) > 0 {
		requestctx.Logger(ctx).Debug("commerce: graphql errors",
			zap.String("operation", operation),
			zap.Strings("messages", body.Errors.Messages()),
		)
		return body.Errors
	}
	return nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
