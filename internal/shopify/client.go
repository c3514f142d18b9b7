package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultAPIVersion = "2024-10"
	defaultTimeout    = 15 * time.Second
	maxResponseBytes  = 4 << 20

	accessTokenHeader = "X-Shopify-Access-Token"
	requestIDHeader   = "X-Request-ID"

	instrumentationName = "github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

// Logger mirrors the service-layer logging hook so the client stays free of
// any logging framework.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Executor abstracts GraphQL document execution against the Admin API.
// Services depend on this narrow contract; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, document string, variables map[string]any) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, document string, variables map[string]any) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, document string, variables map[string]any) (json.RawMessage, error) {
	if f == nil {
		return nil, errors.New("shopify: executor not configured")
	}
	return f(ctx, document, variables)
}

// ClientConfig configures the Admin API client for one shop.
type ClientConfig struct {
	// ShopDomain is the myshopify domain, e.g. "demo-store.myshopify.com".
	ShopDomain string
	// AccessToken is the Admin API access token sent on every call.
	AccessToken string
	// APIVersion selects the Admin API version path segment.
	APIVersion string
	// HTTPClient overrides the transport; a default with Timeout applies otherwise.
	HTTPClient *http.Client
	// Timeout bounds each call when HTTPClient is not supplied.
	Timeout time.Duration
	// Logger receives structured client events.
	Logger Logger
	// Meter overrides the metric meter, primarily for tests.
	Meter metric.Meter
}

// Client executes GraphQL documents against a single shop's Admin API. It
// performs no retries; throttling and transport failures surface as typed
// errors for the caller to handle.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   Logger
	tracer   trace.Tracer

	latency        metric.Float64Histogram
	latencyEnabled bool
	errorCount     metric.Int64Counter
	errorsEnabled  bool
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	domain := normalizeShopDomain(cfg.ShopDomain)
	if domain == "" {
		return nil, errors.New("shopify: shop domain is required")
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("shopify: access token is required")
	}

	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	c := &Client{
		endpoint: fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, version),
		token:    token,
		http:     httpClient,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}

	latency, latencyErr := meter.Float64Histogram(
		"shopify.graphql.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for Admin API GraphQL calls"),
	)
	if latencyErr != nil {
		logger(context.Background(), "shopify.metric.register_failed", map[string]any{"metric": "shopify.graphql.duration", "error": latencyErr.Error()})
	}
	errorCount, errorsErr := meter.Int64Counter(
		"shopify.graphql.errors",
		metric.WithDescription("Count of failed Admin API GraphQL calls"),
	)
	if errorsErr != nil {
		logger(context.Background(), "shopify.metric.register_failed", map[string]any{"metric": "shopify.graphql.errors", "error": errorsErr.Error()})
	}

	c.latency = latency
	c.latencyEnabled = latencyErr == nil
	c.errorCount = errorCount
	c.errorsEnabled = errorsErr == nil

	return c, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Execute posts the document with its variables and returns the raw data
// payload. Any GraphQL-level error, throttle, or transport failure is
// surfaced as an *APIError; the response is never partially consumed.
func (c *Client) Execute(ctx context.Context, document string, variables map[string]any) (json.RawMessage, error) {
	op := operationName(document)
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "shopify.graphql "+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("graphql.operation.name", op),
		attribute.String("shopify.request_id", requestID),
	)

	body, err := json.Marshal(graphQLRequest{Query: document, Variables: variables})
	if err != nil {
		return nil, NewTransportError(op, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewTransportError(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(accessTokenHeader, c.token)
	req.Header.Set(requestIDHeader, requestID)

	started := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(started)

	if err != nil {
		c.record(ctx, op, elapsed, "transport_error")
		c.logger(ctx, "shopify.graphql.transport_error", map[string]any{
			"operation": op,
			"requestId": requestID,
			"error":     err.Error(),
		})
		return nil, NewTransportError(op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusTooManyRequests {
		c.record(ctx, op, elapsed, "throttled")
		c.logger(ctx, "shopify.graphql.throttled", map[string]any{
			"operation": op,
			"requestId": requestID,
		})
		return nil, NewThrottledError(op, "admin api throttled the request")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.record(ctx, op, elapsed, "http_error")
		c.logger(ctx, "shopify.graphql.http_error", map[string]any{
			"operation": op,
			"requestId": requestID,
			"status":    resp.StatusCode,
		})
		return nil, NewTransportError(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.record(ctx, op, elapsed, "read_error")
		return nil, NewTransportError(op, fmt.Errorf("read response: %w", err))
	}

	var envelope graphQLEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.record(ctx, op, elapsed, "decode_error")
		return nil, NewTransportError(op, fmt.Errorf("decode response: %w", err))
	}
	if len(envelope.Errors) > 0 {
		apiErr := newGraphQLError(op, envelope.Errors)
		outcome := "graphql_error"
		if apiErr.IsThrottled() {
			outcome = "throttled"
		}
		c.record(ctx, op, elapsed, outcome)
		c.logger(ctx, "shopify.graphql.error", map[string]any{
			"operation": op,
			"requestId": requestID,
			"message":   apiErr.Message(),
		})
		return nil, apiErr
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		c.record(ctx, op, elapsed, "empty_data")
		return nil, NewTransportError(op, errors.New("response carried no data"))
	}

	c.record(ctx, op, elapsed, "ok")
	return envelope.Data, nil
}

func (c *Client) record(ctx context.Context, op string, elapsed time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	if c.latencyEnabled {
		c.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
	if outcome != "ok" && c.errorsEnabled {
		c.errorCount.Add(ctx, 1, attrs)
	}
}

// operationName extracts the operation identifier from a document, skipping
// any leading fragment definitions. Unnamed documents report "unnamed".
func operationName(document string) string {
	for _, line := range strings.Split(document, "\n") {
		trimmed := strings.TrimSpace(line)
		var rest string
		switch {
		case strings.HasPrefix(trimmed, "query"):
			rest = trimmed[len("query"):]
		case strings.HasPrefix(trimmed, "mutation"):
			rest = trimmed[len("mutation"):]
		default:
			continue
		}
		rest = strings.TrimSpace(rest)
		end := len(rest)
		for i, r := range rest {
			if r == '(' || r == '{' || r == ' ' {
				end = i
				break
			}
		}
		if name := strings.TrimSpace(rest[:end]); name != "" {
			return name
		}
		return "unnamed"
	}
	return "unnamed"
}

func normalizeShopDomain(domain string) string {
	trimmed := strings.TrimSpace(strings.ToLower(domain))
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	return strings.Trim(trimmed, "/")
}
