package generation_http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campus-assistant/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 4 << 10

// Client opens streaming generation calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClient creates a generation service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		tracer:     otel.Tracer("campus-assistant/generation"),
	}
}

// Open posts the request and returns the event-stream body. Failures are
// returned as *domain.UpstreamError classified transient or fatal.
func (c *Client) Open(ctx context.Context, genReq domain.GenerationRequest) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "generation.open",
		trace.WithAttributes(attribute.String("generation.disposition", string(genReq.Disposition))))
	defer span.End()

	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamFatal, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamFatal, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.UpstreamError{Kind: domain.UpstreamTransient, Message: "generation service unreachable", Err: err}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	upstreamErr := classify(resp, raw)
	span.SetStatus(codes.Error, upstreamErr.Error())
	c.logger.WarnContext(ctx, "generation request rejected",
		slog.Int("status", resp.StatusCode),
		slog.String("kind", upstreamErr.Kind.String()),
		slog.Int64("wait_time_ms", upstreamErr.WaitTime.Milliseconds()))
	return nil, upstreamErr
}

type errorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	WaitTime   *float64 `json:"waitTime"`
	RetryAfter *float64 `json:"retryAfter"`
}

// classify maps a non-200 response to an upstream error.
func classify(resp *http.Response, raw []byte) *domain.UpstreamError {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	upstreamErr := &domain.UpstreamError{
		Kind:       domain.UpstreamFatal,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		upstreamErr.Kind = domain.UpstreamTransient
		upstreamErr.WaitTime = waitTime(resp.Header.Get("Retry-After"), eb)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		upstreamErr.Kind = domain.UpstreamTransient
	}
	return upstreamErr
}

// waitTime reads the retry hint: Retry-After in seconds or as an HTTP
// date, then waitTime (milliseconds) or retryAfter (seconds) in the body.
func waitTime(header string, eb errorBody) time.Duration {
	if header != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if at, err := http.ParseTime(header); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	if eb.WaitTime != nil && *eb.WaitTime > 0 {
		return time.Duration(*eb.WaitTime * float64(time.Millisecond))
	}
	if eb.RetryAfter != nil && *eb.RetryAfter > 0 {
		return time.Duration(*eb.RetryAfter * float64(time.Second))
	}
	return 0
}

var _ domain.GenerationClient = (*Client)(nil)
