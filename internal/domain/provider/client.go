package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/domainshop/internal/metrics"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// ClientConfig configures an HTTP provider client.
type ClientConfig struct {
	BaseURL string        `usage:"Provider API base URL"`
	APIKey  string        `usage:"Provider API key"`
	Timeout time.Duration `default:"10s" usage:"Per-call timeout"`
}

// HTTPClient performs JSON calls against a provider API and classifies
// failures into the package taxonomy. Every call has its own timeout.
type HTTPClient struct {
	name    string
	cfg     ClientConfig
	http    *http.Client
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

// NewHTTPClient creates a client for the named provider. httpClient and m
// may be nil.
func NewHTTPClient(name string, cfg ClientConfig, httpClient *http.Client, m *metrics.Metrics) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{
		name:    name,
		cfg:     cfg,
		http:    httpClient,
		tracer:  otel.Tracer("domainshop/provider/" + name),
		metrics: m,
	}
}

// Name returns the provider name used in errors and metrics.
func (c *HTTPClient) Name() string {
	return c.name
}

// Call describes one provider request.
type Call struct {
	// Operation names the call for tracing and metrics, e.g. "register".
	Operation string
	Method    string
	Path      string
	// Mutating calls turn transport failures into ErrUnknownOutcome.
	Mutating       bool
	IdempotencyKey string
	// Body writes the JSON request body. Nil sends no body.
	Body func(e *jx.Encoder)
}

// Do performs the call. decode is invoked on a 2xx response body and may be
// nil. A 404 on a non-mutating call is returned as ErrNotFound.
func (c *HTTPClient) Do(ctx context.Context, call Call, decode func(d *jx.Decoder) error) (rerr error) {
	ctx, span := c.tracer.Start(ctx, c.name+"."+call.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.name", c.name),
			attribute.String("provider.operation", call.Operation),
			attribute.Bool("provider.mutating", call.Mutating),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.ObserveProviderCall(c.name, call.Operation, rerr, time.Since(start))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if call.Body != nil {
		e := jx.GetEncoder()
		defer jx.PutEncoder(e)
		call.Body(e)
		body = bytes.NewReader(e.Bytes())
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, c.cfg.BaseURL+call.Path, body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if call.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", call.IdempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return TransportError(c.name, err, call.Mutating)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound && !call.Mutating {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		code, msg := decodeErrorBody(raw)
		return StatusError(c.name, resp.StatusCode, code, msg)
	}
	if decode == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransportError(c.name, err, call.Mutating)
	}
	if err := decode(jx.DecodeBytes(raw)); err != nil {
		return errors.Wrapf(err, "%s: decode %s response", c.name, call.Operation)
	}
	return nil
}

// decodeErrorBody extracts {"code": ..., "message": ...} from an error
// response. Non-JSON bodies become the message.
func decodeErrorBody(raw []byte) (code, msg string) {
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			code = v
			return err
		case "message", "error":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			msg = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", strings.TrimSpace(string(raw))
	}
	return code, msg
}
