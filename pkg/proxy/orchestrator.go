package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fakeyw/gemini-proxy/pkg/adapter"
	"github.com/fakeyw/gemini-proxy/pkg/keypool"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/logging"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/metrics"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Provenance markers set in the X-Proxied-By response header.
const (
	ProxiedByPooled = "gemini-proxy"
	ProxiedByDirect = "gemini-proxy-direct"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultMaxAttempts        = 5
	DefaultRetryDelay         = 100 * time.Millisecond
	DefaultBookkeepingTimeout = 10 * time.Second
)

// unknownReason is recorded when a 429 body cannot be read.
const unknownReason = "unknown reason"

// maxReasonBytes bounds how much of a 429 body is kept as the reason.
const maxReasonBytes = 4 << 10

// KeyManager is the part of the key pool the orchestrator uses.
type KeyManager interface {
	Acquire(ctx context.Context, model string) (keypool.Lease, error)
	MarkExhausted(ctx context.Context, key, model, reason string) error
	IncrementUsage(ctx context.Context, key, model string) error
}

// Orchestrator forwards requests upstream, rotating pool keys on 429.
type Orchestrator struct {
	keys   KeyManager
	client *http.Client

	maxAttempts        int
	retryDelay         time.Duration
	bookkeepingTimeout time.Duration

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	// pending tracks background bookkeeping.
	pending sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxAttempts sets the number of upstream attempts in pooled mode.
func WithMaxAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause after an upstream 429.
func WithRetryDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.retryDelay = d
		}
	}
}

// WithBookkeepingTimeout bounds each background pool update.
func WithBookkeepingTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.bookkeepingTimeout = d
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an Orchestrator. keys may be nil when the proxy
// only runs in pass-through mode; client defaults to http.DefaultClient.
func NewOrchestrator(keys KeyManager, client *http.Client, opts ...OrchestratorOption) *Orchestrator {
	if client == nil {
		client = http.DefaultClient
	}

	o := &Orchestrator{
		keys:               keys,
		client:             client,
		maxAttempts:        DefaultMaxAttempts,
		retryDelay:         DefaultRetryDelay,
		bookkeepingTimeout: DefaultBookkeepingTimeout,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "proxy.orchestrator")

	return o
}

// Proxy serves req through adapter a and writes the response to w.
//
// In pooled mode a key is acquired for every attempt and a 429 from the
// upstream marks that key exhausted for the model before the next attempt.
// In pass-through mode a single attempt is made with the caller's own
// credential and every upstream status, 429 included, is relayed.
func (o *Orchestrator) Proxy(w http.ResponseWriter, req *adapter.Request, a adapter.Adapter, usePool bool) {
	start := time.Now()
	model := a.ExtractModelName(req)

	mode := metrics.ModeDirect
	if usePool {
		mode = metrics.ModePooled
	}

	ctx := logging.WithAPIType(req.Context(), a.APIType())
	ctx = logging.WithModel(ctx, model)
	ctx, span := o.tracer.Start(ctx, "proxy.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("proxy.api_type", a.APIType()),
			attribute.String("proxy.model", model),
			attribute.String("proxy.mode", mode),
		),
	)
	defer span.End()

	status := o.serve(ctx, w, req, a, model, usePool)

	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	o.metrics.RecordRequest(a.APIType(), mode, status, time.Since(start))
}

// serve runs the attempt loop and returns the status written to w.
func (o *Orchestrator) serve(ctx context.Context, w http.ResponseWriter, req *adapter.Request, a adapter.Adapter, model string, usePool bool) int {
	maxAttempts := 1
	if usePool {
		maxAttempts = o.maxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var key string
		if usePool {
			lease, err := o.acquire(ctx, model)
			if err != nil {
				return o.writeAcquireError(ctx, w, err)
			}
			key = lease.Key
			o.metrics.RecordAcquisition(metrics.AcquireOK)
			o.logger.DebugContext(ctx, "key acquired",
				"key", logging.MaskKey(key),
				"position", lease.Position,
				"attempt", attempt,
			)
		}

		out, err := a.BuildUpstreamRequest(ctx, req, key, model)
		if err != nil {
			o.logger.ErrorContext(ctx, "failed to build upstream request", "error", err)
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "failed to build upstream request")
			return http.StatusInternalServerError
		}

		resp, err := o.send(ctx, out, a.APIType(), attempt)
		if err != nil {
			o.logger.ErrorContext(ctx, "upstream request failed",
				"url", out.URL.Redacted(),
				"attempt", attempt,
				"error", err,
			)
			WriteError(w, http.StatusBadGateway, CodeUpstreamError, "failed to reach upstream")
			return http.StatusBadGateway
		}

		if resp.StatusCode == http.StatusTooManyRequests && usePool {
			reason := readReason(resp)
			o.logger.WarnContext(ctx, "upstream rate limited key",
				"key", logging.MaskKey(key),
				"attempt", attempt,
				"max_attempts", maxAttempts,
			)
			o.metrics.RecordExhaustion(model)
			o.background(ctx, "mark_exhausted", func(ctx context.Context) error {
				return o.keys.MarkExhausted(ctx, key, model, reason)
			})

			if attempt < maxAttempts && !o.pause(ctx) {
				break
			}
			continue
		}

		if usePool && model != "" && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			bucket := usageBucket(model)
			o.background(ctx, "increment_usage", func(ctx context.Context) error {
				return o.keys.IncrementUsage(ctx, key, bucket)
			})
		}

		o.relay(ctx, w, resp, usePool)
		return resp.StatusCode
	}

	o.logger.WarnContext(ctx, "no attempt produced a usable response", "max_attempts", maxAttempts)
	WriteError(w, http.StatusServiceUnavailable, CodeAttemptsExhausted, fmt.Sprintf(
		"unable to process request after %d attempts: keys may be exhausted for model %q or the upstream is unavailable",
		maxAttempts, model,
	))
	return http.StatusServiceUnavailable
}

func (o *Orchestrator) acquire(ctx context.Context, model string) (keypool.Lease, error) {
	if o.keys == nil {
		return keypool.Lease{}, keypool.ErrNotConfigured
	}
	return o.keys.Acquire(ctx, model)
}

// writeAcquireError maps a failed acquisition to a response.
func (o *Orchestrator) writeAcquireError(ctx context.Context, w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, keypool.ErrExhausted):
		o.metrics.RecordAcquisition(metrics.AcquireExhausted)
		o.logger.WarnContext(ctx, "all keys exhausted", "error", err)
		WriteError(w, http.StatusTooManyRequests, CodeKeysExhausted, err.Error())
		return http.StatusTooManyRequests

	case errors.Is(err, keypool.ErrNotConfigured):
		o.metrics.RecordAcquisition(metrics.AcquireNotConfigured)
		o.logger.ErrorContext(ctx, "no API keys configured")
		WriteError(w, http.StatusInternalServerError, CodeKeysNotConfigured, err.Error())
		return http.StatusInternalServerError

	default:
		o.metrics.RecordAcquisition(metrics.AcquireError)
		o.logger.ErrorContext(ctx, "failed to acquire key", "error", err)
		WriteError(w, http.StatusInternalServerError, CodeKeyPoolError, "failed to acquire an API key")
		return http.StatusInternalServerError
	}
}

// send executes one upstream attempt inside its own span.
func (o *Orchestrator) send(ctx context.Context, out *http.Request, apiType string, attempt int) (*http.Response, error) {
	ctx, span := o.tracer.Start(ctx, "upstream.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("proxy.attempt", attempt),
			attribute.String("http.request.method", out.Method),
			attribute.String("server.address", out.URL.Host),
		),
	)
	defer span.End()

	resp, err := o.client.Do(out.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		o.metrics.RecordUpstreamAttempt(apiType, 0)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	o.metrics.RecordUpstreamAttempt(apiType, resp.StatusCode)
	return resp, nil
}

// pause waits for the retry delay. It returns false if ctx ends first.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.retryDelay <= 0 {
		return true
	}

	timer := time.NewTimer(o.retryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// relay copies the upstream response to w, flushing after every chunk so
// server-sent events reach the caller as they arrive.
func (o *Orchestrator) relay(ctx context.Context, w http.ResponseWriter, resp *http.Response, usePool bool) {
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	if usePool {
		header.Set("X-Proxied-By", ProxiedByPooled)
	} else {
		header.Set("X-Proxied-By", ProxiedByDirect)
	}

	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				o.logger.DebugContext(ctx, "client went away during relay", "error", werr)
				return
			}
			_ = rc.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				o.logger.WarnContext(ctx, "upstream body read failed", "error", err)
			}
			return
		}
	}
}

// background runs fn detached from the request so it completes after the
// response has been sent or the caller has gone away.
func (o *Orchestrator) background(ctx context.Context, operation string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()

		ctx, cancel := context.WithTimeout(detached, o.bookkeepingTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			o.metrics.RecordBookkeepingFailure(operation)
			o.logger.WarnContext(ctx, "key pool bookkeeping failed",
				"operation", operation,
				"error", err,
			)
		}
	}()
}

// Drain waits for background bookkeeping to finish or ctx to end.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bookkeeping still pending: %w", ctx.Err())
	}
}

// readReason returns the body of a 429 response, which upstreams use to
// explain the rejection.
func readReason(resp *http.Response) string {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReasonBytes))
	if err != nil {
		return unknownReason
	}
	return string(body)
}

// usageBucket returns the last path segment of model, so "models/gemini-pro"
// and "gemini-pro" count together.
func usageBucket(model string) string {
	return model[strings.LastIndex(model, "/")+1:]
}
