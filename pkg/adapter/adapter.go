package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// API families.
const (
	APITypeOpenAI = "openai"
	APITypeGemini = "gemini"
)

// ErrBodyTooLarge is returned by NewRequest when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Adapter is implemented once per upstream API family.
type Adapter interface {
	// APIType names the family, e.g. "openai".
	APIType() string

	// Matches reports whether r has this family's shape.
	Matches(r *http.Request) bool

	// ExtractModelName returns the model the request targets, or "" when it
	// cannot be determined.
	ExtractModelName(req *Request) string

	// ExtractClientCredential returns the credential the caller presented.
	ExtractClientCredential(r *http.Request) string

	// BuildUpstreamRequest creates the outbound request. An empty credential
	// forwards the caller's own credential unchanged; otherwise the caller's
	// credential is removed and credential is injected.
	BuildUpstreamRequest(ctx context.Context, req *Request, credential, model string) (*http.Request, error)
}

// Request is an inbound request with its body read into memory so it can be
// sent upstream more than once.
type Request struct {
	*http.Request

	// Payload is the complete request body.
	Payload []byte
}

// NewRequest buffers the body of r. maxBytes <= 0 disables the limit.
func NewRequest(r *http.Request, maxBytes int64) (*Request, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return &Request{Request: r}, nil
	}
	defer r.Body.Close()

	reader := io.Reader(r.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(r.Body, maxBytes+1)
	}

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if maxBytes > 0 && int64(len(payload)) > maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxBytes)
	}

	return &Request{Request: r, Payload: payload}, nil
}

// NewBody returns a fresh reader over the payload.
func (r *Request) NewBody() io.ReadCloser {
	if len(r.Payload) == 0 {
		return http.NoBody
	}
	return io.NopCloser(bytes.NewReader(r.Payload))
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// newUpstreamRequest creates an outbound request to target carrying req's
// method, payload and end-to-end headers.
func newUpstreamRequest(ctx context.Context, req *Request, target string) (*http.Request, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, target, req.NewBody())
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}

	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Header.Del("Content-Length")
	out.Header.Del("Host")
	out.ContentLength = int64(len(req.Payload))

	// GetBody lets the transport replay the payload on redirects.
	payload := req.Payload
	out.GetBody = func() (io.ReadCloser, error) {
		return (&Request{Payload: payload}).NewBody(), nil
	}

	return out, nil
}

// joinURL appends path and rawQuery to base, trimming a trailing slash
// from base.
func joinURL(base, path, rawQuery string) string {
	target := strings.TrimRight(base, "/") + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// hasBody reports whether method conventionally carries a body.
func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}
