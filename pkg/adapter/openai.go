package adapter

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// OpenAI handles OpenAI-style requests: bearer credentials and a JSON body
// naming the model.
type OpenAI struct {
	baseURL string
}

// NewOpenAI creates an adapter that forwards to baseURL.
func NewOpenAI(baseURL string) *OpenAI {
	return &OpenAI{baseURL: baseURL}
}

// APIType implements Adapter.
func (a *OpenAI) APIType() string {
	return APITypeOpenAI
}

// Matches implements Adapter.
func (a *OpenAI) Matches(r *http.Request) bool {
	path := r.URL.Path
	return strings.Contains(path, "/chat/completions") ||
		strings.Contains(path, "/embeddings") ||
		path == "/models"
}

// ExtractModelName reads the "model" field of a JSON body.
func (a *OpenAI) ExtractModelName(req *Request) string {
	if !hasBody(req.Method) {
		return ""
	}
	if !strings.Contains(req.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	if !gjson.ValidBytes(req.Payload) {
		return ""
	}

	model := gjson.GetBytes(req.Payload, "model")
	if model.Type != gjson.String {
		return ""
	}
	return model.String()
}

// ExtractClientCredential returns the bearer token.
func (a *OpenAI) ExtractClientCredential(r *http.Request) string {
	return bearerToken(r.Header.Get("Authorization"))
}

// BuildUpstreamRequest implements Adapter.
func (a *OpenAI) BuildUpstreamRequest(ctx context.Context, req *Request, credential, model string) (*http.Request, error) {
	target := joinURL(a.baseURL, req.URL.Path, req.URL.RawQuery)

	out, err := newUpstreamRequest(ctx, req, target)
	if err != nil {
		return nil, err
	}

	if credential != "" {
		out.Header.Set("Authorization", "Bearer "+credential)
	}
	return out, nil
}

// bearerToken extracts the token of a "Bearer <token>" header value.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
