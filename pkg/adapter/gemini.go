package adapter

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// geminiActions are the RPC suffixes the Gemini adapter recognizes.
var geminiActions = []string{
	":generateContent",
	":streamGenerateContent",
	":embedContent",
}

var geminiModelPattern = regexp.MustCompile(`/models/([^/:]+)`)

// geminiVersionPrefix is stripped from inbound paths because the upstream
// base URL already carries the API version.
const geminiVersionPrefix = "/v1beta"

// Gemini handles Gemini-style requests: the model is a path segment and the
// credential travels in the x-goog-api-key header or the key query parameter.
type Gemini struct {
	baseURL string
}

// NewGemini creates an adapter that forwards to baseURL.
func NewGemini(baseURL string) *Gemini {
	return &Gemini{baseURL: baseURL}
}

// APIType implements Adapter.
func (a *Gemini) APIType() string {
	return APITypeGemini
}

// Matches implements Adapter.
func (a *Gemini) Matches(r *http.Request) bool {
	path := r.URL.Path
	if !strings.Contains(path, "/models/") {
		return false
	}
	for _, action := range geminiActions {
		if strings.HasSuffix(path, action) {
			return true
		}
	}
	return false
}

// ExtractModelName returns the path segment following /models/.
func (a *Gemini) ExtractModelName(req *Request) string {
	m := geminiModelPattern.FindStringSubmatch(req.URL.Path)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractClientCredential prefers the x-goog-api-key header over the key
// query parameter.
func (a *Gemini) ExtractClientCredential(r *http.Request) string {
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}

// BuildUpstreamRequest implements Adapter.
func (a *Gemini) BuildUpstreamRequest(ctx context.Context, req *Request, credential, model string) (*http.Request, error) {
	path := req.URL.Path
	if path == geminiVersionPrefix || strings.HasPrefix(path, geminiVersionPrefix+"/") {
		path = path[len(geminiVersionPrefix):]
	}

	rawQuery := req.URL.RawQuery
	if credential != "" {
		query := req.URL.Query()
		query.Del("key")
		rawQuery = encodeQuery(query)
	}

	out, err := newUpstreamRequest(ctx, req, joinURL(a.baseURL, path, rawQuery))
	if err != nil {
		return nil, err
	}

	if credential != "" {
		out.Header.Del("Authorization")
		out.Header.Set("x-goog-api-key", credential)
	}
	return out, nil
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return q.Encode()
}
