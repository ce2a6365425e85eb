package proxy

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/fakeyw/gemini-proxy/pkg/adapter"
)

// ErrUnauthorized is returned when a shared secret is configured and the
// caller did not present it.
var ErrUnauthorized = errors.New("invalid or missing API key")

// Authorize decides how a request is served. With no secret configured every
// request is passed through with the caller's own credential. With a secret,
// presenting it selects pooled mode and anything else is rejected.
func Authorize(r *http.Request, a adapter.Adapter, secret string) (usePool bool, err error) {
	if secret == "" {
		return false, nil
	}

	credential := a.ExtractClientCredential(r)
	if credential == "" {
		return false, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(secret)) != 1 {
		return false, ErrUnauthorized
	}
	return true, nil
}
