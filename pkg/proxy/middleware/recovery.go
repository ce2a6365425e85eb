package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/fakeyw/gemini-proxy/pkg/proxy"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and returns a 500
// Internal Server Error response in OpenAI error format. It logs the panic
// with stack trace for debugging but does not expose internal details to clients.
//
// http.ErrAbortHandler is re-panicked so the server aborts the connection.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			_ = proxy.WriteError(w, http.StatusInternalServerError, proxy.CodeInternalError,
				"An internal error occurred. Please try again later.")
		}()

		next.ServeHTTP(w, r)
	})
}
