// Package middleware provides the HTTP middleware wrapped around every
// endpoint of the proxy.
//
// # Middleware Chain
//
//	handler = RecoveryMiddleware(RequestIDMiddleware(LoggingMiddleware(handler)))
//
// Order (outermost first):
//  1. RecoveryMiddleware: turn handler panics into a 500 OpenAI-style error
//  2. RequestIDMiddleware: assign a request ID (UUID v4) or keep the caller's
//  3. LoggingMiddleware: log method, path, status and latency
//
// # Request ID
//
//	X-Request-ID: 550e8400-e29b-41d4-a716-446655440000
//
// The ID is stored with logging.WithRequestID, so every log record written
// with the request context carries a request_id attribute.
//
// # Streaming
//
// The status-capturing writer used by LoggingMiddleware implements Unwrap,
// so http.ResponseController can still flush streamed responses through it.
package middleware
