package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// APITypeKey is the context key for the matched upstream API family.
	APITypeKey contextKey = "api_type"

	// ModelKey is the context key for model names.
	ModelKey contextKey = "model"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithAPIType adds the upstream API family to the context.
func WithAPIType(ctx context.Context, apiType string) context.Context {
	return context.WithValue(ctx, APITypeKey, apiType)
}

// GetAPIType retrieves the upstream API family from the context.
func GetAPIType(ctx context.Context) string {
	if apiType, ok := ctx.Value(APITypeKey).(string); ok {
		return apiType
	}
	return ""
}

// WithModel adds a model name to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetModel retrieves the model name from the context.
func GetModel(ctx context.Context) string {
	if model, ok := ctx.Value(ModelKey).(string); ok {
		return model
	}
	return ""
}

// contextAttrs extracts the non-empty request-scoped fields.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), v))
	}
	if v := GetAPIType(ctx); v != "" {
		attrs = append(attrs, slog.String(string(APITypeKey), v))
	}
	if v := GetModel(ctx); v != "" {
		attrs = append(attrs, slog.String(string(ModelKey), v))
	}
	return attrs
}
