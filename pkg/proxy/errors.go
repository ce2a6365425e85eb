package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorResponse is the OpenAI-compatible error body returned for every
// error the proxy generates itself. Upstream errors are relayed verbatim.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error type constants matching the OpenAI API.
const (
	ErrorTypeInvalidRequest     = "invalid_request_error"
	ErrorTypeAuthentication     = "authentication_error"
	ErrorTypeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorTypeServerError        = "server_error"
	ErrorTypeBadGateway         = "bad_gateway"
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// Error codes.
const (
	CodeUnknownAPIType    = "unknown_api_type"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeRequestTooLarge   = "request_too_large"
	CodeInvalidBody       = "invalid_body"
	CodeKeysExhausted     = "keys_exhausted"
	CodeKeysNotConfigured = "keys_not_configured"
	CodeKeyPoolError      = "key_pool_error"
	CodeUpstreamError     = "upstream_unreachable"
	CodeAttemptsExhausted = "attempts_exhausted"
	CodeInternalError     = "internal_error"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, errorType, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Code:    code,
		},
	}
}

// errorType returns the error type for an HTTP status code.
func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimitExceeded
	case status == http.StatusBadGateway:
		return ErrorTypeBadGateway
	case status == http.StatusServiceUnavailable:
		return ErrorTypeServiceUnavailable
	case status >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeInvalidRequest
	}
}

// WriteError writes an OpenAI-compatible error response with status.
func WriteError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSONResponse(w, status, NewErrorResponse(message, errorType(status), code))
}

// WriteJSONResponse writes a JSON response to the HTTP response writer.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}
