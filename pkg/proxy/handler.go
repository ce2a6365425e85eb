package proxy

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fakeyw/gemini-proxy/pkg/adapter"
)

// SecretFunc returns the current shared secret. An empty secret disables
// pooled mode.
type SecretFunc func() string

// Handler is the catch-all proxy endpoint. It resolves the API family,
// authorizes the caller, buffers the body and hands off to the Orchestrator.
type Handler struct {
	registry     *adapter.Registry
	orchestrator *Orchestrator
	secret       SecretFunc
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler creates a Handler. secret is consulted on every request.
func NewHandler(registry *adapter.Registry, orchestrator *Orchestrator, secret SecretFunc, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if secret == nil {
		secret = func() string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		registry:     registry,
		orchestrator: orchestrator,
		secret:       secret,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With("component", "proxy.handler"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a := h.registry.Resolve(r)
	if a == nil {
		h.logger.DebugContext(r.Context(), "no adapter matched", "method", r.Method, "path", r.URL.Path)
		WriteError(w, http.StatusBadRequest, CodeUnknownAPIType, "unknown api type")
		return
	}

	usePool, err := Authorize(r, a, h.secret())
	if err != nil {
		h.logger.WarnContext(r.Context(), "client authorization failed",
			"api_type", a.APIType(),
			"remote_addr", r.RemoteAddr,
		)
		WriteError(w, http.StatusUnauthorized, CodeInvalidAPIKey, err.Error())
		return
	}

	req, err := adapter.NewRequest(r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, adapter.ErrBodyTooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, CodeRequestTooLarge, err.Error())
			return
		}
		h.logger.WarnContext(r.Context(), "failed to read request body", "error", err)
		WriteError(w, http.StatusBadRequest, CodeInvalidBody, "failed to read request body")
		return
	}

	h.orchestrator.Proxy(w, req, a, usePool)
}
