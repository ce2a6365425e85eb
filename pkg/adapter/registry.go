package adapter

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/fakeyw/gemini-proxy/pkg/config"
)

// Registry holds adapters in registration order.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "adapter.registry")}
}

// DefaultRegistry registers the OpenAI adapter followed by the Gemini adapter.
func DefaultRegistry(cfg config.UpstreamsConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewOpenAI(cfg.OpenAI.BaseURL))
	r.Register(NewGemini(cfg.Gemini.BaseURL))
	return r
}

// Register adds a. An adapter with the same API type is replaced in place,
// keeping its position.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.adapters {
		if existing.APIType() == a.APIType() {
			r.logger.Warn("replacing registered adapter", "api_type", a.APIType())
			r.adapters[i] = a
			return
		}
	}
	r.adapters = append(r.adapters, a)
}

// Resolve returns the first adapter matching req, or nil.
func (r *Registry) Resolve(req *http.Request) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.adapters {
		if r.matches(a, req) {
			return a
		}
	}
	return nil
}

// Adapters returns the registered adapters in order.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Adapter(nil), r.adapters...)
}

// matches runs a.Matches, treating a panic as a non-match.
func (r *Registry) matches(a Adapter, req *http.Request) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("adapter match panicked",
				"api_type", a.APIType(),
				"panic", rec,
				"path", req.URL.Path,
			)
			ok = false
		}
	}()
	return a.Matches(req)
}
