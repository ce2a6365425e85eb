package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fakeyw/gemini-proxy/pkg/adapter"
	"github.com/fakeyw/gemini-proxy/pkg/keypool"
	"github.com/fakeyw/gemini-proxy/pkg/keypool/storage"
)

// fakeKeys is a KeyManager that records every call.
type fakeKeys struct {
	mu sync.Mutex

	acquireErr   error
	incrementErr error
	keys         []string
	next         int

	// release, when set, blocks bookkeeping until closed.
	release chan struct{}
	// ctxErrs captures ctx.Err() seen by bookkeeping calls.
	ctxErrs []error

	acquires   int
	marks      []string
	increments []string
}

func (f *fakeKeys) Acquire(ctx context.Context, model string) (keypool.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acquires++
	if f.acquireErr != nil {
		return keypool.Lease{}, f.acquireErr
	}
	pos := f.next % len(f.keys)
	f.next++
	return keypool.Lease{Key: f.keys[pos], Position: pos}, nil
}

func (f *fakeKeys) MarkExhausted(ctx context.Context, key, model, reason string) error {
	f.wait(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, key+"|"+model+"|"+reason)
	return nil
}

func (f *fakeKeys) IncrementUsage(ctx context.Context, key, model string) error {
	f.wait(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments = append(f.increments, key+"|"+model)
	return f.incrementErr
}

func (f *fakeKeys) wait(ctx context.Context) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
}

func (f *fakeKeys) snapshot() (acquires int, marks, increments []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, append([]string(nil), f.marks...), append([]string(nil), f.increments...)
}

// upstream is a fake API server that records the credentials it sees.
type upstream struct {
	*httptest.Server

	calls atomic.Int32

	mu    sync.Mutex
	seen  []string
	paths []string
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, credential string)) *upstream {
	t.Helper()

	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)

		credential := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if credential == "" {
			credential = r.Header.Get("x-goog-api-key")
		}

		u.mu.Lock()
		u.seen = append(u.seen, credential)
		u.paths = append(u.paths, r.URL.RequestURI())
		u.mu.Unlock()

		handler(w, r, credential)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) credentials() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.seen...)
}

func newOpenAIRequest(t *testing.T, model, credential string) *adapter.Request {
	t.Helper()

	body := fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"hi"}]}`, model)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if credential != "" {
		r.Header.Set("Authorization", "Bearer "+credential)
	}

	req, err := adapter.NewRequest(r, 0)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	return req
}

func newTestOrchestrator(keys KeyManager, opts ...OrchestratorOption) *Orchestrator {
	opts = append([]OrchestratorOption{WithRetryDelay(0)}, opts...)
	return NewOrchestrator(keys, nil, opts...)
}

func drain(t *testing.T, o *Orchestrator) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}

func TestOrchestrator_RotatesAfterRateLimit(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		if credential == "A" {
			http.Error(w, "quota exceeded for A", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"chatcmpl-1","choices":[]}`)
	})

	pool := keypool.New(storage.NewMemoryBackend(), []string{"A", "B"})
	o := newTestOrchestrator(pool)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"id":"chatcmpl-1","choices":[]}` {
		t.Errorf("Expected upstream body verbatim, got %s", rec.Body.String())
	}
	if got := up.credentials(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("Expected upstream to see [A B], got %v", got)
	}
	if rec.Header().Get("X-Proxied-By") != ProxiedByPooled {
		t.Errorf("Expected X-Proxied-By %q, got %q", ProxiedByPooled, rec.Header().Get("X-Proxied-By"))
	}

	stats, err := pool.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats[0].ExhaustedModels) != 1 || stats[0].ExhaustedModels[0] != "gpt-x" {
		t.Errorf("Expected A exhausted for gpt-x, got %v", stats[0].ExhaustedModels)
	}
	if !strings.Contains(stats[0].ExhaustedReasons["gpt-x"], "quota exceeded for A") {
		t.Errorf("Expected upstream body as reason, got %q", stats[0].ExhaustedReasons["gpt-x"])
	}
	if stats[1].UsageCount["gpt-x"] != 1 {
		t.Errorf("Expected B usage 1, got %v", stats[1].UsageCount)
	}
	if len(stats[1].ExhaustedModels) != 0 {
		t.Errorf("Expected B not exhausted, got %v", stats[1].ExhaustedModels)
	}
}

func TestOrchestrator_EmptyPool(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {})

	pool := keypool.New(storage.NewMemoryBackend(), nil)
	o := newTestOrchestrator(pool)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if up.calls.Load() != 0 {
		t.Errorf("Expected zero upstream calls, got %d", up.calls.Load())
	}
	if !strings.Contains(rec.Body.String(), CodeKeysNotConfigured) {
		t.Errorf("Expected %s code, got %s", CodeKeysNotConfigured, rec.Body.String())
	}
}

func TestOrchestrator_AcquireErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "exhausted",
			err:      &keypool.ExhaustedError{Model: "gpt-x"},
			wantCode: http.StatusTooManyRequests,
			wantBody: "exhausted for model gpt-x",
		},
		{
			name:     "not configured",
			err:      keypool.ErrNotConfigured,
			wantCode: http.StatusInternalServerError,
			wantBody: CodeKeysNotConfigured,
		},
		{
			name:     "storage failure",
			err:      &keypool.StorageError{Op: "save", Err: errors.New("disk full")},
			wantCode: http.StatusInternalServerError,
			wantBody: CodeKeyPoolError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {})
			keys := &fakeKeys{acquireErr: tt.err}
			o := newTestOrchestrator(keys)

			rec := httptest.NewRecorder()
			o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)

			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected body to contain %q, got %s", tt.wantBody, rec.Body.String())
			}
			if acquires, _, _ := keys.snapshot(); acquires != 1 {
				t.Errorf("Expected a single acquisition, got %d", acquires)
			}
			if up.calls.Load() != 0 {
				t.Errorf("Expected zero upstream calls, got %d", up.calls.Load())
			}
		})
	}
}

func TestOrchestrator_AttemptsBounded(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	keys := &fakeKeys{keys: []string{"only"}}
	o := newTestOrchestrator(keys, WithMaxAttempts(3))

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unable to process request after 3 attempts") {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
	if up.calls.Load() != 3 {
		t.Errorf("Expected 3 upstream calls, got %d", up.calls.Load())
	}

	_, marks, increments := keys.snapshot()
	if len(marks) != 3 {
		t.Fatalf("Expected 3 exhaustion marks, got %v", marks)
	}
	if marks[0] != "only|gpt-x|"+unknownReason && marks[0] != "only|gpt-x|" {
		t.Errorf("Unexpected mark %q", marks[0])
	}
	if len(increments) != 0 {
		t.Errorf("Expected no usage on failure, got %v", increments)
	}
}

func TestOrchestrator_TransportFailureNotRetried(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {})
	deadURL := up.URL
	up.Close()

	keys := &fakeKeys{keys: []string{"A", "B"}}
	o := newTestOrchestrator(keys)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(deadURL), true)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
	if acquires, marks, _ := keys.snapshot(); acquires != 1 || len(marks) != 0 {
		t.Errorf("Expected one acquisition and no marks, got %d and %v", acquires, marks)
	}
}

func TestOrchestrator_NonRateLimitErrorsRelayed(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	})

	keys := &fakeKeys{keys: []string{"A", "B"}}
	o := newTestOrchestrator(keys)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected upstream 400 relayed, got %d", rec.Code)
	}
	if up.calls.Load() != 1 {
		t.Errorf("Expected a single upstream call, got %d", up.calls.Load())
	}
	if _, marks, increments := keys.snapshot(); len(marks) != 0 || len(increments) != 0 {
		t.Errorf("Expected no bookkeeping, got marks=%v increments=%v", marks, increments)
	}
}

func TestOrchestrator_PassThrough(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	keys := &fakeKeys{keys: []string{"pool-key"}}
	o := newTestOrchestrator(keys)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", "sk-client-own"), adapter.NewOpenAI(up.URL), false)
	drain(t, o)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected upstream 429 relayed, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "slow down") {
		t.Errorf("Expected upstream body, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Proxied-By") != ProxiedByDirect {
		t.Errorf("Expected X-Proxied-By %q, got %q", ProxiedByDirect, rec.Header().Get("X-Proxied-By"))
	}
	if got := up.credentials(); len(got) != 1 || got[0] != "sk-client-own" {
		t.Errorf("Expected client credential forwarded once, got %v", got)
	}
	if acquires, marks, _ := keys.snapshot(); acquires != 0 || len(marks) != 0 {
		t.Errorf("Expected no pool operations, got %d acquires and %v", acquires, marks)
	}
}

func TestOrchestrator_UsageFailureDoesNotAffectResponse(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		io.WriteString(w, "upstream says hi")
	})

	keys := &fakeKeys{keys: []string{"A"}, incrementErr: errors.New("pool unreachable")}
	o := newTestOrchestrator(keys)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	if rec.Code != http.StatusOK || rec.Body.String() != "upstream says hi" {
		t.Errorf("Expected upstream response, got %d %q", rec.Code, rec.Body.String())
	}
	if _, _, increments := keys.snapshot(); len(increments) != 1 {
		t.Errorf("Expected IncrementUsage to be attempted once, got %v", increments)
	}
}

func TestOrchestrator_NoUsageWithoutModel(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		io.WriteString(w, `{"data":[]}`)
	})

	keys := &fakeKeys{keys: []string{"A"}}
	o := newTestOrchestrator(keys)

	r := httptest.NewRequest(http.MethodGet, "/models", nil)
	req, err := adapter.NewRequest(r, 0)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	rec := httptest.NewRecorder()
	o.Proxy(rec, req, adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if _, _, increments := keys.snapshot(); len(increments) != 0 {
		t.Errorf("Expected no usage for empty model, got %v", increments)
	}
}

func TestOrchestrator_UsageBucketedByLastSegment(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		io.WriteString(w, "ok")
	})

	keys := &fakeKeys{keys: []string{"A"}}
	o := newTestOrchestrator(keys)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "publishers/google/models/gemini-pro", ""), adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	if _, _, increments := keys.snapshot(); len(increments) != 1 || increments[0] != "A|gemini-pro" {
		t.Errorf("Expected usage under gemini-pro, got %v", increments)
	}
}

func TestUsageBucket(t *testing.T) {
	tests := map[string]string{
		"gemini-pro":               "gemini-pro",
		"models/gemini-pro":        "gemini-pro",
		"publishers/google/gpt-4o": "gpt-4o",
		"trailing/":                "",
		"":                         "",
	}

	for model, want := range tests {
		if got := usageBucket(model); got != want {
			t.Errorf("usageBucket(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestOrchestrator_RelaysHeadersAndStreams(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Upstream", "yes")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: chunk-%d\n\n", i)
			flusher.Flush()
		}
	})

	keys := &fakeKeys{keys: []string{"A"}}
	o := newTestOrchestrator(keys)

	rec := httptest.NewRecorder()
	o.Proxy(rec, newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)
	drain(t, o)

	want := "data: chunk-0\n\ndata: chunk-1\n\ndata: chunk-2\n\n"
	if rec.Body.String() != want {
		t.Errorf("Expected stream %q, got %q", want, rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("Expected response to be flushed")
	}
	if rec.Header().Get("X-Upstream") != "yes" || rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Expected upstream headers copied, got %v", rec.Header())
	}
	if rec.Header().Get("Content-Length") != "" || rec.Header().Get("Transfer-Encoding") != "" {
		t.Errorf("Expected length headers stripped, got %v", rec.Header())
	}
}

func TestOrchestrator_BookkeepingOutlivesRequest(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		io.WriteString(w, "ok")
	})

	keys := &fakeKeys{keys: []string{"A"}, release: make(chan struct{})}
	o := newTestOrchestrator(keys)

	ctx, cancel := context.WithCancel(context.Background())
	req := newOpenAIRequest(t, "gpt-x", "")
	req.Request = req.Request.WithContext(ctx)

	rec := httptest.NewRecorder()
	o.Proxy(rec, req, adapter.NewOpenAI(up.URL), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 before bookkeeping finished, got %d", rec.Code)
	}

	cancel()
	close(keys.release)
	drain(t, o)

	keys.mu.Lock()
	defer keys.mu.Unlock()
	if len(keys.ctxErrs) != 1 || keys.ctxErrs[0] != nil {
		t.Errorf("Expected bookkeeping context to survive cancellation, got %v", keys.ctxErrs)
	}
}

func TestOrchestrator_DrainTimeout(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		io.WriteString(w, "ok")
	})

	keys := &fakeKeys{keys: []string{"A"}, release: make(chan struct{})}
	o := newTestOrchestrator(keys)

	o.Proxy(httptest.NewRecorder(), newOpenAIRequest(t, "gpt-x", ""), adapter.NewOpenAI(up.URL), true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	close(keys.release)
	drain(t, o)
}

func TestOrchestrator_GeminiPooled(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request, credential string) {
		io.WriteString(w, `{"candidates":[]}`)
	})

	keys := &fakeKeys{keys: []string{"pool-key"}}
	o := newTestOrchestrator(keys)

	r := httptest.NewRequest(http.MethodPost,
		"/v1beta/models/gemini-pro:generateContent?key=client-secret&alt=sse",
		strings.NewReader(`{"contents":[]}`))
	req, err := adapter.NewRequest(r, 0)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	rec := httptest.NewRecorder()
	o.Proxy(rec, req, adapter.NewGemini(up.URL), true)
	drain(t, o)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := up.credentials(); len(got) != 1 || got[0] != "pool-key" {
		t.Errorf("Expected pool key upstream, got %v", got)
	}

	up.mu.Lock()
	path := up.paths[0]
	up.mu.Unlock()
	if path != "/models/gemini-pro:generateContent?alt=sse" {
		t.Errorf("Expected rewritten path without client key, got %s", path)
	}
	if _, _, increments := keys.snapshot(); len(increments) != 1 || increments[0] != "pool-key|gemini-pro" {
		t.Errorf("Expected usage for gemini-pro, got %v", increments)
	}
}
