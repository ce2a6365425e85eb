package keypool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/fakeyw/gemini-proxy/pkg/keypool/storage"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/logging"
)

// Pool is the key admission controller. All operations are serialized by a
// single mutex; the snapshot is loaded lazily by the first operation and saved
// before any mutation becomes visible.
type Pool struct {
	mu       sync.Mutex
	backend  storage.Backend
	seed     []string
	stateKey string
	logger   *slog.Logger

	// state is nil until the first successful load.
	state *PoolState
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger.With("component", "keypool")
		}
	}
}

// WithStateKey overrides the storage key the snapshot is saved under.
func WithStateKey(key string) Option {
	return func(p *Pool) {
		if key != "" {
			p.stateKey = key
		}
	}
}

// New creates a pool persisted in backend. seed is the configured key list,
// used only when the backend holds no snapshot yet.
func New(backend storage.Backend, seed []string, opts ...Option) *Pool {
	p := &Pool{
		backend:  backend,
		seed:     append([]string(nil), seed...),
		stateKey: DefaultStateKey,
		logger:   slog.Default().With("component", "keypool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ensureLoadedLocked loads the snapshot, or bootstraps it from the seed.
// Must be called with p.mu held. A failure leaves the pool unloaded so the
// next operation tries again.
func (p *Pool) ensureLoadedLocked(ctx context.Context) error {
	if p.state != nil {
		return nil
	}

	data, ok, err := p.backend.Get(ctx, p.stateKey)
	if err != nil {
		return &StorageError{Op: "load", Err: err}
	}

	if ok {
		var state PoolState
		if err := json.Unmarshal(data, &state); err != nil {
			return &StorageError{Op: "load", Err: err}
		}
		state.normalize()
		p.state = &state
		p.logger.Info("key pool loaded from storage",
			"keys", len(state.Keys),
			"cursor", state.Cursor,
		)
		return nil
	}

	state := &PoolState{Keys: make([]*KeyRecord, 0, len(p.seed))}
	for _, key := range ParseKeys(strings.Join(p.seed, ",")) {
		state.Keys = append(state.Keys, newKeyRecord(key))
	}

	if len(state.Keys) == 0 {
		p.logger.Warn("no API keys configured")
		p.state = state
		return nil
	}

	if err := p.commitLocked(ctx, state); err != nil {
		return err
	}
	p.logger.Info("key pool initialized from configuration", "keys", len(state.Keys))
	return nil
}

// commitLocked saves next and, only on success, makes it the current state.
func (p *Pool) commitLocked(ctx context.Context, next *PoolState) error {
	data, err := json.Marshal(next)
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	if err := p.backend.Put(ctx, p.stateKey, data); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	p.state = next
	return nil
}

// Acquire returns the next key, in rotation order, that is not exhausted for
// model. An empty model matches every key. The cursor moves past the returned
// key.
func (p *Pool) Acquire(ctx context.Context, model string) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(ctx); err != nil {
		return Lease{}, err
	}

	n := len(p.state.Keys)
	if n == 0 {
		return Lease{}, ErrNotConfigured
	}

	for i := 0; i < n; i++ {
		pos := (p.state.Cursor + i) % n
		record := p.state.Keys[pos]
		if !record.eligible(model) {
			continue
		}

		next := &PoolState{Keys: p.state.Keys, Cursor: (pos + 1) % n}
		if err := p.commitLocked(ctx, next); err != nil {
			return Lease{}, err
		}
		return Lease{Key: record.Key, Position: pos}, nil
	}

	return Lease{}, &ExhaustedError{Model: model}
}

// MarkExhausted records that key was rejected for model. Marking the same
// model again only replaces the reason. The cursor is not moved.
func (p *Pool) MarkExhausted(ctx context.Context, key, model, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	pos := p.state.find(key)
	if pos < 0 {
		p.logger.Warn("mark exhausted for unknown key", "key", logging.MaskKey(key))
		return ErrKeyNotFound
	}

	next, record := p.state.withRecord(pos)
	record.markExhausted(model, reason)
	if err := p.commitLocked(ctx, next); err != nil {
		return err
	}

	p.logger.Info("key marked exhausted",
		"key", logging.MaskKey(key),
		"model", model,
	)
	return nil
}

// IncrementUsage adds one successful call for model to key's counter.
func (p *Pool) IncrementUsage(ctx context.Context, key, model string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	pos := p.state.find(key)
	if pos < 0 {
		p.logger.Warn("increment usage for unknown key", "key", logging.MaskKey(key))
		return ErrKeyNotFound
	}

	next, record := p.state.withRecord(pos)
	record.UsageCount[model]++
	return p.commitLocked(ctx, next)
}

// Reset clears exhaustion and usage on every key and rewinds the cursor.
func (p *Pool) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	next := p.state.clone()
	for _, record := range next.Keys {
		record.clear()
	}
	next.Cursor = 0

	if err := p.commitLocked(ctx, next); err != nil {
		return err
	}

	p.logger.Info("key pool reset", "keys", len(next.Keys))
	return nil
}

// Stats returns a copy of every record in pool order.
func (p *Pool) Stats(ctx context.Context) ([]KeyStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	stats := make([]KeyStats, 0, len(p.state.Keys))
	for _, record := range p.state.Keys {
		c := record.clone()
		stats = append(stats, KeyStats{
			Key:              c.Key,
			UsageCount:       c.UsageCount,
			ExhaustedModels:  c.ExhaustedModels,
			ExhaustedReasons: c.ExhaustedReasons,
		})
	}
	return stats, nil
}

// Size loads the pool if needed and returns the number of keys.
func (p *Pool) Size(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoadedLocked(ctx); err != nil {
		return 0, err
	}
	return len(p.state.Keys), nil
}
