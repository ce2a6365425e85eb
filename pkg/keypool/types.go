package keypool

import (
	"slices"
	"strings"
)

// DefaultStateKey is the storage key the pool snapshot is saved under.
const DefaultStateKey = "keyManagerState"

// KeyRecord is the state of one configured credential.
type KeyRecord struct {
	Key              string            `json:"key"`
	ExhaustedModels  []string          `json:"exhaustedModels"`
	ExhaustedReasons map[string]string `json:"exhaustedReasons"`
	UsageCount       map[string]int64  `json:"usageCount"`
}

// newKeyRecord creates a record with no exhaustion and no usage.
func newKeyRecord(key string) *KeyRecord {
	return &KeyRecord{
		Key:              key,
		ExhaustedModels:  []string{},
		ExhaustedReasons: map[string]string{},
		UsageCount:       map[string]int64{},
	}
}

// eligible reports whether the key may be handed out for model.
func (r *KeyRecord) eligible(model string) bool {
	return model == "" || !slices.Contains(r.ExhaustedModels, model)
}

// markExhausted adds model to the exhausted set and records the reason.
func (r *KeyRecord) markExhausted(model, reason string) {
	if !slices.Contains(r.ExhaustedModels, model) {
		r.ExhaustedModels = append(r.ExhaustedModels, model)
	}
	r.ExhaustedReasons[model] = reason
}

// clear drops all exhaustion and usage state.
func (r *KeyRecord) clear() {
	r.ExhaustedModels = []string{}
	r.ExhaustedReasons = map[string]string{}
	r.UsageCount = map[string]int64{}
}

func (r *KeyRecord) clone() *KeyRecord {
	out := &KeyRecord{
		Key:              r.Key,
		ExhaustedModels:  slices.Clone(r.ExhaustedModels),
		ExhaustedReasons: make(map[string]string, len(r.ExhaustedReasons)),
		UsageCount:       make(map[string]int64, len(r.UsageCount)),
	}
	if out.ExhaustedModels == nil {
		out.ExhaustedModels = []string{}
	}
	for k, v := range r.ExhaustedReasons {
		out.ExhaustedReasons[k] = v
	}
	for k, v := range r.UsageCount {
		out.UsageCount[k] = v
	}
	return out
}

// PoolState is the persisted form of a pool.
type PoolState struct {
	Keys   []*KeyRecord `json:"keys"`
	Cursor int          `json:"currentIndex"`
}

func (s *PoolState) clone() *PoolState {
	out := &PoolState{
		Keys:   make([]*KeyRecord, len(s.Keys)),
		Cursor: s.Cursor,
	}
	for i, r := range s.Keys {
		out.Keys[i] = r.clone()
	}
	return out
}

// withRecord returns a copy of s that shares every record except the one at
// pos, which is cloned so it can be mutated without touching s.
func (s *PoolState) withRecord(pos int) (*PoolState, *KeyRecord) {
	out := &PoolState{
		Keys:   slices.Clone(s.Keys),
		Cursor: s.Cursor,
	}
	out.Keys[pos] = s.Keys[pos].clone()
	return out, out.Keys[pos]
}

// find returns the position of key, or -1.
func (s *PoolState) find(key string) int {
	return slices.IndexFunc(s.Keys, func(r *KeyRecord) bool { return r.Key == key })
}

// normalize repairs a snapshot read from storage so the pool invariants hold.
func (s *PoolState) normalize() {
	seen := make(map[string]bool, len(s.Keys))
	kept := s.Keys[:0]
	for _, r := range s.Keys {
		if r == nil || r.Key == "" || seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		if r.ExhaustedModels == nil {
			r.ExhaustedModels = []string{}
		}
		if r.ExhaustedReasons == nil {
			r.ExhaustedReasons = map[string]string{}
		}
		if r.UsageCount == nil {
			r.UsageCount = map[string]int64{}
		}
		kept = append(kept, r)
	}
	s.Keys = kept

	if s.Cursor < 0 || s.Cursor >= len(s.Keys) {
		s.Cursor = 0
	}
}

// Lease is a key handed out by Acquire.
type Lease struct {
	// Key is the credential to use upstream.
	Key string

	// Position is the key's index in pool order.
	Position int
}

// KeyStats is a read-only view of one record.
type KeyStats struct {
	Key              string            `json:"key"`
	UsageCount       map[string]int64  `json:"usageCount"`
	ExhaustedModels  []string          `json:"exhaustedModels"`
	ExhaustedReasons map[string]string `json:"exhaustedReasons"`
}

// ParseKeys splits a comma-separated key list. Entries are trimmed; empty
// entries and repeated keys are dropped, keeping first-occurrence order.
func ParseKeys(raw string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		key := strings.TrimSpace(part)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}
