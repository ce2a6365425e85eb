// Package metrics exposes Prometheus metrics for the proxy: request
// outcomes and latency, upstream attempts, key pool acquisitions and
// exhaustions, and failed background bookkeeping.
//
// Model names come from client input, so the exhaustion metric caps the
// number of distinct model labels and folds the rest into "other".
package metrics
