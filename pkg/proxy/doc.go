// Package proxy forwards OpenAI-style and Gemini-style API calls to their
// upstreams.
//
// # Modes
//
// When a shared secret is configured, a caller presenting it is served in
// pooled mode: the proxy replaces the caller's credential with a key from the
// key pool and, when the upstream answers 429, marks that key exhausted for
// the requested model and retries with the next key. Callers presenting any
// other credential are rejected with 401. Without a shared secret every
// request is passed through with the caller's own credential and exactly one
// upstream attempt is made.
//
// # Responses
//
// Upstream responses are relayed with their status, headers and body
// unchanged, flushing after every chunk so streamed responses arrive
// incrementally. Errors produced by the proxy itself use the OpenAI error
// envelope:
//
//	{"error": {"message": "...", "type": "rate_limit_exceeded", "code": "keys_exhausted"}}
//
// # Bookkeeping
//
// Marking keys exhausted and counting usage happen in the background on a
// context detached from the request. Failures are logged and counted but never
// change the response. Orchestrator.Drain waits for outstanding updates during
// shutdown.
package proxy
