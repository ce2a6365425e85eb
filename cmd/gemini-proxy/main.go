// gemini-proxy is a reverse proxy for OpenAI-style and Gemini-style LLM
// APIs that serves requests from a pool of upstream keys.
//
// Callers presenting the configured shared secret are served from the pool:
// keys rotate round-robin, a key rejected with 429 is marked exhausted for
// that model and the request is retried on the next key. Callers presenting
// their own credential are passed through unchanged.
//
// Usage:
//
//	# Start the proxy, configured from the environment
//	API_KEYS=key1,key2 PROXY_API_KEY=secret gemini-proxy run
//
//	# Start with a configuration file, reloading it on change
//	gemini-proxy run --config /etc/gemini-proxy/config.yaml --watch
//
//	# Inspect or reset the persisted key pool
//	gemini-proxy keys stats --output json
//	gemini-proxy keys reset
//
//	# Show version information
//	gemini-proxy version
package main

func main() {
	Execute()
}
