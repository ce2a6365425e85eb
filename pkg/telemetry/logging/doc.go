// Package logging configures structured logging for the proxy.
//
// # Overview
//
// The package wraps log/slog:
//   - JSON or text output
//   - A shared slog.LevelVar so the level can change at runtime
//   - Request-scoped fields (request_id, api_type, model) carried in context
//   - MaskKey for logging credentials by prefix only
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger.Logger)
//
//	ctx = logging.WithRequestID(ctx, "8f14e45f-ceea-4672-9f1c-7bd1a1a3a1c1")
//	logger.InfoContext(ctx, "provided key", "key", logging.MaskKey(key))
//
// Credentials must never be logged in full.
package logging
