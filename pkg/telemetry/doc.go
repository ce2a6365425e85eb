// Package telemetry groups the observability used by the proxy.
//
// # Components
//
//   - logging: slog construction, request-scoped fields and key masking
//   - metrics: Prometheus collectors for requests, upstream attempts and
//     key pool events
//   - tracing: OpenTelemetry spans per request and per upstream attempt
//   - health: liveness and readiness endpoints
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger.Logger)
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordAcquisition(metrics.AcquireOK)
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//		return err
//	}
//	ctx, span := tracer.Start(ctx, "proxy.request")
//	defer span.End()
//
// Credentials are never logged in full: logging.MaskKey keeps a short
// prefix.
package telemetry
