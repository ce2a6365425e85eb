// Package tracing provides OpenTelemetry tracing for the proxy.
//
// Each client request gets a span, and every upstream attempt made on its
// behalf is a child span carrying the attempt number and upstream status.
// Spans are exported over OTLP gRPC:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    sample_ratio: 0.1
//	    insecure: true
//
// With tracing disabled every span is a noop.
package tracing
