package replication

import "go.opentelemetry.io/otel/trace/noop"

var (
	testTracer  = noop.NewTracerProvider().Tracer("test/internal/replication")
	testMetrics = noopMetrics{}
)
