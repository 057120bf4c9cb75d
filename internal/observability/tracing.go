// Tracing helpers grounded on the teacher's internal/infrastructure/tracing/tracing.go:
// a package-level tracer name and a thin StartSpan wrapper, trimmed to what
// the query executor needs. There are no span attribute helpers; StartSpan
// ignores its attrs argument.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ddbsql/ddbsql"

// Tracer returns the package tracer from the globally configured
// TracerProvider. Callers who want spans exported wire a TracerProvider via
// otel.SetTracerProvider before opening the driver; if they don't, otel's
// default no-op provider makes every span a zero-cost stub.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named op and returns the updated context plus a
// finisher that also records err (if any) on the span, mirroring the
// teacher's StartSpan/EndSpan pairing in tracing.go.
func StartSpan(ctx context.Context, op string, attrs ...trace.EventOption) (context.Context, func(err *error)) {
	ctx, span := Tracer().Start(ctx, op)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
		}
		span.End()
	}
}
