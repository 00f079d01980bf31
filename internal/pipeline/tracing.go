package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sessiongate/gateway/internal/apperr"
)

// tracer mirrors the teacher's package-level otel.Tracer, scoped to one
// span per route dispatch (Session Validation Filter plus upstream
// dispatch) rather than per raw HTTP request, since Correlation and
// Metrics already wrap the request at the outer layer.
var tracer = otel.Tracer("gateway/pipeline")

type span struct {
	s trace.Span
}

// startSpan opens a span named after the matched route, carrying the route
// id as its only attribute.
func startSpan(ctx context.Context, routeID string) (context.Context, span) {
	ctx, s := tracer.Start(ctx, "pipeline."+routeID,
		trace.WithAttributes(attribute.String("gateway.route_id", routeID)),
	)
	return ctx, span{s: s}
}

func (sp span) end() {
	sp.s.End()
}

// fail records err on the span. Token contents and session secrets never
// reach apperr.Error.Msg, so recording the classified error is safe (P8).
func (sp span) fail(err error) {
	sp.s.SetStatus(codes.Error, "")
	if ae, ok := apperr.As(err); ok {
		sp.s.SetAttributes(
			attribute.String("gateway.error_kind", string(ae.Kind)),
			attribute.Int("gateway.status", ae.HTTPStatus()),
		)
	}
}
