package middleware

import (
	"fmt"
	"net/http"

	"lfgkeeper/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware starts a server span per request, continuing any incoming W3C trace
// context. The trace id is echoed in X-Trace-ID.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		parent := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))
		ctx, span := observability.Tracer.Start(parent, spanName(c),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(requestAttributes(c)...),
		)

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		c.Set("X-Trace-ID", traceID)
		c.SetUserContext(ctx)

		err := c.Next()

		// The matched route is only known once routing ran.
		span.SetName(spanName(c))
		status := c.Response().StatusCode()
		span.SetAttributes(
			attribute.String("http.route", c.Route().Path),
			attribute.Int("http.status_code", status),
		)
		if actorID := ActorID(c); actorID != "" {
			span.SetAttributes(attribute.String("actor.id", actorID))
		}
		if err == nil && status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		observability.EndSpan(span, err)
		return err
	}
}

func spanName(c *fiber.Ctx) string {
	return c.Method() + " " + c.Route().Path
}

func requestAttributes(c *fiber.Ctx) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Method()),
		attribute.String("http.target", c.Path()),
		attribute.String("client.address", c.IP()),
	}
	if requestID := c.Locals("requestid"); requestID != nil {
		attrs = append(attrs, attribute.String("request.id", fmt.Sprint(requestID)))
	}
	return attrs
}
