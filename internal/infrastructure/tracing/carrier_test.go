package tracing

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectExtract_RoundTripsSpanContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := Inject(ctx, nil)
	if headers.Validate() != nil {
		t.Fatalf("expected headers to be a valid AMQP table: %v", headers.Validate())
	}
	if _, ok := headers["traceparent"]; !ok {
		t.Fatalf("expected traceparent header, got %v", headers)
	}

	extracted := trace.SpanContextFromContext(Extract(context.Background(), headers))
	if extracted.TraceID() != traceID {
		t.Errorf("expected trace id %s, got %s", traceID, extracted.TraceID())
	}
	if !extracted.IsRemote() {
		t.Error("expected extracted span context to be remote")
	}
}

func TestHeaderCarrier_ByteValues(t *testing.T) {
	c := HeaderCarrier(amqp.Table{"traceparent": []byte("abc"), "count": int32(3)})

	if got := c.Get("traceparent"); got != "abc" {
		t.Errorf("expected byte header to read as string, got %q", got)
	}
	if got := c.Get("count"); got != "" {
		t.Errorf("expected non-string header to read empty, got %q", got)
	}
	if got := c.Get("missing"); got != "" {
		t.Errorf("expected missing header to read empty, got %q", got)
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
