package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracerProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return exp
}

func TestStartSpanAndEnd(t *testing.T) {
	exp := setupTracerProvider(t)

	ctx, span := StartSpan(context.Background(), "engine.CreateOrder", attribute.String("user_id", "u1"))
	if TraceID(ctx) == "" {
		t.Fatal("expected trace id in context")
	}
	End(span, nil)

	_, failed := StartSpan(context.Background(), "engine.RefundOrder")
	End(failed, errors.New("refund exceeds remaining"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || len(spans[1].Events) == 0 {
		t.Fatalf("expected error status with recorded event, got %+v", spans[1].Status)
	}
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	provider, err := Setup(context.Background(), Config{ServiceName: "order-engine"}, nil)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestSetupWithExporter(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	exp := tracetest.NewInMemoryExporter()
	provider, err := Setup(context.Background(), Config{ServiceName: "order-engine", SampleRate: 1}, exp)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	_, span := StartSpan(context.Background(), "engine.GetOrder")
	End(span, nil)

	if err := provider.tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(exp.GetSpans()) != 1 {
		t.Fatalf("expected exported span after flush, got %d", len(exp.GetSpans()))
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestSampler(t *testing.T) {
	if sampler(0).Description() != sdktrace.NeverSample().Description() {
		t.Fatal("rate 0 must never sample")
	}
	if sampler(1).Description() != sdktrace.AlwaysSample().Description() {
		t.Fatal("rate 1 must always sample")
	}
}
