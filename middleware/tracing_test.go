package middleware

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingWithTracer(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mw := TracingWithTracer(provider.Tracer("test"))

	j := testJob()

	t.Run("success span", func(t *testing.T) {
		h := Chain(func(ctx context.Context) error {
			if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
				t.Error("no span on handler context")
			}
			return nil
		}, j, mw)

		if err := h(context.Background()); err != nil {
			t.Fatalf("chain error: %v", err)
		}

		spans := recorder.Ended()
		if len(spans) != 1 {
			t.Fatalf("len(spans) = %d, want 1", len(spans))
		}
		span := spans[0]
		if span.Name() != "conveyor.job.ingest" {
			t.Errorf("span name = %q", span.Name())
		}
		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs["conveyor.tenant"] != "acme" {
			t.Errorf("tenant attr = %q, want acme", attrs["conveyor.tenant"])
		}
		if attrs["conveyor.job.id"] != j.ID.String() {
			t.Errorf("job id attr = %q", attrs["conveyor.job.id"])
		}
	})

	t.Run("error recorded on span", func(t *testing.T) {
		h := Chain(func(ctx context.Context) error {
			return errors.New("handler broke")
		}, j, mw)

		if err := h(context.Background()); err == nil {
			t.Fatal("expected error")
		}

		spans := recorder.Ended()
		last := spans[len(spans)-1]
		if len(last.Events()) == 0 {
			t.Error("expected recorded error event")
		}
	})
}
