package observability

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerFromContext_Defaults(t *testing.T) {
	if LoggerFromContext(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	var nilCtx context.Context
	if LoggerFromContext(nilCtx) == nil {
		t.Fatalf("expected default logger for nil context")
	}
}

func TestLoggerFromContext_RoundTrip(t *testing.T) {
	lg := slog.Default().With(slog.String("job_id", "j-1"))
	ctx := ContextWithLogger(context.Background(), lg)
	if got := LoggerFromContext(ctx); got != lg {
		t.Fatalf("expected stored logger back")
	}
	// nil logger leaves the context untouched
	ctx2 := ContextWithLogger(ctx, nil)
	if ctx2 != ctx {
		t.Fatalf("nil logger should not replace context")
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	ctx := ContextWithRequestID(context.Background(), "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("expected req-42, got %q", got)
	}
	if ctx2 := ContextWithRequestID(ctx, ""); ctx2 != ctx {
		t.Fatalf("empty request id should not replace context")
	}
}
