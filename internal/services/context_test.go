package services_test

import (
	"context"
	"testing"

	"sfcfetch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithWorkflowID(ctx, 4)
	ctx = services.WithDocumentID(ctx, 42)
	ctx = services.WithStep(ctx, "convert_to_markdown")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.WorkflowIDFromContext(ctx); !ok || id != 4 {
		t.Fatalf("unexpected workflow id: %v %v", id, ok)
	}
	if id, ok := services.DocumentIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected document id: %v %v", id, ok)
	}
	if step, ok := services.StepFromContext(ctx); !ok || step != "convert_to_markdown" {
		t.Fatalf("unexpected step: %v %v", step, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStep(ctx, "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.StepFromContext(ctx); ok {
		t.Fatal("expected no step value")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id")
	}
	if _, ok := services.DocumentIDFromContext(ctx); ok {
		t.Fatal("expected no document id")
	}
}
