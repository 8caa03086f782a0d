package services_test

import (
	"context"
	"testing"

	"chunkwise/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithChunk(ctx, 7)
	ctx = services.WithStage(ctx, "encoding")
	ctx = services.WithWorker(ctx, 2)
	ctx = services.WithRequestID(ctx, "run-123")

	if idx, ok := services.ChunkFromContext(ctx); !ok || idx != 7 {
		t.Fatalf("unexpected chunk: %v %v", idx, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "encoding" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if slot, ok := services.WorkerFromContext(ctx); !ok || slot != 2 {
		t.Fatalf("unexpected worker: %v %v", slot, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "run-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.ChunkFromContext(ctx); ok {
		t.Fatal("expected no chunk value")
	}
}
