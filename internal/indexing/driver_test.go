package indexing

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestDriverRunOnce(t *testing.T) {
	orch, vectors := newTestOrchestrator(t, pagedAdapter(60), &mockEmbedder{})
	ctx := context.Background()

	d := NewDriver(orch, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	busy, err := d.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if busy {
		t.Error("no live jobs, driver should be idle")
	}

	if _, err := orch.Start(ctx, 7, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 10; i++ {
		busy, err = d.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !busy {
			break
		}
	}
	if busy {
		t.Fatal("job did not run to completion")
	}

	state, err := orch.GetState(7)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", state.Status)
	}

	total, _ := vectors.Total(ctx)
	if total != 60 {
		t.Errorf("stored vectors = %d, want 60", total)
	}
}
