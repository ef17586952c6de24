package indexing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vferraz/acervo/internal/itemtext"
	"github.com/vferraz/acervo/internal/source"
	"github.com/vferraz/acervo/internal/storage"
	"github.com/vferraz/acervo/internal/vectorstore"
)

type mockAdapter struct {
	GetCollectionFn      func(ctx context.Context, id int64) (source.Collection, error)
	GetCollectionItemsFn func(ctx context.Context, id int64, perPage, page int) ([]source.Item, error)
}

func (m *mockAdapter) GetCollection(ctx context.Context, id int64) (source.Collection, error) {
	return m.GetCollectionFn(ctx, id)
}

func (m *mockAdapter) GetCollectionItems(ctx context.Context, id int64, perPage, page int) ([]source.Item, error) {
	return m.GetCollectionItemsFn(ctx, id, perPage, page)
}

type mockEmbedder struct {
	calls int
	fail  bool
}

func (m *mockEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.fail {
		return nil, errors.New("provider unavailable")
	}
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, float32(i)}
	}
	return vecs, nil
}

// pagedAdapter serves a collection of totalItems synthetic items.
func pagedAdapter(totalItems int) *mockAdapter {
	return &mockAdapter{
		GetCollectionFn: func(ctx context.Context, id int64) (source.Collection, error) {
			return source.Collection{ID: id, Name: "Ceramics", ItemsCount: totalItems}, nil
		},
		GetCollectionItemsFn: func(ctx context.Context, id int64, perPage, page int) ([]source.Item, error) {
			start := (page - 1) * perPage
			if start >= totalItems {
				return nil, nil
			}
			end := min(start+perPage, totalItems)
			items := make([]source.Item, 0, end-start)
			for i := start; i < end; i++ {
				items = append(items, source.Item{
					ID:    int64(i + 1),
					Title: fmt.Sprintf("Item %d", i+1),
					URL:   fmt.Sprintf("http://museum.example/items/%d", i+1),
				})
			}
			return items, nil
		},
	}
}

func newTestOrchestrator(t *testing.T, adapter source.Adapter, embedder Embedder) (*Orchestrator, *vectorstore.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	vectors := vectorstore.New(db.DB(), log)
	formatter := itemtext.NewFormatter(nil, 512)
	return NewOrchestrator(db, vectors, embedder, adapter, formatter, log), vectors
}

func TestBatchSizeTiers(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{50, 50},
		{100, 50},
		{101, 30},
		{500, 30},
		{501, 20},
		{1000, 20},
		{1001, 10},
	}
	for _, tt := range tests {
		if got := batchSizeFor(tt.total); got != tt.want {
			t.Errorf("batchSizeFor(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestStart(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(120), &mockEmbedder{})

	state, err := orch.Start(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", state.Status)
	}
	if state.BatchSize != 30 {
		t.Errorf("batch size = %d, want 30", state.BatchSize)
	}
	if state.CurrentPage != 1 {
		t.Errorf("current page = %d, want 1", state.CurrentPage)
	}
	if state.TotalItems != 120 {
		t.Errorf("total items = %d, want 120", state.TotalItems)
	}
}

func TestStartConflict(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), &mockEmbedder{})
	ctx := context.Background()

	if _, err := orch.Start(ctx, 7, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := orch.Start(ctx, 7, false); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartUnknownCollection(t *testing.T) {
	adapter := &mockAdapter{
		GetCollectionFn: func(ctx context.Context, id int64) (source.Collection, error) {
			return source.Collection{}, source.ErrCollectionNotFound
		},
	}
	orch, _ := newTestOrchestrator(t, adapter, &mockEmbedder{})

	if _, err := orch.Start(context.Background(), 999, false); !errors.Is(err, source.ErrCollectionNotFound) {
		t.Errorf("Start err = %v, want ErrCollectionNotFound", err)
	}
}

func TestProcessNextBatchFullRun(t *testing.T) {
	embedder := &mockEmbedder{}
	orch, vectors := newTestOrchestrator(t, pagedAdapter(120), embedder)
	ctx := context.Background()

	if _, err := orch.Start(ctx, 7, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var state *JobState
	var more = true
	var err error
	batches := 0
	for more {
		state, more, err = orch.ProcessNextBatch(ctx, 7)
		if err != nil {
			t.Fatalf("ProcessNextBatch: %v", err)
		}
		batches++
		if batches > 10 {
			t.Fatal("job did not terminate")
		}
	}

	// 120 items at batch size 30 is 4 batches plus the empty page that
	// completes the job.
	if batches != 5 {
		t.Errorf("batches = %d, want 5", batches)
	}
	if embedder.calls != 4 {
		t.Errorf("embedding calls = %d, want 4", embedder.calls)
	}
	if state.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", state.Status)
	}
	if state.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
	if state.Indexed != 120 || state.Processed != 120 {
		t.Errorf("indexed = %d, processed = %d, want 120 each", state.Indexed, state.Processed)
	}

	total, _ := vectors.Total(ctx)
	if total != 120 {
		t.Errorf("stored vectors = %d, want 120", total)
	}
}

func TestProcessNextBatchRequiresLiveJob(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), &mockEmbedder{})

	if _, _, err := orch.ProcessNextBatch(context.Background(), 7); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("err = %v, want ErrNotProcessing", err)
	}
}

func TestProcessNextBatchSkipsExisting(t *testing.T) {
	embedder := &mockEmbedder{}
	orch, vectors := newTestOrchestrator(t, pagedAdapter(10), embedder)
	ctx := context.Background()

	// Items 1-4 already have vectors from an earlier run.
	for i := int64(1); i <= 4; i++ {
		vectors.Upsert(ctx, vectorstore.Record{
			ItemID: i, CollectionID: 7, Vector: []float32{1}, LastUpdated: time.Now(),
		})
	}

	orch.Start(ctx, 7, false)
	state, _, err := orch.ProcessNextBatch(ctx, 7)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if state.Skipped != 4 {
		t.Errorf("skipped = %d, want 4", state.Skipped)
	}
	if state.Indexed != 6 {
		t.Errorf("indexed = %d, want 6", state.Indexed)
	}
}

func TestProcessNextBatchForceUpdateReindexes(t *testing.T) {
	embedder := &mockEmbedder{}
	orch, vectors := newTestOrchestrator(t, pagedAdapter(10), embedder)
	ctx := context.Background()

	vectors.Upsert(ctx, vectorstore.Record{
		ItemID: 1, CollectionID: 7, Vector: []float32{1}, LastUpdated: time.Now(),
	})

	orch.Start(ctx, 7, true)
	state, _, err := orch.ProcessNextBatch(ctx, 7)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if state.Skipped != 0 || state.Indexed != 10 {
		t.Errorf("skipped = %d, indexed = %d, want 0 and 10", state.Skipped, state.Indexed)
	}
}

func TestProcessNextBatchFetchFailure(t *testing.T) {
	adapter := pagedAdapter(10)
	adapter.GetCollectionItemsFn = func(ctx context.Context, id int64, perPage, page int) ([]source.Item, error) {
		return nil, errors.New("gateway timeout")
	}
	orch, _ := newTestOrchestrator(t, adapter, &mockEmbedder{})
	ctx := context.Background()

	orch.Start(ctx, 7, false)
	state, _, err := orch.ProcessNextBatch(ctx, 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if state.Status != StatusError {
		t.Errorf("status = %q, want error", state.Status)
	}
	if len(state.Errors) == 0 {
		t.Error("failure not recorded in state errors")
	}
}

func TestProcessNextBatchEmbeddingFailureContinues(t *testing.T) {
	embedder := &mockEmbedder{fail: true}
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), embedder)
	ctx := context.Background()

	orch.Start(ctx, 7, false)
	state, more, err := orch.ProcessNextBatch(ctx, 7)
	if err != nil {
		t.Fatalf("ProcessNextBatch: %v", err)
	}
	if !more {
		t.Error("job should keep going after an embedding failure")
	}
	if state.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", state.Status)
	}
	if state.Failed != 10 {
		t.Errorf("failed = %d, want 10", state.Failed)
	}
}

func TestCancel(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), &mockEmbedder{})
	ctx := context.Background()

	if _, err := orch.Cancel(ctx, 7); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("Cancel without job err = %v, want ErrNotProcessing", err)
	}

	orch.Start(ctx, 7, false)
	state, err := orch.Cancel(ctx, 7)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if state.Status != StatusCancelled || state.CancelledAt == nil {
		t.Errorf("state = %+v, want cancelled with timestamp", state)
	}

	if _, _, err := orch.ProcessNextBatch(ctx, 7); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("batch after cancel err = %v, want ErrNotProcessing", err)
	}
}

func TestGetStateWithoutJobIsIdle(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), &mockEmbedder{})

	state, err := orch.GetState(7)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.CollectionID != 7 || state.Status != StatusIdle {
		t.Errorf("state = %+v, want idle for collection 7", state)
	}
}

func TestResetState(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), &mockEmbedder{})
	ctx := context.Background()

	if err := orch.ResetState(7); err != nil {
		t.Errorf("ResetState without job: %v", err)
	}

	orch.Start(ctx, 7, false)
	if err := orch.ResetState(7); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("ResetState on live job err = %v, want ErrAlreadyRunning", err)
	}

	orch.Cancel(ctx, 7)
	if err := orch.ResetState(7); err != nil {
		t.Fatalf("ResetState: %v", err)
	}

	state, err := orch.GetState(7)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Status != StatusIdle {
		t.Errorf("status after reset = %q, want idle", state.Status)
	}

	states, err := orch.GetAllStates()
	if err != nil {
		t.Fatalf("GetAllStates: %v", err)
	}
	if _, ok := states[7]; ok {
		t.Error("reset state still listed")
	}
}

func TestErrorHistoryCapped(t *testing.T) {
	state := &JobState{}
	for i := 0; i < 25; i++ {
		state.recordError(fmt.Sprintf("error %d", i))
	}
	if len(state.Errors) != maxRecordedErrors {
		t.Fatalf("errors kept = %d, want %d", len(state.Errors), maxRecordedErrors)
	}
	if state.Errors[len(state.Errors)-1] != "error 24" {
		t.Errorf("most recent error = %q", state.Errors[len(state.Errors)-1])
	}
}

func TestIndexCollection(t *testing.T) {
	embedder := &mockEmbedder{}
	orch, vectors := newTestOrchestrator(t, pagedAdapter(7), embedder)

	summary, err := orch.IndexCollection(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("IndexCollection: %v", err)
	}
	if summary.Total != 7 || summary.Indexed != 7 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}

	total, _ := vectors.Total(context.Background())
	if total != 7 {
		t.Errorf("stored vectors = %d, want 7", total)
	}
}

func TestPruneOrphans(t *testing.T) {
	// The source now has 5 items; items 6 and 7 were indexed earlier and
	// have since been removed from the collection.
	orch, vectors := newTestOrchestrator(t, pagedAdapter(5), &mockEmbedder{})
	ctx := context.Background()

	for i := int64(1); i <= 7; i++ {
		vectors.Upsert(ctx, vectorstore.Record{
			ItemID: i, CollectionID: 7, Vector: []float32{1}, LastUpdated: time.Now(),
		})
	}

	removed, err := orch.PruneOrphans(ctx, 7)
	if err != nil {
		t.Fatalf("PruneOrphans: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	total, _ := vectors.Total(ctx)
	if total != 5 {
		t.Errorf("remaining vectors = %d, want 5", total)
	}
}

func TestCleanupOldStates(t *testing.T) {
	orch, _ := newTestOrchestrator(t, pagedAdapter(10), &mockEmbedder{})
	ctx := context.Background()

	orch.Start(ctx, 1, false)
	orch.Start(ctx, 2, false)
	orch.Cancel(ctx, 2)

	// Cutoff in the future removes every terminal state but spares live jobs.
	n, err := orch.CleanupOldStates(-time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldStates: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	live, err := orch.GetState(1)
	if err != nil || live.Status != StatusProcessing {
		t.Errorf("live job state should survive, got %+v, %v", live, err)
	}
	removed, err := orch.GetState(2)
	if err != nil || removed.Status != StatusIdle {
		t.Errorf("terminal state = %+v, %v, want idle after cleanup", removed, err)
	}
}
