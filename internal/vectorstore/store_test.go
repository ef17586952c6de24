package vectorstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vferraz/acervo/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db.DB(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rec(itemID, collectionID int64, vec []float32) Record {
	return Record{
		ItemID:         itemID,
		CollectionID:   collectionID,
		CollectionName: "Collection",
		Vector:         vec,
		Content:        "TITLE: item",
		Permalink:      "http://example.com/item",
		LastUpdated:    time.Now(),
	}
}

func TestUpsertAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, rec(1, 10, []float32{1, 0, 0})); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, rec(2, 10, []float32{0, 1, 0})); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ItemID != 1 {
		t.Errorf("best match item = %d, want 1", matches[0].ItemID)
	}
	if matches[0].Similarity < 0.999 {
		t.Errorf("identical vector similarity = %f, want ~1", matches[0].Similarity)
	}
	if matches[1].Similarity > 0.001 {
		t.Errorf("orthogonal vector similarity = %f, want ~0", matches[1].Similarity)
	}
}

func TestSearchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Vectors with descending similarity to the query (1, 0).
	s.Upsert(ctx, rec(1, 10, []float32{0.2, 1}))
	s.Upsert(ctx, rec(2, 10, []float32{1, 0.1}))
	s.Upsert(ctx, rec(3, 10, []float32{1, 0.5}))

	matches, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ItemID != 2 || matches[1].ItemID != 3 {
		t.Errorf("order = [%d, %d], want [2, 3]", matches[0].ItemID, matches[1].ItemID)
	}
}

func TestSearchCollectionFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, rec(1, 10, []float32{1, 0}))
	s.Upsert(ctx, rec(2, 20, []float32{1, 0}))

	matches, err := s.Search(ctx, []float32{1, 0}, 5, []int64{20})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].CollectionID != 20 {
		t.Errorf("filter returned %v matches", matches)
	}
}

func TestSearchZeroMagnitudeQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, rec(1, 10, []float32{1, 0}))

	matches, err := s.Search(ctx, []float32{0, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Similarity != 0 {
		t.Errorf("zero query should score 0, got %v", matches)
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, rec(1, 10, []float32{1, 0}))
	updated := rec(1, 10, []float32{0, 1})
	updated.Content = "TITLE: updated"
	if err := s.Upsert(ctx, updated); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	total, err := s.Total(ctx)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}

	matches, _ := s.Search(ctx, []float32{0, 1}, 1, nil)
	if matches[0].Content != "TITLE: updated" {
		t.Errorf("content = %q, want updated row", matches[0].Content)
	}
}

func TestUpsertBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := make([]Record, 120)
	for i := range recs {
		recs[i] = rec(int64(i+1), 10, []float32{1, float32(i)})
	}

	res, err := s.UpsertBatch(ctx, recs)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Succeeded != 120 || res.Failed != 0 {
		t.Errorf("result = %+v, want 120 succeeded", res)
	}

	total, _ := s.Total(ctx)
	if total != 120 {
		t.Errorf("total = %d, want 120", total)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, rec(1, 10, []float32{1}))

	ok, err := s.Exists(ctx, 1, 10)
	if err != nil || !ok {
		t.Errorf("Exists(1, 10) = %v, %v, want true", ok, err)
	}
	ok, err = s.Exists(ctx, 2, 10)
	if err != nil || ok {
		t.Errorf("Exists(2, 10) = %v, %v, want false", ok, err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, rec(1, 10, []float32{1}))
	s.Upsert(ctx, rec(2, 10, []float32{1}))
	s.Upsert(ctx, rec(3, 10, []float32{1}))

	n, err := s.CleanupOrphans(ctx, 10, []int64{1, 3})
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d rows, want 1", n)
	}
	if ok, _ := s.Exists(ctx, 2, 10); ok {
		t.Error("orphan item 2 should be gone")
	}
}

func TestCleanupOrphansEmptySetClearsCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, rec(1, 10, []float32{1}))
	s.Upsert(ctx, rec(2, 10, []float32{1}))
	s.Upsert(ctx, rec(3, 20, []float32{1}))

	n, err := s.CleanupOrphans(ctx, 10, nil)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d rows, want 2", n)
	}
	total, _ := s.Total(ctx)
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := rec(1, 10, []float32{1})
	a.CollectionName = "Paintings"
	b := rec(2, 10, []float32{1})
	b.CollectionName = "Paintings"
	c := rec(3, 20, []float32{1})
	c.CollectionName = "Ceramics"
	for _, r := range []Record{a, b, c} {
		if err := s.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalVectors != 3 {
		t.Errorf("total = %d, want 3", stats.TotalVectors)
	}
	if len(stats.Collections) != 2 {
		t.Fatalf("got %d collections, want 2", len(stats.Collections))
	}
	if stats.Collections[0].Vectors != 2 || stats.Collections[0].CollectionName != "Paintings" {
		t.Errorf("first collection = %+v", stats.Collections[0])
	}
}

func TestDecodeLegacyJSONVector(t *testing.T) {
	vec, err := decodeVector([]byte("[0.5, -1.25, 2]"))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	want := []float32{0.5, -1.25, 2}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %f, want %f", i, vec[i], want[i])
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.2, 3.5, 0}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
}
