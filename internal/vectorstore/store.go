// Package vectorstore persists item embeddings in SQLite and ranks them by
// cosine similarity. Candidate rows are narrowed in SQL and scored in
// process; the corpus sizes served here stay well inside that budget.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const upsertChunkSize = 50

// Record is one stored item embedding with the text it was computed from.
type Record struct {
	ItemID         int64
	CollectionID   int64
	CollectionName string
	Vector         []float32
	Content        string
	Permalink      string
	LastUpdated    time.Time
}

// Match is a search hit with its similarity to the query vector.
type Match struct {
	Record
	Similarity float64
}

// BatchResult reports how many records of a bulk upsert were written.
type BatchResult struct {
	Succeeded int
	Failed    int
}

// CollectionStats counts the stored vectors of one collection.
type CollectionStats struct {
	CollectionID   int64  `json:"collection_id"`
	CollectionName string `json:"collection_name"`
	Vectors        int    `json:"vectors"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalVectors int               `json:"total_vectors"`
	Collections  []CollectionStats `json:"collections"`
}

// Store reads and writes item vectors.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New creates a Store on an already-migrated database.
func New(db *sql.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Upsert inserts a record or replaces the existing one for the same
// item and collection.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_vectors (item_id, collection_id, collection_name, vector, content, permalink, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, collection_id) DO UPDATE SET
			collection_name = excluded.collection_name,
			vector = excluded.vector,
			content = excluded.content,
			permalink = excluded.permalink,
			last_updated = excluded.last_updated`,
		rec.ItemID, rec.CollectionID, rec.CollectionName,
		encodeVector(rec.Vector), rec.Content, rec.Permalink,
		rec.LastUpdated.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert vector for item %d: %w", rec.ItemID, err)
	}
	return nil
}

// UpsertBatch writes records in chunks, each chunk in its own transaction.
// A failing chunk is counted and skipped; the remaining chunks still commit.
func (s *Store) UpsertBatch(ctx context.Context, recs []Record) (BatchResult, error) {
	var res BatchResult
	for start := 0; start < len(recs); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(recs))
		chunk := recs[start:end]

		if err := s.upsertChunk(ctx, chunk); err != nil {
			s.log.Error("vector chunk upsert failed",
				"offset", start, "size", len(chunk), "error", err)
			res.Failed += len(chunk)
			continue
		}
		res.Succeeded += len(chunk)
	}
	return res, nil
}

func (s *Store) upsertChunk(ctx context.Context, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO item_vectors (item_id, collection_id, collection_name, vector, content, permalink, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id, collection_id) DO UPDATE SET
				collection_name = excluded.collection_name,
				vector = excluded.vector,
				content = excluded.content,
				permalink = excluded.permalink,
				last_updated = excluded.last_updated`,
			rec.ItemID, rec.CollectionID, rec.CollectionName,
			encodeVector(rec.Vector), rec.Content, rec.Permalink,
			rec.LastUpdated.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("item %d: %w", rec.ItemID, err)
		}
	}

	return tx.Commit()
}

// Exists reports whether a vector is stored for the item in the collection.
func (s *Store) Exists(ctx context.Context, itemID, collectionID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM item_vectors WHERE item_id = ? AND collection_id = ?`,
		itemID, collectionID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vector for item %d: %w", itemID, err)
	}
	return true, nil
}

// Search returns the k records most similar to the query vector, optionally
// restricted to the given collections. Candidates are fetched with headroom
// (3x k) so post-SQL scoring has enough rows to rank.
func (s *Store) Search(ctx context.Context, query []float32, k int, collections []int64) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	q := `SELECT item_id, collection_id, collection_name, vector, content, permalink, last_updated
		FROM item_vectors`
	var args []any
	if len(collections) > 0 {
		placeholders := make([]string, len(collections))
		for i, id := range collections {
			placeholders[i] = "?"
			args = append(args, id)
		}
		q += ` WHERE collection_id IN (` + strings.Join(placeholders, ",") + `)`
	}
	q += ` LIMIT ?`
	args = append(args, k*3)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.log.Warn("skipping unreadable vector row", "error", err)
			continue
		}
		matches = append(matches, Match{
			Record:     rec,
			Similarity: cosineSimilarity(query, rec.Vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// DeleteByItem removes the stored vector for one item.
func (s *Store) DeleteByItem(ctx context.Context, itemID, collectionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM item_vectors WHERE item_id = ? AND collection_id = ?`,
		itemID, collectionID)
	if err != nil {
		return fmt.Errorf("delete vector for item %d: %w", itemID, err)
	}
	return nil
}

// DeleteByCollection removes every vector of a collection and returns the
// number of rows deleted.
func (s *Store) DeleteByCollection(ctx context.Context, collectionID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM item_vectors WHERE collection_id = ?`, collectionID)
	if err != nil {
		return 0, fmt.Errorf("delete vectors for collection %d: %w", collectionID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupOrphans removes vectors of a collection whose items are no longer
// in validItemIDs. An empty valid set removes the whole collection.
func (s *Store) CleanupOrphans(ctx context.Context, collectionID int64, validItemIDs []int64) (int, error) {
	if len(validItemIDs) == 0 {
		return s.DeleteByCollection(ctx, collectionID)
	}

	placeholders := make([]string, len(validItemIDs))
	args := make([]any, 0, len(validItemIDs)+1)
	args = append(args, collectionID)
	for i, id := range validItemIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM item_vectors WHERE collection_id = ? AND item_id NOT IN (`+
			strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphans for collection %d: %w", collectionID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Total returns the number of stored vectors.
func (s *Store) Total(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// Stats returns the total vector count and a per-collection breakdown.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	total, err := s.Total(ctx)
	if err != nil {
		return Stats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_id, collection_name, COUNT(*)
		FROM item_vectors
		GROUP BY collection_id, collection_name
		ORDER BY collection_id`)
	if err != nil {
		return Stats{}, fmt.Errorf("collection stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{TotalVectors: total}
	for rows.Next() {
		var cs CollectionStats
		if err := rows.Scan(&cs.CollectionID, &cs.CollectionName, &cs.Vectors); err != nil {
			return Stats{}, fmt.Errorf("scan collection stats: %w", err)
		}
		stats.Collections = append(stats.Collections, cs)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate collection stats: %w", err)
	}
	return stats, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec     Record
		blob    []byte
		updated string
	)
	if err := rows.Scan(&rec.ItemID, &rec.CollectionID, &rec.CollectionName,
		&blob, &rec.Content, &rec.Permalink, &updated); err != nil {
		return Record{}, fmt.Errorf("scan vector row: %w", err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return Record{}, fmt.Errorf("item %d: %w", rec.ItemID, err)
	}
	rec.Vector = vec

	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		rec.LastUpdated = t
	}
	return rec, nil
}
