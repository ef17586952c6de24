package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SaveSearchLog appends an entry to the search log.
func (s *Store) SaveSearchLog(e SearchLogEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	itemsUsed := e.ItemsUsed
	if itemsUsed == "" {
		itemsUsed = "[]"
	}
	collectionsUsed := e.CollectionsUsed
	if collectionsUsed == "" {
		collectionsUsed = "[]"
	}

	var feedback any
	if e.Feedback != nil {
		feedback = *e.Feedback
	}

	_, err := s.db.Exec(`
		INSERT INTO search_log (id, query, response, items_used, collections_used, requester, feedback, feedback_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Query, e.Response, itemsUsed, collectionsUsed, e.Requester,
		feedback, e.FeedbackNotes, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving search log entry: %w", err)
	}
	return nil
}

// GetSearchLog returns a single log entry by id, or ErrNotFound.
func (s *Store) GetSearchLog(id string) (SearchLogEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, query, response, items_used, collections_used, requester, feedback, feedback_notes, created_at
		FROM search_log WHERE id = ?`, id)
	e, err := scanSearchLog(row)
	if err == sql.ErrNoRows {
		return SearchLogEntry{}, ErrNotFound
	}
	return e, err
}

// ListSearchLog returns log entries matching the filter, newest first.
func (s *Store) ListSearchLog(f SearchLogFilter) ([]SearchLogEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := "1=1"
	args := []any{}
	if f.Feedback != nil {
		where += " AND feedback = ?"
		args = append(args, *f.Feedback)
	}
	if f.Search != "" {
		where += " AND (query LIKE ? OR response LIKE ?)"
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(`
		SELECT id, query, response, items_used, collections_used, requester, feedback, feedback_notes, created_at
		FROM search_log WHERE `+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing search log: %w", err)
	}
	defer rows.Close()

	var entries []SearchLogEntry
	for rows.Next() {
		e, err := scanSearchLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateSearchFeedback records user feedback on a logged search.
func (s *Store) UpdateSearchFeedback(id string, feedback int, notes string) error {
	res, err := s.db.Exec(
		"UPDATE search_log SET feedback = ?, feedback_notes = ? WHERE id = ?",
		feedback, notes, id,
	)
	if err != nil {
		return fmt.Errorf("updating search feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchLogStats returns per-day search counts for the most recent 30 days
// that have activity.
func (s *Store) SearchLogStats() ([]PeriodCount, error) {
	rows, err := s.db.Query(`
		SELECT date(created_at) AS day, COUNT(*) AS count
		FROM search_log
		GROUP BY day
		ORDER BY day DESC
		LIMIT 30`)
	if err != nil {
		return nil, fmt.Errorf("querying search log stats: %w", err)
	}
	defer rows.Close()

	var stats []PeriodCount
	for rows.Next() {
		var p PeriodCount
		if err := rows.Scan(&p.Period, &p.Count); err != nil {
			return nil, err
		}
		stats = append(stats, p)
	}
	return stats, rows.Err()
}

// SearchLogCollectionStats returns per-collection search counts, most
// searched first. Entries referencing several collections count once for
// each; grouping happens on the stored JSON array, so the top 10 distinct
// collection sets bound the work.
func (s *Store) SearchLogCollectionStats() ([]CollectionCount, error) {
	rows, err := s.db.Query(`
		SELECT collections_used, COUNT(*) AS count
		FROM search_log
		GROUP BY collections_used
		ORDER BY count DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("querying collection stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, err
		}
		var collections []string
		if err := json.Unmarshal([]byte(raw), &collections); err != nil {
			continue
		}
		for _, c := range collections {
			counts[c] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]CollectionCount, 0, len(counts))
	for c, n := range counts {
		stats = append(stats, CollectionCount{Collection: c, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Collection < stats[j].Collection
	})
	return stats, nil
}

// SearchLogCount returns the total number of logged searches.
func (s *Store) SearchLogCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM search_log").Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearchLog(row rowScanner) (SearchLogEntry, error) {
	var e SearchLogEntry
	var feedback sql.NullInt64
	var createdAt string
	err := row.Scan(&e.ID, &e.Query, &e.Response, &e.ItemsUsed, &e.CollectionsUsed,
		&e.Requester, &feedback, &e.FeedbackNotes, &createdAt)
	if err != nil {
		return SearchLogEntry{}, err
	}
	if feedback.Valid {
		v := int(feedback.Int64)
		e.Feedback = &v
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return SearchLogEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}
