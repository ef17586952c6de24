package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveIndexingState upserts the serialized job state for a collection.
// The status and last_update columns are denormalized out of the JSON so
// cleanup queries don't have to parse it.
func (s *Store) SaveIndexingState(collectionID int64, status string, lastUpdate time.Time, stateJSON []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO indexing_states (collection_id, status, state_json, last_update)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET
			status = excluded.status,
			state_json = excluded.state_json,
			last_update = excluded.last_update`,
		collectionID, status, string(stateJSON), lastUpdate.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving indexing state for collection %d: %w", collectionID, err)
	}
	return nil
}

// GetIndexingState returns the serialized job state for a collection,
// or ErrNotFound when no job has ever run for it.
func (s *Store) GetIndexingState(collectionID int64) ([]byte, error) {
	var stateJSON string
	err := s.db.QueryRow(
		"SELECT state_json FROM indexing_states WHERE collection_id = ?",
		collectionID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading indexing state for collection %d: %w", collectionID, err)
	}
	return []byte(stateJSON), nil
}

// AllIndexingStates returns every persisted job state keyed by collection id.
func (s *Store) AllIndexingStates() (map[int64][]byte, error) {
	rows, err := s.db.Query("SELECT collection_id, state_json FROM indexing_states")
	if err != nil {
		return nil, fmt.Errorf("listing indexing states: %w", err)
	}
	defer rows.Close()

	states := make(map[int64][]byte)
	for rows.Next() {
		var id int64
		var stateJSON string
		if err := rows.Scan(&id, &stateJSON); err != nil {
			return nil, err
		}
		states[id] = []byte(stateJSON)
	}
	return states, rows.Err()
}

// DeleteIndexingState removes the persisted job state for a collection.
func (s *Store) DeleteIndexingState(collectionID int64) error {
	_, err := s.db.Exec("DELETE FROM indexing_states WHERE collection_id = ?", collectionID)
	return err
}

// DeleteTerminalIndexingStates removes job states that are not processing and
// whose last update predates the cutoff. Returns the number of states removed.
func (s *Store) DeleteTerminalIndexingStates(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(
		"DELETE FROM indexing_states WHERE status != 'processing' AND last_update < ?",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old indexing states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
