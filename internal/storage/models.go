package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SearchLogEntry is one answered query in the append-only search history.
// Feedback is tri-state: nil (none), 1 (helpful), 0 (not helpful).
type SearchLogEntry struct {
	ID              string
	Query           string
	Response        string
	ItemsUsed       string // JSON array of per-item records (id, title, collection, similarity)
	CollectionsUsed string // JSON array stored as text
	Requester       string
	Feedback        *int
	FeedbackNotes   string
	CreatedAt       time.Time
}

// SearchLogFilter narrows ListSearchLog results.
type SearchLogFilter struct {
	Limit    int
	Offset   int
	Feedback *int
	Search   string // substring match against query or response
}

// PeriodCount is the number of logged searches on a single day.
type PeriodCount struct {
	Period string
	Count  int
}

// CollectionCount is the number of logged searches that referenced a collection.
type CollectionCount struct {
	Collection string
	Count      int
}
