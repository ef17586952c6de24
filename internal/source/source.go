// Package source provides access to the collection API that owns the items
// being indexed. The Adapter interface is the seam the orchestrator and CLI
// depend on; the Tainacan client is the production implementation.
package source

import (
	"context"
	"errors"
)

// ErrCollectionNotFound is returned when the API reports no such collection.
var ErrCollectionNotFound = errors.New("collection not found")

// Collection describes a collection as reported by the source API.
type Collection struct {
	ID          int64
	Name        string
	Description string
	URL         string
	ItemsCount  int
}

// Item is a single collection item with its core fields plus an open
// string-to-string metadata map for whatever extra fields the collection
// defines. Values are validated at the adapter boundary: empty names and
// empty values never appear in the map.
type Item struct {
	ID          int64
	Title       string
	Description string
	Metadata    map[string]string
	URL         string
}

// Adapter fetches collections and their items from the source system.
type Adapter interface {
	// GetCollection returns collection info, or ErrCollectionNotFound.
	GetCollection(ctx context.Context, id int64) (Collection, error)

	// GetCollectionItems returns one page of items. An empty slice means the
	// page is past the end of the collection.
	GetCollectionItems(ctx context.Context, id int64, perPage, page int) ([]Item, error)
}
