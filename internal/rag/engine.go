// Package rag answers natural-language queries about indexed collections.
// A query is embedded, matched against stored item vectors, and the best
// matches are handed to a chat model as grounding context for the answer.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vferraz/acervo/internal/itemtext"
	"github.com/vferraz/acervo/internal/storage"
	"github.com/vferraz/acervo/internal/vectorstore"
)

var (
	// ErrNoVectorsIndexed is returned when the store is empty, before any
	// provider call is made.
	ErrNoVectorsIndexed = errors.New("no vectors indexed")

	// ErrNoResults is returned when retrieval finds no matching items.
	ErrNoResults = errors.New("no matching items")
)

// Retriever is the slice of the vector store the engine reads from.
type Retriever interface {
	Search(ctx context.Context, query []float32, k int, collections []int64) ([]vectorstore.Match, error)
	Total(ctx context.Context) (int, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Generator produces the final answer from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SearchLogger records answered queries.
type SearchLogger interface {
	SaveSearchLog(e storage.SearchLogEntry) error
}

// ResultItem is one retrieved item as presented in a search result.
type ResultItem struct {
	ItemID       int64             `json:"item_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Snippet      string            `json:"snippet"`
	CollectionID int64             `json:"collection_id"`
	Collection   string            `json:"collection"`
	Permalink    string            `json:"permalink"`
	Similarity   float64           `json:"similarity"`
	Score        float64           `json:"score"`
}

// Result is a complete answered query.
type Result struct {
	ID           string       `json:"id"`
	Query        string       `json:"query"`
	Response     string       `json:"response"`
	Items        []ResultItem `json:"items"`
	TotalResults int          `json:"total_results"`
}

// Engine runs the retrieval and generation pipeline.
type Engine struct {
	vectors      Retriever
	embedder     QueryEmbedder
	chat         Generator
	searchLog    SearchLogger
	systemPrompt string
	maxItems     int
	log          *slog.Logger
}

// New wires an Engine from its dependencies.
func New(vectors Retriever, embedder QueryEmbedder, chat Generator, searchLog SearchLogger, systemPrompt string, maxItems int, log *slog.Logger) *Engine {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &Engine{
		vectors:      vectors,
		embedder:     embedder,
		chat:         chat,
		searchLog:    searchLog,
		systemPrompt: systemPrompt,
		maxItems:     maxItems,
		log:          log,
	}
}

// Search answers a query against the indexed collections, optionally
// restricted to the given collection ids. The requester tag is recorded in
// the search log. An empty store fails fast with ErrNoVectorsIndexed so no
// provider tokens are spent on a query that cannot be answered.
func (e *Engine) Search(ctx context.Context, query string, collections []int64, requester string) (*Result, error) {
	total, err := e.vectors.Total(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking vector store: %w", err)
	}
	if total == 0 {
		return nil, ErrNoVectorsIndexed
	}

	queryVec, err := e.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.vectors.Search(ctx, queryVec, e.maxItems, collections)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoResults
	}

	items := make([]ResultItem, len(matches))
	for i, m := range matches {
		items[i] = resultItem(m, query)
	}

	response, err := e.chat.Generate(ctx, e.systemPrompt, userPrompt(query, items))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	result := &Result{
		ID:           uuid.New().String(),
		Query:        query,
		Response:     response,
		Items:        items,
		TotalResults: len(items),
	}
	e.logSearch(result, requester)
	return result, nil
}

// loggedItem is the per-item record persisted with a logged search, keeping
// the retrieval context (which items, how similar) alongside the answer.
type loggedItem struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Collection string  `json:"collection"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// logSearch records the answered query. Logging failures are reported but
// never fail the search that already succeeded.
func (e *Engine) logSearch(result *Result, requester string) {
	logged := make([]loggedItem, len(result.Items))
	collSet := make(map[string]bool)
	var collections []string
	for i, item := range result.Items {
		logged[i] = loggedItem{
			ID:         item.ItemID,
			Title:      item.Title,
			Collection: item.Collection,
			Similarity: item.Similarity,
			Score:      item.Score,
		}
		if !collSet[item.Collection] {
			collSet[item.Collection] = true
			collections = append(collections, item.Collection)
		}
	}
	itemsJSON, _ := json.Marshal(logged)
	collJSON, _ := json.Marshal(collections)

	err := e.searchLog.SaveSearchLog(storage.SearchLogEntry{
		ID:              result.ID,
		Query:           result.Query,
		Response:        result.Response,
		ItemsUsed:       string(itemsJSON),
		CollectionsUsed: string(collJSON),
		Requester:       requester,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		e.log.Error("saving search log", "search", result.ID, "error", err)
	}
}

// resultItem builds the presented form of a match from its stored content.
func resultItem(m vectorstore.Match, query string) ResultItem {
	title := itemtext.ExtractTitle(m.Content)
	if title == "" {
		title = fmt.Sprintf("Item %d", m.ItemID)
	}
	return ResultItem{
		ItemID:       m.ItemID,
		Title:        title,
		Description:  itemtext.ExtractDescription(m.Content),
		Metadata:     itemtext.ExtractMetadata(m.Content),
		Snippet:      snippet(m.Content, query),
		CollectionID: m.CollectionID,
		Collection:   m.CollectionName,
		Permalink:    m.Permalink,
		Similarity:   m.Similarity,
		Score:        math.Round(m.Similarity*1000) / 10,
	}
}

// userPrompt assembles the grounding context handed to the chat model.
func userPrompt(query string, items []ResultItem) string {
	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("\n\nRelevant documents:\n")
	for i, item := range items {
		fmt.Fprintf(&sb, "\n[%d] Title: %s\n", i+1, item.Title)
		if item.Snippet != "" {
			fmt.Fprintf(&sb, "Relevant excerpt: %s\n", item.Snippet)
		}
		if len(item.Metadata) > 0 {
			sb.WriteString("Metadata:\n")
			keys := make([]string, 0, len(item.Metadata))
			for k := range item.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, "- %s: %s\n", k, item.Metadata[k])
			}
		}
		fmt.Fprintf(&sb, "Relevance: %.1f%%\n", item.Score)
		if item.Permalink != "" {
			fmt.Fprintf(&sb, "Link: %s\n", item.Permalink)
		}
	}
	return sb.String()
}
