// Package api exposes search and indexing over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vferraz/acervo/internal/indexing"
	"github.com/vferraz/acervo/internal/rag"
	"github.com/vferraz/acervo/internal/source"
	"github.com/vferraz/acervo/internal/storage"
	"github.com/vferraz/acervo/internal/vectorstore"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SearchEngine abstracts the query pipeline for the API layer.
type SearchEngine interface {
	Search(ctx context.Context, query string, collections []int64, requester string) (*rag.Result, error)
	DebugSearch(ctx context.Context, query string, collections []int64) (*rag.DebugReport, error)
}

// Indexer abstracts the indexing state machine for the API layer.
type Indexer interface {
	Start(ctx context.Context, collectionID int64, forceUpdate bool) (*indexing.JobState, error)
	ProcessNextBatch(ctx context.Context, collectionID int64) (*indexing.JobState, bool, error)
	Cancel(ctx context.Context, collectionID int64) (*indexing.JobState, error)
	GetState(collectionID int64) (*indexing.JobState, error)
	GetAllStates() (map[int64]*indexing.JobState, error)
	ResetState(collectionID int64) error
	IndexCollection(ctx context.Context, collectionID int64, forceUpdate bool) (indexing.IndexSummary, error)
	CleanupOldStates(olderThan time.Duration) (int, error)
	PruneOrphans(ctx context.Context, collectionID int64) (int, error)
}

// VectorStats abstracts vector store reporting for the API layer.
type VectorStats interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

type AppDeps struct {
	Store   *storage.Store
	Engine  SearchEngine
	Indexer Indexer
	Vectors VectorStats
	Token   string // empty disables authentication
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/search", handleSearch(deps))
		r.Post("/debug-search", handleDebugSearch(deps))

		r.Post("/collections/{id}/index", handleStartIndexing(deps))
		r.Post("/collections/{id}/index/next", handleNextBatch(deps))
		r.Delete("/collections/{id}/index", handleCancelIndexing(deps))
		r.Post("/collections/{id}/prune", handlePruneOrphans(deps))
		r.Get("/indexing", handleListIndexing(deps))
		r.Get("/indexing/{id}", handleGetIndexing(deps))
		r.Delete("/indexing/{id}", handleResetIndexing(deps))
		r.Delete("/indexing", handleCleanupStates(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/search-log", handleListSearchLog(deps))
		r.Post("/search-log/{id}/feedback", handleFeedback(deps))
	})

	return r
}

type SearchRequest struct {
	Query       string  `json:"query"`
	Collections []int64 `json:"collections"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSearchRequest(w, r)
		if !ok {
			return
		}

		result, err := deps.Engine.Search(r.Context(), req.Query, req.Collections, r.RemoteAddr)
		if err != nil {
			switch {
			case errors.Is(err, rag.ErrNoVectorsIndexed):
				httpError(w, http.StatusConflict, "invalid_request_error", "no collections have been indexed yet")
			case errors.Is(err, rag.ErrNoResults):
				httpError(w, http.StatusNotFound, "not_found_error", "no items matched the query")
			default:
				httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			}
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleDebugSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSearchRequest(w, r)
		if !ok {
			return
		}

		report, err := deps.Engine.DebugSearch(r.Context(), req.Query, req.Collections)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "debug search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func decodeSearchRequest(w http.ResponseWriter, r *http.Request) (SearchRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return SearchRequest{}, false
	}
	if req.Query == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
		return SearchRequest{}, false
	}
	return req, true
}

type IndexRequest struct {
	ForceUpdate bool `json:"force_update"`
	// Wait runs the whole collection synchronously instead of starting a
	// resumable background job.
	Wait bool `json:"wait"`
}

func handleStartIndexing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := collectionID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		// An empty body means default options.
		var req IndexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Wait {
			summary, err := deps.Indexer.IndexCollection(r.Context(), id, req.ForceUpdate)
			if err != nil {
				if errors.Is(err, source.ErrCollectionNotFound) {
					httpError(w, http.StatusNotFound, "not_found_error", "collection %d not found", id)
					return
				}
				httpError(w, http.StatusBadGateway, "api_error", "indexing failed: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, summary)
			return
		}

		state, err := deps.Indexer.Start(r.Context(), id, req.ForceUpdate)
		if err != nil {
			switch {
			case errors.Is(err, indexing.ErrAlreadyRunning):
				httpError(w, http.StatusConflict, "invalid_request_error", "collection %d is already being indexed", id)
			case errors.Is(err, source.ErrCollectionNotFound):
				httpError(w, http.StatusNotFound, "not_found_error", "collection %d not found", id)
			default:
				httpError(w, http.StatusBadGateway, "api_error", "starting indexing: %v", err)
			}
			return
		}
		writeJSON(w, http.StatusAccepted, state)
	}
}

func handleNextBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := collectionID(w, r)
		if !ok {
			return
		}

		state, more, err := deps.Indexer.ProcessNextBatch(r.Context(), id)
		if err != nil {
			if errors.Is(err, indexing.ErrNotProcessing) {
				httpError(w, http.StatusConflict, "invalid_request_error", "collection %d has no indexing in progress", id)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "processing batch: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state, "more": more})
	}
}

func handleCancelIndexing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := collectionID(w, r)
		if !ok {
			return
		}

		state, err := deps.Indexer.Cancel(r.Context(), id)
		if err != nil {
			if errors.Is(err, indexing.ErrNotProcessing) {
				httpError(w, http.StatusConflict, "invalid_request_error", "collection %d has no indexing in progress", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "cancelling indexing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func handlePruneOrphans(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := collectionID(w, r)
		if !ok {
			return
		}

		removed, err := deps.Indexer.PruneOrphans(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "pruning orphans: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func handleCleanupStates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 30
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "days must be a non-negative integer")
				return
			}
			days = n
		}

		removed, err := deps.Indexer.CleanupOldStates(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cleaning up indexing states: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func handleListIndexing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := deps.Indexer.GetAllStates()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing indexing states: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, states)
	}
}

func handleGetIndexing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := collectionID(w, r)
		if !ok {
			return
		}

		state, err := deps.Indexer.GetState(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading indexing state: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func handleResetIndexing(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := collectionID(w, r)
		if !ok {
			return
		}

		if err := deps.Indexer.ResetState(id); err != nil {
			if errors.Is(err, indexing.ErrAlreadyRunning) {
				httpError(w, http.StatusConflict, "invalid_request_error", "collection %d is still indexing, cancel it first", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "resetting indexing state: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vectors, err := deps.Vectors.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading vector stats: %v", err)
			return
		}
		searches, err := deps.Store.SearchLogCount()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting searches: %v", err)
			return
		}
		perDay, err := deps.Store.SearchLogStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading search stats: %v", err)
			return
		}
		perCollection, err := deps.Store.SearchLogCollectionStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading collection search stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"vectors":                vectors,
			"total_searches":         searches,
			"searches_by_day":        perDay,
			"searches_by_collection": perCollection,
		})
	}
}

func handleListSearchLog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.SearchLogFilter{Limit: 50}
		q := r.URL.Query()
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				f.Limit = n
			}
		}
		if v := q.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		if v := q.Get("feedback"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && (n == 0 || n == 1) {
				f.Feedback = &n
			}
		}
		f.Search = q.Get("q")

		entries, err := deps.Store.ListSearchLog(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing search log: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"searches": searchLogJSON(entries)})
	}
}

type FeedbackRequest struct {
	Feedback *int   `json:"feedback"`
	Notes    string `json:"notes"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Feedback == nil || (*req.Feedback != 0 && *req.Feedback != 1) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "feedback must be 0 or 1")
			return
		}

		if err := deps.Store.UpdateSearchFeedback(id, *req.Feedback, req.Notes); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "search %s not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "saving feedback: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

// searchLogEntryJSON is the wire form of a search log entry.
type searchLogEntryJSON struct {
	ID              string `json:"id"`
	Query           string `json:"query"`
	Response        string `json:"response"`
	ItemsUsed       any    `json:"items_used"`
	CollectionsUsed any    `json:"collections_used"`
	Requester       string `json:"requester"`
	Feedback        *int   `json:"feedback"`
	FeedbackNotes   string `json:"feedback_notes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func searchLogJSON(entries []storage.SearchLogEntry) []searchLogEntryJSON {
	out := make([]searchLogEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = searchLogEntryJSON{
			ID:              e.ID,
			Query:           e.Query,
			Response:        e.Response,
			ItemsUsed:       json.RawMessage(orEmptyArray(e.ItemsUsed)),
			CollectionsUsed: json.RawMessage(orEmptyArray(e.CollectionsUsed)),
			Requester:       e.Requester,
			Feedback:        e.Feedback,
			FeedbackNotes:   e.FeedbackNotes,
			CreatedAt:       e.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func orEmptyArray(s string) []byte {
	if !json.Valid([]byte(s)) {
		return []byte("[]")
	}
	return []byte(s)
}

func collectionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid collection id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
