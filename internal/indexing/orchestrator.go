package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vferraz/acervo/internal/itemtext"
	"github.com/vferraz/acervo/internal/source"
	"github.com/vferraz/acervo/internal/storage"
	"github.com/vferraz/acervo/internal/vectorstore"
)

var (
	// ErrAlreadyRunning is returned by Start when the collection has a live job.
	ErrAlreadyRunning = errors.New("indexing already in progress")

	// ErrNotProcessing is returned when an operation needs a live job and
	// the collection has none.
	ErrNotProcessing = errors.New("no indexing in progress")
)

// fullIndexPageSize is the page size used by the synchronous IndexCollection
// path, which is not batch-budgeted like the resumable jobs.
const fullIndexPageSize = 100

// Embedder computes embedding vectors for batches of texts.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the slice of the vector store the orchestrator writes to.
type VectorWriter interface {
	Upsert(ctx context.Context, rec vectorstore.Record) error
	UpsertBatch(ctx context.Context, recs []vectorstore.Record) (vectorstore.BatchResult, error)
	Exists(ctx context.Context, itemID, collectionID int64) (bool, error)
	CleanupOrphans(ctx context.Context, collectionID int64, validItemIDs []int64) (int, error)
}

// StateStore persists serialized job states.
type StateStore interface {
	SaveIndexingState(collectionID int64, status string, lastUpdate time.Time, stateJSON []byte) error
	GetIndexingState(collectionID int64) ([]byte, error)
	AllIndexingStates() (map[int64][]byte, error)
	DeleteIndexingState(collectionID int64) error
	DeleteTerminalIndexingStates(cutoff time.Time) (int, error)
}

// Orchestrator owns the indexing state machine for all collections.
// State transitions are read-modify-write against the store, so they are
// serialized behind a mutex.
type Orchestrator struct {
	mu sync.Mutex

	states    StateStore
	vectors   VectorWriter
	embedder  Embedder
	source    source.Adapter
	formatter *itemtext.Formatter
	log       *slog.Logger
}

// NewOrchestrator wires an orchestrator from its dependencies.
func NewOrchestrator(states StateStore, vectors VectorWriter, embedder Embedder, src source.Adapter, formatter *itemtext.Formatter, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		states:    states,
		vectors:   vectors,
		embedder:  embedder,
		source:    src,
		formatter: formatter,
		log:       log,
	}
}

// Start creates a processing job for the collection. A live job makes Start
// fail with ErrAlreadyRunning; terminal states are replaced.
func (o *Orchestrator) Start(ctx context.Context, collectionID int64, forceUpdate bool) (*JobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, err := o.loadState(collectionID); err == nil && prev.Status == StatusProcessing {
		return nil, ErrAlreadyRunning
	}

	col, err := o.source.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	state := &JobState{
		CollectionID:   col.ID,
		CollectionName: col.Name,
		Status:         StatusProcessing,
		TotalItems:     col.ItemsCount,
		CurrentPage:    1,
		BatchSize:      batchSizeFor(col.ItemsCount),
		ForceUpdate:    forceUpdate,
		StartedAt:      now,
		LastUpdate:     now,
	}
	if err := o.saveState(state); err != nil {
		return nil, err
	}

	o.log.Info("indexing started",
		"collection", col.ID, "name", col.Name,
		"total_items", col.ItemsCount, "batch_size", state.BatchSize,
		"force_update", forceUpdate)
	return state, nil
}

// ProcessNextBatch fetches and indexes the job's next page of items. The
// returned bool reports whether more batches remain. A page fetch failure
// moves the job to the error status; item-level failures are counted and
// the job keeps going.
func (o *Orchestrator) ProcessNextBatch(ctx context.Context, collectionID int64) (*JobState, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.loadState(collectionID)
	if err != nil {
		return nil, false, ErrNotProcessing
	}
	if state.Status != StatusProcessing {
		return nil, false, ErrNotProcessing
	}

	items, err := o.source.GetCollectionItems(ctx, collectionID, state.BatchSize, state.CurrentPage)
	if err != nil {
		state.Status = StatusError
		state.recordError(fmt.Sprintf("fetching page %d: %v", state.CurrentPage, err))
		state.LastUpdate = time.Now().UTC()
		if saveErr := o.saveState(state); saveErr != nil {
			o.log.Error("saving failed job state", "collection", collectionID, "error", saveErr)
		}
		return state, false, fmt.Errorf("fetching page %d of collection %d: %w", state.CurrentPage, collectionID, err)
	}

	if len(items) == 0 {
		now := time.Now().UTC()
		state.Status = StatusCompleted
		state.CompletedAt = &now
		state.LastUpdate = now
		if err := o.saveState(state); err != nil {
			return nil, false, err
		}
		o.log.Info("indexing completed",
			"collection", collectionID,
			"indexed", state.Indexed, "skipped", state.Skipped, "failed", state.Failed)
		return state, false, nil
	}

	o.indexItems(ctx, state, items)

	state.Processed += len(items)
	state.CurrentPage++
	state.LastUpdate = time.Now().UTC()
	if err := o.saveState(state); err != nil {
		return nil, false, err
	}

	o.log.Debug("batch processed",
		"collection", collectionID, "page", state.CurrentPage-1,
		"processed", state.Processed, "total", state.TotalItems)
	return state, true, nil
}

// indexItems embeds one page of items and writes their vectors, updating the
// state's counters in place. Items that already have a vector are skipped
// unless the job was started with force update.
func (o *Orchestrator) indexItems(ctx context.Context, state *JobState, items []source.Item) {
	var (
		pending []source.Item
		texts   []string
	)
	for _, item := range items {
		if !state.ForceUpdate {
			exists, err := o.vectors.Exists(ctx, item.ID, state.CollectionID)
			if err != nil {
				state.Failed++
				state.recordError(fmt.Sprintf("item %d: %v", item.ID, err))
				continue
			}
			if exists {
				state.Skipped++
				continue
			}
		}
		pending = append(pending, item)
		texts = append(texts, o.formatter.Format(item))
	}
	if len(pending) == 0 {
		return
	}

	vectors, err := o.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		state.Failed += len(pending)
		state.recordError(fmt.Sprintf("embedding batch of %d items: %v", len(pending), err))
		return
	}

	now := time.Now().UTC()
	for i, item := range pending {
		err := o.vectors.Upsert(ctx, vectorstore.Record{
			ItemID:         item.ID,
			CollectionID:   state.CollectionID,
			CollectionName: state.CollectionName,
			Vector:         vectors[i],
			Content:        texts[i],
			Permalink:      item.URL,
			LastUpdated:    now,
		})
		if err != nil {
			state.Failed++
			state.recordError(fmt.Sprintf("item %d: %v", item.ID, err))
			continue
		}
		state.Indexed++
	}
}

// Cancel moves a live job to the cancelled status. Vectors already written
// stay in the store.
func (o *Orchestrator) Cancel(ctx context.Context, collectionID int64) (*JobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.loadState(collectionID)
	if err != nil {
		return nil, ErrNotProcessing
	}
	if state.Status != StatusProcessing {
		return nil, ErrNotProcessing
	}

	now := time.Now().UTC()
	state.Status = StatusCancelled
	state.CancelledAt = &now
	state.LastUpdate = now
	if err := o.saveState(state); err != nil {
		return nil, err
	}

	o.log.Info("indexing cancelled", "collection", collectionID, "processed", state.Processed)
	return state, nil
}

// GetState returns the persisted job state for a collection. A collection
// with no recorded job reports an idle state.
func (o *Orchestrator) GetState(collectionID int64) (*JobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.loadState(collectionID)
	if errors.Is(err, storage.ErrNotFound) {
		return &JobState{CollectionID: collectionID, Status: StatusIdle}, nil
	}
	return state, err
}

// ResetState removes the persisted job record for a collection so status
// listings no longer show it. A live job must be cancelled first.
func (o *Orchestrator) ResetState(collectionID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.loadState(collectionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if state.Status == StatusProcessing {
		return ErrAlreadyRunning
	}
	return o.states.DeleteIndexingState(collectionID)
}

// GetAllStates returns every persisted job state keyed by collection id.
func (o *Orchestrator) GetAllStates() (map[int64]*JobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	raw, err := o.states.AllIndexingStates()
	if err != nil {
		return nil, err
	}

	states := make(map[int64]*JobState, len(raw))
	for id, data := range raw {
		var state JobState
		if err := json.Unmarshal(data, &state); err != nil {
			o.log.Warn("skipping unreadable job state", "collection", id, "error", err)
			continue
		}
		states[id] = &state
	}
	return states, nil
}

// CleanupOldStates removes terminal job states whose last update is older
// than the given age. Live jobs are never removed.
func (o *Orchestrator) CleanupOldStates(olderThan time.Duration) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states.DeleteTerminalIndexingStates(time.Now().UTC().Add(-olderThan))
}

// IndexSummary reports the outcome of a synchronous full-collection pass.
type IndexSummary struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// IndexCollection indexes a whole collection in one blocking call, without
// persisting resumable state. Suited to small collections and one-shot use;
// long-running jobs should go through Start and the batch driver.
func (o *Orchestrator) IndexCollection(ctx context.Context, collectionID int64, forceUpdate bool) (IndexSummary, error) {
	col, err := o.source.GetCollection(ctx, collectionID)
	if err != nil {
		return IndexSummary{}, err
	}

	var summary IndexSummary
	var records []vectorstore.Record

	for page := 1; ; page++ {
		items, err := o.source.GetCollectionItems(ctx, collectionID, fullIndexPageSize, page)
		if err != nil {
			return summary, fmt.Errorf("fetching page %d of collection %d: %w", page, collectionID, err)
		}
		if len(items) == 0 {
			break
		}
		summary.Total += len(items)

		var (
			pending []source.Item
			texts   []string
		)
		for _, item := range items {
			if !forceUpdate {
				exists, err := o.vectors.Exists(ctx, item.ID, collectionID)
				if err != nil {
					summary.Failed++
					continue
				}
				if exists {
					summary.Skipped++
					continue
				}
			}
			pending = append(pending, item)
			texts = append(texts, o.formatter.Format(item))
		}
		if len(pending) == 0 {
			continue
		}

		vectors, err := o.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			summary.Failed += len(pending)
			o.log.Error("embedding page failed", "collection", collectionID, "page", page, "error", err)
			continue
		}

		now := time.Now().UTC()
		for i, item := range pending {
			records = append(records, vectorstore.Record{
				ItemID:         item.ID,
				CollectionID:   col.ID,
				CollectionName: col.Name,
				Vector:         vectors[i],
				Content:        texts[i],
				Permalink:      item.URL,
				LastUpdated:    now,
			})
		}
	}

	res, err := o.vectors.UpsertBatch(ctx, records)
	if err != nil {
		return summary, err
	}
	summary.Indexed = res.Succeeded
	summary.Failed += res.Failed
	return summary, nil
}

// PruneOrphans removes vectors of items that no longer exist in the source
// collection. The current item ids are paged from the source first; a
// collection that vanished entirely has all its vectors removed.
func (o *Orchestrator) PruneOrphans(ctx context.Context, collectionID int64) (int, error) {
	var validIDs []int64
	for page := 1; ; page++ {
		items, err := o.source.GetCollectionItems(ctx, collectionID, fullIndexPageSize, page)
		if err != nil {
			if errors.Is(err, source.ErrCollectionNotFound) {
				break
			}
			return 0, fmt.Errorf("fetching page %d of collection %d: %w", page, collectionID, err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			validIDs = append(validIDs, item.ID)
		}
	}
	return o.vectors.CleanupOrphans(ctx, collectionID, validIDs)
}

func (o *Orchestrator) loadState(collectionID int64) (*JobState, error) {
	data, err := o.states.GetIndexingState(collectionID)
	if err != nil {
		return nil, err
	}
	var state JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding job state for collection %d: %w", collectionID, err)
	}
	return &state, nil
}

func (o *Orchestrator) saveState(state *JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding job state for collection %d: %w", state.CollectionID, err)
	}
	return o.states.SaveIndexingState(state.CollectionID, state.Status, state.LastUpdate, data)
}
