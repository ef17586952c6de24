// Package indexing runs resumable batch jobs that embed collection items
// into the vector store. Job state is persisted after every batch, so a
// restarted process picks up exactly where the previous one stopped.
package indexing

import "time"

// Job statuses. A job is live only while processing; every other status is
// terminal until a new Start replaces the state.
const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusError      = "error"
)

const maxRecordedErrors = 10

// JobState is the persisted progress of one collection's indexing job.
type JobState struct {
	CollectionID   int64      `json:"collection_id"`
	CollectionName string     `json:"collection_name"`
	Status         string     `json:"status"`
	TotalItems     int        `json:"total_items"`
	Processed      int        `json:"processed"`
	Indexed        int        `json:"indexed"`
	Skipped        int        `json:"skipped"`
	Failed         int        `json:"failed"`
	CurrentPage    int        `json:"current_page"`
	BatchSize      int        `json:"batch_size"`
	ForceUpdate    bool       `json:"force_update"`
	StartedAt      time.Time  `json:"started_at"`
	LastUpdate     time.Time  `json:"last_update"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	Errors         []string   `json:"errors,omitempty"`
}

// batchSizeFor picks a page size inversely proportional to collection size,
// keeping per-batch work roughly constant for large collections.
func batchSizeFor(totalItems int) int {
	switch {
	case totalItems > 1000:
		return 10
	case totalItems > 500:
		return 20
	case totalItems > 100:
		return 30
	default:
		return 50
	}
}

// recordError appends an error message, keeping only the most recent ones.
func (s *JobState) recordError(msg string) {
	s.Errors = append(s.Errors, msg)
	if len(s.Errors) > maxRecordedErrors {
		s.Errors = s.Errors[len(s.Errors)-maxRecordedErrors:]
	}
}

// Progress returns completion as a percentage, 0 when the total is unknown.
func (s *JobState) Progress() float64 {
	if s.TotalItems <= 0 {
		return 0
	}
	p := float64(s.Processed) / float64(s.TotalItems) * 100
	if p > 100 {
		p = 100
	}
	return p
}
