package indexing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Driver advances live indexing jobs in the background. Each tick it finds
// every collection with a processing job and runs one batch for each, so a
// restarted process resumes persisted jobs without being asked.
type Driver struct {
	orch   *Orchestrator
	poll   time.Duration
	logger *slog.Logger
}

// NewDriver creates a Driver. If pollInterval is <= 0, it defaults to 2s.
func NewDriver(orch *Orchestrator, pollInterval time.Duration, logger *slog.Logger) *Driver {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Driver{orch: orch, poll: pollInterval, logger: logger}
}

// Run drives jobs until ctx is cancelled. A tick with work pending is
// followed immediately by another; an idle tick waits out the poll interval.
func (d *Driver) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		busy, err := d.RunOnce(ctx)
		if err != nil {
			d.logger.Error("driver iteration failed", "error", err)
		}
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.poll):
		}
	}
}

// RunOnce advances every live job by one batch. Returns true if any job
// still has batches remaining.
func (d *Driver) RunOnce(ctx context.Context) (bool, error) {
	states, err := d.orch.GetAllStates()
	if err != nil {
		return false, err
	}

	var ids []int64
	for id, state := range states {
		if state.Status == StatusProcessing {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return false, nil
	}

	more := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			_, remaining, err := d.orch.ProcessNextBatch(gctx, id)
			if err != nil {
				// A cancel between listing and processing is not a failure.
				if errors.Is(err, ErrNotProcessing) {
					return nil
				}
				d.logger.Error("batch failed", "collection", id, "error", err)
				return nil
			}
			more[i] = remaining
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, m := range more {
		if m {
			return true, nil
		}
	}
	return false, nil
}
