package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/interfaces"
)

// progressWriteInterval caps persisted sub-progress at 4 writes per
// second per job. Stage boundaries bypass the cap.
const progressWriteInterval = 250 * time.Millisecond

// progressReporter coalesces sub-progress writes for one job. Dropped
// intermediate values are safe: the stage boundary write that follows
// is always persisted.
type progressReporter struct {
	store  interfaces.JobStore
	jobID  string
	logger arbor.ILogger

	mu        sync.Mutex
	lastWrite time.Time
}

func newProgressReporter(store interfaces.JobStore, jobID string, logger arbor.ILogger) *progressReporter {
	return &progressReporter{store: store, jobID: jobID, logger: logger}
}

// report persists a progress value, dropping writes that arrive inside
// the coalescing interval unless forced.
func (r *progressReporter) report(ctx context.Context, stage string, pct float64, force bool) {
	r.mu.Lock()
	now := time.Now()
	if !force && now.Sub(r.lastWrite) < progressWriteInterval {
		r.mu.Unlock()
		return
	}
	r.lastWrite = now
	r.mu.Unlock()

	if err := r.store.SetProgress(ctx, r.jobID, stage, pct); err != nil {
		r.logger.Debug().Err(err).Str("stage", stage).Msg("Progress write skipped")
	}
}
