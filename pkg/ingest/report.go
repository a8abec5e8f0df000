package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/runstate"
	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID makes Run and CatchUp use runID instead of generating one, so a
// caller can register the run before it starts.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Report is the accounting of one run. It is returned alongside the run's
// error, so it also describes partial progress of a failed run.
type Report struct {
	RunID      string
	Mode       string
	Partitions int
	Pages      int
	Items      int
	Skipped    int
	StartedAt  time.Time
	Duration   time.Duration
}

// Counters converts the report for the run state tracker.
func (r *Report) Counters() runstate.Counters {
	return runstate.Counters{
		Partitions: r.Partitions,
		Pages:      r.Pages,
		Items:      r.Items,
		Skipped:    r.Skipped,
	}
}

// tally is updated concurrently while a run is in flight.
type tally struct {
	partitions atomic.Int64
	pages      atomic.Int64
	items      atomic.Int64
	skipped    atomic.Int64
}

func (t *tally) record(res Result) {
	if res.Skipped {
		t.skipped.Add(1)
		return
	}
	t.items.Add(1)
}

func (t *tally) report(runID, mode string, startedAt time.Time) *Report {
	return &Report{
		RunID:      runID,
		Mode:       mode,
		Partitions: int(t.partitions.Load()),
		Pages:      int(t.pages.Load()),
		Items:      int(t.items.Load()),
		Skipped:    int(t.skipped.Load()),
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
	}
}
