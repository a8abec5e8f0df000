package runstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for run tracking.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsnews_runs_total",
		Help: "Total number of finished ingestion runs by status",
	}, []string{"status"})

	lastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whatsnews_last_run_success_timestamp_seconds",
		Help: "Unix time of the last successful ingestion run",
	})

	runsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsnews_runs_skipped_total",
		Help: "Total number of runs skipped because a recent or active run is recorded",
	})
)

// Hash fields.
const (
	fieldRunID      = "run_id"
	fieldMode       = "mode"
	fieldStatus     = "status"
	fieldStartedAt  = "started_at"
	fieldFinishedAt = "finished_at"
	fieldPartitions = "partitions"
	fieldPages      = "pages"
	fieldItems      = "items"
	fieldSkipped    = "skipped"
	fieldError      = "error"
)

// ErrRunActive is returned by Start while another run is recorded as
// running and is not stale.
var ErrRunActive = errors.New("another run is active")

// DefaultStaleAfter is how long a running state blocks Start.
const DefaultStaleAfter = 6 * time.Hour

// maxWatchRetries bounds optimistic transaction retries on the run key.
const maxWatchRetries = 5

// Tracker records run state in Redis.
type Tracker struct {
	redis      *redis.Client
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewTracker creates a new run state tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:      redisClient,
		staleAfter: DefaultStaleAfter,
		logger:     logger,
	}
}

// SetStaleAfter sets how long a running state blocks Start.
func (t *Tracker) SetStaleAfter(d time.Duration) {
	if d > 0 {
		t.staleAfter = d
	}
}

// GetState returns the last recorded run. A state with StatusNone is
// returned when nothing was recorded.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, RedisKeyLastRun).Result()
	if err != nil {
		return nil, fmt.Errorf("get run state: %w", err)
	}
	return stateFromFields(fields)
}

func stateFromFields(fields map[string]string) (*State, error) {
	if len(fields) == 0 {
		return &State{Status: StatusNone}, nil
	}

	state := &State{
		RunID:  fields[fieldRunID],
		Mode:   fields[fieldMode],
		Status: Status(fields[fieldStatus]),
		Error:  fields[fieldError],
	}

	var err error
	if state.StartedAt, err = parseTime(fields[fieldStartedAt]); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if state.FinishedAt, err = parseTime(fields[fieldFinishedAt]); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	counters := []struct {
		field string
		dst   *int
	}{
		{fieldPartitions, &state.Counters.Partitions},
		{fieldPages, &state.Counters.Pages},
		{fieldItems, &state.Counters.Items},
		{fieldSkipped, &state.Counters.Skipped},
	}
	for _, c := range counters {
		if v := fields[c.field]; v != "" {
			if *c.dst, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("parse %s: %w", c.field, err)
			}
		}
	}

	return state, nil
}

// watch runs fn in an optimistic transaction on the run key, retrying when
// another client modified the key in between.
func (t *Tracker) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := t.redis.Watch(ctx, fn, RedisKeyLastRun)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		t.logger.Debug().Int("attempt", attempt+1).Msg("Run state changed concurrently, retrying")
	}
	return fmt.Errorf("run state: %w", redis.TxFailedErr)
}

// Start records a running state for runID. It returns ErrRunActive while
// another run is running and younger than the stale limit.
func (t *Tracker) Start(ctx context.Context, runID, mode string) error {
	err := t.watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, RedisKeyLastRun).Result()
		if err != nil {
			return fmt.Errorf("get run state: %w", err)
		}
		current, err := stateFromFields(fields)
		if err != nil {
			return err
		}
		if current.Status == StatusRunning && current.RunID != runID && !current.IsStale(t.staleAfter) {
			return fmt.Errorf("%w: %s started at %s", ErrRunActive, current.RunID, current.StartedAt.Format(time.RFC3339))
		}

		now := time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, RedisKeyLastRun)
			pipe.HSet(ctx, RedisKeyLastRun, map[string]any{
				fieldRunID:     runID,
				fieldMode:      mode,
				fieldStatus:    string(StatusRunning),
				fieldStartedAt: now.Format(time.RFC3339Nano),
			})
			return nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRunActive) {
			runsSkippedTotal.Inc()
			return err
		}
		return fmt.Errorf("store run state in redis: %w", err)
	}

	t.logger.Info().Str("run_id", runID).Str("mode", mode).Msg("Run started")
	return nil
}

// Finish records the outcome of runID. A nil runErr marks the run succeeded.
// It fails when runID is no longer the tracked run.
func (t *Tracker) Finish(ctx context.Context, runID string, counters Counters, runErr error) error {
	now := time.Now().UTC()
	status := StatusSucceeded
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}

	err := t.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, RedisKeyLastRun, fieldRunID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get run id: %w", err)
		}
		if current != runID {
			return fmt.Errorf("run %s is not the tracked run (tracked %q)", runID, current)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, RedisKeyLastRun, map[string]any{
				fieldStatus:     string(status),
				fieldFinishedAt: now.Format(time.RFC3339Nano),
				fieldPartitions: counters.Partitions,
				fieldPages:      counters.Pages,
				fieldItems:      counters.Items,
				fieldSkipped:    counters.Skipped,
				fieldError:      errText,
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("store run state in redis: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	runsTotal.WithLabelValues(string(status)).Inc()
	if status == StatusSucceeded {
		lastSuccessTimestamp.Set(float64(now.Unix()))
	}

	logEvent := t.logger.Info()
	if runErr != nil {
		logEvent = t.logger.Error().Err(runErr)
	}
	logEvent.
		Str("run_id", runID).
		Str("status", string(status)).
		Int("items", counters.Items).
		Int("skipped", counters.Skipped).
		Msg("Run finished")

	return nil
}

// ShouldRun reports whether a scheduled run should start. It returns false
// when the last run succeeded within minInterval or another run is still
// active and not older than staleAfter.
func (t *Tracker) ShouldRun(ctx context.Context, minInterval, staleAfter time.Duration) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get run state: %w", err)
	}

	if state.SucceededWithin(minInterval) {
		t.logger.Info().
			Str("last_run_id", state.RunID).
			Time("finished_at", state.FinishedAt).
			Msg("Last run is recent, skipping")
		runsSkippedTotal.Inc()
		return false, nil
	}

	if state.Status == StatusRunning && !state.IsStale(staleAfter) {
		t.logger.Warn().
			Str("active_run_id", state.RunID).
			Time("started_at", state.StartedAt).
			Msg("Another run is in progress, skipping")
		runsSkippedTotal.Inc()
		return false, nil
	}

	return true, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
