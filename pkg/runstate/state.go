// Package runstate keeps the state of the last ingestion run in Redis so that
// scheduled runs can be gated and operators can see how the last run ended.
package runstate

import (
	"time"
)

// RedisKeyLastRun is the hash holding the last run's state.
const RedisKeyLastRun = "whatsnews:run:last"

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusNone means no run was recorded yet.
	StatusNone Status = ""
	// StatusRunning is set when a run starts.
	StatusRunning Status = "running"
	// StatusSucceeded is set when every partition completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed is set when the run returned an error.
	StatusFailed Status = "failed"
)

// Counters is the accounting of one run.
type Counters struct {
	Partitions int `json:"partitions"`
	Pages      int `json:"pages"`
	Items      int `json:"items"`
	Skipped    int `json:"skipped"`
}

// State is the recorded state of the last run.
type State struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Counters   Counters  `json:"counters"`
	Error      string    `json:"error,omitempty"`
}

// Finished reports whether the run has ended.
func (s *State) Finished() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

// Duration returns how long the run took, or how long it has been running.
func (s *State) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.Finished() {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// SucceededWithin reports whether the run succeeded less than maxAge ago.
func (s *State) SucceededWithin(maxAge time.Duration) bool {
	return s.Status == StatusSucceeded && time.Since(s.FinishedAt) < maxAge
}

// IsStale returns true if a running state has not finished within maxAge.
// A stale running state is left behind by a crashed process.
func (s *State) IsStale(maxAge time.Duration) bool {
	return s.Status == StatusRunning && time.Since(s.StartedAt) > maxAge
}
