package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckpointHits tracks lookups that allowed a write to be skipped
	CheckpointHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsnews_checkpoint_hits_total",
			Help: "Total number of checkpoint hits (write skipped)",
		},
	)

	// CheckpointMisses tracks lookups that required a write
	CheckpointMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsnews_checkpoint_misses_total",
			Help: "Total number of checkpoint misses (write required)",
		},
	)

	// CheckpointErrors tracks Redis failures
	CheckpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsnews_checkpoint_errors_total",
			Help: "Total number of checkpoint operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
