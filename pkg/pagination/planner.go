package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesPlannedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "whatsnews_pages_planned_total",
	Help: "Total page descriptors produced by the planner",
})

// Config holds planner configuration.
type Config struct {
	// PageSize is the number of items requested per page.
	PageSize int
	// ProbeTimeout bounds the count probe.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:     100,
		ProbeTimeout: 15 * time.Second,
	}
}

// Counter is implemented by the feed client for count probes.
type Counter interface {
	Count(ctx context.Context, p feed.Partition) (int, error)
}

// Plan is the ordered set of pages covering one partition.
type Plan struct {
	Partition feed.Partition
	TotalHits int
	Pages     []feed.PageDescriptor
}

// Empty reports whether the plan has nothing to fetch.
func (p Plan) Empty() bool {
	return len(p.Pages) == 0
}

// Pages returns descriptors for indices 0..ceil(total/size)-1 in order.
// A non-positive total or size yields no pages.
func Pages(partition feed.Partition, total, size int) []feed.PageDescriptor {
	if total <= 0 || size <= 0 {
		return nil
	}
	count := (total + size - 1) / size
	pages := make([]feed.PageDescriptor, 0, count)
	for i := 0; i*size < total; i++ {
		pages = append(pages, feed.PageDescriptor{
			Partition: partition,
			Size:      size,
			Index:     i,
			Sort:      feed.PublishedDesc,
		})
	}
	return pages
}

// Planner turns a partition into a Plan using a count probe.
type Planner struct {
	counter Counter
	config  Config
	logger  zerolog.Logger
}

// NewPlanner creates a new planner.
func NewPlanner(counter Counter, config Config, logger zerolog.Logger) (*Planner, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if config.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive (got %d)", config.PageSize)
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Planner{counter: counter, config: config, logger: logger}, nil
}

// PageSize returns the configured page size.
func (p *Planner) PageSize() int {
	return p.config.PageSize
}

// Plan probes the partition size and returns its page descriptors.
// A zero count returns an empty plan.
func (p *Planner) Plan(ctx context.Context, partition feed.Partition) (Plan, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	total, err := p.counter.Count(probeCtx, partition)
	cancel()
	if err != nil {
		return Plan{}, fmt.Errorf("count %s: %w", partition, err)
	}

	plan := Plan{
		Partition: partition,
		TotalHits: total,
		Pages:     Pages(partition, total, p.config.PageSize),
	}
	pagesPlannedTotal.Add(float64(len(plan.Pages)))

	p.logger.Info().
		Str("partition", partition.String()).
		Int("total_hits", total).
		Int("pages", len(plan.Pages)).
		Msg("Partition planned")

	return plan, nil
}
