// Package config loads the ingester configuration from flags and environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/Sternrassler/whatsnews-mirror/pkg/ingest"
	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

// ErrHelp is returned when help output was requested.
var ErrHelp = errors.New("help requested")

// Run modes.
const (
	ModeFull        = ingest.ModeFull
	ModeIncremental = ingest.ModeIncremental
)

// Options holds every setting of the ingester.
type Options struct {
	// Database
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"Postgres connection string" required:"true"`
	DBMaxConns  int    `long:"db-max-conns" env:"DB_MAX_CONNS" default:"10" description:"Maximum open database connections"`
	Migrate     bool   `long:"migrate" env:"MIGRATE" description:"Apply schema migrations before ingesting"`

	// Redis (optional)
	RedisAddr     string        `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for checkpoints and run state (disabled when empty)"`
	RedisDB       int           `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	CheckpointTTL time.Duration `long:"checkpoint-ttl" env:"CHECKPOINT_TTL" default:"720h" description:"How long item checkpoints are kept"`

	// Upstream feed
	FeedURL        string        `long:"feed-url" env:"FEED_URL" default:"https://aws.amazon.com/api/dirs/items/search" description:"Upstream search endpoint"`
	Locale         string        `long:"locale" env:"FEED_LOCALE" default:"en_US" description:"Upstream item locale"`
	UserAgent      string        `long:"user-agent" env:"USER_AGENT" default:"whatsnews-mirror/0.1.0" description:"User agent for upstream requests"`
	RequestTimeout time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"30s" description:"Timeout per upstream request"`

	// Partitions
	Directory      string `long:"directory" env:"FEED_DIRECTORY" default:"whats-new-v2" description:"Upstream directory id"`
	FirstYear      int    `long:"first-year" env:"FIRST_YEAR" default:"2004" description:"First year partition"`
	LastYear       int    `long:"last-year" env:"LAST_YEAR" default:"0" description:"Last year partition (0 = current year)"`
	PartitionsFile string `long:"partitions-file" env:"PARTITIONS_FILE" description:"YAML file listing partitions (overrides year partitions)"`

	// Ingestion
	Mode               string        `long:"mode" env:"MODE" default:"full" choice:"full" choice:"incremental" description:"Run mode"`
	ErrorMode          string        `long:"error-mode" env:"ERROR_MODE" default:"fail-fast" choice:"fail-fast" choice:"settle-all" description:"How a fatal error affects the run"`
	PageSize           int           `long:"page-size" env:"PAGE_SIZE" default:"100" description:"Items per page"`
	MaxConcurrentPages int           `long:"max-concurrent-pages" env:"MAX_CONCURRENT_PAGES" default:"8" description:"In-flight page fetches"`
	MaxConcurrentItems int           `long:"max-concurrent-items" env:"MAX_CONCURRENT_ITEMS" default:"0" description:"In-flight item upserts (0 = database pool size)"`
	MaxCatchUpPages    int           `long:"max-catchup-pages" env:"MAX_CATCHUP_PAGES" default:"50" description:"Page limit of incremental runs (0 = unlimited)"`
	MaxRetries         int           `long:"max-retries" env:"MAX_RETRIES" default:"10" description:"Retries per item on write contention"`
	RetryBaseDelay     time.Duration `long:"retry-base-delay" env:"RETRY_BASE_DELAY" default:"100ms" description:"Minimum backoff between retries"`
	RetryMaxDelay      time.Duration `long:"retry-max-delay" env:"RETRY_MAX_DELAY" default:"60s" description:"Maximum backoff between retries"`
	Interval           time.Duration `long:"interval" env:"INTERVAL" default:"0" description:"Repeat runs at this interval (0 = run once)"`

	// Observability
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9090" description:"Address for /metrics and /health (disabled when empty)"`
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogPretty   bool   `long:"log-pretty" env:"LOG_PRETTY" description:"Human-readable console logs"`
}

// Load parses the process arguments and environment.
func Load() (*Options, error) {
	return Parse(nil)
}

// Parse parses args (nil means os.Args[1:]) and the environment, then
// validates the result.
func Parse(args []string) (*Options, error) {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &opts, nil
}

// Validate checks value ranges that flag parsing cannot.
func (o *Options) Validate() error {
	if o.PageSize <= 0 {
		return fmt.Errorf("page size must be positive (got %d)", o.PageSize)
	}
	if o.DBMaxConns <= 0 {
		return fmt.Errorf("db max conns must be positive (got %d)", o.DBMaxConns)
	}
	if o.MaxConcurrentPages <= 0 {
		return fmt.Errorf("max concurrent pages must be positive (got %d)", o.MaxConcurrentPages)
	}
	if o.MaxConcurrentItems < 0 {
		return fmt.Errorf("max concurrent items must be non-negative (got %d)", o.MaxConcurrentItems)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative (got %d)", o.MaxRetries)
	}
	if o.RetryBaseDelay <= 0 || o.RetryMaxDelay < o.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base <= max (got %v, %v)", o.RetryBaseDelay, o.RetryMaxDelay)
	}
	if o.Interval < 0 {
		return fmt.Errorf("interval must be non-negative")
	}
	if o.LastYear != 0 && o.LastYear < o.FirstYear {
		return fmt.Errorf("last year %d is before first year %d", o.LastYear, o.FirstYear)
	}
	if o.Directory == "" && o.PartitionsFile == "" {
		return fmt.Errorf("directory is required")
	}
	if _, err := ingest.ParseErrorMode(o.ErrorMode); err != nil {
		return err
	}
	return nil
}

// ItemConcurrency returns the item limiter size. It defaults to the
// database pool size.
func (o *Options) ItemConcurrency() int {
	if o.MaxConcurrentItems > 0 {
		return o.MaxConcurrentItems
	}
	return o.DBMaxConns
}

// Partitions returns the partitions to mirror: those of the partitions file
// when set, otherwise one per year up to now's year.
func (o *Options) Partitions(now time.Time) ([]feed.Partition, error) {
	if o.PartitionsFile != "" {
		return LoadPartitions(o.PartitionsFile)
	}
	last := o.LastYear
	if last == 0 {
		last = now.Year()
	}
	return feed.YearPartitions(o.Directory, o.FirstYear, last), nil
}

// CatchUpPartition is the partition walked by incremental runs.
func (o *Options) CatchUpPartition() feed.Partition {
	return feed.Partition{DirectoryID: o.Directory}
}
