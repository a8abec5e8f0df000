// Command whatsnews-ingest mirrors the upstream announcement feed into
// Postgres, once or on an interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/internal/config"
	"github.com/Sternrassler/whatsnews-mirror/pkg/checkpoint"
	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"github.com/Sternrassler/whatsnews-mirror/pkg/ingest"
	"github.com/Sternrassler/whatsnews-mirror/pkg/logging"
	"github.com/Sternrassler/whatsnews-mirror/pkg/metrics"
	"github.com/Sternrassler/whatsnews-mirror/pkg/retry"
	"github.com/Sternrassler/whatsnews-mirror/pkg/runstate"
	"github.com/Sternrassler/whatsnews-mirror/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	opts, err := config.Load()
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(opts.LogLevel),
		Pretty:  opts.LogPretty,
		Output:  os.Stderr,
		Version: config.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Error().Err(err).Msg("Ingest failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *config.Options) error {
	storeCfg := store.DefaultConfig()
	storeCfg.DSN = opts.DatabaseURL
	storeCfg.MaxOpenConns = opts.DBMaxConns
	storeCfg.MaxIdleConns = opts.DBMaxConns

	st, err := store.Open(ctx, storeCfg, logging.NewLogger("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if opts.Migrate {
		if _, _, err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	feedCfg := feed.DefaultConfig()
	feedCfg.BaseURL = opts.FeedURL
	feedCfg.Locale = opts.Locale
	feedCfg.UserAgent = opts.UserAgent
	feedCfg.Timeout = opts.RequestTimeout

	client, err := feed.New(feedCfg)
	if err != nil {
		return fmt.Errorf("create feed client: %w", err)
	}

	executor := ingest.NewExecutor(st, retry.Config{
		MaxRetries: opts.MaxRetries,
		BaseDelay:  opts.RetryBaseDelay,
		MaxDelay:   opts.RetryMaxDelay,
	}, store.ClassifyError, logging.NewLogger("executor"))

	var tracker *runstate.Tracker
	if opts.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
			DB:   opts.RedisDB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", opts.RedisAddr, err)
		}
		log.Info().Str("addr", opts.RedisAddr).Msg("Connected to Redis")

		executor.SetCheckpoints(checkpoint.NewManager(redisClient, opts.CheckpointTTL))
		tracker = runstate.NewTracker(redisClient, logging.NewLogger("runstate"))
		if opts.Interval > 0 {
			tracker.SetStaleAfter(2 * opts.Interval)
		}
	}

	partitions, err := opts.Partitions(time.Now())
	if err != nil {
		return fmt.Errorf("load partitions: %w", err)
	}
	errorMode, err := ingest.ParseErrorMode(opts.ErrorMode)
	if err != nil {
		return err
	}

	orchestrator, err := ingest.NewOrchestrator(client, executor, ingest.Config{
		Partitions:         partitions,
		PageSize:           opts.PageSize,
		MaxConcurrentPages: opts.MaxConcurrentPages,
		MaxConcurrentItems: opts.ItemConcurrency(),
		ErrorMode:          errorMode,
		MaxCatchUpPages:    opts.MaxCatchUpPages,
	}, logging.NewLogger("orchestrator"))
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if opts.MetricsAddr != "" {
		srv := metrics.NewServer(opts.MetricsAddr)
		go func() {
			log.Info().Str("addr", opts.MetricsAddr).Msg("Metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	r := &runner{
		orchestrator: orchestrator,
		index:        st,
		tracker:      tracker,
		mode:         opts.Mode,
		catchUp:      opts.CatchUpPartition(),
		interval:     opts.Interval,
		logger:       logging.NewLogger("runner"),
	}
	return r.loop(ctx)
}
