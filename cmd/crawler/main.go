// Command crawler runs the incremental report crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/api"
	archivegcs "github.com/reportit-bot/crawler/internal/archive/gcs"
	archivememory "github.com/reportit-bot/crawler/internal/archive/memory"
	"github.com/reportit-bot/crawler/internal/clock/system"
	"github.com/reportit-bot/crawler/internal/config"
	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/id/uuid"
	"github.com/reportit-bot/crawler/internal/logging"
	"github.com/reportit-bot/crawler/internal/metrics"
	pubmemory "github.com/reportit-bot/crawler/internal/publisher/memory"
	pubgcp "github.com/reportit-bot/crawler/internal/publisher/pubsub"
	"github.com/reportit-bot/crawler/internal/scraper"
	storememory "github.com/reportit-bot/crawler/internal/storage/memory"
	"github.com/reportit-bot/crawler/internal/storage/postgres"
	"github.com/reportit-bot/crawler/internal/taskqueue"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "crawler: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	crawls, reports, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	fetcher, err := scraper.New(scraper.Config{
		BaseURL:     cfg.Scraper.BaseURL,
		ReportPath:  cfg.Scraper.ReportPath,
		ListingPath: cfg.Scraper.ListingPath,
		Timeout:     cfg.Scraper.Timeout,
		UserAgent:   cfg.Scraper.UserAgent,
	}, logger.Named("scraper"))
	if err != nil {
		return err
	}

	pub, closePub, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()

	archive, closeArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	queue := taskqueue.New(logger.Named("taskqueue"))
	ids := uuid.New()
	clk := system.New()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	cursor := crawl.NewCursor(crawls, logger.Named("cursor"))
	planner := crawl.NewPlanner(crawl.PlannerConfig{
		RecentWindowDays:   cfg.Planner.RecentWindowDays,
		FallbackAmount:     cfg.Planner.FallbackAmount,
		FallbackStartID:    cfg.Planner.FallbackStartID,
		LookaheadAmount:    cfg.Planner.LookaheadAmount,
		OffsetMinutesMin:   cfg.Planner.OffsetMinutesMin,
		OffsetMinutesMax:   cfg.Planner.OffsetMinutesMax,
		DurationMinutesMin: cfg.Planner.DurationMinutesMin,
		DurationMinutesMax: cfg.Planner.DurationMinutesMax,
	}, reports, crawls, cursor, fetcher, archive, queue, ids, clk, rng, logger.Named("planner"))

	driver := crawl.NewDriver(crawl.DriverConfig{
		PostProcessTopic: cfg.Publisher.PostProcessTopic,
	}, cursor, crawls, reports, fetcher, buildStopPolicy(cfg), queue, pub, ids, logger.Named("driver"))

	scheduler := crawl.NewScheduler(crawl.SchedulerConfig{
		OffsetMinutesMin: cfg.Scheduler.OffsetMinutesMin,
		OffsetMinutesMax: cfg.Scheduler.OffsetMinutesMax,
	}, queue, ids, clk, rng, logger.Named("scheduler"))

	queue.Register(crawl.TaskChainedCrawl, func(ctx context.Context, _ crawl.Task) error {
		return driver.Execute(ctx)
	})
	queue.Register(crawl.TaskPlanCrawl, func(ctx context.Context, _ crawl.Task) error {
		return planner.Plan(ctx, false)
	})

	server := api.New(cfg.HTTP.Addr, planner, scheduler, crawls, logger.Named("api"))

	errCh := make(chan error, 2)
	go func() {
		if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("task queue: %w", err)
		}
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.Scheduler.ScheduleOnStart {
		if _, err := scheduler.ScheduleCrawl(ctx); err != nil {
			logger.Warn("failed to schedule startup crawl", zap.Error(err))
		}
	}

	logger.Info("crawler service started")
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		stop()
		logger.Error("component failed", zap.Error(err))
	}

	queue.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	logger.Info("crawler service stopped")
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (crawl.CrawlStore, crawl.ReportStore, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		crawls, err := postgres.NewCrawlStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		reports, err := postgres.NewReportStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("using postgres storage")
		return crawls, reports, pool.Close, nil
	case "memory":
		logger.Warn("using in-memory storage, state is lost on restart")
		return storememory.NewCrawlStore(), storememory.NewReportStore(), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (crawl.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "pubsub":
		pub, err := pubgcp.New(ctx, cfg.Publisher.ProjectID, logger.Named("publisher"))
		if err != nil {
			return nil, nil, err
		}
		return pub, func() { _ = pub.Close() }, nil
	case "memory":
		return pubmemory.New(), func() {}, nil
	case "none":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher provider %q", cfg.Publisher.Provider)
	}
}

func buildArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (crawl.SnapshotArchive, func(), error) {
	switch cfg.Archive.Provider {
	case "gcs":
		archive, err := archivegcs.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, logger.Named("archive"))
		if err != nil {
			return nil, nil, err
		}
		return archive, func() { _ = archive.Close() }, nil
	case "memory":
		return archivememory.New(), func() {}, nil
	case "none":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

func buildStopPolicy(cfg *config.Config) crawl.StopPolicy {
	if cfg.Stop.Policy == "position" {
		return crawl.PositionPolicy{Decimals: cfg.Stop.PositionDecimals}
	}
	return crawl.ListingPolicy{}
}
