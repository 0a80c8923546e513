package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/renderinc/torrent-sync/internal/config"
	"github.com/renderinc/torrent-sync/internal/document"
	"github.com/renderinc/torrent-sync/internal/meili"
	"github.com/renderinc/torrent-sync/internal/publisher"
	"github.com/renderinc/torrent-sync/internal/search"
	"github.com/renderinc/torrent-sync/internal/storage"
	"github.com/renderinc/torrent-sync/internal/sync"
	"github.com/renderinc/torrent-sync/internal/web"
)

func main() {
	app := &cli.App{
		Name:    "torrent-sync",
		Usage:   "Export torrents and their files from the source database into a search index",
		Version: config.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an ini config file (TS_* environment variables override it)",
				EnvVars: []string{"TS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Publish every torrent to the index",
				Action: syncCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Repeat the sync on this interval until interrupted (0 = run once)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the local bleve index",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 10,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show torrent counts in the source and the index",
				Action: statsCommand,
			},
			{
				Name:   "serve",
				Usage:  "Serve search over the local bleve index, with health and metrics",
				Action: serveCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every command
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if level := c.String("log-level"); level != "" {
		if err := cfg.SetLogLevel(level); err != nil {
			return nil, nil, fmt.Errorf("--log-level: %w", err)
		}
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func syncCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.SourceDriver, cfg.SourceDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Prepare(ctx); err != nil {
		return err
	}

	sink, closeSink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	pub := publisher.New(sink,
		publisher.WithLogger(logger),
		publisher.WithRetry(publisher.RetryPolicy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.RetryInitial,
			MaxInterval:     cfg.RetryMax,
		}),
	)

	builder := document.Builder{Poster: cfg.Poster, EscapeName: cfg.EscapeName}
	worker := sync.NewWorker(db, pub, builder,
		sync.WithConcurrency(cfg.Concurrency),
		sync.WithBatchSize(cfg.BatchSize),
		sync.WithLogger(logger),
	)

	interval := cfg.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	if interval > 0 {
		logger.Info("running periodic sync", zap.Duration("interval", interval))
		return worker.Loop(ctx, interval, func(stats *sync.Stats, err error) {
			printSummary(stats, err)
		})
	}

	stats, err := worker.Run(ctx)
	printSummary(stats, err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openSink returns the configured index sink and its cleanup
func openSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (publisher.Sink, func(), error) {
	if cfg.IndexBackend == "bleve" {
		idx, err := search.Open(cfg.BlevePath)
		if err != nil {
			return nil, nil, err
		}
		return &publisher.BleveSink{Index: idx}, func() { idx.Close() }, nil
	}

	// one client for the whole run, sized for the publish pool
	httpClient := meili.NewHTTPClient(cfg.IndexTimeout, cfg.Concurrency)
	client := meili.NewClient(cfg.IndexURL, cfg.IndexAPIKey, httpClient)
	if err := client.Health(ctx); err != nil {
		logger.Warn("index health check failed, publishing anyway", zap.Error(err))
	}
	return &publisher.MeiliSink{Client: client, Index: cfg.IndexName}, func() {}, nil
}

func printSummary(stats *sync.Stats, err error) {
	if stats == nil {
		return
	}

	fmt.Println()
	fmt.Println("=== Sync Complete ===")
	fmt.Printf("Run:           %s\n", stats.RunID)
	fmt.Printf("Attempted:     %d\n", stats.Attempted)
	fmt.Printf("Succeeded:     %d\n", stats.Succeeded)
	fmt.Printf("Failed:        %d\n", stats.Failed)
	fmt.Printf("Skipped rows:  %d\n", stats.Skipped)
	fmt.Printf("Skipped files: %d\n", stats.SkippedFiles)
	fmt.Printf("Duration:      %v\n", stats.Duration.Round(time.Millisecond))

	if len(stats.FailedIDs) > 0 {
		fmt.Printf("Failed IDs:    %s\n", joinIDs(stats.FailedIDs))
	}
	if len(stats.Unpublished) > 0 {
		fmt.Printf("Unpublished:   %s\n", joinIDs(stats.Unpublished))
	}
	if err != nil {
		fmt.Printf("Stopped:       %v\n", err)
	}
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("search query required\nUsage: torrent-sync search [--limit n] <query>", 1)
	}

	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	idx, err := search.Open(cfg.BlevePath)
	if err != nil {
		return err
	}
	defer idx.Close()

	query := strings.Join(c.Args().Slice(), " ")
	results, err := idx.Search(query, c.Int("limit"))
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	fmt.Printf("\nFound %d results:\n\n", len(results))
	for i, result := range results {
		fmt.Printf("%d. %s\n", i+1, result.Name)
		fmt.Printf("   Seeders: %d  Size: %d\n", result.Seeders, result.Size)
		fmt.Printf("   URL: %s\n", result.URL)
		fmt.Printf("   Score: %.3f\n", result.Score)
		fmt.Println()
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := c.Context
	db, err := storage.Open(ctx, cfg.SourceDriver, cfg.SourceDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	sourceCount, err := db.Count(ctx)
	if err != nil {
		return fmt.Errorf("count torrents: %w", err)
	}

	var indexCount uint64
	if cfg.IndexBackend == "bleve" {
		idx, err := search.Open(cfg.BlevePath)
		if err != nil {
			return err
		}
		defer idx.Close()

		if indexCount, err = idx.Count(); err != nil {
			return fmt.Errorf("count index: %w", err)
		}
	} else {
		client := meili.NewClient(cfg.IndexURL, cfg.IndexAPIKey, meili.NewHTTPClient(cfg.IndexTimeout, 1))
		stats, err := client.Stats(ctx, cfg.IndexName)
		if err != nil {
			return err
		}
		indexCount = uint64(stats.NumberOfDocuments)
	}

	fmt.Println("=== Index Statistics ===")
	fmt.Printf("Torrents in source: %d\n", sourceCount)
	fmt.Printf("Documents in index: %d\n", indexCount)
	return nil
}

func serveCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	idx, err := search.Open(cfg.BlevePath)
	if err != nil {
		return err
	}
	defer idx.Close()

	server := web.NewServer(idx, cfg.CacheSize, cfg.CacheTTL, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
