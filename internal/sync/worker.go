package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/renderinc/torrent-sync/internal/document"
	"github.com/renderinc/torrent-sync/internal/publisher"
	"github.com/renderinc/torrent-sync/internal/storage"
)

var (
	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torrentsync_documents_total",
			Help: "Documents handed to the publisher, by outcome",
		},
		[]string{"outcome"},
	)
	skippedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torrentsync_skipped_rows_total",
			Help: "Source rows dropped before publishing",
		},
		[]string{"table"},
	)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torrentsync_runs_total",
			Help: "Completed sync runs, by result",
		},
		[]string{"result"},
	)
)

// Source streams torrents and fetches their files
type Source interface {
	Torrents(ctx context.Context) iter.Seq2[storage.Torrent, error]
	Files(ctx context.Context, torrentID int64, hint int64) ([]storage.File, int, error)
}

// Publisher delivers a batch of documents. Cancelling ctx stops retries,
// a request already sent is allowed to finish.
type Publisher interface {
	PublishBatch(ctx context.Context, docs []*document.Torrent) publisher.BatchResult
}

// Worker syncs torrents from the source store to the index
type Worker struct {
	source      Source
	publisher   Publisher
	builder     document.Builder
	concurrency int
	batchSize   int
	logger      *zap.Logger
}

// Option configures a Worker
type Option func(*Worker)

// WithConcurrency sets how many publishes may be in flight. Values <= 1
// process each torrent completely before the next one is read.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		w.concurrency = max(n, 1)
	}
}

// WithBatchSize sets how many documents go into one publish request
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		w.batchSize = max(n, 1)
	}
}

// WithLogger sets the logger, default is a no-op logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a new sync worker
func NewWorker(source Source, pub Publisher, builder document.Builder, opts ...Option) *Worker {
	w := &Worker{
		source:      source,
		publisher:   pub,
		builder:     builder,
		concurrency: 1,
		batchSize:   1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats holds sync statistics
type Stats struct {
	RunID        string
	Attempted    int
	Succeeded    int
	Failed       int
	Skipped      int // torrents dropped before publishing
	SkippedFiles int // malformed file rows dropped from documents
	FailedIDs    []uint64
	Unpublished  []uint64 // built but never sent because the run was canceled
	Duration     time.Duration
}

// Run performs one full pass over the torrents table. Stats are returned
// even when the run is cut short by cancellation or a fatal error.
func (w *Worker) Run(ctx context.Context) (*Stats, error) {
	startTime := time.Now()
	stats := &Stats{RunID: uuid.NewString()}
	logger := w.logger.With(zap.String("run_id", stats.RunID))

	logger.Info("starting sync",
		zap.Int("concurrency", w.concurrency),
		zap.Int("batch_size", w.batchSize),
	)

	var mu sync.Mutex
	var wg sync.WaitGroup

	var pool *ants.Pool
	if w.concurrency > 1 {
		var err error
		pool, err = ants.NewPool(w.concurrency, ants.WithPanicHandler(func(p any) {
			logger.Error("publish task panicked", zap.Any("panic", p))
		}))
		if err != nil {
			return stats, fmt.Errorf("create worker pool: %w", err)
		}
		defer pool.Release()
	}

	dispatch := func(batch []*document.Torrent) {
		mu.Lock()
		stats.Attempted += len(batch)
		mu.Unlock()

		task := func() {
			result := w.publisher.PublishBatch(ctx, batch)
			w.record(logger, stats, &mu, result)
		}

		if pool == nil {
			task()
			return
		}

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			task()
		})
		if err != nil {
			// pool refused the task, publish inline so no document is lost
			wg.Done()
			task()
		}
	}

	skip := func(table string, n int) {
		mu.Lock()
		if table == "torrents" {
			stats.Skipped += n
		} else {
			stats.SkippedFiles += n
		}
		mu.Unlock()
		skippedRowsTotal.WithLabelValues(table).Add(float64(n))
	}

	var runErr error
	batch := make([]*document.Torrent, 0, w.batchSize)

	for torrent, err := range w.source.Torrents(ctx) {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if err != nil {
			if errors.Is(err, storage.ErrMalformedRow) {
				logger.Warn("skipping malformed torrent row", zap.Error(err))
				skip("torrents", 1)
				continue
			}
			runErr = fmt.Errorf("read torrents: %w", err)
			break
		}

		files, skippedFiles, err := w.source.Files(ctx, torrent.ID, torrent.NumFiles)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			if errors.Is(err, storage.ErrFatalConfig) {
				runErr = err
				break
			}
			logger.Warn("skipping torrent, files unavailable",
				zap.Int64("torrent_id", torrent.ID), zap.Error(err))
			skip("torrents", 1)
			continue
		}
		if skippedFiles > 0 {
			logger.Warn("dropped malformed file rows",
				zap.Int64("torrent_id", torrent.ID), zap.Int("count", skippedFiles))
			skip("files", skippedFiles)
		}

		logger.Debug("processing torrent", zap.Int64("torrent_id", torrent.ID))
		batch = append(batch, w.builder.Build(torrent, files))
		if len(batch) >= w.batchSize {
			dispatch(batch)
			batch = make([]*document.Torrent, 0, w.batchSize)
		}
	}

	// Documents already built are published unless the run was canceled,
	// in which case they are reported as unpublished.
	if len(batch) > 0 {
		if isCancel(runErr) {
			for _, doc := range batch {
				stats.Unpublished = append(stats.Unpublished, doc.ID)
			}
			logger.Warn("canceled with unpublished documents",
				zap.Uint64s("torrent_ids", stats.Unpublished))
		} else {
			dispatch(batch)
		}
	}

	wg.Wait()

	slices.Sort(stats.FailedIDs)
	stats.Duration = time.Since(startTime)

	fields := []zap.Field{
		zap.Int("attempted", stats.Attempted),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("skipped_files", stats.SkippedFiles),
		zap.Int("unpublished", len(stats.Unpublished)),
		zap.Duration("duration", stats.Duration),
	}

	switch {
	case runErr == nil:
		runsTotal.WithLabelValues("completed").Inc()
		logger.Info("sync complete", fields...)
	case isCancel(runErr):
		runsTotal.WithLabelValues("canceled").Inc()
		logger.Warn("sync canceled", append(fields, zap.Error(runErr))...)
	default:
		runsTotal.WithLabelValues("aborted").Inc()
		logger.Error("sync aborted", append(fields, zap.Error(runErr))...)
	}

	return stats, runErr
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// record folds one publish result into stats
func (w *Worker) record(logger *zap.Logger, stats *Stats, mu *sync.Mutex, result publisher.BatchResult) {
	if result.Err != nil {
		logger.Error("publish failed",
			zap.Uint64s("torrent_ids", result.Failed),
			zap.Error(result.Err),
		)
	}

	mu.Lock()
	stats.Succeeded += len(result.Succeeded)
	stats.Failed += len(result.Failed)
	stats.FailedIDs = append(stats.FailedIDs, result.Failed...)
	mu.Unlock()

	documentsTotal.WithLabelValues("succeeded").Add(float64(len(result.Succeeded)))
	documentsTotal.WithLabelValues("failed").Add(float64(len(result.Failed)))
}

// Loop runs a pass immediately and then once per interval until ctx is
// done. Failed passes are reported to onRun and do not stop the loop,
// except for fatal configuration errors.
func (w *Worker) Loop(ctx context.Context, interval time.Duration, onRun func(*Stats, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := w.Run(ctx)
		if onRun != nil {
			onRun(stats, err)
		}
		if errors.Is(err, storage.ErrFatalConfig) {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
