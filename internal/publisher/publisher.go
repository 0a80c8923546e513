// Package publisher delivers documents to an index and classifies failures.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/renderinc/torrent-sync/internal/document"
	"github.com/renderinc/torrent-sync/internal/meili"
)

var publishDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "torrentsync_publish_duration_seconds",
		Help:    "Duration of publish attempts against the index",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"result"},
)

// Sink performs one index mutation for a group of documents
type Sink interface {
	Send(ctx context.Context, docs []*document.Torrent) error
}

// PublishError is returned when documents could not be delivered.
// StatusCode is zero for transport failures.
type PublishError struct {
	IDs        []uint64
	StatusCode int
	Attempts   int
	Err        error
}

func (e *PublishError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publish %v: status %d after %d attempt(s): %v", e.IDs, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("publish %v after %d attempt(s): %v", e.IDs, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// BatchResult reports the outcome of PublishBatch
type BatchResult struct {
	Succeeded []uint64
	Failed    []uint64
	Err       error
}

// RetryPolicy bounds publish retries. MaxAttempts <= 1 disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Publisher sends documents through a Sink
type Publisher struct {
	sink   Sink
	retry  RetryPolicy
	logger *zap.Logger
}

// Option configures a Publisher
type Option func(*Publisher)

// WithRetry enables bounded exponential backoff between attempts
func WithRetry(policy RetryPolicy) Option {
	return func(p *Publisher) {
		p.retry = policy
	}
}

// WithLogger sets the logger, default is a no-op logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a publisher for sink
func New(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:   sink,
		retry:  RetryPolicy{MaxAttempts: 1},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers a single document. Any failure is a *PublishError.
//
// Cancelling ctx stops further retries but never interrupts a request
// already sent; that request ends on the HTTP client timeout.
func (p *Publisher) Publish(ctx context.Context, doc *document.Torrent) error {
	return p.send(ctx, []*document.Torrent{doc})
}

// PublishBatch delivers docs in one request. A failed request fails every
// document in it; documents are not resent one by one.
func (p *Publisher) PublishBatch(ctx context.Context, docs []*document.Torrent) BatchResult {
	var result BatchResult
	if len(docs) == 0 {
		return result
	}

	ids := idsOf(docs)
	if err := p.send(ctx, docs); err != nil {
		result.Failed = ids
		result.Err = err
		return result
	}
	result.Succeeded = ids
	return result
}

func (p *Publisher) send(ctx context.Context, docs []*document.Torrent) error {
	start := time.Now()
	attempts := 0
	sendCtx := context.WithoutCancel(ctx)

	var lastErr error
	operation := func() error {
		attempts++
		lastErr = p.sink.Send(sendCtx, docs)
		if lastErr != nil && !retryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("publish failed, retrying",
			zap.Uint64s("torrent_ids", idsOf(docs)),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		publishDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
		return nil
	}
	publishDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())

	// a cancelled wait reports ctx.Err(), keep the sink's error instead
	if lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = lastErr
	}

	pubErr := &PublishError{IDs: idsOf(docs), Attempts: attempts, Err: err}
	var statusErr *meili.StatusError
	if errors.As(err, &statusErr) {
		pubErr.StatusCode = statusErr.StatusCode
	}
	return pubErr
}

func (p *Publisher) backOff(ctx context.Context) backoff.BackOff {
	if p.retry.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	if p.retry.InitialInterval > 0 {
		b.InitialInterval = p.retry.InitialInterval
	}
	if p.retry.MaxInterval > 0 {
		b.MaxInterval = p.retry.MaxInterval
	}
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.retry.MaxAttempts-1)), ctx)
}

// retryable reports whether another attempt could succeed: transport
// errors, 429 and 5xx responses
func retryable(err error) bool {
	var statusErr *meili.StatusError
	if !errors.As(err, &statusErr) {
		return true
	}
	return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
}

func idsOf(docs []*document.Torrent) []uint64 {
	ids := make([]uint64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
