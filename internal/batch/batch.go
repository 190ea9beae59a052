// Package batch accumulates index write operations and flushes them to
// the engine in bulk. A batch is sent when it reaches MaxBatchSize or
// when FlushInterval elapses, whichever comes first.
//
// Callers receive a future per submitted op. Outcomes are isolated per
// item: one rejected document never fails its batch siblings. Transient
// item failures are requeued into a later batch with backoff until the
// retry budget runs out.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/engine"
)

// Status is the terminal outcome of one submitted op.
type Status string

const (
	StatusApplied         Status = "applied"
	StatusFailedPermanent Status = "failed_permanent"
	StatusFailedTransient Status = "failed_transient"
	StatusFailedConflict  Status = "failed_conflict"
)

// Result resolves a Submit future. Attempts counts the bulk attempts the
// op went through, including the final one.
type Result struct {
	Status   Status
	Err      error
	Attempts int
}

// RetryPolicy controls per-item retries for transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of bulk attempts per op.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry; it doubles per
	// attempt up to MaxDelay, with ±25% jitter.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns the standard retry budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

const retryJitterFraction = 0.25

// Delay returns the backoff before retry number attempt (0-indexed), with
// ±25% jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay << attempt
	if base <= 0 || base > p.MaxDelay {
		base = p.MaxDelay
	}
	jitter := time.Duration(float64(base) * retryJitterFraction * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
	return base + jitter
}

// Config holds batcher configuration.
type Config struct {
	// MaxBatchSize flushes the batch as soon as this many ops are pending.
	MaxBatchSize int

	// FlushInterval flushes whatever is pending on this cadence. It also
	// bounds how long a retried op waits beyond its backoff.
	FlushInterval time.Duration

	// FlushTimeout caps one bulk round trip.
	FlushTimeout time.Duration

	Retry RetryPolicy
}

// DefaultConfig returns sensible defaults for the batcher.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  100,
		FlushInterval: 200 * time.Millisecond,
		FlushTimeout:  30 * time.Second,
		Retry:         DefaultRetryPolicy(),
	}
}

var (
	flushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsync_batch_flushes_total",
			Help: "Total number of bulk flushes by trigger",
		},
		[]string{"trigger"},
	)

	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "searchsync_batch_flush_duration_seconds",
			Help:    "Duration of bulk flush round trips",
			Buckets: prometheus.DefBuckets,
		},
	)

	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsync_batch_ops_total",
			Help: "Total number of batched ops by terminal status",
		},
		[]string{"status"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searchsync_batch_retries_total",
			Help: "Total number of transient op retries requeued",
		},
	)
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("batcher is closed")

type submission struct {
	op        engine.WriteOp
	attempt   int
	notBefore time.Time
	result    chan Result
}

// Batcher collects write ops and flushes them through an engine.Writer.
type Batcher struct {
	writer engine.Writer
	cfg    Config
	logger *slog.Logger

	submitCh chan *submission
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

// New creates a Batcher and starts its flush loop. Zero config fields
// fall back to DefaultConfig values.
func New(writer engine.Writer, cfg Config, logger *slog.Logger) *Batcher {
	def := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}

	b := &Batcher{
		writer:   writer,
		cfg:      cfg,
		logger:   logger,
		submitCh: make(chan *submission, cfg.MaxBatchSize*2),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Submit queues op and returns a future that resolves to exactly one
// Result once the op reaches a terminal outcome.
func (b *Batcher) Submit(ctx context.Context, op engine.WriteOp) (<-chan Result, error) {
	sub := &submission{op: op, result: make(chan Result, 1)}
	select {
	case <-b.quit:
		return nil, ErrClosed
	default:
	}
	select {
	case b.submitCh <- sub:
		return sub.result, nil
	case <-b.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops intake, flushes pending work in one final batch, and
// resolves every outstanding future. Producers must have stopped
// submitting before Close is called.
func (b *Batcher) Close() error {
	b.quitOnce.Do(func() { close(b.quit) })
	<-b.done
	return nil
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []*submission // ready for the next flush
	var delayed []*submission // retries waiting out their backoff

	for {
		select {
		case sub := <-b.submitCh:
			pending = append(pending, sub)
			if len(pending) >= b.cfg.MaxBatchSize {
				delayed = append(delayed, b.flush(pending, "size", false)...)
				pending = nil
			}

		case <-ticker.C:
			now := time.Now()
			pending, delayed = promote(pending, delayed, now)
			if len(pending) > 0 {
				delayed = append(delayed, b.flush(pending, "interval", false)...)
				pending = nil
			}

		case <-b.quit:
			for {
				select {
				case sub := <-b.submitCh:
					pending = append(pending, sub)
				default:
					pending = append(pending, delayed...)
					b.flush(pending, "close", true)
					return
				}
			}
		}
	}
}

// promote moves delayed submissions whose backoff has elapsed into the
// ready set.
func promote(pending, delayed []*submission, now time.Time) (ready, waiting []*submission) {
	ready = pending
	waiting = delayed[:0]
	for _, sub := range delayed {
		if now.Before(sub.notBefore) {
			waiting = append(waiting, sub)
		} else {
			ready = append(ready, sub)
		}
	}
	return ready, waiting
}

// flush sends subs as one bulk request and routes per-item outcomes.
// It returns the submissions that earned another attempt; in the final
// flush nothing is retried and every op resolves.
func (b *Batcher) flush(subs []*submission, trigger string, final bool) []*submission {
	if len(subs) == 0 {
		return nil
	}
	flushesTotal.WithLabelValues(trigger).Inc()

	ops := make([]engine.WriteOp, len(subs))
	for i, sub := range subs {
		ops[i] = sub.op
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
	defer cancel()

	start := time.Now()
	results, err := b.writer.Bulk(ctx, ops)
	flushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// The whole request failed; no per-item outcomes exist and every
		// op is retried as transient.
		b.logger.Warn("bulk flush failed",
			slog.Int("ops", len(subs)),
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		wrapped := fmt.Errorf("bulk flush: %w", err)
		var retry []*submission
		for _, sub := range subs {
			retry = append(retry, b.routeTransient(sub, wrapped, final)...)
		}
		return retry
	}

	var retry []*submission
	for i, sub := range subs {
		itemErr := results[i].Err
		switch {
		case itemErr == nil:
			b.finish(sub, Result{Status: StatusApplied, Attempts: sub.attempt + 1})
		case domain.IsVersionConflict(itemErr):
			b.finish(sub, Result{Status: StatusFailedConflict, Err: itemErr, Attempts: sub.attempt + 1})
		case domain.IsPermanent(itemErr):
			b.finish(sub, Result{Status: StatusFailedPermanent, Err: itemErr, Attempts: sub.attempt + 1})
		default:
			retry = append(retry, b.routeTransient(sub, itemErr, final)...)
		}
	}
	return retry
}

func (b *Batcher) routeTransient(sub *submission, err error, final bool) []*submission {
	sub.attempt++
	if final || sub.attempt >= b.cfg.Retry.MaxAttempts {
		b.finish(sub, Result{Status: StatusFailedTransient, Err: err, Attempts: sub.attempt})
		return nil
	}
	retriesTotal.Inc()
	sub.notBefore = time.Now().Add(b.cfg.Retry.Delay(sub.attempt - 1))
	return []*submission{sub}
}

func (b *Batcher) finish(sub *submission, res Result) {
	opsTotal.WithLabelValues(string(res.Status)).Inc()
	sub.result <- res
}
