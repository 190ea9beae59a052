package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/searchsync/internal/domain"
)

// BreakerConfig holds configuration for the index write circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker (used in metrics and logs).
	Name string

	// MaxRequests is the maximum number of requests allowed in the half-open state.
	// 0 means 1 request is allowed.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing internal counts.
	// 0 means internal counts are never cleared during the closed state.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio is the ratio of failures to total requests that trips the breaker.
	// For example, 0.5 means trip when 50% of requests fail.
	FailureRatio float64

	// MinRequests is the minimum number of requests needed before the failure ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns sensible defaults for the write breaker.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "search_engine_breaker_state",
			Help: "Current state of the search engine write breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_engine_breaker_rejected_total",
			Help: "Total number of index writes rejected by an open breaker",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(breakerState)
	prometheus.MustRegister(breakerRejectedTotal)
}

// stateToFloat maps gobreaker states to prometheus gauge values.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// ErrCircuitOpen is returned when the breaker is open and rejects the write.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerWriter wraps a Writer with circuit breaker protection so a
// struggling engine sheds load instead of absorbing retry storms.
//
// Version conflicts and permanent rejections pass through without counting
// as failures: they are outcomes of healthy writes, not signs of a broken
// engine. Only transport and server errors trip the breaker.
type BreakerWriter struct {
	next    Writer
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
	name    string
}

// NewBreakerWriter wraps next with a circuit breaker.
func NewBreakerWriter(next Writer, cfg BreakerConfig, logger *slog.Logger) *BreakerWriter {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("engine breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return domain.IsVersionConflict(err) || domain.IsPermanent(err)
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)

	// Set initial state metric.
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerWriter{
		next:    next,
		breaker: cb,
		logger:  logger,
		name:    cfg.Name,
	}
}

func (w *BreakerWriter) execute(fn func() (any, error)) (any, error) {
	res, err := w.breaker.Execute(fn)
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		breakerRejectedTotal.WithLabelValues(w.name).Inc()
	}
	return res, err
}

// Upsert implements Writer.
func (w *BreakerWriter) Upsert(ctx context.Context, doc *domain.SearchDocument) error {
	_, err := w.execute(func() (any, error) {
		return nil, w.next.Upsert(ctx, doc)
	})
	return err
}

// PartialUpdate implements Writer.
func (w *BreakerWriter) PartialUpdate(ctx context.Context, docID string, version int64, fields map[string]any) error {
	_, err := w.execute(func() (any, error) {
		return nil, w.next.PartialUpdate(ctx, docID, version, fields)
	})
	return err
}

// Delete implements Writer.
func (w *BreakerWriter) Delete(ctx context.Context, docID string, version int64) error {
	_, err := w.execute(func() (any, error) {
		return nil, w.next.Delete(ctx, docID, version)
	})
	return err
}

// Bulk implements Writer.
func (w *BreakerWriter) Bulk(ctx context.Context, ops []WriteOp) ([]BulkItemResult, error) {
	res, err := w.execute(func() (any, error) {
		return w.next.Bulk(ctx, ops)
	})
	if err != nil {
		return nil, err
	}
	return res.([]BulkItemResult), nil
}

// CurrentVersion implements Writer.
func (w *BreakerWriter) CurrentVersion(ctx context.Context, docID string) (int64, error) {
	res, err := w.execute(func() (any, error) {
		return w.next.CurrentVersion(ctx, docID)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Refresh implements Writer.
func (w *BreakerWriter) Refresh(ctx context.Context) error {
	_, err := w.execute(func() (any, error) {
		return nil, w.next.Refresh(ctx)
	})
	return err
}

// State returns the current state of the underlying breaker.
func (w *BreakerWriter) State() gobreaker.State {
	return w.breaker.State()
}
