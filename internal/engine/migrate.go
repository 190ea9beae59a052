package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/searchsync/internal/domain"
)

var (
	mirroredDeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_engine_mirrored_deletes_total",
			Help: "Total number of deletes mirrored to a reindex target index",
		},
	)

	mirrorFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_engine_mirror_failures_total",
			Help: "Total number of mirrored deletes that failed against the reindex target index",
		},
	)
)

func init() {
	prometheus.MustRegister(mirroredDeletesTotal)
	prometheus.MustRegister(mirrorFailuresTotal)
}

// MigrationWriter mirrors live deletes into a reindex target index while a
// migration is running.
//
// Delta sync re-scans the source index, so upserts and partial updates
// reach the target on the next pass. A delete leaves nothing behind to
// scan: without mirroring, a document removed mid-migration would survive
// in the target and resurrect after the alias switch. Only deletes that
// were applied to the live index are mirrored, and a newer document in the
// target always wins over the mirrored tombstone.
type MigrationWriter struct {
	Writer
	admin  Admin
	logger *slog.Logger

	mu     sync.RWMutex
	target string
}

// NewMigrationWriter wraps next so deletes are mirrored through admin
// whenever a target index is set.
func NewMigrationWriter(next Writer, admin Admin, logger *slog.Logger) *MigrationWriter {
	return &MigrationWriter{Writer: next, admin: admin, logger: logger}
}

// SetTarget starts mirroring deletes into the named index.
func (w *MigrationWriter) SetTarget(name string) {
	w.mu.Lock()
	w.target = name
	w.mu.Unlock()
}

// ClearTarget stops mirroring.
func (w *MigrationWriter) ClearTarget() {
	w.mu.Lock()
	w.target = ""
	w.mu.Unlock()
}

// Target returns the index currently receiving mirrored deletes, or an
// empty string when no migration is active.
func (w *MigrationWriter) Target() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.target
}

// Delete implements Writer. The mirrored delete runs only after the live
// delete was applied; a stale delete that lost on the live index must not
// remove anything from the target either.
func (w *MigrationWriter) Delete(ctx context.Context, docID string, version int64) error {
	if err := w.Writer.Delete(ctx, docID, version); err != nil {
		return err
	}
	w.mirror(ctx, docID, version)
	return nil
}

// Bulk implements Writer. Deletes that were applied on the live index are
// mirrored after the bulk response is routed.
func (w *MigrationWriter) Bulk(ctx context.Context, ops []WriteOp) ([]BulkItemResult, error) {
	results, err := w.Writer.Bulk(ctx, ops)
	if err != nil {
		return results, err
	}
	if w.Target() == "" {
		return results, nil
	}
	for i, op := range ops {
		if op.Kind != OpDelete || i >= len(results) || results[i].Err != nil {
			continue
		}
		w.mirror(ctx, op.DocID, op.Version)
	}
	return results, nil
}

// mirror applies a versioned delete to the target index. Failures are
// recorded but never fail the live write; the verify stage of the
// migration catches any drift they leave behind.
func (w *MigrationWriter) mirror(ctx context.Context, docID string, version int64) {
	target := w.Target()
	if target == "" {
		return
	}
	err := w.admin.DeleteFrom(ctx, target, docID, version)
	if err == nil {
		mirroredDeletesTotal.Inc()
		return
	}
	if domain.IsVersionConflict(err) {
		// The target already holds a newer document; the tombstone loses.
		return
	}
	mirrorFailuresTotal.Inc()
	w.logger.WarnContext(ctx, "failed to mirror delete to reindex target",
		slog.String("target_index", target),
		slog.String("doc_id", docID),
		slog.Int64("version", version),
		slog.String("error", err.Error()),
	)
}
