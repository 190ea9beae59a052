// Package guard decides whether a change event should be applied, skipped
// as a duplicate, or skipped as stale. It keeps two facts per event
// stream: a processed-event record per event ID, and the newest version
// applied per document.
//
// The guard is an optimization layer, not the authority: the engine's
// external version check rejects stale writes even when the guard store is
// empty or unavailable. When the store fails the guard therefore lets the
// event proceed rather than blocking ingestion.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/searchsync/internal/domain"
)

// Record is the processed-event record kept per event ID. Written only
// after the event reached a terminal outcome.
type Record struct {
	EventID        string    `json:"event_id"`
	EntityID       string    `json:"entity_id"`
	AppliedVersion int64     `json:"applied_version,omitempty"`
	Outcome        string    `json:"outcome"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// Store persists processed-event records and per-document versions.
type Store interface {
	// Seen reports whether eventID already reached a terminal outcome.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the terminal outcome for rec.EventID.
	MarkProcessed(ctx context.Context, rec Record) error

	// LatestVersion returns the newest version applied for docID, or 0
	// when the document has no record.
	LatestVersion(ctx context.Context, docID string) (int64, error)

	// SetVersion records version as the newest applied for docID. Events
	// for one document arrive on a single partition and the engine only
	// applies strictly increasing versions, so callers pass monotonically
	// increasing values.
	SetVersion(ctx context.Context, docID string, version int64) error
}

// Outcome is the guard's verdict for an event.
type Outcome string

const (
	Apply         Outcome = "apply"
	SkipDuplicate Outcome = "skip_duplicate"
	SkipStale     Outcome = "skip_stale"
)

const (
	outcomeApplied      = "applied"
	outcomeSkippedStale = "skipped_stale"
)

// Decision carries the verdict and, for stale skips, the version that
// outranked the event.
type Decision struct {
	Outcome       Outcome
	LatestVersion int64
}

var storeFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "searchsync_guard_store_failures_total",
		Help: "Total number of guard store operations that failed",
	},
	[]string{"op"},
)

// Guard answers Check against a Store and records terminal outcomes.
type Guard struct {
	store  Store
	logger *slog.Logger
}

// New creates a Guard backed by store.
func New(store Store, logger *slog.Logger) *Guard {
	return &Guard{store: store, logger: logger}
}

// Check classifies ev. Store failures degrade to Apply: re-applying an
// event is safe, dropping one is not.
func (g *Guard) Check(ctx context.Context, ev *domain.ChangeEvent) Decision {
	seen, err := g.store.Seen(ctx, ev.EventID)
	if err != nil {
		g.degrade(ctx, "seen", ev.EventID, err)
	} else if seen {
		return Decision{Outcome: SkipDuplicate}
	}

	latest, err := g.store.LatestVersion(ctx, ev.DocID())
	if err != nil {
		g.degrade(ctx, "latest_version", ev.EventID, err)
		return Decision{Outcome: Apply}
	}
	if latest >= ev.Version {
		return Decision{Outcome: SkipStale, LatestVersion: latest}
	}

	return Decision{Outcome: Apply}
}

// MarkApplied records that ev was applied to the index. Failures are
// logged and swallowed: the write already happened and losing a dedup
// record only risks a harmless re-apply.
func (g *Guard) MarkApplied(ctx context.Context, ev *domain.ChangeEvent) {
	rec := Record{
		EventID:        ev.EventID,
		EntityID:       ev.EntityID,
		AppliedVersion: ev.Version,
		Outcome:        outcomeApplied,
		ProcessedAt:    time.Now().UTC(),
	}
	if err := g.store.MarkProcessed(ctx, rec); err != nil {
		g.degrade(ctx, "mark_processed", ev.EventID, err)
	}
	if err := g.store.SetVersion(ctx, ev.DocID(), ev.Version); err != nil {
		g.degrade(ctx, "set_version", ev.EventID, err)
	}
}

// MarkSkipped records that ev was skipped as stale. Only the event record
// is written; the document's version record must not move backwards.
func (g *Guard) MarkSkipped(ctx context.Context, ev *domain.ChangeEvent) {
	rec := Record{
		EventID:     ev.EventID,
		EntityID:    ev.EntityID,
		Outcome:     outcomeSkippedStale,
		ProcessedAt: time.Now().UTC(),
	}
	if err := g.store.MarkProcessed(ctx, rec); err != nil {
		g.degrade(ctx, "mark_processed", ev.EventID, err)
	}
}

func (g *Guard) degrade(ctx context.Context, op, eventID string, err error) {
	storeFailures.WithLabelValues(op).Inc()
	g.logger.WarnContext(ctx, "guard store unavailable, proceeding without dedup",
		slog.String("op", op),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}
