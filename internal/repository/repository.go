package repository

import (
	"context"
	"time"

	"github.com/utafrali/searchsync/internal/domain"
)

// DeadLetterFilter defines filter criteria for listing dead-letter events.
type DeadLetterFilter struct {
	Topic      *string
	ErrorClass *string
	Replayed   *bool
	Page       int
	PerPage    int
}

// DeadLetterRepository defines the interface for the dead-letter store.
type DeadLetterRepository interface {
	// Record upserts a dead-letter event keyed by event id. Recording an
	// event that is already stored bumps its attempt count and refreshes
	// the failure reason instead of inserting a duplicate row.
	Record(ctx context.Context, event *domain.DeadLetterEvent) error

	// GetByEventID retrieves a dead-letter event by its event id.
	GetByEventID(ctx context.Context, eventID string) (*domain.DeadLetterEvent, error)

	// List returns dead-letter events matching the filter, newest first,
	// along with the total count.
	List(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetterEvent, int, error)

	// Count returns the number of dead-letter events that have not been replayed.
	Count(ctx context.Context) (int64, error)

	// MarkReplayed stamps the replay time on a dead-letter event.
	MarkReplayed(ctx context.Context, eventID string, at time.Time) error
}

// ReindexJobRepository defines the interface for reindex job persistence.
type ReindexJobRepository interface {
	// Create inserts a new reindex job.
	Create(ctx context.Context, job *domain.ReindexJob) error

	// GetByID retrieves a reindex job by its id.
	GetByID(ctx context.Context, id string) (*domain.ReindexJob, error)

	// GetOpenByAlias returns the job currently claiming the alias (any
	// state but done or abandoned), or nil when the alias is free. Failed
	// jobs count: they hold the alias until resumed or abandoned.
	GetOpenByAlias(ctx context.Context, alias string) (*domain.ReindexJob, error)

	// List returns reindex jobs, newest first, along with the total count.
	List(ctx context.Context, page, perPage int) ([]domain.ReindexJob, int, error)

	// Update persists the job's current state, counters and checkpoint.
	Update(ctx context.Context, job *domain.ReindexJob) error
}
