package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/pkg/database"
	apperrors "github.com/utafrali/searchsync/pkg/errors"
)

// ReindexJobRepository implements repository.ReindexJobRepository using PostgreSQL.
type ReindexJobRepository struct {
	pool database.DBTX
}

// NewReindexJobRepository creates a new PostgreSQL-backed reindex job repository.
func NewReindexJobRepository(pool database.DBTX) *ReindexJobRepository {
	return &ReindexJobRepository{pool: pool}
}

// Create inserts a new reindex job. A partial unique index on the alias of
// open jobs enforces one job per alias; a violation maps to a conflict error.
func (r *ReindexJobRepository) Create(ctx context.Context, job *domain.ReindexJob) error {
	query := `
		INSERT INTO reindex_jobs (id, alias, source_index, target_index, state, failed_from, checkpoint, copy_started_at, docs_copied, docs_synced, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Alias,
		job.SourceIndex,
		job.TargetIndex,
		string(job.State),
		string(job.FailedFrom),
		job.Checkpoint,
		nullableTime(job.CopyStartedAt),
		job.DocsCopied,
		job.DocsSynced,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("a reindex job is already running for alias %s", job.Alias))
		}
		return fmt.Errorf("insert reindex job: %w", err)
	}

	return nil
}

// GetByID retrieves a reindex job by its id.
func (r *ReindexJobRepository) GetByID(ctx context.Context, id string) (*domain.ReindexJob, error) {
	query := `
		SELECT id, alias, source_index, target_index, state, failed_from, checkpoint, copy_started_at, docs_copied, docs_synced, error, created_at, updated_at
		FROM reindex_jobs
		WHERE id = $1`

	job, err := scanReindexJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reindex job", id)
		}
		return nil, fmt.Errorf("scan reindex job: %w", err)
	}

	return job, nil
}

// GetOpenByAlias returns the job currently claiming the alias, or nil when
// the alias is free. Failed jobs count as open: their target index is still
// on disk and blocks the next rebuild until resumed or abandoned.
func (r *ReindexJobRepository) GetOpenByAlias(ctx context.Context, alias string) (*domain.ReindexJob, error) {
	query := `
		SELECT id, alias, source_index, target_index, state, failed_from, checkpoint, copy_started_at, docs_copied, docs_synced, error, created_at, updated_at
		FROM reindex_jobs
		WHERE alias = $1 AND state NOT IN ('done', 'abandoned')
		ORDER BY created_at DESC
		LIMIT 1`

	job, err := scanReindexJob(r.pool.QueryRow(ctx, query, alias))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan open reindex job: %w", err)
	}

	return job, nil
}

// List returns reindex jobs, newest first, with the total count.
func (r *ReindexJobRepository) List(ctx context.Context, page, perPage int) ([]domain.ReindexJob, int, error) {
	// Use count(*) OVER() for total count in a single query.
	query := `
		SELECT id, alias, source_index, target_index, state, failed_from, checkpoint, copy_started_at, docs_copied, docs_synced, error, created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM reindex_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	limit := perPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if page > 1 {
		offset = (page - 1) * limit
	}

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reindex jobs: %w", err)
	}
	defer rows.Close()

	var totalCount int
	jobs := make([]domain.ReindexJob, 0)

	for rows.Next() {
		var (
			j             domain.ReindexJob
			state         string
			failedFrom    string
			copyStartedAt *time.Time
		)

		if err := rows.Scan(
			&j.ID,
			&j.Alias,
			&j.SourceIndex,
			&j.TargetIndex,
			&state,
			&failedFrom,
			&j.Checkpoint,
			&copyStartedAt,
			&j.DocsCopied,
			&j.DocsSynced,
			&j.Error,
			&j.CreatedAt,
			&j.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan reindex job row: %w", err)
		}

		j.State = domain.ReindexJobState(state)
		j.FailedFrom = domain.ReindexJobState(failedFrom)
		if copyStartedAt != nil {
			j.CopyStartedAt = *copyStartedAt
		}

		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reindex job rows: %w", err)
	}

	return jobs, totalCount, nil
}

// Update persists the job's current state, counters and checkpoint.
func (r *ReindexJobRepository) Update(ctx context.Context, job *domain.ReindexJob) error {
	query := `
		UPDATE reindex_jobs
		SET state = $1, failed_from = $2, checkpoint = $3, copy_started_at = $4, docs_copied = $5, docs_synced = $6, error = $7, updated_at = $8
		WHERE id = $9`

	ct, err := r.pool.Exec(ctx, query,
		string(job.State),
		string(job.FailedFrom),
		job.Checkpoint,
		nullableTime(job.CopyStartedAt),
		job.DocsCopied,
		job.DocsSynced,
		job.Error,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update reindex job: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("reindex job", job.ID)
	}

	return nil
}

// scanReindexJob scans a single reindex job row.
func scanReindexJob(row pgx.Row) (*domain.ReindexJob, error) {
	var (
		j             domain.ReindexJob
		state         string
		failedFrom    string
		copyStartedAt *time.Time
	)

	err := row.Scan(
		&j.ID,
		&j.Alias,
		&j.SourceIndex,
		&j.TargetIndex,
		&state,
		&failedFrom,
		&j.Checkpoint,
		&copyStartedAt,
		&j.DocsCopied,
		&j.DocsSynced,
		&j.Error,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = domain.ReindexJobState(state)
	j.FailedFrom = domain.ReindexJobState(failedFrom)
	if copyStartedAt != nil {
		j.CopyStartedAt = *copyStartedAt
	}

	return &j, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
