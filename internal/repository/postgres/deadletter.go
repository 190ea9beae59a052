package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/repository"
	"github.com/utafrali/searchsync/pkg/database"
	apperrors "github.com/utafrali/searchsync/pkg/errors"
)

// DeadLetterRepository implements repository.DeadLetterRepository using PostgreSQL.
type DeadLetterRepository struct {
	pool database.DBTX
}

// NewDeadLetterRepository creates a new PostgreSQL-backed dead-letter repository.
func NewDeadLetterRepository(pool database.DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// Record upserts a dead-letter event keyed by event id. A repeat failure of an
// event that is already stored bumps the attempt count and refreshes the
// failure details; the original payload and position are kept from the first
// recording.
func (r *DeadLetterRepository) Record(ctx context.Context, event *domain.DeadLetterEvent) error {
	query := `
		INSERT INTO dead_letter_events (event_id, topic, kafka_partition, kafka_offset, entity_id, event_type, payload, failure_reason, error_class, attempt_count, last_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO UPDATE SET
			attempt_count   = dead_letter_events.attempt_count + 1,
			failure_reason  = EXCLUDED.failure_reason,
			error_class     = EXCLUDED.error_class,
			last_attempt_at = EXCLUDED.last_attempt_at`

	_, err := r.pool.Exec(ctx, query,
		event.EventID,
		event.Topic,
		event.Partition,
		event.Offset,
		event.EntityID,
		event.EventType,
		event.Payload,
		event.FailureReason,
		string(event.ErrorClass),
		event.AttemptCount,
		event.LastAttemptAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record dead letter event: %w", err)
	}

	return nil
}

// GetByEventID retrieves a dead-letter event by its event id.
func (r *DeadLetterRepository) GetByEventID(ctx context.Context, eventID string) (*domain.DeadLetterEvent, error) {
	query := `
		SELECT event_id, topic, kafka_partition, kafka_offset, entity_id, event_type, payload, failure_reason, error_class, attempt_count, last_attempt_at, replayed_at, created_at
		FROM dead_letter_events
		WHERE event_id = $1`

	var (
		e          domain.DeadLetterEvent
		errorClass string
	)

	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&e.EventID,
		&e.Topic,
		&e.Partition,
		&e.Offset,
		&e.EntityID,
		&e.EventType,
		&e.Payload,
		&e.FailureReason,
		&errorClass,
		&e.AttemptCount,
		&e.LastAttemptAt,
		&e.ReplayedAt,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dead letter event", eventID)
		}
		return nil, fmt.Errorf("scan dead letter event: %w", err)
	}

	e.ErrorClass = domain.ErrorClass(errorClass)

	return &e, nil
}

// List returns dead-letter events matching the given filter, newest first,
// with the total count.
func (r *DeadLetterRepository) List(ctx context.Context, filter repository.DeadLetterFilter) ([]domain.DeadLetterEvent, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   int = 1
	)

	if filter.Topic != nil {
		conditions = append(conditions, fmt.Sprintf("topic = $%d", argIndex))
		args = append(args, *filter.Topic)
		argIndex++
	}

	if filter.ErrorClass != nil {
		conditions = append(conditions, fmt.Sprintf("error_class = $%d", argIndex))
		args = append(args, *filter.ErrorClass)
		argIndex++
	}

	if filter.Replayed != nil {
		if *filter.Replayed {
			conditions = append(conditions, "replayed_at IS NOT NULL")
		} else {
			conditions = append(conditions, "replayed_at IS NULL")
		}
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Use count(*) OVER() for total count in a single query.
	query := fmt.Sprintf(`
		SELECT event_id, topic, kafka_partition, kafka_offset, entity_id, event_type, payload, failure_reason, error_class, attempt_count, last_attempt_at, replayed_at, created_at,
			   count(*) OVER() AS total_count
		FROM dead_letter_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list dead letter events: %w", err)
	}
	defer rows.Close()

	var totalCount int
	events := make([]domain.DeadLetterEvent, 0)

	for rows.Next() {
		var (
			e          domain.DeadLetterEvent
			errorClass string
		)

		if err := rows.Scan(
			&e.EventID,
			&e.Topic,
			&e.Partition,
			&e.Offset,
			&e.EntityID,
			&e.EventType,
			&e.Payload,
			&e.FailureReason,
			&errorClass,
			&e.AttemptCount,
			&e.LastAttemptAt,
			&e.ReplayedAt,
			&e.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan dead letter event row: %w", err)
		}

		e.ErrorClass = domain.ErrorClass(errorClass)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate dead letter event rows: %w", err)
	}

	return events, totalCount, nil
}

// Count returns the number of dead-letter events awaiting replay.
func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	query := `SELECT count(*) FROM dead_letter_events WHERE replayed_at IS NULL`

	var count int64
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dead letter events: %w", err)
	}

	return count, nil
}

// MarkReplayed stamps the replay time on a dead-letter event.
func (r *DeadLetterRepository) MarkReplayed(ctx context.Context, eventID string, at time.Time) error {
	query := `
		UPDATE dead_letter_events
		SET replayed_at = $1
		WHERE event_id = $2`

	ct, err := r.pool.Exec(ctx, query, at, eventID)
	if err != nil {
		return fmt.Errorf("mark dead letter event replayed: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("dead letter event", eventID)
	}

	return nil
}
