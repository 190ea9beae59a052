package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/repository"
	apperrors "github.com/utafrali/searchsync/pkg/errors"
	pkgkafka "github.com/utafrali/searchsync/pkg/kafka"
)

// ReplayPublisher publishes a dead-lettered envelope back to its source
// topic. Satisfied by pkg/kafka.Producer.
type ReplayPublisher interface {
	Publish(ctx context.Context, topic, key string, event *pkgkafka.Event) error
}

// DeadLetterService records terminally failed events and replays them on
// operator request.
type DeadLetterService struct {
	repo     repository.DeadLetterRepository
	producer ReplayPublisher
	logger   *slog.Logger
}

// NewDeadLetterService creates a new dead-letter service.
func NewDeadLetterService(repo repository.DeadLetterRepository, producer ReplayPublisher, logger *slog.Logger) *DeadLetterService {
	return &DeadLetterService{
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

// Record persists a terminally failed event. Recording the same event id
// again bumps its attempt count instead of duplicating the row.
func (s *DeadLetterService) Record(ctx context.Context, event *domain.DeadLetterEvent) error {
	now := time.Now().UTC()
	if event.AttemptCount <= 0 {
		event.AttemptCount = 1
	}
	if event.LastAttemptAt.IsZero() {
		event.LastAttemptAt = now
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	if err := s.repo.Record(ctx, event); err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}

	deadLettersTotal.WithLabelValues(string(event.ErrorClass)).Inc()
	s.logger.WarnContext(ctx, "event dead-lettered",
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("entity_id", event.EntityID),
		slog.String("topic", event.Topic),
		slog.String("error_class", string(event.ErrorClass)),
		slog.String("reason", event.FailureReason),
		slog.Int("attempts", event.AttemptCount),
	)

	return nil
}

// List returns dead-letter events matching the filter, newest first, with
// the total count.
func (s *DeadLetterService) List(ctx context.Context, filter repository.DeadLetterFilter) ([]domain.DeadLetterEvent, int, error) {
	return s.repo.List(ctx, filter)
}

// Count returns the number of dead-letter events awaiting replay.
func (s *DeadLetterService) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// Replay republishes the stored envelope to the topic it originally came
// from, keyed by entity id so it lands on the same partition as any newer
// events for that entity, and marks the row replayed. The pipeline then
// consumes it exactly like a fresh event.
func (s *DeadLetterService) Replay(ctx context.Context, eventID string) error {
	stored, err := s.repo.GetByEventID(ctx, eventID)
	if err != nil {
		return err
	}

	if stored.ReplayedAt != nil {
		return apperrors.Conflict(fmt.Sprintf("dead letter event %s was already replayed", eventID))
	}

	envelope, err := pkgkafka.UnmarshalEvent(stored.Payload)
	if err != nil {
		// The event was dead-lettered for unparseable bytes; replaying them
		// verbatim would only dead-letter it again.
		return apperrors.InvalidInput(fmt.Sprintf("stored payload of %s is not a valid envelope; republish from the source instead", eventID))
	}

	if err := s.producer.Publish(ctx, stored.Topic, stored.EntityID, envelope); err != nil {
		return fmt.Errorf("replay publish: %w", err)
	}

	// A failure here leaves the row unreplayed; retrying republishes the
	// event once more and the idempotency guard absorbs the duplicate.
	if err := s.repo.MarkReplayed(ctx, eventID, time.Now().UTC()); err != nil {
		return err
	}

	replaysTotal.Inc()
	s.logger.InfoContext(ctx, "dead letter event replayed",
		slog.String("event_id", eventID),
		slog.String("topic", stored.Topic),
		slog.String("entity_id", stored.EntityID),
	)

	return nil
}
