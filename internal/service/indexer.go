// Package service wires the sync pipeline together: the indexer drives
// each consumed message to exactly one terminal outcome, the dead-letter
// service parks events no retry can save, and the reindex service rebuilds
// the physical index behind the read alias without downtime.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/utafrali/searchsync/internal/batch"
	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/event"
	"github.com/utafrali/searchsync/internal/guard"
	"github.com/utafrali/searchsync/internal/transform"
	pkgkafka "github.com/utafrali/searchsync/pkg/kafka"
)

// IndexerService turns one consumed change event into one terminal
// outcome: applied, skipped as duplicate, skipped as stale, or
// dead-lettered. Handle is the Kafka consumer handler; returning nil tells
// the consumer the outcome is recorded and the offset may commit.
type IndexerService struct {
	guard       *guard.Guard
	batcher     *batch.Batcher
	deadLetters *DeadLetterService
	throttle    *Throttle
	logger      *slog.Logger
}

// NewIndexerService creates the pipeline service. throttle may be nil when
// no adaptive fetch budget is wanted.
func NewIndexerService(g *guard.Guard, b *batch.Batcher, dl *DeadLetterService, throttle *Throttle, logger *slog.Logger) *IndexerService {
	return &IndexerService{
		guard:       g,
		batcher:     b,
		deadLetters: dl,
		throttle:    throttle,
		logger:      logger,
	}
}

// Handle processes one fetched message through validate, guard, transform
// and batch submit. It blocks until the op reaches its terminal outcome.
func (s *IndexerService) Handle(ctx context.Context, msg kafka.Message) error {
	ctx = pkgkafka.ExtractTraceContext(ctx, msg.Headers)

	ev, err := event.Parse(msg.Value)
	if err != nil {
		// Nothing a retry can fix; park the raw envelope for the operator.
		return s.quarantine(ctx, msg, nil, err, 1)
	}

	dec := s.guard.Check(ctx, ev)
	switch dec.Outcome {
	case guard.SkipDuplicate:
		eventsTotal.WithLabelValues(msg.Topic, outcomeSkippedDuplicate).Inc()
		s.logger.DebugContext(ctx, "duplicate event skipped",
			slog.String("event_id", ev.EventID),
			slog.String("entity_id", ev.EntityID),
		)
		return nil

	case guard.SkipStale:
		s.guard.MarkSkipped(ctx, ev)
		eventsTotal.WithLabelValues(msg.Topic, outcomeSkippedStale).Inc()
		s.logger.DebugContext(ctx, "stale event skipped",
			slog.String("event_id", ev.EventID),
			slog.String("entity_id", ev.EntityID),
			slog.Int64("event_version", ev.Version),
			slog.Int64("latest_version", dec.LatestVersion),
		)
		return nil
	}

	op, err := transform.Build(ev)
	if err != nil {
		return s.quarantine(ctx, msg, ev, err, 1)
	}

	resCh, err := s.batcher.Submit(ctx, op)
	if err != nil {
		// Shutdown or canceled context; the offset stays uncommitted and
		// the message is redelivered.
		return fmt.Errorf("submit write op: %w", err)
	}

	var res batch.Result
	select {
	case res = <-resCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	switch res.Status {
	case batch.StatusApplied:
		s.guard.MarkApplied(ctx, ev)
		if s.throttle != nil {
			s.throttle.OnSuccess()
		}
		eventsTotal.WithLabelValues(msg.Topic, outcomeApplied).Inc()
		s.logger.DebugContext(ctx, "event applied",
			slog.String("event_id", ev.EventID),
			slog.String("entity_id", ev.EntityID),
			slog.Int64("version", ev.Version),
		)
		return nil

	case batch.StatusFailedConflict:
		// The index already holds this version or newer: the event lost
		// a race it was always allowed to lose. Same terminal outcome as
		// a guard stale-skip.
		s.guard.MarkSkipped(ctx, ev)
		eventsTotal.WithLabelValues(msg.Topic, outcomeSkippedStale).Inc()
		s.logger.DebugContext(ctx, "write rejected as stale by engine",
			slog.String("event_id", ev.EventID),
			slog.String("entity_id", ev.EntityID),
			slog.Int64("version", ev.Version),
		)
		return nil

	case batch.StatusFailedTransient:
		if s.throttle != nil {
			s.throttle.OnFailure()
		}
		return s.quarantine(ctx, msg, ev, res.Err, res.Attempts)

	default: // batch.StatusFailedPermanent
		return s.quarantine(ctx, msg, ev, res.Err, res.Attempts)
	}
}

// quarantine records the message as a dead letter. The event is
// deliberately not marked processed in the guard: a later replay of the
// same event id must pass the duplicate check and run the pipeline again.
func (s *IndexerService) quarantine(ctx context.Context, msg kafka.Message, ev *domain.ChangeEvent, cause error, attempts int) error {
	dle := &domain.DeadLetterEvent{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Payload:       msg.Value,
		FailureReason: cause.Error(),
		ErrorClass:    domain.Classify(cause),
		AttemptCount:  attempts,
	}

	if ev != nil {
		dle.EventID = ev.EventID
		dle.EntityID = ev.EntityID
		dle.EventType = string(ev.Type)
	} else {
		dle.EventID, dle.EntityID, dle.EventType = probeEnvelope(msg)
	}

	if err := s.deadLetters.Record(ctx, dle); err != nil {
		return err
	}

	eventsTotal.WithLabelValues(msg.Topic, outcomeDeadLettered).Inc()
	return nil
}

// probeEnvelope best-effort extracts identity fields from an envelope that
// failed validation. When even the event id is unreadable, the message
// position stands in as a stable identity so redelivery of the same bytes
// lands on the same dead-letter row.
func probeEnvelope(msg kafka.Message) (eventID, entityID, eventType string) {
	var probe struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(msg.Value, &probe)

	eventID = probe.ID
	if eventID == "" {
		eventID = fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return eventID, probe.Data.ID, probe.Type
}
