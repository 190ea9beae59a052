package domain

import (
	"time"
)

// DeadLetterEvent is a change event that reached a terminal failure: either
// permanently invalid or transiently failing past the retry budget. The raw
// envelope is kept verbatim so the event can be replayed to its source topic
// after the underlying problem is fixed.
type DeadLetterEvent struct {
	EventID       string     `json:"event_id"`
	Topic         string     `json:"topic"`
	Partition     int        `json:"partition"`
	Offset        int64      `json:"offset"`
	EntityID      string     `json:"entity_id"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	FailureReason string     `json:"failure_reason"`
	ErrorClass    ErrorClass `json:"error_class"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	ReplayedAt    *time.Time `json:"replayed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
