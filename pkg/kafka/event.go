package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the schema version stamped into data_version on newly
// produced events. Consumers accept any 1.x.y payload; a major bump is a
// breaking contract change.
const EnvelopeVersion = "1.0.0"

// Event is the change-event envelope shared by every publishing domain
// (catalog, pricing, inventory, reviews). The entity payload rides in Data;
// its shape depends on Type.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	DataVersion   string          `json:"data_version"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates an envelope with a generated ID, the current schema
// version, and the current timestamp.
func NewEvent(eventType, source string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Source:      source,
		DataVersion: EnvelopeVersion,
		Timestamp:   time.Now().UTC(),
		Data:        dataBytes,
	}, nil
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalData deserializes the event data payload into the given target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}
