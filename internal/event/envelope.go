// Package event parses the change-event envelope shared by all producing
// domains and fans envelope payloads out into typed change events.
//
// Parsing is the pipeline's trust boundary: everything that fails here is
// permanent and goes straight to the dead-letter store, because a
// malformed envelope will be exactly as malformed on every retry.
package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/pkg/validator"
)

// SupportedDataMajor is the envelope contract major version this consumer
// understands. Minor and patch drift is accepted (additive evolution).
const SupportedDataMajor = "1"

// Envelope is the wire shape every producing domain publishes. Data is
// decoded per event type after the envelope itself validates.
type Envelope struct {
	ID            string          `json:"id" validate:"required,uuid4"`
	Type          string          `json:"type" validate:"required"`
	Source        string          `json:"source" validate:"required"`
	DataVersion   string          `json:"data_version" validate:"required,semver"`
	Timestamp     time.Time       `json:"timestamp" validate:"required"`
	CorrelationID string          `json:"correlation_id,omitempty" validate:"omitempty,uuid4"`
	Data          json.RawMessage `json:"data" validate:"required"`
}

// Parse validates raw against the envelope contract and returns the typed
// change event. Every returned error is permanent.
func Parse(raw []byte) (*domain.ChangeEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.Permanent("malformed envelope", err)
	}
	if err := validator.Validate(&env); err != nil {
		return nil, domain.Permanent("invalid envelope", err)
	}
	if major, _, _ := strings.Cut(env.DataVersion, "."); major != SupportedDataMajor {
		return nil, domain.Permanent("unsupported data version "+env.DataVersion, nil)
	}

	typ := domain.EventType(env.Type)
	if !domain.IsKnownEventType(typ) {
		return nil, domain.Permanent("unknown event type "+env.Type, nil)
	}

	ev := &domain.ChangeEvent{
		EventID:       env.ID,
		Type:          typ,
		Source:        env.Source,
		CorrelationID: env.CorrelationID,
		OccurredAt:    env.Timestamp,
	}
	if err := decodePayload(ev, env.Data); err != nil {
		return nil, err
	}

	if ev.EntityID == "" {
		return nil, domain.Permanent("payload entity id is required", nil)
	}
	if ev.Version < 1 {
		return nil, domain.Permanent("payload version must be positive", nil)
	}
	return ev, nil
}

// decodePayload fills the payload variant matching the event type and
// lifts the shared identity fields onto the event.
func decodePayload(ev *domain.ChangeEvent, data json.RawMessage) error {
	switch ev.Type {
	case domain.EventProductCreated, domain.EventProductUpdated:
		var p domain.ProductPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.Permanent("malformed product payload", err)
		}
		ev.Product = &p
		ev.EntityID, ev.VariantID, ev.Version = p.ID, p.VariantID, p.Version

	case domain.EventProductDeleted:
		var p domain.DeletePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.Permanent("malformed delete payload", err)
		}
		ev.EntityID, ev.VariantID, ev.Version = p.ID, p.VariantID, p.Version

	case domain.EventPriceChanged:
		var p domain.PricePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.Permanent("malformed price payload", err)
		}
		ev.Price = &p
		ev.EntityID, ev.VariantID, ev.Version = p.ID, p.VariantID, p.Version

	case domain.EventStockChanged:
		var p domain.StockPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.Permanent("malformed stock payload", err)
		}
		ev.Stock = &p
		ev.EntityID, ev.VariantID, ev.Version = p.ID, p.VariantID, p.Version

	case domain.EventRatingChanged:
		var p domain.RatingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.Permanent("malformed rating payload", err)
		}
		ev.Rating = &p
		ev.EntityID, ev.VariantID, ev.Version = p.ID, p.VariantID, p.Version

	default:
		return domain.Permanent("unknown event type "+string(ev.Type), nil)
	}
	return nil
}
