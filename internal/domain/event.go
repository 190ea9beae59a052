package domain

import (
	"time"
)

// EventType identifies the change-event payload shape. The set is closed:
// unknown types are rejected at parse time and dead-lettered.
type EventType string

const (
	EventProductCreated EventType = "catalog.product_created"
	EventProductUpdated EventType = "catalog.product_updated"
	EventProductDeleted EventType = "catalog.product_deleted"
	EventPriceChanged   EventType = "pricing.price_changed"
	EventStockChanged   EventType = "inventory.stock_changed"
	EventRatingChanged  EventType = "reviews.rating_changed"
)

// KnownEventTypes returns the list of supported event types.
func KnownEventTypes() []EventType {
	return []EventType{
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
		EventPriceChanged,
		EventStockChanged,
		EventRatingChanged,
	}
}

// IsKnownEventType checks whether the given type is a supported event type.
func IsKnownEventType(t EventType) bool {
	for _, known := range KnownEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ProductPayload is the full entity snapshot carried by product_created and
// product_updated events.
type ProductPayload struct {
	ID           string    `json:"id"`
	VariantID    string    `json:"variant_id,omitempty"`
	Version      int64     `json:"version"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug,omitempty"`
	Description  string    `json:"description,omitempty"`
	BrandID      string    `json:"brand_id,omitempty"`
	BrandName    string    `json:"brand_name,omitempty"`
	CategoryID   string    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	CategoryPath []string  `json:"category_path,omitempty"`
	BasePrice    int64     `json:"base_price"`
	SalePrice    int64     `json:"sale_price,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	InStock      bool      `json:"in_stock"`
	Quantity     int       `json:"quantity"`
	Rating       float64   `json:"rating,omitempty"`
	ReviewCount  int       `json:"review_count,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// DeletePayload is carried by product_deleted events.
type DeletePayload struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id,omitempty"`
	Version   int64  `json:"version"`
}

// PricePayload is the partial update carried by price_changed events.
// It only touches pricing fields on the indexed document.
type PricePayload struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id,omitempty"`
	Version   int64  `json:"version"`
	BasePrice int64  `json:"base_price"`
	SalePrice int64  `json:"sale_price,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// StockPayload is the partial update carried by stock_changed events.
type StockPayload struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id,omitempty"`
	Version   int64  `json:"version"`
	InStock   bool   `json:"in_stock"`
	Quantity  int    `json:"quantity"`
}

// RatingPayload is the partial update carried by rating_changed events.
type RatingPayload struct {
	ID          string  `json:"id"`
	VariantID   string  `json:"variant_id,omitempty"`
	Version     int64   `json:"version"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

// ChangeEvent is a validated, typed change event ready for the indexing
// pipeline. Exactly one of the payload pointers matching Type is set;
// product_deleted carries no payload beyond the common fields.
//
// Version is the entity-level change counter shared by all producing
// domains for a given entity. Events may arrive out of order; Version is
// what makes stale updates detectable.
type ChangeEvent struct {
	EventID       string
	Type          EventType
	Source        string
	CorrelationID string
	OccurredAt    time.Time

	EntityID  string
	VariantID string
	Version   int64

	Product *ProductPayload
	Price   *PricePayload
	Stock   *StockPayload
	Rating  *RatingPayload
}

// DocID returns the identifier of the search document this event targets.
func (e *ChangeEvent) DocID() string {
	return DocumentID(e.EntityID, e.VariantID)
}

// IsDelete reports whether the event removes the document.
func (e *ChangeEvent) IsDelete() bool {
	return e.Type == EventProductDeleted
}
