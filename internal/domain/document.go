package domain

import (
	"time"
)

// SearchDocument is a product document in the search index. One document
// exists per entity (or per variant when VariantID is set); DocVersion is
// the entity version of the last applied change and drives the optimistic
// concurrency check on every write.
type SearchDocument struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	VariantID    string    `json:"variant_id,omitempty"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	BrandID      string    `json:"brand_id"`
	BrandName    string    `json:"brand_name"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name"`
	CategoryPath []string  `json:"category_path"`
	BasePrice    int64     `json:"base_price"`
	SalePrice    int64     `json:"sale_price"`
	Currency     string    `json:"currency"`
	InStock      bool      `json:"in_stock"`
	Quantity     int       `json:"quantity"`
	Rating       float64   `json:"rating"`
	ReviewCount  int       `json:"review_count"`
	Tags         []string  `json:"tags"`
	ImageURL     string    `json:"image_url"`
	Status       string    `json:"status"`
	DocVersion   int64     `json:"doc_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocumentID derives the deterministic document identifier for an entity.
// Variant documents get a composite id so the same entity can hold several
// sellable variants without colliding.
func DocumentID(entityID, variantID string) string {
	if variantID == "" {
		return entityID
	}
	return entityID + ":" + variantID
}
