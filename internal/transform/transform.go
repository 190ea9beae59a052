// Package transform turns validated change events into index write
// operations. Full product snapshots become upserts, narrow domain events
// (price, stock, rating) become partial updates so an out-of-date field
// from another domain is never overwritten, and deletes become versioned
// tombstones.
package transform

import (
	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/engine"
	"github.com/utafrali/searchsync/pkg/slug"
)

// Build maps a change event to the write operation that applies it.
// A payload the index can never accept fails with a permanent error so the
// pipeline dead-letters it instead of retrying.
func Build(ev *domain.ChangeEvent) (engine.WriteOp, error) {
	switch ev.Type {
	case domain.EventProductCreated, domain.EventProductUpdated:
		return buildUpsert(ev)
	case domain.EventProductDeleted:
		return engine.WriteOp{Kind: engine.OpDelete, DocID: ev.DocID(), Version: ev.Version}, nil
	case domain.EventPriceChanged:
		if ev.Price != nil && ev.Price.BasePrice < 0 {
			return engine.WriteOp{}, domain.Permanent("base price must not be negative", nil)
		}
		return buildPartial(ev, priceFields(ev))
	case domain.EventStockChanged:
		return buildPartial(ev, stockFields(ev))
	case domain.EventRatingChanged:
		return buildPartial(ev, ratingFields(ev))
	default:
		return engine.WriteOp{}, domain.Permanent("no transform for event type "+string(ev.Type), nil)
	}
}

func buildUpsert(ev *domain.ChangeEvent) (engine.WriteOp, error) {
	p := ev.Product
	if p == nil {
		return engine.WriteOp{}, domain.Permanent("product payload missing", nil)
	}
	if p.Name == "" {
		return engine.WriteOp{}, domain.Permanent("product name is required", nil)
	}
	if p.BasePrice < 0 {
		return engine.WriteOp{}, domain.Permanent("base price must not be negative", nil)
	}

	doc := &domain.SearchDocument{
		ID:           ev.DocID(),
		EntityID:     ev.EntityID,
		VariantID:    ev.VariantID,
		Name:         p.Name,
		Slug:         p.Slug,
		Description:  p.Description,
		BrandID:      p.BrandID,
		BrandName:    p.BrandName,
		CategoryID:   p.CategoryID,
		CategoryName: p.CategoryName,
		CategoryPath: p.CategoryPath,
		BasePrice:    p.BasePrice,
		SalePrice:    p.SalePrice,
		Currency:     p.Currency,
		InStock:      p.InStock,
		Quantity:     p.Quantity,
		Rating:       p.Rating,
		ReviewCount:  p.ReviewCount,
		Tags:         p.Tags,
		ImageURL:     p.ImageURL,
		Status:       p.Status,
		DocVersion:   ev.Version,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    ev.OccurredAt,
	}
	if doc.Slug == "" {
		doc.Slug = slug.Generate(p.Name)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = ev.OccurredAt
	}

	return engine.WriteOp{Kind: engine.OpUpsert, DocID: doc.ID, Version: ev.Version, Doc: doc}, nil
}

func buildPartial(ev *domain.ChangeEvent, fields map[string]any) (engine.WriteOp, error) {
	if fields == nil {
		return engine.WriteOp{}, domain.Permanent("payload missing for "+string(ev.Type), nil)
	}
	fields["doc_version"] = ev.Version
	fields["updated_at"] = ev.OccurredAt
	return engine.WriteOp{Kind: engine.OpPartial, DocID: ev.DocID(), Version: ev.Version, Fields: fields}, nil
}

func priceFields(ev *domain.ChangeEvent) map[string]any {
	p := ev.Price
	if p == nil {
		return nil
	}
	fields := map[string]any{
		"base_price": p.BasePrice,
		"sale_price": p.SalePrice,
	}
	if p.Currency != "" {
		fields["currency"] = p.Currency
	}
	return fields
}

func stockFields(ev *domain.ChangeEvent) map[string]any {
	s := ev.Stock
	if s == nil {
		return nil
	}
	return map[string]any{
		"in_stock": s.InStock,
		"quantity": s.Quantity,
	}
}

func ratingFields(ev *domain.ChangeEvent) map[string]any {
	r := ev.Rating
	if r == nil {
		return nil
	}
	return map[string]any{
		"rating":       r.Rating,
		"review_count": r.ReviewCount,
	}
}
