// Package engine defines the search index abstraction the sync pipeline
// writes to. Implementations exist for Elasticsearch and an in-memory
// engine used in tests and local development.
//
// All writes carry an entity version and the engine enforces external
// versioning: a write whose version is not strictly greater than the
// stored one fails with domain.ErrVersionConflict. Deletes record the
// version as a tombstone so a late out-of-order update cannot resurrect
// a removed document.
package engine

import (
	"context"
	"time"

	"github.com/utafrali/searchsync/internal/domain"
)

// OpKind discriminates the write operations carried by a WriteOp.
type OpKind string

const (
	OpUpsert  OpKind = "upsert"
	OpPartial OpKind = "partial"
	OpDelete  OpKind = "delete"
)

// WriteOp is a single versioned write against the index.
//
// Doc is set for OpUpsert, Fields for OpPartial. Delete carries only the
// document ID and the version to tombstone.
type WriteOp struct {
	Kind    OpKind
	DocID   string
	Version int64
	Doc     *domain.SearchDocument
	Fields  map[string]any
}

// BulkItemResult reports the outcome of one WriteOp inside a bulk request.
// Err is nil when the op was applied; otherwise it is a version conflict,
// a permanent rejection, or a transient engine error.
type BulkItemResult struct {
	DocID string
	Err   error
}

// Writer applies versioned document writes to the live alias.
type Writer interface {
	// Upsert stores or replaces doc under doc.ID using doc.DocVersion as
	// the external version.
	Upsert(ctx context.Context, doc *domain.SearchDocument) error

	// PartialUpdate merges fields into the stored document and bumps its
	// version to version. A missing document fails with
	// domain.ErrDocumentNotFound; the caller retries, since the create
	// may still be in flight on another domain stream.
	PartialUpdate(ctx context.Context, docID string, version int64, fields map[string]any) error

	// Delete removes the document, leaving version behind as a tombstone.
	// Deleting a document that does not exist is not an error.
	Delete(ctx context.Context, docID string, version int64) error

	// Bulk applies ops in a single round trip. The returned slice has one
	// entry per op, in the same order. A non-nil error means the whole
	// request failed and no per-item results are available.
	Bulk(ctx context.Context, ops []WriteOp) ([]BulkItemResult, error)

	// CurrentVersion returns the stored version for docID, or 0 when the
	// document is absent.
	CurrentVersion(ctx context.Context, docID string) (int64, error)

	// Refresh makes all previous writes visible to readers.
	Refresh(ctx context.Context) error
}

// Admin manages physical indexes and the read alias. The reindex
// orchestrator drives migrations entirely through this interface so the
// live Writer path never needs to know which physical index it hits.
type Admin interface {
	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// EnsureIndex creates the initial physical index and binds the alias
	// to it when the alias is not yet bound. Safe to call on every start.
	EnsureIndex(ctx context.Context) error

	// CreateIndex creates an empty physical index with the full mapping.
	CreateIndex(ctx context.Context, name string) error

	// DeleteIndex removes a physical index. Deleting an absent index is
	// not an error.
	DeleteIndex(ctx context.Context, name string) error

	// Count returns the number of live documents in a physical index.
	Count(ctx context.Context, name string) (int64, error)

	// RefreshIndex makes writes to a named physical index visible to
	// readers. Used before count and sample verification.
	RefreshIndex(ctx context.Context, name string) error

	// ScanIndex pages through a physical index in document ID order.
	// Pass an empty afterID to start from the beginning; the returned
	// cursor is the ID of the last document in the page, empty when the
	// scan is complete. A non-zero updatedSince restricts the scan to
	// documents updated at or after that instant (delta sync).
	ScanIndex(ctx context.Context, name, afterID string, updatedSince time.Time, size int) ([]*domain.SearchDocument, string, error)

	// BulkTo applies ops against a named physical index instead of the
	// live alias. Same contract as Writer.Bulk.
	BulkTo(ctx context.Context, name string, ops []WriteOp) ([]BulkItemResult, error)

	// VersionIn returns the stored version for docID in a named physical
	// index, or 0 when absent.
	VersionIn(ctx context.Context, name, docID string) (int64, error)

	// DeleteFrom removes docID from a named physical index with a version
	// tombstone. Deleting an absent document is not an error; a stored
	// version newer than version fails with domain.ErrVersionConflict.
	DeleteFrom(ctx context.Context, name, docID string, version int64) error

	// Resolve returns the physical index the alias currently points at.
	Resolve(ctx context.Context) (string, error)

	// BindAlias points the alias at name, creating the binding if the
	// alias does not exist yet.
	BindAlias(ctx context.Context, name string) error

	// SwapAlias atomically repoints the alias from one physical index to
	// another. Readers never observe a moment without a bound alias.
	SwapAlias(ctx context.Context, from, to string) error
}

// Engine is the full search engine surface: live writes plus index
// administration.
type Engine interface {
	Writer
	Admin
}
