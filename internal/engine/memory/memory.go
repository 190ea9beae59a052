// Package memory implements engine.Engine entirely in process. It backs
// service-level tests and local development without an Elasticsearch
// cluster, and enforces the same external-versioning and tombstone rules
// as the real engine.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/engine"
)

const defaultScanSize = 100

// index is one physical index: live documents plus the version watermark
// per document ID. A version without a document is a delete tombstone.
type index struct {
	docs     map[string]*domain.SearchDocument
	versions map[string]int64
}

func newIndex() *index {
	return &index{
		docs:     make(map[string]*domain.SearchDocument),
		versions: make(map[string]int64),
	}
}

// Engine is an in-memory search engine with one read alias over any
// number of physical indexes.
type Engine struct {
	mu      sync.RWMutex
	alias   string
	indexes map[string]*index
	bound   string
}

// New creates an empty engine whose writes and reads go through alias.
func New(alias string) *Engine {
	return &Engine{
		alias:   alias,
		indexes: make(map[string]*index),
	}
}

func (e *Engine) boundLocked() (*index, error) {
	if e.bound == "" {
		return nil, fmt.Errorf("alias %s is not bound to an index", e.alias)
	}
	idx, ok := e.indexes[e.bound]
	if !ok {
		return nil, fmt.Errorf("alias %s points at missing index %s", e.alias, e.bound)
	}
	return idx, nil
}

func (e *Engine) named(name string) (*index, error) {
	idx, ok := e.indexes[name]
	if !ok {
		return nil, domain.Permanent("index "+name+" not found", nil)
	}
	return idx, nil
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Upsert stores doc iff doc.DocVersion is newer than the stored version.
func (e *Engine) Upsert(_ context.Context, doc *domain.SearchDocument) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.boundLocked()
	if err != nil {
		return err
	}
	return upsert(idx, doc)
}

// PartialUpdate merges fields into the stored document. The version check
// runs before the presence check so a stale partial against a tombstone
// reports a conflict, not a missing document.
func (e *Engine) PartialUpdate(_ context.Context, docID string, version int64, fields map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.boundLocked()
	if err != nil {
		return err
	}
	return partialUpdate(idx, docID, version, fields)
}

// Delete removes the document and keeps version as a tombstone.
func (e *Engine) Delete(_ context.Context, docID string, version int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.boundLocked()
	if err != nil {
		return err
	}
	return deleteDoc(idx, docID, version)
}

// Bulk applies ops one by one and reports per-item outcomes.
func (e *Engine) Bulk(_ context.Context, ops []engine.WriteOp) ([]engine.BulkItemResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.boundLocked()
	if err != nil {
		return nil, err
	}
	return bulkApply(idx, ops), nil
}

// CurrentVersion returns the stored version watermark for docID, 0 when
// the document was never written.
func (e *Engine) CurrentVersion(_ context.Context, docID string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.boundLocked()
	if err != nil {
		return 0, err
	}
	return idx.versions[docID], nil
}

// Refresh is a no-op; in-memory writes are immediately visible.
func (e *Engine) Refresh(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// Ping always succeeds.
func (e *Engine) Ping(context.Context) error { return nil }

// EnsureIndex bootstraps the first physical index and binds the alias to
// it. Does nothing when the alias is already bound.
func (e *Engine) EnsureIndex(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bound != "" {
		return nil
	}
	name := e.alias + "-000001"
	if _, ok := e.indexes[name]; !ok {
		e.indexes[name] = newIndex()
	}
	e.bound = name
	return nil
}

// CreateIndex creates an empty physical index.
func (e *Engine) CreateIndex(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; ok {
		return domain.Permanent("index "+name+" already exists", nil)
	}
	e.indexes[name] = newIndex()
	return nil
}

// DeleteIndex removes a physical index. The alias is unbound when it
// pointed at the deleted index.
func (e *Engine) DeleteIndex(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.indexes, name)
	if e.bound == name {
		e.bound = ""
	}
	return nil
}

// Count returns the number of live documents in a physical index.
func (e *Engine) Count(_ context.Context, name string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.named(name)
	if err != nil {
		return 0, err
	}
	return int64(len(idx.docs)), nil
}

// RefreshIndex is a no-op beyond checking the index exists.
func (e *Engine) RefreshIndex(_ context.Context, name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, err := e.named(name)
	return err
}

// ScanIndex pages through a physical index in document ID order.
func (e *Engine) ScanIndex(_ context.Context, name, afterID string, updatedSince time.Time, size int) ([]*domain.SearchDocument, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.named(name)
	if err != nil {
		return nil, "", err
	}
	if size <= 0 {
		size = defaultScanSize
	}

	ids := make([]string, 0, len(idx.docs))
	for id, doc := range idx.docs {
		if id <= afterID && afterID != "" {
			continue
		}
		if !updatedSince.IsZero() && doc.UpdatedAt.Before(updatedSince) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > size {
		ids = ids[:size]
	}

	page := make([]*domain.SearchDocument, len(ids))
	for i, id := range ids {
		page[i] = copyDoc(idx.docs[id])
	}

	cursor := ""
	if len(page) == size && size > 0 {
		cursor = ids[len(ids)-1]
	}
	return page, cursor, nil
}

// BulkTo applies ops against a named physical index.
func (e *Engine) BulkTo(_ context.Context, name string, ops []engine.WriteOp) ([]engine.BulkItemResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.named(name)
	if err != nil {
		return nil, err
	}
	return bulkApply(idx, ops), nil
}

// VersionIn returns the version watermark for docID in a named index.
func (e *Engine) VersionIn(_ context.Context, name, docID string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.named(name)
	if err != nil {
		return 0, err
	}
	return idx.versions[docID], nil
}

// DeleteFrom tombstones docID in a named index.
func (e *Engine) DeleteFrom(_ context.Context, name, docID string, version int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.named(name)
	if err != nil {
		return err
	}
	return deleteDoc(idx, docID, version)
}

// Resolve returns the physical index behind the alias.
func (e *Engine) Resolve(context.Context) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.bound == "" {
		return "", fmt.Errorf("alias %s is not bound to an index", e.alias)
	}
	return e.bound, nil
}

// BindAlias points the alias at name.
func (e *Engine) BindAlias(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; !ok {
		return domain.Permanent("index "+name+" not found", nil)
	}
	e.bound = name
	return nil
}

// SwapAlias repoints the alias from one physical index to another in one
// step; concurrent Resolve calls see either from or to, never nothing.
func (e *Engine) SwapAlias(_ context.Context, from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bound != from {
		return fmt.Errorf("alias %s is bound to %q, not %q", e.alias, e.bound, from)
	}
	if _, ok := e.indexes[to]; !ok {
		return domain.Permanent("index "+to+" not found", nil)
	}
	e.bound = to
	return nil
}

// ---------------------------------------------------------------------------
// Write semantics
// ---------------------------------------------------------------------------

func upsert(idx *index, doc *domain.SearchDocument) error {
	if doc.DocVersion <= idx.versions[doc.ID] {
		return domain.ErrVersionConflict
	}
	idx.docs[doc.ID] = copyDoc(doc)
	idx.versions[doc.ID] = doc.DocVersion
	return nil
}

func partialUpdate(idx *index, docID string, version int64, fields map[string]any) error {
	if version <= idx.versions[docID] {
		return domain.ErrVersionConflict
	}
	doc, ok := idx.docs[docID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	merged, err := mergeFields(doc, fields, version)
	if err != nil {
		return err
	}
	idx.docs[docID] = merged
	idx.versions[docID] = version
	return nil
}

// deleteDoc applies a tombstone. Re-deleting at the same version is a
// no-op so retried deletes stay idempotent; only a strictly newer stored
// version rejects the delete.
func deleteDoc(idx *index, docID string, version int64) error {
	stored := idx.versions[docID]
	if stored > version {
		return domain.ErrVersionConflict
	}
	delete(idx.docs, docID)
	if version > stored {
		idx.versions[docID] = version
	}
	return nil
}

func bulkApply(idx *index, ops []engine.WriteOp) []engine.BulkItemResult {
	results := make([]engine.BulkItemResult, len(ops))
	for i, op := range ops {
		results[i] = engine.BulkItemResult{DocID: op.DocID}
		switch op.Kind {
		case engine.OpUpsert:
			results[i].Err = upsert(idx, op.Doc)
		case engine.OpPartial:
			results[i].Err = partialUpdate(idx, op.DocID, op.Version, op.Fields)
		case engine.OpDelete:
			results[i].Err = deleteDoc(idx, op.DocID, op.Version)
		default:
			results[i].Err = domain.Permanent("unknown op kind "+string(op.Kind), nil)
		}
	}
	return results
}

// mergeFields overlays fields on the stored document via a JSON round
// trip, so field names match the document's wire names.
func mergeFields(doc *domain.SearchDocument, fields map[string]any, version int64) (*domain.SearchDocument, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, domain.Permanent("marshal stored document", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, domain.Permanent("decode stored document", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	raw, err = json.Marshal(m)
	if err != nil {
		return nil, domain.Permanent("merge partial update", err)
	}
	var merged domain.SearchDocument
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, domain.Permanent("decode merged document", err)
	}
	merged.DocVersion = version
	return &merged, nil
}

func copyDoc(d *domain.SearchDocument) *domain.SearchDocument {
	c := *d
	c.CategoryPath = append([]string(nil), d.CategoryPath...)
	c.Tags = append([]string(nil), d.Tags...)
	return &c
}

// Document returns a copy of the live document behind the alias, for
// tests and local inspection.
func (e *Engine) Document(docID string) (*domain.SearchDocument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.boundLocked()
	if err != nil {
		return nil, false
	}
	doc, ok := idx.docs[docID]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

// DocumentIn returns a copy of a document from a named physical index.
func (e *Engine) DocumentIn(name, docID string) (*domain.SearchDocument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.indexes[name]
	if !ok {
		return nil, false
	}
	doc, ok := idx.docs[docID]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}
