// Package elasticsearch implements engine.Engine against a real cluster.
//
// Every document write carries the entity version as an external version,
// so the cluster itself enforces the staleness check: a write whose
// version is not newer than the stored one comes back 409 regardless of
// which replica or writer it raced. Deletes use external_gte, keeping
// redelivered deletes idempotent while still leaving a version tombstone.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/engine"
)

const defaultScanSize = 100

// Engine is an Elasticsearch-backed implementation of engine.Engine.
// Live writes go through the alias; admin operations address physical
// indexes by name.
type Engine struct {
	client *elasticsearch.Client
	alias  string
	logger *slog.Logger
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// esGetResponse is the structure used to decode document GET and mget
// entries.
type esGetResponse struct {
	ID      string          `json:"_id"`
	Version int64           `json:"_version"`
	Found   bool            `json:"found"`
	Source  json.RawMessage `json:"_source"`
}

// esBulkItem is one item outcome inside a bulk response, keyed by the
// action that produced it.
type esBulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// esBulkResponse is the structure used to decode Elasticsearch bulk
// responses.
type esBulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]esBulkItem `json:"items"`
}

// esCountResponse is the structure used to decode _count responses.
type esCountResponse struct {
	Count int64 `json:"count"`
}

// esScanResponse is the structure used to decode scan page responses.
type esScanResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                `json:"_id"`
			Source domain.SearchDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// esMgetResponse is the structure used to decode mget responses.
type esMgetResponse struct {
	Docs []esGetResponse `json:"docs"`
}

// New creates an Elasticsearch engine connected to the given URL. If
// alias is empty, DefaultAliasName is used. The initial index is not
// created here; call EnsureIndex during startup.
func New(esURL, alias string, logger *slog.Logger) (*Engine, error) {
	if alias == "" {
		alias = DefaultAliasName
	}

	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}

	return &Engine{
		client: client,
		alias:  alias,
		logger: logger,
	}, nil
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Live writes
// ---------------------------------------------------------------------------

// Upsert stores or replaces the document under its external version.
func (e *Engine) Upsert(ctx context.Context, doc *domain.SearchDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return domain.Permanent("elasticsearch index: marshal document", err)
	}
	return e.indexDoc(ctx, e.alias, doc.ID, doc.DocVersion, data)
}

// PartialUpdate merges fields into the stored document and writes it back
// under the event's version. The read-merge-write race is harmless: if a
// newer write lands in between, the version check rejects ours as stale.
func (e *Engine) PartialUpdate(ctx context.Context, docID string, version int64, fields map[string]any) error {
	cur, err := e.getDoc(ctx, e.alias, docID)
	if err != nil {
		return err
	}
	if cur == nil {
		return domain.ErrDocumentNotFound
	}
	if cur.Version >= version {
		return fmt.Errorf("elasticsearch partial update: %w: stored version %d", domain.ErrVersionConflict, cur.Version)
	}

	merged, err := mergeFields(cur.Source, fields, version)
	if err != nil {
		return err
	}
	return e.indexDoc(ctx, e.alias, docID, version, merged)
}

// Delete tombstones the document at version.
func (e *Engine) Delete(ctx context.Context, docID string, version int64) error {
	return e.deleteDoc(ctx, e.alias, docID, version)
}

// Bulk applies ops against the live alias in a single round trip.
func (e *Engine) Bulk(ctx context.Context, ops []engine.WriteOp) ([]engine.BulkItemResult, error) {
	return e.bulk(ctx, e.alias, ops)
}

// CurrentVersion returns the stored version for docID, 0 when absent.
func (e *Engine) CurrentVersion(ctx context.Context, docID string) (int64, error) {
	doc, err := e.getDoc(ctx, e.alias, docID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}
	return doc.Version, nil
}

// Refresh makes all previous writes through the alias visible to readers.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.RefreshIndex(ctx, e.alias)
}

// ---------------------------------------------------------------------------
// Index administration
// ---------------------------------------------------------------------------

// EnsureIndex bootstraps the first physical index and binds the alias on
// a fresh cluster. Safe to run on every start.
func (e *Engine) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.ExistsAlias(
		[]string{e.alias},
		e.client.Indices.ExistsAlias.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch check alias: %w", err)
	}
	_ = res.Body.Close()

	if res.StatusCode == 200 {
		e.logger.Info("search alias already bound", "alias", e.alias)
		return nil
	}

	name := e.alias + "-000001"
	exists, err := e.indexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.CreateIndex(ctx, name); err != nil {
			return err
		}
	}
	if err := e.BindAlias(ctx, name); err != nil {
		return err
	}

	e.logger.Info("search alias bound", "alias", e.alias, "index", name)
	return nil
}

// CreateIndex creates an empty physical index with the full mapping.
func (e *Engine) CreateIndex(ctx context.Context, name string) error {
	res, err := e.client.Indices.Create(
		name,
		e.client.Indices.Create.WithBody(strings.NewReader(buildIndexMapping())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return classifyStatus("elasticsearch create index", res)
	}

	e.logger.Info("elasticsearch index created", "index", name)
	return nil
}

// DeleteIndex removes a physical index. A 404 response is treated as
// success (index already absent).
func (e *Engine) DeleteIndex(ctx context.Context, name string) error {
	res, err := e.client.Indices.Delete(
		[]string{name},
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != 404 {
		return classifyStatus("elasticsearch delete index", res)
	}

	e.logger.Info("elasticsearch index deleted", "index", name)
	return nil
}

// Count returns the number of live documents in a physical index.
func (e *Engine) Count(ctx context.Context, name string) (int64, error) {
	res, err := e.client.Count(
		e.client.Count.WithIndex(name),
		e.client.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch count: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return 0, classifyStatus("elasticsearch count", res)
	}

	var countResp esCountResponse
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("elasticsearch count: decode response: %w", err)
	}
	return countResp.Count, nil
}

// RefreshIndex makes writes to a named index visible to readers.
func (e *Engine) RefreshIndex(ctx context.Context, name string) error {
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithIndex(name),
		e.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch refresh: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return classifyStatus("elasticsearch refresh", res)
	}
	return nil
}

// ScanIndex pages through a physical index with search_after on the id
// field, so deep scans avoid the from+size window limit.
func (e *Engine) ScanIndex(ctx context.Context, name, afterID string, updatedSince time.Time, size int) ([]*domain.SearchDocument, string, error) {
	if size <= 0 {
		size = defaultScanSize
	}

	query := map[string]any{
		"size": size,
		"sort": []any{map[string]any{"id": "asc"}},
	}
	if updatedSince.IsZero() {
		query["query"] = map[string]any{"match_all": map[string]any{}}
	} else {
		query["query"] = map[string]any{
			"range": map[string]any{
				"updated_at": map[string]any{"gte": updatedSince.UTC().Format(time.RFC3339Nano)},
			},
		}
	}
	if afterID != "" {
		query["search_after"] = []any{afterID}
	}

	data, err := json.Marshal(query)
	if err != nil {
		return nil, "", fmt.Errorf("elasticsearch scan: marshal query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithIndex(name),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, "", fmt.Errorf("elasticsearch scan: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, "", classifyStatus("elasticsearch scan", res)
	}

	var scanResp esScanResponse
	if err := json.NewDecoder(res.Body).Decode(&scanResp); err != nil {
		return nil, "", fmt.Errorf("elasticsearch scan: decode response: %w", err)
	}

	hits := scanResp.Hits.Hits
	docs := make([]*domain.SearchDocument, len(hits))
	for i := range hits {
		docs[i] = &hits[i].Source
	}

	cursor := ""
	if len(hits) == size {
		cursor = hits[len(hits)-1].ID
	}
	return docs, cursor, nil
}

// BulkTo applies ops against a named physical index.
func (e *Engine) BulkTo(ctx context.Context, name string, ops []engine.WriteOp) ([]engine.BulkItemResult, error) {
	return e.bulk(ctx, name, ops)
}

// VersionIn returns the stored version for docID in a named index, 0
// when absent.
func (e *Engine) VersionIn(ctx context.Context, name, docID string) (int64, error) {
	doc, err := e.getDoc(ctx, name, docID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}
	return doc.Version, nil
}

// DeleteFrom tombstones docID in a named physical index.
func (e *Engine) DeleteFrom(ctx context.Context, name, docID string, version int64) error {
	return e.deleteDoc(ctx, name, docID, version)
}

// Resolve returns the physical index the alias currently points at.
func (e *Engine) Resolve(ctx context.Context) (string, error) {
	res, err := e.client.Indices.GetAlias(
		e.client.Indices.GetAlias.WithName(e.alias),
		e.client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("elasticsearch get alias: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == 404 {
		return "", fmt.Errorf("alias %s is not bound to an index", e.alias)
	}
	if res.IsError() {
		return "", classifyStatus("elasticsearch get alias", res)
	}

	var bindings map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&bindings); err != nil {
		return "", fmt.Errorf("elasticsearch get alias: decode response: %w", err)
	}
	if len(bindings) != 1 {
		return "", fmt.Errorf("alias %s is bound to %d indexes, want exactly 1", e.alias, len(bindings))
	}
	for name := range bindings {
		return name, nil
	}
	return "", fmt.Errorf("alias %s is not bound to an index", e.alias)
}

// BindAlias points the alias at a physical index.
func (e *Engine) BindAlias(ctx context.Context, name string) error {
	res, err := e.client.Indices.PutAlias(
		[]string{name},
		e.alias,
		e.client.Indices.PutAlias.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch put alias: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return classifyStatus("elasticsearch put alias", res)
	}
	return nil
}

// SwapAlias moves the alias in a single _aliases call, which the cluster
// applies atomically: readers see the old index or the new one, never
// neither.
func (e *Engine) SwapAlias(ctx context.Context, from, to string) error {
	body := map[string]any{
		"actions": []any{
			map[string]any{"remove": map[string]any{"index": from, "alias": e.alias}},
			map[string]any{"add": map[string]any{"index": to, "alias": e.alias}},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elasticsearch swap alias: marshal request: %w", err)
	}

	res, err := e.client.Indices.UpdateAliases(
		bytes.NewReader(data),
		e.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch swap alias: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return classifyStatus("elasticsearch swap alias", res)
	}

	e.logger.Info("search alias swapped", "alias", e.alias, "from", from, "to", to)
	return nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// indexDoc writes one full document body with an external version.
func (e *Engine) indexDoc(ctx context.Context, target, docID string, version int64, body []byte) error {
	res, err := e.client.Index(
		target,
		bytes.NewReader(body),
		e.client.Index.WithDocumentID(docID),
		e.client.Index.WithVersion(int(version)),
		e.client.Index.WithVersionType("external"),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return classifyStatus("elasticsearch index", res)
	}
	return nil
}

func (e *Engine) deleteDoc(ctx context.Context, target, docID string, version int64) error {
	res, err := e.client.Delete(
		target,
		docID,
		e.client.Delete.WithVersion(int(version)),
		e.client.Delete.WithVersionType("external_gte"),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	// 404 still records the tombstone version; the document was already gone.
	if res.IsError() && res.StatusCode != 404 {
		return classifyStatus("elasticsearch delete", res)
	}
	return nil
}

// getDoc fetches a document with its external version. A missing
// document returns nil without error.
func (e *Engine) getDoc(ctx context.Context, target, docID string) (*esGetResponse, error) {
	res, err := e.client.Get(target, docID, e.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch get: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, classifyStatus("elasticsearch get", res)
	}

	var doc esGetResponse
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("elasticsearch get: decode response: %w", err)
	}
	return &doc, nil
}

// bulk plans op bodies, sends one NDJSON request, and maps per-item
// outcomes back to op positions. Ops that resolve during planning (a
// partial against a missing document, a stale partial) never occupy a
// bulk slot.
func (e *Engine) bulk(ctx context.Context, target string, ops []engine.WriteOp) ([]engine.BulkItemResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	results := make([]engine.BulkItemResult, len(ops))
	for i, op := range ops {
		results[i].DocID = op.DocID
	}

	bodies, err := e.planBulk(ctx, target, ops, results)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	sent := make([]int, 0, len(ops))
	for i, op := range ops {
		if results[i].Err != nil {
			continue
		}
		if op.Kind != engine.OpUpsert && op.Kind != engine.OpPartial && op.Kind != engine.OpDelete {
			results[i].Err = domain.Permanent("unknown op kind "+string(op.Kind), nil)
			continue
		}
		if err := encodeAction(&buf, target, op, bodies[i]); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk: %w", err)
		}
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return results, nil
	}

	res, err := e.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, classifyStatus("elasticsearch bulk", res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return nil, fmt.Errorf("elasticsearch bulk: decode response: %w", err)
	}
	if len(bulkResp.Items) != len(sent) {
		return nil, fmt.Errorf("elasticsearch bulk: %d items in response, sent %d", len(bulkResp.Items), len(sent))
	}

	for k, entry := range bulkResp.Items {
		results[sent[k]].Err = bulkItemError(entry)
	}
	return results, nil
}

// planBulk produces the document body per op. Partial ops merge their
// fields onto the freshest known source: the mget-fetched stored
// document, or the effect of an earlier op on the same document in this
// batch. Same-ID items land on one shard and execute in request order,
// so the chained basis matches what the cluster will hold.
func (e *Engine) planBulk(ctx context.Context, target string, ops []engine.WriteOp, results []engine.BulkItemResult) (map[int][]byte, error) {
	need := make(map[string]bool)
	var ids []string
	for _, op := range ops {
		if op.Kind == engine.OpPartial && !need[op.DocID] {
			need[op.DocID] = true
			ids = append(ids, op.DocID)
		}
	}

	sources := make(map[string]json.RawMessage)
	versions := make(map[string]int64)
	if len(ids) > 0 {
		var err error
		sources, versions, err = e.fetchSources(ctx, target, ids)
		if err != nil {
			return nil, err
		}
	}

	bodies := make(map[int][]byte, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case engine.OpUpsert:
			data, err := json.Marshal(op.Doc)
			if err != nil {
				results[i].Err = domain.Permanent("encode document", err)
				continue
			}
			bodies[i] = data
			if op.Version > versions[op.DocID] {
				sources[op.DocID] = data
				versions[op.DocID] = op.Version
			}

		case engine.OpDelete:
			if op.Version >= versions[op.DocID] {
				delete(sources, op.DocID)
				versions[op.DocID] = op.Version
			}

		case engine.OpPartial:
			if versions[op.DocID] >= op.Version {
				results[i].Err = fmt.Errorf("%w: stored version %d", domain.ErrVersionConflict, versions[op.DocID])
				continue
			}
			src, ok := sources[op.DocID]
			if !ok {
				results[i].Err = domain.ErrDocumentNotFound
				continue
			}
			merged, err := mergeFields(src, op.Fields, op.Version)
			if err != nil {
				results[i].Err = err
				continue
			}
			bodies[i] = merged
			sources[op.DocID] = merged
			versions[op.DocID] = op.Version
		}
	}
	return bodies, nil
}

// fetchSources mget-fetches the stored source and version for ids.
// Missing documents are simply absent from the returned maps.
func (e *Engine) fetchSources(ctx context.Context, target string, ids []string) (map[string]json.RawMessage, map[string]int64, error) {
	docs := make([]map[string]any, len(ids))
	for i, id := range ids {
		docs[i] = map[string]any{"_id": id}
	}
	body, err := json.Marshal(map[string]any{"docs": docs})
	if err != nil {
		return nil, nil, fmt.Errorf("elasticsearch mget: marshal request: %w", err)
	}

	res, err := e.client.Mget(
		bytes.NewReader(body),
		e.client.Mget.WithIndex(target),
		e.client.Mget.WithContext(ctx),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("elasticsearch mget: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, nil, classifyStatus("elasticsearch mget", res)
	}

	var mgetResp esMgetResponse
	if err := json.NewDecoder(res.Body).Decode(&mgetResp); err != nil {
		return nil, nil, fmt.Errorf("elasticsearch mget: decode response: %w", err)
	}

	sources := make(map[string]json.RawMessage, len(ids))
	versions := make(map[string]int64, len(ids))
	for _, doc := range mgetResp.Docs {
		if doc.Found {
			sources[doc.ID] = doc.Source
			versions[doc.ID] = doc.Version
		}
	}
	return sources, versions, nil
}

// encodeAction appends one NDJSON action line (plus the document line for
// index actions) to buf.
func encodeAction(buf *bytes.Buffer, target string, op engine.WriteOp, body []byte) error {
	meta := map[string]any{
		"_index":       target,
		"_id":          op.DocID,
		"version":      op.Version,
		"version_type": "external",
	}

	var action map[string]any
	if op.Kind == engine.OpDelete {
		meta["version_type"] = "external_gte"
		action = map[string]any{"delete": meta}
	} else {
		action = map[string]any{"index": meta}
	}

	if err := json.NewEncoder(buf).Encode(action); err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	if op.Kind != engine.OpDelete {
		buf.Write(body)
		buf.WriteByte('\n')
	}
	return nil
}

// bulkItemError classifies one bulk item outcome.
func bulkItemError(entry map[string]esBulkItem) error {
	for kind, item := range entry {
		switch {
		case item.Status >= 200 && item.Status < 300:
			return nil
		case kind == "delete" && item.Status == 404:
			return nil
		case item.Status == 409:
			return fmt.Errorf("%w: %s — %s", domain.ErrVersionConflict, item.Error.Type, item.Error.Reason)
		case item.Status == 429:
			return fmt.Errorf("bulk item throttled: %s — %s", item.Error.Type, item.Error.Reason)
		case item.Status >= 400 && item.Status < 500:
			return domain.Permanent(item.Error.Type+" — "+item.Error.Reason, nil)
		default:
			return fmt.Errorf("bulk item failed: status %d: %s — %s", item.Status, item.Error.Type, item.Error.Reason)
		}
	}
	return fmt.Errorf("bulk item missing result")
}

// mergeFields overlays fields on the stored source and stamps the new
// version, so the write-back carries a complete document.
func mergeFields(source json.RawMessage, fields map[string]any, version int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(source, &m); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	m["doc_version"] = version

	merged, err := json.Marshal(m)
	if err != nil {
		return nil, domain.Permanent("merge partial update", err)
	}
	return merged, nil
}

func (e *Engine) indexExists(ctx context.Context, name string) (bool, error) {
	res, err := e.client.Indices.Exists(
		[]string{name},
		e.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("elasticsearch check index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	return res.StatusCode == 200, nil
}

// classifyStatus turns an Elasticsearch error response into the
// pipeline's error taxonomy: 409 is a version conflict, other 4xx are
// permanent rejections, 429 and 5xx are transient.
func classifyStatus(op string, res *esapi.Response) error {
	detail := fmt.Sprintf("unexpected status %s", res.Status())
	var errResp esErrorResponse
	if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
		detail = fmt.Sprintf("%s — %s", errResp.Error.Type, errResp.Error.Reason)
	}

	switch {
	case res.StatusCode == 409:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrVersionConflict, detail)
	case res.StatusCode == 429:
		return fmt.Errorf("%s: cluster busy: %s", op, detail)
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return domain.Permanent(op+": "+detail, nil)
	default:
		return fmt.Errorf("%s: %s", op, detail)
	}
}
