package elasticsearch_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/engine"
	esengine "github.com/utafrali/searchsync/internal/engine/elasticsearch"
)

// testLogger returns a discard logger suitable for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine creates an Elasticsearch engine for integration tests.
// It skips the test if ELASTICSEARCH_URL is not set.
func newTestEngine(t *testing.T) *esengine.Engine {
	t.Helper()

	esURL := os.Getenv("ELASTICSEARCH_URL")
	if esURL == "" {
		t.Skip("ELASTICSEARCH_URL not set — skipping Elasticsearch integration tests")
	}

	// Use a unique test alias per test run to avoid data conflicts.
	alias := fmt.Sprintf("test_searchsync_products_%d", time.Now().UnixNano())

	eng, err := esengine.New(esURL, alias, testLogger())
	require.NoError(t, err, "failed to create Elasticsearch engine")
	require.NoError(t, eng.EnsureIndex(context.Background()))

	// Cleanup: delete whatever physical index the alias ends up on.
	t.Cleanup(func() {
		ctx := context.Background()
		if name, rErr := eng.Resolve(ctx); rErr == nil {
			_ = eng.DeleteIndex(ctx, name)
		}
	})

	return eng
}

func newTestDocument(id string, version int64) *domain.SearchDocument {
	now := time.Now().UTC()
	return &domain.SearchDocument{
		ID:           id,
		EntityID:     id,
		Name:         "Kablosuz Kulaklık",
		Slug:         "kablosuz-kulaklik-" + id,
		Description:  "Aktif gürültü engelleyen kablosuz kulaklık",
		CategoryID:   "cat-1",
		CategoryName: "Elektronik",
		BrandID:      "brand-1",
		BrandName:    "Acme",
		BasePrice:    149900,
		Currency:     "TRY",
		InStock:      true,
		Quantity:     10,
		Status:       "published",
		Tags:         []string{"test"},
		DocVersion:   version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// findDoc refreshes the alias and scans for one document by ID.
func findDoc(t *testing.T, eng *esengine.Engine, docID string) *domain.SearchDocument {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, eng.Refresh(ctx))

	name, err := eng.Resolve(ctx)
	require.NoError(t, err)

	afterID := ""
	for {
		page, cursor, err := eng.ScanIndex(ctx, name, afterID, time.Time{}, 50)
		require.NoError(t, err)
		for _, d := range page {
			if d.ID == docID {
				return d
			}
		}
		if cursor == "" {
			return nil
		}
		afterID = cursor
	}
}

func TestES_Ping(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := eng.Ping(ctx)
	assert.NoError(t, err)
}

func TestES_EnsureIndexIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Resolve(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.EnsureIndex(ctx))
	again, err := eng.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestES_UpsertAndCurrentVersion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 1)))

	v, err := eng.CurrentVersion(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	updated := newTestDocument("prod-1", 2)
	updated.Name = "Kablosuz Kulaklık Pro"
	require.NoError(t, eng.Upsert(ctx, updated))

	v, err = eng.CurrentVersion(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	got := findDoc(t, eng, "prod-1")
	require.NotNil(t, got)
	assert.Equal(t, "Kablosuz Kulaklık Pro", got.Name)
}

func TestES_StaleUpsertRejected(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 3)))

	err := eng.Upsert(ctx, newTestDocument("prod-1", 2))
	assert.True(t, domain.IsVersionConflict(err), "older version must be rejected, got %v", err)

	err = eng.Upsert(ctx, newTestDocument("prod-1", 3))
	assert.True(t, domain.IsVersionConflict(err), "equal version must be rejected, got %v", err)
}

func TestES_PartialUpdateMergesFields(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 1)))

	err := eng.PartialUpdate(ctx, "prod-1", 2, map[string]any{
		"base_price": int64(129900),
		"sale_price": int64(99900),
	})
	require.NoError(t, err)

	got := findDoc(t, eng, "prod-1")
	require.NotNil(t, got)
	assert.Equal(t, int64(129900), got.BasePrice)
	assert.Equal(t, int64(99900), got.SalePrice)
	assert.Equal(t, "Kablosuz Kulaklık", got.Name, "untouched fields must survive the merge")
	assert.Equal(t, int64(2), got.DocVersion)
}

func TestES_PartialUpdateMissingDocument(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.PartialUpdate(ctx, "prod-404", 1, map[string]any{"in_stock": false})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestES_PartialUpdateStaleRejected(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 5)))

	err := eng.PartialUpdate(ctx, "prod-1", 3, map[string]any{"in_stock": false})
	assert.True(t, domain.IsVersionConflict(err), "got %v", err)
}

func TestES_DeleteTombstoneBlocksResurrection(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Delete arrives before the create it outranks.
	require.NoError(t, eng.Delete(ctx, "prod-1", 5))

	err := eng.Upsert(ctx, newTestDocument("prod-1", 3))
	assert.True(t, domain.IsVersionConflict(err), "tombstone must reject the older create, got %v", err)

	v, err := eng.CurrentVersion(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestES_DeleteIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 1)))
	require.NoError(t, eng.Delete(ctx, "prod-1", 2))
	assert.NoError(t, eng.Delete(ctx, "prod-1", 2))
}

func TestES_BulkMixedOutcomes(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 5)))

	ops := []engine.WriteOp{
		{Kind: engine.OpUpsert, DocID: "prod-2", Version: 1, Doc: newTestDocument("prod-2", 1)},
		{Kind: engine.OpPartial, DocID: "prod-404", Version: 1, Fields: map[string]any{"in_stock": false}},
		{Kind: engine.OpUpsert, DocID: "prod-1", Version: 2, Doc: newTestDocument("prod-1", 2)},
		{Kind: engine.OpDelete, DocID: "prod-2", Version: 2},
	}

	results, err := eng.Bulk(ctx, ops)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrDocumentNotFound)
	assert.True(t, domain.IsVersionConflict(results[2].Err), "got %v", results[2].Err)
	assert.NoError(t, results[3].Err)
}

func TestES_BulkChainsPartialsOnSameDocument(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 1)))

	ops := []engine.WriteOp{
		{Kind: engine.OpPartial, DocID: "prod-1", Version: 2, Fields: map[string]any{"base_price": int64(99900)}},
		{Kind: engine.OpPartial, DocID: "prod-1", Version: 3, Fields: map[string]any{"in_stock": false, "quantity": 0}},
	}

	results, err := eng.Bulk(ctx, ops)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)

	got := findDoc(t, eng, "prod-1")
	require.NotNil(t, got)
	assert.Equal(t, int64(99900), got.BasePrice, "first partial must survive the second")
	assert.False(t, got.InStock)
	assert.Equal(t, int64(3), got.DocVersion)
}

func TestES_ScanIndexPages(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var ops []engine.WriteOp
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("prod-%d", i)
		ops = append(ops, engine.WriteOp{Kind: engine.OpUpsert, DocID: id, Version: 1, Doc: newTestDocument(id, 1)})
	}
	_, err := eng.Bulk(ctx, ops)
	require.NoError(t, err)
	require.NoError(t, eng.Refresh(ctx))

	name, err := eng.Resolve(ctx)
	require.NoError(t, err)

	var seen []string
	afterID := ""
	for {
		page, cursor, err := eng.ScanIndex(ctx, name, afterID, time.Time{}, 2)
		require.NoError(t, err)
		for _, d := range page {
			seen = append(seen, d.ID)
		}
		if cursor == "" {
			break
		}
		afterID = cursor
	}

	assert.Equal(t, []string{"prod-1", "prod-2", "prod-3", "prod-4", "prod-5"}, seen)
}

func TestES_ScanIndexUpdatedSince(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)
	for i, offset := range []time.Duration{0, time.Hour, 2 * time.Hour} {
		d := newTestDocument(fmt.Sprintf("prod-%d", i+1), 1)
		d.UpdatedAt = base.Add(offset)
		require.NoError(t, eng.Upsert(ctx, d))
	}
	require.NoError(t, eng.Refresh(ctx))

	name, err := eng.Resolve(ctx)
	require.NoError(t, err)

	page, _, err := eng.ScanIndex(ctx, name, "", base.Add(time.Hour), 10)
	require.NoError(t, err)

	ids := make([]string, len(page))
	for i, d := range page {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"prod-2", "prod-3"}, ids, "cutoff is inclusive")
}

func TestES_CountAfterRefresh(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-1", 1)))
	require.NoError(t, eng.Upsert(ctx, newTestDocument("prod-2", 1)))
	require.NoError(t, eng.Delete(ctx, "prod-2", 2))

	name, err := eng.Resolve(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.RefreshIndex(ctx, name))

	n, err := eng.Count(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestES_BulkToAndVersionIn(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	source, err := eng.Resolve(ctx)
	require.NoError(t, err)
	target := source + "_copy"
	require.NoError(t, eng.CreateIndex(ctx, target))
	t.Cleanup(func() { _ = eng.DeleteIndex(context.Background(), target) })

	ops := []engine.WriteOp{
		{Kind: engine.OpUpsert, DocID: "prod-1", Version: 7, Doc: newTestDocument("prod-1", 7)},
	}
	results, err := eng.BulkTo(ctx, target, ops)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	v, err := eng.VersionIn(ctx, target, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	// The live alias never saw the write.
	v, err = eng.CurrentVersion(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	err = eng.DeleteFrom(ctx, target, "prod-1", 5)
	assert.True(t, domain.IsVersionConflict(err), "got %v", err)
	require.NoError(t, eng.DeleteFrom(ctx, target, "prod-1", 8))
}

func TestES_SwapAliasRepointsReads(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	source, err := eng.Resolve(ctx)
	require.NoError(t, err)
	target := source + "_next"
	require.NoError(t, eng.CreateIndex(ctx, target))
	t.Cleanup(func() { _ = eng.DeleteIndex(context.Background(), source) })

	require.NoError(t, eng.SwapAlias(ctx, source, target))

	name, err := eng.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, name)
}

func TestES_DefaultAliasName(t *testing.T) {
	assert.Equal(t, "ecommerce_products", esengine.DefaultAliasName)
}
