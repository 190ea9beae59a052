package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/searchsync/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      1 * time.Second, // Short for tests.
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

var errEngineDown = errors.New("engine unreachable")

// stubWriter fails or succeeds every call depending on err.
type stubWriter struct {
	err     error
	version int64
	bulkRes []BulkItemResult
	calls   atomic.Int32
}

func (s *stubWriter) Upsert(ctx context.Context, doc *domain.SearchDocument) error {
	s.calls.Add(1)
	return s.err
}

func (s *stubWriter) PartialUpdate(ctx context.Context, docID string, version int64, fields map[string]any) error {
	s.calls.Add(1)
	return s.err
}

func (s *stubWriter) Delete(ctx context.Context, docID string, version int64) error {
	s.calls.Add(1)
	return s.err
}

func (s *stubWriter) Bulk(ctx context.Context, ops []WriteOp) ([]BulkItemResult, error) {
	s.calls.Add(1)
	return s.bulkRes, s.err
}

func (s *stubWriter) CurrentVersion(ctx context.Context, docID string) (int64, error) {
	s.calls.Add(1)
	return s.version, s.err
}

func (s *stubWriter) Refresh(ctx context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestBreakerWriter_ClosedState_Success(t *testing.T) {
	stub := &stubWriter{}
	bw := NewBreakerWriter(stub, testBreakerConfig("test-closed"), testLogger())

	err := bw.Upsert(context.Background(), &domain.SearchDocument{ID: "p1", DocVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, bw.State())
}

func TestBreakerWriter_TripsOnTransientFailures(t *testing.T) {
	stub := &stubWriter{err: errEngineDown}
	bw := NewBreakerWriter(stub, testBreakerConfig("test-trip"), testLogger())

	// Produce enough failures to trip the breaker.
	for i := 0; i < 3; i++ {
		err := bw.Delete(context.Background(), "p1", int64(i+1))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, bw.State())

	before := stub.calls.Load()

	// Subsequent writes should be rejected without reaching the engine.
	for i := 0; i < 5; i++ {
		err := bw.Upsert(context.Background(), &domain.SearchDocument{ID: "p1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, before, stub.calls.Load())
}

func TestBreakerWriter_ConflictsDoNotTrip(t *testing.T) {
	stub := &stubWriter{err: domain.ErrVersionConflict}
	bw := NewBreakerWriter(stub, testBreakerConfig("test-conflict"), testLogger())

	// Version conflicts are healthy writes losing a race, not engine failures.
	for i := 0; i < 5; i++ {
		err := bw.Upsert(context.Background(), &domain.SearchDocument{ID: "p1", DocVersion: 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
	}
	assert.Equal(t, gobreaker.StateClosed, bw.State())
}

func TestBreakerWriter_PermanentRejectionsDoNotTrip(t *testing.T) {
	stub := &stubWriter{err: domain.Permanent("mapping rejected document", nil)}
	bw := NewBreakerWriter(stub, testBreakerConfig("test-permanent"), testLogger())

	for i := 0; i < 5; i++ {
		err := bw.Upsert(context.Background(), &domain.SearchDocument{ID: "p1"})
		require.Error(t, err)
		assert.True(t, domain.IsPermanent(err))
	}
	assert.Equal(t, gobreaker.StateClosed, bw.State())
}

func TestBreakerWriter_HalfOpenToClosedRecovery(t *testing.T) {
	stub := &stubWriter{err: errEngineDown}

	cfg := testBreakerConfig("test-recovery")
	cfg.Timeout = 100 * time.Millisecond // Very short for test.
	bw := NewBreakerWriter(stub, cfg, testLogger())

	// Trip the breaker.
	for i := 0; i < 3; i++ {
		_ = bw.Refresh(context.Background())
	}
	assert.Equal(t, gobreaker.StateOpen, bw.State())

	// Wait for the timeout to elapse so the breaker transitions to half-open.
	time.Sleep(150 * time.Millisecond)

	// Now make the engine healthy again.
	stub.err = nil

	err := bw.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, bw.State())
}

func TestBreakerWriter_BulkPassesThroughResults(t *testing.T) {
	stub := &stubWriter{
		bulkRes: []BulkItemResult{
			{DocID: "p1"},
			{DocID: "p2", Err: domain.ErrVersionConflict},
		},
	}
	bw := NewBreakerWriter(stub, testBreakerConfig("test-bulk"), testLogger())

	results, err := bw.Bulk(context.Background(), []WriteOp{
		{Kind: OpUpsert, DocID: "p1", Version: 2},
		{Kind: OpDelete, DocID: "p2", Version: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrVersionConflict)

	// Per-item failures inside a successful bulk must not count against the breaker.
	assert.Equal(t, gobreaker.StateClosed, bw.State())
}

func TestBreakerWriter_CurrentVersionPassesThrough(t *testing.T) {
	stub := &stubWriter{version: 42}
	bw := NewBreakerWriter(stub, testBreakerConfig("test-version"), testLogger())

	v, err := bw.CurrentVersion(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestBreakerWriter_DefaultConfig(t *testing.T) {
	cfg := DefaultBreakerConfig("test-defaults")
	assert.Equal(t, "test-defaults", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.5, cfg.FailureRatio)
	assert.Equal(t, uint32(5), cfg.MinRequests)
}
