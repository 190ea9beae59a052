package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Document ID Tests
// ============================================================================

func TestDocumentID_EntityOnly(t *testing.T) {
	assert.Equal(t, "prod-123", DocumentID("prod-123", ""))
}

func TestDocumentID_WithVariant(t *testing.T) {
	assert.Equal(t, "prod-123:var-7", DocumentID("prod-123", "var-7"))
}

func TestChangeEvent_DocID_MatchesDocumentID(t *testing.T) {
	ev := &ChangeEvent{EntityID: "prod-9", VariantID: "red-xl"}
	assert.Equal(t, DocumentID("prod-9", "red-xl"), ev.DocID())
}

func TestChangeEvent_IsDelete(t *testing.T) {
	del := &ChangeEvent{Type: EventProductDeleted}
	upd := &ChangeEvent{Type: EventProductUpdated}
	assert.True(t, del.IsDelete())
	assert.False(t, upd.IsDelete())
}

// ============================================================================
// Event Type Tests
// ============================================================================

func TestKnownEventTypes_ContainsAllTypes(t *testing.T) {
	expected := []EventType{
		EventProductCreated, EventProductUpdated, EventProductDeleted,
		EventPriceChanged, EventStockChanged, EventRatingChanged,
	}
	assert.ElementsMatch(t, expected, KnownEventTypes())
}

func TestIsKnownEventType_KnownTypes(t *testing.T) {
	for _, et := range KnownEventTypes() {
		assert.True(t, IsKnownEventType(et), "expected %q to be known", et)
	}
}

func TestIsKnownEventType_UnknownType(t *testing.T) {
	assert.False(t, IsKnownEventType("catalog.product_archived"))
	assert.False(t, IsKnownEventType(""))
	assert.False(t, IsKnownEventType("CATALOG.PRODUCT_CREATED")) // case-sensitive
}

// ============================================================================
// Error Classification Tests
// ============================================================================

func TestPermanent_WrapsCause(t *testing.T) {
	cause := errors.New("name is required")
	err := Permanent("invalid payload", cause)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "invalid payload")
}

func TestPermanent_WithoutCause(t *testing.T) {
	err := Permanent("unknown event type", nil)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestIsPermanent_PlainError(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("connection refused")))
	assert.False(t, IsPermanent(nil))
}

func TestIsPermanent_WrappedDeep(t *testing.T) {
	err := fmt.Errorf("submit op: %w", Permanent("bad document", nil))
	assert.True(t, IsPermanent(err))
}

func TestIsVersionConflict_Sentinel(t *testing.T) {
	assert.True(t, IsVersionConflict(ErrVersionConflict))
	assert.True(t, IsVersionConflict(fmt.Errorf("upsert doc: %w", ErrVersionConflict)))
	assert.False(t, IsVersionConflict(errors.New("timeout")))
}

func TestClassify_Conflict(t *testing.T) {
	assert.Equal(t, ErrorClassConflict, Classify(ErrVersionConflict))
	assert.Equal(t, ErrorClassConflict, Classify(fmt.Errorf("bulk item: %w", ErrVersionConflict)))
}

func TestClassify_Permanent(t *testing.T) {
	assert.Equal(t, ErrorClassPermanent, Classify(Permanent("malformed envelope", nil)))
}

func TestClassify_Transient(t *testing.T) {
	assert.Equal(t, ErrorClassTransient, Classify(errors.New("dial tcp: i/o timeout")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(ErrDocumentNotFound)) // create may still be in flight
	assert.False(t, IsTransient(ErrVersionConflict))
	assert.False(t, IsTransient(Permanent("bad payload", nil)))
	assert.False(t, IsTransient(nil))
}

// ============================================================================
// Reindex State Machine Tests
// ============================================================================

func TestReindexStates_ContainsAllStates(t *testing.T) {
	expected := []ReindexJobState{
		ReindexStateCreated, ReindexStateCopying, ReindexStateDeltaSync,
		ReindexStateVerified, ReindexStateSwitched, ReindexStateRetiring,
		ReindexStateDone, ReindexStateFailed, ReindexStateAbandoned,
	}
	assert.ElementsMatch(t, expected, ReindexStates())
}

func TestReindexState_Terminal(t *testing.T) {
	assert.True(t, ReindexStateDone.Terminal())
	assert.True(t, ReindexStateFailed.Terminal())
	assert.True(t, ReindexStateAbandoned.Terminal())
	assert.False(t, ReindexStateCreated.Terminal())
	assert.False(t, ReindexStateCopying.Terminal())
	assert.False(t, ReindexStateSwitched.Terminal())
}

func TestCanTransition_HappyPath(t *testing.T) {
	assert.True(t, ReindexStateCreated.CanTransition(ReindexStateCopying))
	assert.True(t, ReindexStateCopying.CanTransition(ReindexStateDeltaSync))
	assert.True(t, ReindexStateDeltaSync.CanTransition(ReindexStateVerified))
	assert.True(t, ReindexStateVerified.CanTransition(ReindexStateSwitched))
	assert.True(t, ReindexStateSwitched.CanTransition(ReindexStateRetiring))
	assert.True(t, ReindexStateRetiring.CanTransition(ReindexStateDone))
}

func TestCanTransition_NoSkippingStages(t *testing.T) {
	assert.False(t, ReindexStateCreated.CanTransition(ReindexStateDeltaSync))
	assert.False(t, ReindexStateCopying.CanTransition(ReindexStateSwitched))
	assert.False(t, ReindexStateCreated.CanTransition(ReindexStateDone))
}

func TestCanTransition_NoGoingBack(t *testing.T) {
	assert.False(t, ReindexStateDeltaSync.CanTransition(ReindexStateCopying))
	assert.False(t, ReindexStateSwitched.CanTransition(ReindexStateVerified))
}

func TestCanTransition_FailedFromAnyActiveState(t *testing.T) {
	for _, s := range ReindexStates() {
		if s.Terminal() {
			continue
		}
		assert.True(t, s.CanTransition(ReindexStateFailed), "expected %q -> failed", s)
		assert.True(t, s.CanTransition(ReindexStateAbandoned), "expected %q -> abandoned", s)
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []ReindexJobState{ReindexStateDone, ReindexStateFailed, ReindexStateAbandoned} {
		for _, next := range ReindexStates() {
			assert.False(t, terminal.CanTransition(next), "expected %q -> %q to be rejected", terminal, next)
		}
	}
}

func TestCanTransition_SameState(t *testing.T) {
	assert.False(t, ReindexStateCopying.CanTransition(ReindexStateCopying))
}

func TestReindexJob_Open(t *testing.T) {
	assert.True(t, (&ReindexJob{State: ReindexStateCopying}).Open())
	assert.True(t, (&ReindexJob{State: ReindexStateCreated}).Open())
	assert.True(t, (&ReindexJob{State: ReindexStateFailed}).Open()) // blocks until resumed or abandoned
	assert.False(t, (&ReindexJob{State: ReindexStateDone}).Open())
	assert.False(t, (&ReindexJob{State: ReindexStateAbandoned}).Open())
}

func TestReindexJob_Fail_RecordsPhase(t *testing.T) {
	job := &ReindexJob{State: ReindexStateCopying}
	job.Fail(errors.New("scan source: connection refused"))

	assert.Equal(t, ReindexStateFailed, job.State)
	assert.Equal(t, ReindexStateCopying, job.FailedFrom)
	assert.Equal(t, "scan source: connection refused", job.Error)
}

func TestReindexJob_Resume_ReentersFailedPhase(t *testing.T) {
	job := &ReindexJob{State: ReindexStateDeltaSync}
	job.Fail(errors.New("bulk to target: timeout"))

	assert.NoError(t, job.Resume())
	assert.Equal(t, ReindexStateDeltaSync, job.State)
	assert.Empty(t, job.FailedFrom)
	assert.Empty(t, job.Error)
}

func TestReindexJob_Resume_OnlyFromFailed(t *testing.T) {
	assert.Error(t, (&ReindexJob{State: ReindexStateCopying}).Resume())
	assert.Error(t, (&ReindexJob{State: ReindexStateDone}).Resume())
	assert.Error(t, (&ReindexJob{State: ReindexStateAbandoned}).Resume())
}

func TestReindexJob_Resume_NoRecordedPhase(t *testing.T) {
	job := &ReindexJob{State: ReindexStateFailed}
	assert.Error(t, job.Resume())
	assert.Equal(t, ReindexStateFailed, job.State)
}

func TestReindexJob_Abandon(t *testing.T) {
	job := &ReindexJob{State: ReindexStateCopying}
	job.Fail(errors.New("scan source: connection refused"))

	assert.NoError(t, job.Abandon())
	assert.Equal(t, ReindexStateAbandoned, job.State)
	// Forensics survive the abandon.
	assert.Equal(t, ReindexStateCopying, job.FailedFrom)
	assert.NotEmpty(t, job.Error)
}

func TestReindexJob_Abandon_Closed(t *testing.T) {
	assert.Error(t, (&ReindexJob{State: ReindexStateDone}).Abandon())
	assert.Error(t, (&ReindexJob{State: ReindexStateAbandoned}).Abandon())
}
