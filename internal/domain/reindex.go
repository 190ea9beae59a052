package domain

import (
	"fmt"
	"time"
)

// ReindexJobState is the lifecycle state of a reindex job. Jobs move
// strictly forward through the happy path; failed and abandoned are
// terminal exits reachable from any non-terminal state.
type ReindexJobState string

const (
	ReindexStateCreated   ReindexJobState = "created"
	ReindexStateCopying   ReindexJobState = "copying"
	ReindexStateDeltaSync ReindexJobState = "delta_sync"
	ReindexStateVerified  ReindexJobState = "verified"
	ReindexStateSwitched  ReindexJobState = "switched"
	ReindexStateRetiring  ReindexJobState = "retiring"
	ReindexStateDone      ReindexJobState = "done"
	ReindexStateFailed    ReindexJobState = "failed"
	ReindexStateAbandoned ReindexJobState = "abandoned"
)

// ReindexStates returns all job states in lifecycle order.
func ReindexStates() []ReindexJobState {
	return []ReindexJobState{
		ReindexStateCreated,
		ReindexStateCopying,
		ReindexStateDeltaSync,
		ReindexStateVerified,
		ReindexStateSwitched,
		ReindexStateRetiring,
		ReindexStateDone,
		ReindexStateFailed,
		ReindexStateAbandoned,
	}
}

// Terminal reports whether the state ends the job.
func (s ReindexJobState) Terminal() bool {
	switch s {
	case ReindexStateDone, ReindexStateFailed, ReindexStateAbandoned:
		return true
	}
	return false
}

// next returns the happy-path successor of each state.
var nextReindexState = map[ReindexJobState]ReindexJobState{
	ReindexStateCreated:   ReindexStateCopying,
	ReindexStateCopying:   ReindexStateDeltaSync,
	ReindexStateDeltaSync: ReindexStateVerified,
	ReindexStateVerified:  ReindexStateSwitched,
	ReindexStateSwitched:  ReindexStateRetiring,
	ReindexStateRetiring:  ReindexStateDone,
}

// CanTransition reports whether moving from s to next is a legal step:
// either the single forward step on the happy path, or an exit to failed
// or abandoned from a non-terminal state.
func (s ReindexJobState) CanTransition(next ReindexJobState) bool {
	if s.Terminal() {
		return false
	}
	if next == ReindexStateFailed || next == ReindexStateAbandoned {
		return true
	}
	return nextReindexState[s] == next
}

// ReindexJob tracks one alias rebuild from a source index into a freshly
// built target index. Checkpoint holds the last copied document id so an
// interrupted copy can resume without starting over; CopyStartedAt is
// recorded when the copy begins and anchors the delta-sync window.
// FailedFrom keeps the phase a failed job halted in so Resume knows where
// to re-enter.
type ReindexJob struct {
	ID            string          `json:"id"`
	Alias         string          `json:"alias"`
	SourceIndex   string          `json:"source_index"`
	TargetIndex   string          `json:"target_index"`
	State         ReindexJobState `json:"state"`
	FailedFrom    ReindexJobState `json:"failed_from,omitempty"`
	Checkpoint    string          `json:"checkpoint,omitempty"`
	CopyStartedAt time.Time       `json:"copy_started_at,omitempty"`
	DocsCopied    int64           `json:"docs_copied"`
	DocsSynced    int64           `json:"docs_synced"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Open reports whether the job still claims its alias. Failed jobs stay
// open: the target index they built is still on disk, so the next rebuild
// cannot start until an operator resumes or abandons them.
func (j *ReindexJob) Open() bool {
	return j.State != ReindexStateDone && j.State != ReindexStateAbandoned
}

// Fail halts the job, recording the phase it was in and the cause.
func (j *ReindexJob) Fail(cause error) {
	j.FailedFrom = j.State
	j.State = ReindexStateFailed
	j.Error = cause.Error()
}

// Resume moves a failed job back into the phase recorded by Fail. It is
// the one sanctioned way out of the failed state; CanTransition still
// rejects failed as a source on purpose, so the runner cannot leave it
// by stepping forward.
func (j *ReindexJob) Resume() error {
	if j.State != ReindexStateFailed {
		return fmt.Errorf("job in state %s cannot resume", j.State)
	}
	if j.FailedFrom == "" || j.FailedFrom.Terminal() {
		return fmt.Errorf("job has no resumable phase recorded")
	}
	j.State = j.FailedFrom
	j.FailedFrom = ""
	j.Error = ""
	return nil
}

// Abandon closes the job. Any open state can be abandoned, failed
// included; the error and failed-from fields are kept as a record of why.
func (j *ReindexJob) Abandon() error {
	if !j.Open() {
		return fmt.Errorf("job in state %s cannot be abandoned", j.State)
	}
	j.State = ReindexStateAbandoned
	return nil
}
