package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/engine"
	"github.com/utafrali/searchsync/internal/repository"
	apperrors "github.com/utafrali/searchsync/pkg/errors"
)

// persistTimeout bounds the final state write of a run that lost its own
// context.
const persistTimeout = 5 * time.Second

// ReindexConfig tunes the reindex orchestrator.
type ReindexConfig struct {
	// PageSize is the number of documents per scan and bulk page during
	// the copy and delta-sync phases.
	PageSize int

	// DeltaSlack widens the delta-sync window: the scan picks up documents
	// updated since the copy start minus this slack, absorbing clock skew
	// between the engine and this process.
	DeltaSlack time.Duration

	// DeltaPasses caps how many delta passes run before verification.
	// Passes stop early once one finds nothing to apply.
	DeltaPasses int

	// VerifySample is the number of documents sampled for the id and
	// version comparison between source and target.
	VerifySample int

	// RetireGrace is the wait between the alias switch and deletion of
	// the old index, letting in-flight reads finish against it. Zero
	// deletes immediately.
	RetireGrace time.Duration
}

// DefaultReindexConfig returns the standard orchestrator tuning.
func DefaultReindexConfig() ReindexConfig {
	return ReindexConfig{
		PageSize:     500,
		DeltaSlack:   2 * time.Minute,
		DeltaPasses:  3,
		VerifySample: 50,
		RetireGrace:  10 * time.Minute,
	}
}

// targetMirror arms and disarms the live delete mirror while a migration
// runs. *engine.MigrationWriter satisfies it.
type targetMirror interface {
	SetTarget(name string)
	ClearTarget()
}

// runHandle lets Abandon stop one running job and wait until its runner
// has persisted and exited.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ReindexService rebuilds the search index behind its alias with zero
// downtime: copy into a fresh index, replay the writes that landed during
// the copy, verify, then atomically swap the alias. One service instance
// manages one alias; at most one job per alias is open at a time.
type ReindexService struct {
	admin  engine.Admin
	jobs   repository.ReindexJobRepository
	mirror targetMirror
	alias  string
	cfg    ReindexConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]*runHandle
}

// NewReindexService creates the orchestrator for one alias. Zero config
// fields fall back to DefaultReindexConfig.
func NewReindexService(admin engine.Admin, jobs repository.ReindexJobRepository, mirror targetMirror, alias string, cfg ReindexConfig, logger *slog.Logger) *ReindexService {
	def := DefaultReindexConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.DeltaSlack <= 0 {
		cfg.DeltaSlack = def.DeltaSlack
	}
	if cfg.DeltaPasses <= 0 {
		cfg.DeltaPasses = def.DeltaPasses
	}
	if cfg.VerifySample <= 0 {
		cfg.VerifySample = def.VerifySample
	}
	if cfg.RetireGrace < 0 {
		cfg.RetireGrace = def.RetireGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ReindexService{
		admin:   admin,
		jobs:    jobs,
		mirror:  mirror,
		alias:   alias,
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*runHandle),
	}
}

// Start admits a new reindex job for the alias and runs it in the
// background. The returned job carries the id the operator polls. The
// partial unique index on open jobs is the real gate against concurrent
// starts; the lookup here only produces a friendlier error.
func (s *ReindexService) Start(ctx context.Context) (*domain.ReindexJob, error) {
	open, err := s.jobs.GetOpenByAlias(ctx, s.alias)
	if err != nil {
		return nil, fmt.Errorf("check open reindex job: %w", err)
	}
	if open != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("reindex already in progress for alias %s (job %s, state %s)", s.alias, open.ID, open.State))
	}

	source, err := s.admin.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve alias: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.ReindexJob{
		ID:          uuid.New().String(),
		Alias:       s.alias,
		SourceIndex: source,
		TargetIndex: nextIndexName(s.alias, source, now),
		State:       domain.ReindexStateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	reindexTransitions.WithLabelValues(string(domain.ReindexStateCreated)).Inc()
	s.logger.InfoContext(ctx, "reindex job started",
		slog.String("job_id", job.ID),
		slog.String("alias", job.Alias),
		slog.String("source_index", job.SourceIndex),
		slog.String("target_index", job.TargetIndex),
	)

	// The runner mutates its own copy; the returned job is a snapshot.
	run := *job
	s.launch(&run)
	return job, nil
}

// Status returns the job by id.
func (s *ReindexService) Status(ctx context.Context, jobID string) (*domain.ReindexJob, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// List returns jobs newest first along with the total count.
func (s *ReindexService) List(ctx context.Context, page, perPage int) ([]domain.ReindexJob, int, error) {
	return s.jobs.List(ctx, page, perPage)
}

// Resume restarts a failed job at the phase it halted in. The copy phase
// re-enters at its persisted checkpoint, so resuming does not start over.
func (s *ReindexService) Resume(ctx context.Context, jobID string) (*domain.ReindexJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != domain.ReindexStateFailed {
		return nil, apperrors.Conflict(fmt.Sprintf("reindex job %s is %s, only failed jobs can be resumed", jobID, job.State))
	}
	if err := job.Resume(); err != nil {
		return nil, apperrors.Conflict(err.Error())
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist resumed job: %w", err)
	}

	reindexTransitions.WithLabelValues(string(job.State)).Inc()
	s.logger.InfoContext(ctx, "reindex job resumed",
		slog.String("job_id", job.ID),
		slog.String("state", string(job.State)),
		slog.String("checkpoint", job.Checkpoint),
	)

	run := *job
	if !s.launch(&run) {
		return nil, apperrors.Conflict(fmt.Sprintf("reindex job %s is already running", jobID))
	}
	return job, nil
}

// Abandon cancels the job and deletes its target index, releasing the
// alias for a fresh start. Refused once the alias serves the target: at
// that point the rebuilt index is live and the job can only roll forward.
func (s *ReindexService) Abandon(ctx context.Context, jobID string) (*domain.ReindexJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Open() {
		return nil, apperrors.Conflict(fmt.Sprintf("reindex job %s already finished as %s", jobID, job.State))
	}

	// Stop the runner before touching the target index so nothing writes
	// to it mid-delete.
	s.mu.Lock()
	h := s.running[job.ID]
	s.mu.Unlock()
	if h != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// The runner persists on its way out and may have moved the job.
		job, err = s.jobs.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !job.Open() {
			return nil, apperrors.Conflict(fmt.Sprintf("reindex job %s already finished as %s", jobID, job.State))
		}
	}

	resolved, err := s.admin.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve alias: %w", err)
	}
	if resolved == job.TargetIndex {
		// Too late to go back. Let the stopped runner finish retiring.
		if job.State != domain.ReindexStateFailed {
			run := *job
			s.launch(&run)
		}
		return nil, apperrors.Conflict(fmt.Sprintf("alias %s already serves %s; the switch cannot be abandoned", job.Alias, job.TargetIndex))
	}

	if s.mirror != nil {
		s.mirror.ClearTarget()
	}
	if err := s.admin.DeleteIndex(ctx, job.TargetIndex); err != nil {
		return nil, fmt.Errorf("delete target index: %w", err)
	}

	if err := job.Abandon(); err != nil {
		return nil, apperrors.Conflict(err.Error())
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist abandoned job: %w", err)
	}

	reindexTransitions.WithLabelValues(string(domain.ReindexStateAbandoned)).Inc()
	s.logger.InfoContext(ctx, "reindex job abandoned",
		slog.String("job_id", job.ID),
		slog.String("target_index", job.TargetIndex),
	)
	return job, nil
}

// Recover relaunches the open job a previous process left behind, if any.
// Failed jobs stay down until an operator resumes them.
func (s *ReindexService) Recover(ctx context.Context) error {
	job, err := s.jobs.GetOpenByAlias(ctx, s.alias)
	if err != nil {
		return fmt.Errorf("find open reindex job: %w", err)
	}
	if job == nil || job.State == domain.ReindexStateFailed {
		return nil
	}

	s.logger.InfoContext(ctx, "recovering interrupted reindex job",
		slog.String("job_id", job.ID),
		slog.String("state", string(job.State)),
		slog.String("checkpoint", job.Checkpoint),
	)
	s.launch(job)
	return nil
}

// Close stops all running jobs and waits for them to persist their
// checkpoints. Jobs stopped here keep their current state and are picked
// up by Recover on the next start.
func (s *ReindexService) Close() {
	s.cancel()
	s.wg.Wait()
}

// launch starts the runner goroutine for job. Returns false when a runner
// for this job id is already active.
func (s *ReindexService) launch(job *domain.ReindexJob) bool {
	s.mu.Lock()
	if _, ok := s.running[job.ID]; ok {
		s.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	s.running[job.ID] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer func() {
			s.mu.Lock()
			delete(s.running, job.ID)
			s.mu.Unlock()
		}()
		defer cancel()
		s.run(runCtx, job)
	}()
	return true
}

// mirrorArmed reports whether live deletes must reach the target in the
// given state: from the moment the target holds copied documents until
// the alias swap makes it the live index.
func mirrorArmed(state domain.ReindexJobState) bool {
	switch state {
	case domain.ReindexStateCopying, domain.ReindexStateDeltaSync, domain.ReindexStateVerified:
		return true
	}
	return false
}

// run drives the job through its remaining states. Each transition is
// persisted before the next phase starts, so a crash never loses more
// than the phase in flight.
func (s *ReindexService) run(ctx context.Context, job *domain.ReindexJob) {
	if s.mirror != nil && mirrorArmed(job.State) {
		s.mirror.SetTarget(job.TargetIndex)
	}

	for !job.State.Terminal() {
		if ctx.Err() != nil {
			s.pause(job)
			return
		}

		var err error
		switch job.State {
		case domain.ReindexStateCreated:
			err = s.buildTarget(ctx, job)
		case domain.ReindexStateCopying:
			err = s.copySource(ctx, job)
		case domain.ReindexStateDeltaSync:
			err = s.syncAndVerify(ctx, job)
		case domain.ReindexStateVerified:
			err = s.cutOver(ctx, job)
		case domain.ReindexStateSwitched:
			err = s.advance(ctx, job, domain.ReindexStateRetiring)
		case domain.ReindexStateRetiring:
			err = s.retireSource(ctx, job)
		default:
			err = fmt.Errorf("job in unexpected state %s", job.State)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Stopped, not broken: keep the state for Recover or Abandon.
			if s.mirror != nil {
				s.mirror.ClearTarget()
			}
			s.pause(job)
			return
		}
		s.fail(job, err)
		return
	}
}

// buildTarget creates the target index. On a resumed job a half-built
// index may survive from the failed attempt; it is dropped and rebuilt
// empty, and the copy counters reset with it.
func (s *ReindexService) buildTarget(ctx context.Context, job *domain.ReindexJob) error {
	if err := s.admin.DeleteIndex(ctx, job.TargetIndex); err != nil {
		return fmt.Errorf("drop stale target index: %w", err)
	}
	if err := s.admin.CreateIndex(ctx, job.TargetIndex); err != nil {
		return fmt.Errorf("create target index: %w", err)
	}

	if s.mirror != nil {
		s.mirror.SetTarget(job.TargetIndex)
	}
	job.Checkpoint = ""
	job.DocsCopied = 0
	job.DocsSynced = 0
	job.CopyStartedAt = time.Now().UTC()
	return s.advance(ctx, job, domain.ReindexStateCopying)
}

// copySource pages through the source index in id order and bulk-writes
// each page into the target. The checkpoint is persisted after every page,
// so a resumed copy continues where it stopped.
func (s *ReindexService) copySource(ctx context.Context, job *domain.ReindexJob) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		docs, cursor, err := s.admin.ScanIndex(ctx, job.SourceIndex, job.Checkpoint, time.Time{}, s.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("scan source index: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		applied, err := s.writePage(ctx, job.TargetIndex, docs)
		if err != nil {
			return err
		}

		job.DocsCopied += applied
		job.Checkpoint = docs[len(docs)-1].ID
		job.UpdatedAt = time.Now().UTC()
		if err := s.jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("persist copy checkpoint: %w", err)
		}

		if cursor == "" {
			break
		}
	}
	return s.advance(ctx, job, domain.ReindexStateDeltaSync)
}

// syncAndVerify replays source documents updated since the copy began,
// then checks the target against the source. Delta passes repeat until
// one finds nothing to apply, shrinking the window the next pass covers.
func (s *ReindexService) syncAndVerify(ctx context.Context, job *domain.ReindexJob) error {
	since := job.CopyStartedAt.Add(-s.cfg.DeltaSlack)
	for pass := 0; pass < s.cfg.DeltaPasses; pass++ {
		passStart := time.Now().UTC()
		synced, err := s.deltaPass(ctx, job, since)
		job.DocsSynced += synced
		if err != nil {
			return err
		}

		job.UpdatedAt = time.Now().UTC()
		if err := s.jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("persist delta progress: %w", err)
		}
		if synced == 0 {
			break
		}
		since = passStart.Add(-s.cfg.DeltaSlack)
	}

	if err := s.verifyTarget(ctx, job); err != nil {
		return fmt.Errorf("verify target index: %w", err)
	}
	return s.advance(ctx, job, domain.ReindexStateVerified)
}

// deltaPass scans one full pass of documents updated at or after since
// and writes them to the target. Returns the number applied.
func (s *ReindexService) deltaPass(ctx context.Context, job *domain.ReindexJob, since time.Time) (int64, error) {
	var synced int64
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		docs, cursor, err := s.admin.ScanIndex(ctx, job.SourceIndex, afterID, since, s.cfg.PageSize)
		if err != nil {
			return synced, fmt.Errorf("scan source delta: %w", err)
		}
		if len(docs) == 0 {
			return synced, nil
		}

		applied, err := s.writePage(ctx, job.TargetIndex, docs)
		if err != nil {
			return synced, err
		}
		synced += applied

		if cursor == "" {
			return synced, nil
		}
		afterID = cursor
	}
}

// writePage bulk-upserts one scanned page into the named index. Version
// conflicts are skipped: a mirrored delete or an earlier pass already put
// something newer there. Any other item failure aborts the job; resume
// re-enters at the persisted checkpoint.
func (s *ReindexService) writePage(ctx context.Context, index string, docs []*domain.SearchDocument) (int64, error) {
	ops := make([]engine.WriteOp, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, engine.WriteOp{
			Kind:    engine.OpUpsert,
			DocID:   doc.ID,
			Version: doc.DocVersion,
			Doc:     doc,
		})
	}

	results, err := s.admin.BulkTo(ctx, index, ops)
	if err != nil {
		return 0, fmt.Errorf("bulk to %s: %w", index, err)
	}

	var applied int64
	for _, res := range results {
		switch {
		case res.Err == nil:
			applied++
		case domain.IsVersionConflict(res.Err):
			// Target already holds a newer version.
		default:
			return applied, fmt.Errorf("copy doc %s: %w", res.DocID, res.Err)
		}
	}
	return applied, nil
}

// verifyTarget refreshes both indices, compares live document counts and
// spot-checks a sample of source documents against the target's versions.
func (s *ReindexService) verifyTarget(ctx context.Context, job *domain.ReindexJob) error {
	if err := s.admin.RefreshIndex(ctx, job.SourceIndex); err != nil {
		return fmt.Errorf("refresh source index: %w", err)
	}
	if err := s.admin.RefreshIndex(ctx, job.TargetIndex); err != nil {
		return fmt.Errorf("refresh target index: %w", err)
	}

	srcCount, err := s.admin.Count(ctx, job.SourceIndex)
	if err != nil {
		return fmt.Errorf("count source index: %w", err)
	}
	tgtCount, err := s.admin.Count(ctx, job.TargetIndex)
	if err != nil {
		return fmt.Errorf("count target index: %w", err)
	}
	if srcCount != tgtCount {
		return fmt.Errorf("document count mismatch: %s has %d, %s has %d", job.SourceIndex, srcCount, job.TargetIndex, tgtCount)
	}

	docs, _, err := s.admin.ScanIndex(ctx, job.SourceIndex, "", time.Time{}, s.cfg.VerifySample)
	if err != nil {
		return fmt.Errorf("sample source index: %w", err)
	}
	for _, doc := range docs {
		got, err := s.admin.VersionIn(ctx, job.TargetIndex, doc.ID)
		if err != nil {
			return fmt.Errorf("version of %s in target: %w", doc.ID, err)
		}
		if got < doc.DocVersion {
			return fmt.Errorf("target behind on %s: source version %d, target version %d", doc.ID, doc.DocVersion, got)
		}
	}
	return nil
}

// cutOver atomically repoints the alias at the target index. A job that
// crashed after the swap but before persisting resumes here; Resolve
// detects the already-moved alias so the swap is not repeated.
func (s *ReindexService) cutOver(ctx context.Context, job *domain.ReindexJob) error {
	resolved, err := s.admin.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve alias: %w", err)
	}
	switch resolved {
	case job.TargetIndex:
		// Swap already happened.
	case job.SourceIndex:
		if err := s.admin.SwapAlias(ctx, job.SourceIndex, job.TargetIndex); err != nil {
			return fmt.Errorf("swap alias: %w", err)
		}
	default:
		return fmt.Errorf("alias %s moved to %s during migration", job.Alias, resolved)
	}

	if s.mirror != nil {
		s.mirror.ClearTarget()
	}
	s.logger.InfoContext(ctx, "alias switched to rebuilt index",
		slog.String("job_id", job.ID),
		slog.String("alias", job.Alias),
		slog.String("index", job.TargetIndex),
	)
	return s.advance(ctx, job, domain.ReindexStateSwitched)
}

// retireSource deletes the old physical index after the grace period that
// lets in-flight reads finish against it.
func (s *ReindexService) retireSource(ctx context.Context, job *domain.ReindexJob) error {
	if s.cfg.RetireGrace > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetireGrace):
		}
	}
	if err := s.admin.DeleteIndex(ctx, job.SourceIndex); err != nil {
		return fmt.Errorf("delete retired index: %w", err)
	}
	return s.advance(ctx, job, domain.ReindexStateDone)
}

// advance moves the job one step forward and persists it.
func (s *ReindexService) advance(ctx context.Context, job *domain.ReindexJob, next domain.ReindexJobState) error {
	if !job.State.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", job.State, next)
	}
	job.State = next
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persist state %s: %w", next, err)
	}

	reindexTransitions.WithLabelValues(string(next)).Inc()
	s.logger.InfoContext(ctx, "reindex job advanced",
		slog.String("job_id", job.ID),
		slog.String("state", string(next)),
		slog.Int64("docs_copied", job.DocsCopied),
		slog.Int64("docs_synced", job.DocsSynced),
	)
	return nil
}

// pause persists progress without touching the state so the job can be
// recovered later. Runs on its own context: the run context is already
// canceled by the time it is called.
func (s *ReindexService) pause(job *domain.ReindexJob) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to persist paused reindex job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("reindex job paused",
		slog.String("job_id", job.ID),
		slog.String("state", string(job.State)),
		slog.String("checkpoint", job.Checkpoint),
	)
}

// fail halts the job, recording the phase it was in so Resume can re-enter
// it. The mirror stays armed: live deletes keep flowing to the target
// while the job waits for the operator, reducing the drift a resume has
// to recover from.
func (s *ReindexService) fail(job *domain.ReindexJob, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	job.Fail(cause)
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to persist failed reindex job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	reindexTransitions.WithLabelValues(string(domain.ReindexStateFailed)).Inc()
	s.logger.Error("reindex job failed",
		slog.String("job_id", job.ID),
		slog.String("failed_from", string(job.FailedFrom)),
		slog.String("error", cause.Error()),
	)
}

// nextIndexName derives the target index from the source generation:
// products-000007 becomes products-000008. A source that does not follow
// the generation convention falls back to an alias-timestamp name.
func nextIndexName(alias, source string, now time.Time) string {
	if i := strings.LastIndex(source, "-"); i >= 0 {
		if gen, err := strconv.Atoi(source[i+1:]); err == nil {
			return fmt.Sprintf("%s-%06d", source[:i], gen+1)
		}
	}
	return fmt.Sprintf("%s-%s", alias, now.Format("20060102150405"))
}
