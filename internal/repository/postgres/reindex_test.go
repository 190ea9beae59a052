package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/pkg/database"
	apperrors "github.com/utafrali/searchsync/pkg/errors"
)

// --- Test Helpers ---

func newReindexRepo(t *testing.T) (*ReindexJobRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	repo := NewReindexJobRepository(mock)
	return repo, mock
}

func sampleReindexJob() *domain.ReindexJob {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.ReindexJob{
		ID:          "job-001",
		Alias:       "ecommerce_products",
		SourceIndex: "ecommerce_products-000001",
		TargetIndex: "ecommerce_products-000002",
		State:       domain.ReindexStateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func reindexColumns() []string {
	return []string{
		"id", "alias", "source_index", "target_index", "state", "failed_from",
		"checkpoint", "copy_started_at", "docs_copied", "docs_synced", "error",
		"created_at", "updated_at",
	}
}

// --- Create Tests ---

func TestReindexJobRepository_Create_Success(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	j := sampleReindexJob()

	mock.ExpectExec("INSERT INTO reindex_jobs").
		WithArgs(
			j.ID, j.Alias, j.SourceIndex, j.TargetIndex, string(j.State),
			string(j.FailedFrom), j.Checkpoint,
			pgxmock.AnyArg(), // copy_started_at, NULL until the copy begins
			j.DocsCopied, j.DocsSynced, j.Error, j.CreatedAt, j.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), j)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_Create_OpenJobConflict(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	j := sampleReindexJob()

	mock.ExpectExec("INSERT INTO reindex_jobs").
		WithArgs(
			j.ID, j.Alias, j.SourceIndex, j.TargetIndex, string(j.State),
			string(j.FailedFrom), j.Checkpoint, pgxmock.AnyArg(),
			j.DocsCopied, j.DocsSynced, j.Error, j.CreatedAt, j.UpdatedAt,
		).
		WillReturnError(errors.New(`duplicate key value violates unique constraint "ux_reindex_jobs_open_alias" (SQLSTATE 23505)`))

	err := repo.Create(context.Background(), j)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "ecommerce_products")

	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- GetByID Tests ---

func TestReindexJobRepository_GetByID_Success(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)
	copyStart := now.Add(-10 * time.Minute)

	rows := pgxmock.NewRows(reindexColumns()).AddRow(
		"job-001", "ecommerce_products", "ecommerce_products-000001",
		"ecommerce_products-000002", "copying", "", "prod-550",
		&copyStart, int64(550), int64(0), "", now, now,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("job-001").
		WillReturnRows(rows)

	j, err := repo.GetByID(context.Background(), "job-001")
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.Equal(t, domain.ReindexStateCopying, j.State)
	assert.Equal(t, "prod-550", j.Checkpoint)
	assert.Equal(t, copyStart, j.CopyStartedAt)
	assert.Equal(t, int64(550), j.DocsCopied)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_GetByID_FailedJob(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)
	copyStart := now.Add(-30 * time.Minute)

	rows := pgxmock.NewRows(reindexColumns()).AddRow(
		"job-007", "ecommerce_products", "ecommerce_products-000001",
		"ecommerce_products-000002", "failed", "copying", "prod-550",
		&copyStart, int64(550), int64(0), "scan source: connection refused", now, now,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("job-007").
		WillReturnRows(rows)

	j, err := repo.GetByID(context.Background(), "job-007")
	require.NoError(t, err)

	assert.Equal(t, domain.ReindexStateFailed, j.State)
	assert.Equal(t, domain.ReindexStateCopying, j.FailedFrom)
	assert.Equal(t, "scan source: connection refused", j.Error)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_GetByID_NoCopyStart(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)

	rows := pgxmock.NewRows(reindexColumns()).AddRow(
		"job-002", "ecommerce_products", "ecommerce_products-000001",
		"ecommerce_products-000002", "created", "", "",
		nil, int64(0), int64(0), "", now, now,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("job-002").
		WillReturnRows(rows)

	j, err := repo.GetByID(context.Background(), "job-002")
	require.NoError(t, err)

	assert.Equal(t, domain.ReindexStateCreated, j.State)
	assert.True(t, j.CopyStartedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectQuery("SELECT").
		WithArgs("missing-job").
		WillReturnError(pgx.ErrNoRows)

	j, err := repo.GetByID(context.Background(), "missing-job")
	assert.Nil(t, j)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- GetOpenByAlias Tests ---

func TestReindexJobRepository_GetOpenByAlias_Found(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)
	copyStart := now.Add(-time.Minute)

	rows := pgxmock.NewRows(reindexColumns()).AddRow(
		"job-003", "ecommerce_products", "ecommerce_products-000001",
		"ecommerce_products-000002", "delta_sync", "", "",
		&copyStart, int64(12000), int64(37), "", now, now,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("ecommerce_products").
		WillReturnRows(rows)

	j, err := repo.GetOpenByAlias(context.Background(), "ecommerce_products")
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.Equal(t, "job-003", j.ID)
	assert.Equal(t, domain.ReindexStateDeltaSync, j.State)
	assert.Equal(t, int64(37), j.DocsSynced)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_GetOpenByAlias_FailedJobStillOpen(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)

	rows := pgxmock.NewRows(reindexColumns()).AddRow(
		"job-006", "ecommerce_products", "ecommerce_products-000001",
		"ecommerce_products-000002", "failed", "delta_sync", "",
		nil, int64(12000), int64(5), "bulk to target: timeout", now, now,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("ecommerce_products").
		WillReturnRows(rows)

	j, err := repo.GetOpenByAlias(context.Background(), "ecommerce_products")
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.Equal(t, domain.ReindexStateFailed, j.State)
	assert.Equal(t, domain.ReindexStateDeltaSync, j.FailedFrom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_GetOpenByAlias_None(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectQuery("SELECT").
		WithArgs("ecommerce_products").
		WillReturnError(pgx.ErrNoRows)

	j, err := repo.GetOpenByAlias(context.Background(), "ecommerce_products")
	assert.NoError(t, err)
	assert.Nil(t, j)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- List Tests ---

func TestReindexJobRepository_List(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)
	earlier := now.Add(-24 * time.Hour)

	rows := pgxmock.NewRows(append(reindexColumns(), "total_count")).
		AddRow(
			"job-005", "ecommerce_products", "ecommerce_products-000002",
			"ecommerce_products-000003", "copying", "", "prod-90",
			&now, int64(90), int64(0), "", now, now, 5,
		).
		AddRow(
			"job-004", "ecommerce_products", "ecommerce_products-000001",
			"ecommerce_products-000002", "done", "", "",
			&earlier, int64(15000), int64(42), "", earlier, earlier, 5,
		)

	mock.ExpectQuery("SELECT").
		WithArgs(2, 2).
		WillReturnRows(rows)

	jobs, total, err := repo.List(context.Background(), 2, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-005", jobs[0].ID)
	assert.Equal(t, domain.ReindexStateDone, jobs[1].State)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_List_Empty(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	rows := pgxmock.NewRows(append(reindexColumns(), "total_count"))

	mock.ExpectQuery("SELECT").
		WithArgs(20, 0).
		WillReturnRows(rows)

	jobs, total, err := repo.List(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, total)
	assert.Empty(t, jobs)
	assert.NotNil(t, jobs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Update Tests ---

func TestReindexJobRepository_Update_Success(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	j := sampleReindexJob()
	j.State = domain.ReindexStateCopying
	j.Checkpoint = "prod-1200"
	j.CopyStartedAt = time.Now().UTC().Truncate(time.Microsecond)
	j.DocsCopied = 1200
	j.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectExec("UPDATE reindex_jobs").
		WithArgs(
			string(j.State), string(j.FailedFrom), j.Checkpoint,
			pgxmock.AnyArg(), // copy_started_at
			j.DocsCopied, j.DocsSynced, j.Error, j.UpdatedAt, j.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Update(context.Background(), j)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReindexJobRepository_Update_NotFound(t *testing.T) {
	repo, mock := newReindexRepo(t)
	defer mock.ExpectationsWereMet()

	j := sampleReindexJob()

	mock.ExpectExec("UPDATE reindex_jobs").
		WithArgs(
			string(j.State), string(j.FailedFrom), j.Checkpoint, pgxmock.AnyArg(),
			j.DocsCopied, j.DocsSynced, j.Error, j.UpdatedAt, j.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), j)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
