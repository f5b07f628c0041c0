package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlexbr/douflow/internal/pipeline"
)

func testKey() pipeline.JobKey {
	return pipeline.NewJobKey(
		time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC),
		pipeline.Section3, pipeline.ModeFull)
}

func testJob() pipeline.Job {
	now := time.Unix(1700000000, 0).UTC()
	return pipeline.Job{
		Key:       testKey(),
		RunID:     "run-1",
		State:     pipeline.StatePending,
		Artifacts: map[pipeline.StageName]pipeline.ArtifactRef{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := testJob()

	mock.ExpectExec("INSERT INTO pipeline_jobs").
		WithArgs(
			"2025-04-07_secao3_completo",
			"run-1",
			job.Key.Date,
			"3",
			"completo",
			"pending",
			[]byte(`{}`),
			[]byte(nil),
			job.StartedAt,
			job.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := testJob()
	job.State = pipeline.StateCollecting

	mock.ExpectExec("UPDATE pipeline_jobs").
		WithArgs(
			"2025-04-07_secao3_completo",
			"run-1",
			job.Key.Date,
			"3",
			"completo",
			"collecting",
			[]byte(`{}`),
			[]byte(nil),
			job.StartedAt,
			job.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJob(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"key", "run_id", "data", "secao", "modo", "state",
		"artifacts", "error_info", "started_at", "updated_at",
	}).AddRow(
		"2025-04-07_secao3_completo", "run-1",
		time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC), "3", "completo", "failed",
		[]byte(`{"coleta":"file:///tmp/a.json"}`),
		[]byte(`{"stage":"processamento","kind":"validation_failure","message":"boom"}`),
		now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM pipeline_jobs WHERE key").
		WithArgs("2025-04-07_secao3_completo").
		WillReturnRows(rows)

	job, ok, err := store.GetJob(context.Background(), testKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testKey(), job.Key)
	assert.Equal(t, pipeline.StateFailed, job.State)
	assert.Equal(t, pipeline.ArtifactRef("file:///tmp/a.json"), job.Artifacts[pipeline.StageCollect])
	require.NotNil(t, job.Error)
	assert.Equal(t, pipeline.KindValidationFailure, job.Error.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM pipeline_jobs WHERE key").
		WithArgs("2025-04-07_secao3_completo").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.GetJob(context.Background(), testKey())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsSince(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	since := now.Add(-time.Hour)

	rows := pgxmock.NewRows([]string{
		"key", "run_id", "data", "secao", "modo", "state",
		"artifacts", "error_info", "started_at", "updated_at",
	}).AddRow(
		"2025-04-07_secao3_completo", "run-1",
		time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC), "3", "completo", "succeeded",
		[]byte(`{}`), []byte(nil), now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM pipeline_jobs").
		WithArgs(since).
		WillReturnRows(rows)

	jobs, err := store.ListJobs(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, pipeline.StateSucceeded, jobs[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(context.Background(), JobStoreConfig{})
	assert.Error(t, err)
}
