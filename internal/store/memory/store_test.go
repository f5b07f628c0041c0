package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlexbr/douflow/internal/pipeline"
)

func testKey() pipeline.JobKey {
	return pipeline.NewJobKey(
		time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC),
		pipeline.Section3, pipeline.ModeFull)
}

func TestStorePutGetLatest(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ref1, err := s.Put(context.Background(), testKey(), pipeline.StageCollect, []byte("first"))
	require.NoError(t, err)
	ref2, err := s.Put(context.Background(), testKey(), pipeline.StageCollect, []byte("second"))
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref2)

	data, err := s.Get(context.Background(), ref1)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	ref, data, err := s.Latest(context.Background(), testKey(), pipeline.StageCollect)
	require.NoError(t, err)
	assert.Equal(t, ref2, ref)
	assert.Equal(t, "second", string(data))
}

func TestStoreLatestWithoutArtifacts(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, _, err := s.Latest(context.Background(), testKey(), pipeline.StageIndex)
	assert.ErrorIs(t, err, pipeline.ErrNoArtifact)
}

func TestStoreGetRejectsForeignRef(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.Get(context.Background(), "file:///tmp/x")
	assert.Error(t, err)
}

func TestStoreCopiesContent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	payload := []byte("original")
	ref, err := s.Put(context.Background(), testKey(), pipeline.StageCollect, payload)
	require.NoError(t, err)
	payload[0] = 'X'

	data, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func newJob(state pipeline.JobState, updated time.Time) pipeline.Job {
	return pipeline.Job{
		Key:       testKey(),
		RunID:     "run-1",
		State:     state,
		Artifacts: map[pipeline.StageName]pipeline.ArtifactRef{},
		StartedAt: updated,
		UpdatedAt: updated,
	}
}

func TestJobStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	job := newJob(pipeline.StatePending, time.Unix(1000, 0))
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, ok, err := s.GetJob(context.Background(), job.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pipeline.StatePending, got.State)

	assert.Error(t, s.CreateJob(context.Background(), job))
}

func TestJobStoreUpdate(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	job := newJob(pipeline.StatePending, time.Unix(1000, 0))

	require.Error(t, s.UpdateJob(context.Background(), job))

	require.NoError(t, s.CreateJob(context.Background(), job))
	job.State = pipeline.StateCollecting
	require.NoError(t, s.UpdateJob(context.Background(), job))

	got, ok, err := s.GetJob(context.Background(), job.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pipeline.StateCollecting, got.State)
}

func TestJobStoreGetMissing(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	_, ok, err := s.GetJob(context.Background(), testKey())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobStoreListSince(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	old := newJob(pipeline.StateSucceeded, time.Unix(500, 0))
	recent := newJob(pipeline.StateFailed, time.Unix(2000, 0))
	recent.Key = pipeline.NewJobKey(
		time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC),
		pipeline.Section1, pipeline.ModeFull)

	require.NoError(t, s.CreateJob(context.Background(), old))
	require.NoError(t, s.CreateJob(context.Background(), recent))

	jobs, err := s.ListJobs(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, pipeline.StateFailed, jobs[0].State)
}

func TestJobStoreReturnsClones(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	job := newJob(pipeline.StatePending, time.Unix(1000, 0))
	require.NoError(t, s.CreateJob(context.Background(), job))

	got, _, err := s.GetJob(context.Background(), job.Key)
	require.NoError(t, err)
	got.Artifacts[pipeline.StageCollect] = "mutated"

	again, _, err := s.GetJob(context.Background(), job.Key)
	require.NoError(t, err)
	assert.Empty(t, again.Artifacts)
}
