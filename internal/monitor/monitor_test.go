package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/pipeline"
	storememory "github.com/openlexbr/douflow/internal/store/memory"
)

// steppingClock returns strictly increasing times so snapshot files get
// unique names.
type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fakeRunner struct {
	mu   sync.Mutex
	keys []pipeline.JobKey
	err  error
}

func (r *fakeRunner) Run(_ context.Context, key pipeline.JobKey, _ bool) (pipeline.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	if r.err != nil {
		return pipeline.Job{}, r.err
	}
	return pipeline.Job{Key: key, State: pipeline.StateSucceeded}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func newMonitor(t *testing.T, cfg Config, runner Runner, jobs pipeline.JobStore) *Monitor {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	clock := &steppingClock{t: time.Date(2025, 4, 7, 8, 0, 0, 0, time.UTC)}
	m, err := New(cfg, runner, jobs, clock, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestTickSubmitsEverySection(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	m := newMonitor(t, Config{
		Sections: []pipeline.Section{pipeline.Section1, pipeline.Section3},
	}, runner, storememory.NewJobStore())

	m.Tick(context.Background())
	m.wg.Wait()

	require.Equal(t, 2, runner.count())
	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, key := range runner.keys {
		assert.Equal(t, pipeline.ModeIncremental, key.Mode)
		assert.Equal(t, "2025-04-07", key.Date.Format(pipeline.DateLayout))
	}
}

func TestTickSkipsSucceededJobs(t *testing.T) {
	t.Parallel()

	jobs := storememory.NewJobStore()
	key := pipeline.NewJobKey(
		time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC),
		pipeline.Section3, pipeline.ModeIncremental)
	require.NoError(t, jobs.CreateJob(context.Background(), pipeline.Job{
		Key:   key,
		State: pipeline.StateSucceeded,
	}))

	runner := &fakeRunner{}
	m := newMonitor(t, Config{Sections: []pipeline.Section{pipeline.Section3}}, runner, jobs)

	m.Tick(context.Background())
	m.wg.Wait()
	assert.Equal(t, 0, runner.count())
}

func TestTickStopsRetryingAfterBudget(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: fmt.Errorf("collection keeps failing")}
	m := newMonitor(t, Config{
		Sections:      []pipeline.Section{pipeline.Section3},
		MaxRetryTicks: 2,
	}, runner, storememory.NewJobStore())

	for i := 0; i < 4; i++ {
		m.Tick(context.Background())
		m.wg.Wait()
	}
	assert.Equal(t, 2, runner.count())
}

func TestTickDoesNotDoubleSubmitInFlightKeys(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	runner := &blockingRunner{release: release}
	m := newMonitor(t, Config{Sections: []pipeline.Section{pipeline.Section3}}, runner, storememory.NewJobStore())

	m.Tick(context.Background())
	m.Tick(context.Background())
	close(release)
	m.wg.Wait()

	assert.Equal(t, 1, runner.count())
}

type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, key pipeline.JobKey, _ bool) (pipeline.Job, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	<-r.release
	return pipeline.Job{Key: key, State: pipeline.StateSucceeded}, nil
}

func (r *blockingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestStartStopsCleanlyOnCancel(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	m := newMonitor(t, Config{
		Interval: 10 * time.Millisecond,
		Sections: []pipeline.Section{pipeline.Section3},
	}, runner, storememory.NewJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	require.Eventually(t, func() bool { return runner.count() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		// An explicit stop is a normal shutdown, not a failure.
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestReportSummarizesRecentJobs(t *testing.T) {
	t.Parallel()

	jobs := storememory.NewJobStore()
	now := time.Date(2025, 4, 7, 8, 0, 0, 0, time.UTC)

	ok := pipeline.Job{
		Key:       pipeline.NewJobKey(now, pipeline.Section3, pipeline.ModeIncremental),
		State:     pipeline.StateSucceeded,
		UpdatedAt: now,
	}
	failed := pipeline.Job{
		Key:   pipeline.NewJobKey(now, pipeline.Section1, pipeline.ModeIncremental),
		State: pipeline.StateFailed,
		Error: &pipeline.ErrorInfo{
			Stage:   pipeline.StageCollect,
			Kind:    pipeline.KindExhausted,
			Message: "retries exhausted",
		},
		UpdatedAt: now,
	}
	require.NoError(t, jobs.CreateJob(context.Background(), ok))
	require.NoError(t, jobs.CreateJob(context.Background(), failed))

	m := newMonitor(t, Config{Sections: []pipeline.Section{pipeline.Section3}}, &fakeRunner{}, jobs)
	report, err := m.Report(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts[pipeline.StateSucceeded])
	assert.Equal(t, 1, report.Counts[pipeline.StateFailed])
	require.Len(t, report.RecentFailures, 1)
	assert.Equal(t, pipeline.KindExhausted, report.RecentFailures[0].Kind)
	assert.Equal(t, "2025-04-07", report.LastSuccess[pipeline.Section3])
}

func TestSnapshotRetention(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runner := &fakeRunner{}
	m := newMonitor(t, Config{
		Sections:   []pipeline.Section{pipeline.Section3},
		StatusDir:  dir,
		StatusKeep: 2,
	}, runner, storememory.NewJobStore())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.writeSnapshot(context.Background()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.Contains(t, string(data), "generated_at")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Interval: time.Minute}, nil, storememory.NewJobStore(), &steppingClock{}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{}, &fakeRunner{}, storememory.NewJobStore(), &steppingClock{}, zap.NewNop())
	assert.Error(t, err)
}
