// Package monitor schedules recurring pipeline runs for the current
// edition and keeps a rolling view of job outcomes.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Runner submits one pipeline run. Satisfied by the orchestrator.
type Runner interface {
	Run(ctx context.Context, key pipeline.JobKey, force bool) (pipeline.Job, error)
}

// Config governs the monitor.
type Config struct {
	// Interval is the tick period between scheduling passes.
	Interval time.Duration
	// Sections are submitted every tick for the current date.
	Sections []pipeline.Section
	// Mode is the collection mode for scheduled jobs.
	Mode pipeline.Mode
	// MaxRetryTicks bounds how many ticks keep retrying a failing key
	// before it is parked until the next date.
	MaxRetryTicks int
	// StatusDir receives JSON status snapshots; empty disables them.
	StatusDir string
	// StatusKeep is how many snapshot files are retained.
	StatusKeep int
}

// Monitor drives scheduled runs and reports on them.
type Monitor struct {
	cfg    Config
	runner Runner
	jobs   pipeline.JobStore
	clock  pipeline.Clock
	logger *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// New builds a Monitor.
func New(cfg Config, runner Runner, jobs pipeline.JobStore, clock pipeline.Clock, logger *zap.Logger) (*Monitor, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if len(cfg.Sections) == 0 {
		cfg.Sections = []pipeline.Section{pipeline.Section3}
	}
	if cfg.Mode == "" {
		cfg.Mode = pipeline.ModeIncremental
	}
	if cfg.MaxRetryTicks <= 0 {
		cfg.MaxRetryTicks = 3
	}
	if cfg.StatusKeep <= 0 {
		cfg.StatusKeep = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:      cfg,
		runner:   runner,
		jobs:     jobs,
		clock:    clock,
		logger:   logger,
		attempts: make(map[string]int),
		inFlight: make(map[string]bool),
	}, nil
}

// Start ticks until the context is cancelled, waits for in-flight
// submissions to finish, and returns nil. Stopping the loop is the
// normal way to shut the monitor down, not a failure.
func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("sections", len(m.cfg.Sections)))

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.logger.Info("monitor stopped")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: it submits the current date for every
// configured section, skipping keys that already succeeded, are still in
// flight, or exhausted their retry budget.
func (m *Monitor) Tick(ctx context.Context) {
	date := m.clock.Now()
	for _, section := range m.cfg.Sections {
		key := pipeline.NewJobKey(date, section, m.cfg.Mode)
		if !m.claim(ctx, key) {
			continue
		}
		m.wg.Add(1)
		go m.submit(ctx, key)
	}

	if m.cfg.StatusDir != "" {
		if err := m.writeSnapshot(ctx); err != nil {
			m.logger.Error("failed to write status snapshot", zap.Error(err))
		}
	}
}

func (m *Monitor) claim(ctx context.Context, key pipeline.JobKey) bool {
	job, found, err := m.jobs.GetJob(ctx, key)
	if err != nil {
		m.logger.Error("failed to load job", zap.String("job", key.String()), zap.Error(err))
		return false
	}
	if found && job.State == pipeline.StateSucceeded {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.String()
	if m.inFlight[k] {
		return false
	}
	if m.attempts[k] >= m.cfg.MaxRetryTicks {
		return false
	}
	m.inFlight[k] = true
	return true
}

func (m *Monitor) submit(ctx context.Context, key pipeline.JobKey) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.inFlight[key.String()] = false
		m.mu.Unlock()
	}()

	job, err := m.runner.Run(ctx, key, false)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			return
		}
		m.mu.Lock()
		m.attempts[key.String()]++
		attempts := m.attempts[key.String()]
		m.mu.Unlock()
		m.logger.Warn("scheduled run failed",
			zap.String("job", key.String()),
			zap.Int("attempts", attempts),
			zap.Int("max_retry_ticks", m.cfg.MaxRetryTicks),
			zap.Error(err))
		return
	}
	m.logger.Info("scheduled run finished",
		zap.String("job", key.String()),
		zap.String("state", string(job.State)))
}

// FailureSummary is one recent failed run in the report.
type FailureSummary struct {
	JobKey  string             `json:"job_key"`
	Stage   pipeline.StageName `json:"stage"`
	Kind    pipeline.ErrorKind `json:"kind"`
	Message string             `json:"message"`
	At      time.Time          `json:"at"`
}

// Report is the rolling view of recent pipeline activity.
type Report struct {
	GeneratedAt    time.Time                   `json:"generated_at"`
	Counts         map[pipeline.JobState]int   `json:"counts"`
	RecentFailures []FailureSummary            `json:"recent_failures"`
	LastSuccess    map[pipeline.Section]string `json:"last_success"`
}

// reportWindow bounds how far back the report looks.
const reportWindow = 7 * 24 * time.Hour

// maxRecentFailures caps the failure list in the report.
const maxRecentFailures = 20

// Report summarizes jobs updated inside the report window.
func (m *Monitor) Report(ctx context.Context) (Report, error) {
	now := m.clock.Now()
	jobs, err := m.jobs.ListJobs(ctx, now.Add(-reportWindow))
	if err != nil {
		return Report{}, fmt.Errorf("list jobs: %w", err)
	}

	report := Report{
		GeneratedAt: now,
		Counts:      make(map[pipeline.JobState]int),
		LastSuccess: make(map[pipeline.Section]string),
	}
	for _, job := range jobs {
		report.Counts[job.State]++
		switch job.State {
		case pipeline.StateFailed:
			if job.Error != nil && len(report.RecentFailures) < maxRecentFailures {
				report.RecentFailures = append(report.RecentFailures, FailureSummary{
					JobKey:  job.Key.String(),
					Stage:   job.Error.Stage,
					Kind:    job.Error.Kind,
					Message: job.Error.Message,
					At:      job.UpdatedAt,
				})
			}
		case pipeline.StateSucceeded:
			date := job.Key.Date.Format(pipeline.DateLayout)
			if date > report.LastSuccess[job.Key.Section] {
				report.LastSuccess[job.Key.Section] = date
			}
		}
	}
	return report, nil
}

func (m *Monitor) writeSnapshot(ctx context.Context) error {
	report, err := m.Report(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.cfg.StatusDir, 0o750); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status snapshot: %w", err)
	}
	name := fmt.Sprintf("status_%020d.json", m.clock.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(m.cfg.StatusDir, name), data, 0o600); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return m.pruneSnapshots()
}

// pruneSnapshots keeps the newest StatusKeep snapshot files.
func (m *Monitor) pruneSnapshots() error {
	entries, err := os.ReadDir(m.cfg.StatusDir)
	if err != nil {
		return fmt.Errorf("list status directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); len(n) > 7 && n[:7] == "status_" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for len(names) > m.cfg.StatusKeep {
		if err := os.Remove(filepath.Join(m.cfg.StatusDir, names[0])); err != nil {
			return fmt.Errorf("remove stale snapshot: %w", err)
		}
		names = names[1:]
	}
	return nil
}
