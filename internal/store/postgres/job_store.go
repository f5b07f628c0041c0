// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists job lifecycle records in Postgres.
type JobStore struct {
	pool dbPool
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_jobs (
	key TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	data DATE NOT NULL,
	secao TEXT NOT NULL,
	modo TEXT NOT NULL,
	state TEXT NOT NULL,
	artifacts JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_info JSONB,
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_updated_at ON pipeline_jobs (updated_at);
`

// EnsureSchema creates the job table if it does not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply job schema: %w", err)
	}
	return nil
}

const jobColumns = `key, run_id, data, secao, modo, state, artifacts, error_info, started_at, updated_at`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO pipeline_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces the mutable columns of the job's row.
func (s *JobStore) UpdateJob(ctx context.Context, job pipeline.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	query := `
		UPDATE pipeline_jobs
		SET run_id = $2, data = $3, secao = $4, modo = $5, state = $6,
		    artifacts = $7, error_info = $8, started_at = $9, updated_at = $10
		WHERE key = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", job.Key)
	}
	return nil
}

// GetJob fetches a job by key. The second return reports existence.
func (s *JobStore) GetJob(ctx context.Context, key pipeline.JobKey) (pipeline.Job, bool, error) {
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE key = $1`
	row := s.pool.QueryRow(ctx, query, key.String())

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, false, nil
		}
		return pipeline.Job{}, false, err
	}
	return job, true, nil
}

// ListJobs returns jobs updated at or after since, newest first.
func (s *JobStore) ListJobs(ctx context.Context, since time.Time) ([]pipeline.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM pipeline_jobs
		WHERE updated_at >= $1
		ORDER BY updated_at DESC`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []pipeline.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func jobArgs(job pipeline.Job) ([]any, error) {
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("marshal artifacts: %w", err)
	}
	var errorInfo []byte
	if job.Error != nil {
		errorInfo, err = json.Marshal(job.Error)
		if err != nil {
			return nil, fmt.Errorf("marshal error info: %w", err)
		}
	}
	return []any{
		job.Key.String(),
		job.RunID,
		job.Key.Date,
		string(job.Key.Section),
		string(job.Key.Mode),
		string(job.State),
		artifacts,
		errorInfo,
		job.StartedAt,
		job.UpdatedAt,
	}, nil
}

func scanJob(row pgx.Row) (pipeline.Job, error) {
	var (
		job       pipeline.Job
		keyStr    string
		date      time.Time
		secao     string
		modo      string
		state     string
		artifacts []byte
		errorInfo []byte
	)
	if err := row.Scan(&keyStr, &job.RunID, &date, &secao, &modo, &state,
		&artifacts, &errorInfo, &job.StartedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, err
		}
		return pipeline.Job{}, fmt.Errorf("scan job row: %w", err)
	}
	job.Key = pipeline.NewJobKey(date, pipeline.Section(secao), pipeline.Mode(modo))
	job.State = pipeline.JobState(state)

	job.Artifacts = make(map[pipeline.StageName]pipeline.ArtifactRef)
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
			return pipeline.Job{}, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if len(errorInfo) > 0 {
		job.Error = &pipeline.ErrorInfo{}
		if err := json.Unmarshal(errorInfo, job.Error); err != nil {
			return pipeline.Job{}, fmt.Errorf("unmarshal error info: %w", err)
		}
	}
	return job, nil
}
