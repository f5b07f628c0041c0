// Package memory contains in-memory store implementations for
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Store keeps stage artifacts in memory. Writes are append-only per key
// and stage, mirroring the durable stores.
type Store struct {
	mu   sync.RWMutex
	data map[string][][]byte
}

// NewStore constructs an in-memory artifact store.
func NewStore() *Store {
	return &Store{data: make(map[string][][]byte)}
}

func slot(key pipeline.JobKey, stage pipeline.StageName) string {
	return key.String() + "/" + string(stage)
}

// Put appends a new generation for the key and stage.
func (s *Store) Put(_ context.Context, key pipeline.JobKey, stage pipeline.StageName, data []byte) (pipeline.ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := slot(key, stage)
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[k] = append(s.data[k], cp)
	return pipeline.ArtifactRef(fmt.Sprintf("memory://%s/%06d", k, len(s.data[k]))), nil
}

// Get resolves a ref produced by Put.
func (s *Store) Get(_ context.Context, ref pipeline.ArtifactRef) ([]byte, error) {
	raw, ok := strings.CutPrefix(string(ref), "memory://")
	if !ok {
		return nil, fmt.Errorf("unsupported artifact ref %q", ref)
	}
	idx := strings.LastIndex(raw, "/")
	if idx < 0 {
		return nil, fmt.Errorf("unsupported artifact ref %q", ref)
	}
	var gen int
	if _, err := fmt.Sscanf(raw[idx+1:], "%d", &gen); err != nil {
		return nil, fmt.Errorf("unsupported artifact ref %q", ref)
	}
	k := raw[:idx]

	s.mu.RLock()
	defer s.mu.RUnlock()
	gens := s.data[k]
	if gen < 1 || gen > len(gens) {
		return nil, pipeline.ErrNoArtifact
	}
	out := make([]byte, len(gens[gen-1]))
	copy(out, gens[gen-1])
	return out, nil
}

// Latest returns the newest generation for the key and stage.
func (s *Store) Latest(_ context.Context, key pipeline.JobKey, stage pipeline.StageName) (pipeline.ArtifactRef, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := slot(key, stage)
	gens := s.data[k]
	if len(gens) == 0 {
		return "", nil, pipeline.ErrNoArtifact
	}
	out := make([]byte, len(gens[len(gens)-1]))
	copy(out, gens[len(gens)-1])
	ref := pipeline.ArtifactRef(fmt.Sprintf("memory://%s/%06d", k, len(gens)))
	return ref, out, nil
}

// JobStore provides an in-memory job record store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pipeline.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Key.String()]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.Key.String()] = job.Clone()
	return nil
}

// UpdateJob replaces the stored record for the job's key.
func (s *JobStore) UpdateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Key.String()]; !ok {
		return errors.New("job not found")
	}
	s.jobs[job.Key.String()] = job.Clone()
	return nil
}

// GetJob fetches a job by key.
func (s *JobStore) GetJob(_ context.Context, key pipeline.JobKey) (pipeline.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[key.String()]
	if !ok {
		return pipeline.Job{}, false, nil
	}
	return job.Clone(), true, nil
}

// ListJobs returns jobs updated at or after since, newest first.
func (s *JobStore) ListJobs(_ context.Context, since time.Time) ([]pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []pipeline.Job
	for _, job := range s.jobs {
		if job.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
