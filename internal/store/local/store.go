// Package local implements a filesystem-backed artifact store.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Config captures the parameters for the filesystem artifact store.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes stage artifacts to the local filesystem. Writes are
// append-only: each Put creates a new generation file under the job-key
// prefix and never touches earlier generations.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a filesystem-backed artifact store rooted at cfg.BaseDir.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Put writes a new generation file for the key and stage.
func (s *Store) Put(_ context.Context, key pipeline.JobKey, stage pipeline.StageName, data []byte) (pipeline.ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, key.String(), string(stage))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	gens, err := generations(dir)
	if err != nil {
		return "", err
	}
	next := 1
	if len(gens) > 0 {
		last := gens[len(gens)-1]
		if _, err := fmt.Sscanf(last, "%d", &next); err != nil {
			return "", fmt.Errorf("unexpected generation file %q: %w", last, err)
		}
		next++
	}

	path := filepath.Join(dir, fmt.Sprintf("%06d.json", next))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return pipeline.ArtifactRef("file://" + path), nil
}

// Get reads the artifact behind a ref produced by this store.
func (s *Store) Get(_ context.Context, ref pipeline.ArtifactRef) ([]byte, error) {
	path, ok := strings.CutPrefix(string(ref), "file://")
	if !ok {
		return nil, fmt.Errorf("unsupported artifact ref %q", ref)
	}

	// Verify the path is within baseDir to prevent traversal.
	cleanBase := filepath.Clean(s.baseDir)
	cleanPath := filepath.Clean(path)
	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return nil, fmt.Errorf("artifact ref outside base directory")
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipeline.ErrNoArtifact
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Latest returns the newest generation for the key and stage.
func (s *Store) Latest(ctx context.Context, key pipeline.JobKey, stage pipeline.StageName) (pipeline.ArtifactRef, []byte, error) {
	s.mu.Lock()
	dir := filepath.Join(s.baseDir, key.String(), string(stage))
	gens, err := generations(dir)
	s.mu.Unlock()
	if err != nil {
		return "", nil, err
	}
	if len(gens) == 0 {
		return "", nil, pipeline.ErrNoArtifact
	}

	ref := pipeline.ArtifactRef("file://" + filepath.Join(dir, gens[len(gens)-1]))
	data, err := s.Get(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	return ref, data, nil
}

// generations lists the generation files in dir, oldest first. Zero-padded
// names keep lexical order equal to generation order.
func generations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list artifact directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
