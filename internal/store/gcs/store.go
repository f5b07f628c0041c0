// Package gcs provides an artifact store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	// Prefix is prepended to every object name, e.g. "douflow".
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Store writes stage artifacts to a configured GCS bucket. Each Put
// creates a new object named after the clock, so earlier generations are
// never overwritten and lexical object order equals write order.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	clock  pipeline.Clock
}

// New creates a GCS-backed artifact store.
func New(client *storage.Client, cfg Config, clock pipeline.Clock) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		clock:  clock,
	}, nil
}

func (s *Store) objectPrefix(key pipeline.JobKey, stage pipeline.StageName) string {
	parts := []string{key.String(), string(stage)}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Put uploads a new generation object and returns its gs:// URI.
func (s *Store) Put(ctx context.Context, key pipeline.JobKey, stage pipeline.StageName, data []byte) (pipeline.ArtifactRef, error) {
	name := fmt.Sprintf("%s/%020d.json", s.objectPrefix(key, stage), s.clock.Now().UnixNano())

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return pipeline.ArtifactRef(fmt.Sprintf("gs://%s/%s", s.bucket, name)), nil
}

// Get downloads the artifact behind a gs:// ref produced by this store.
func (s *Store) Get(ctx context.Context, ref pipeline.ArtifactRef) ([]byte, error) {
	raw, ok := strings.CutPrefix(string(ref), "gs://"+s.bucket+"/")
	if !ok {
		return nil, fmt.Errorf("unsupported artifact ref %q", ref)
	}

	reader, err := s.client.Bucket(s.bucket).Object(raw).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, pipeline.ErrNoArtifact
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Latest lists the generations under the key prefix and downloads the
// newest one.
func (s *Store) Latest(ctx context.Context, key pipeline.JobKey, stage pipeline.StageName) (pipeline.ArtifactRef, []byte, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: s.objectPrefix(key, stage) + "/",
	})

	var newest string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("list artifacts: %w", err)
		}
		if attrs.Name > newest {
			newest = attrs.Name
		}
	}
	if newest == "" {
		return "", nil, pipeline.ErrNoArtifact
	}

	ref := pipeline.ArtifactRef(fmt.Sprintf("gs://%s/%s", s.bucket, newest))
	data, err := s.Get(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	return ref, data, nil
}
