// Package orchestrator drives one pipeline run through its four stages,
// owning the job state machine, artifact persistence, and event
// publication.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/metrics"
	"github.com/openlexbr/douflow/internal/pipeline"
)

// Config governs the orchestrator.
type Config struct {
	// StageTimeout bounds each stage invocation; zero disables it.
	StageTimeout time.Duration
}

// Deps are the collaborators a pipeline run needs.
type Deps struct {
	Collector pipeline.Collector
	Processor pipeline.Processor
	Organizer pipeline.Organizer
	Indexer   pipeline.Indexer
	Artifacts pipeline.ArtifactStore
	Jobs      pipeline.JobStore
	// Publisher is optional; nil disables event publication.
	Publisher pipeline.Publisher
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator
	Logger    *zap.Logger
}

// Orchestrator runs pipeline jobs. Safe for concurrent use; per-key
// exclusion is enforced through the job store.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates the dependencies and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Collector == nil:
		return nil, fmt.Errorf("collector is required")
	case deps.Processor == nil:
		return nil, fmt.Errorf("processor is required")
	case deps.Organizer == nil:
		return nil, fmt.Errorf("organizer is required")
	case deps.Indexer == nil:
		return nil, fmt.Errorf("indexer is required")
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("artifact store is required")
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Event is the payload published on stage and terminal topics.
type Event struct {
	JobKey    string               `json:"job_key"`
	RunID     string               `json:"run_id"`
	Stage     pipeline.StageName   `json:"stage,omitempty"`
	State     pipeline.JobState    `json:"state"`
	Artifact  pipeline.ArtifactRef `json:"artifact,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

var stageTopics = map[pipeline.StageName]string{
	pipeline.StageCollect:  pipeline.TopicCollectDone,
	pipeline.StageProcess:  pipeline.TopicProcessDone,
	pipeline.StageOrganize: pipeline.TopicOrganizeDone,
	pipeline.StageIndex:    pipeline.TopicIndexDone,
}

// Run executes the pipeline for the key. Resubmitting a succeeded key
// returns the prior record without invoking any stage unless force is
// set; resubmitting a key whose run is still in flight returns
// pipeline.ErrAlreadyRunning.
func (o *Orchestrator) Run(ctx context.Context, key pipeline.JobKey, force bool) (pipeline.Job, error) {
	existing, found, err := o.deps.Jobs.GetJob(ctx, key)
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("load job %s: %w", key, err)
	}
	if found {
		if !existing.State.Terminal() {
			return existing, pipeline.ErrAlreadyRunning
		}
		if existing.State == pipeline.StateSucceeded && !force {
			o.deps.Logger.Info("job already succeeded, skipping",
				zap.String("job", key.String()),
				zap.String("run_id", existing.RunID))
			return existing, nil
		}
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("generate run id: %w", err)
	}
	now := o.deps.Clock.Now()
	job := pipeline.Job{
		Key:       key,
		RunID:     runID,
		State:     pipeline.StatePending,
		Artifacts: make(map[pipeline.StageName]pipeline.ArtifactRef),
		StartedAt: now,
		UpdatedAt: now,
	}
	if found {
		err = o.deps.Jobs.UpdateJob(ctx, job)
	} else {
		err = o.deps.Jobs.CreateJob(ctx, job)
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("persist job %s: %w", key, err)
	}

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	logger := o.deps.Logger.With(
		zap.String("job", key.String()),
		zap.String("run_id", runID))
	logger.Info("pipeline run starting", zap.Bool("force", force))

	if err := o.runStages(ctx, &job, logger); err != nil {
		return job, err
	}

	o.transition(&job, pipeline.StateSucceeded, logger)
	o.publish(pipeline.TopicJobDone, Event{
		JobKey:    key.String(),
		RunID:     runID,
		State:     job.State,
		Timestamp: o.deps.Clock.Now(),
	}, logger)
	logger.Info("pipeline run succeeded")
	return job, nil
}

func (o *Orchestrator) runStages(ctx context.Context, job *pipeline.Job, logger *zap.Logger) error {
	var (
		raw       *pipeline.RawArtifact
		processed *pipeline.ProcessedArtifact
		organized *pipeline.OrganizedArtifact
	)

	for _, stage := range pipeline.Stages() {
		// Cancellation is honored at stage boundaries only; a running
		// stage finishes or aborts through its own context.
		if err := ctx.Err(); err != nil {
			o.cancel(job, logger)
			return err
		}

		o.transition(job, pipeline.StateFor(stage), logger)

		start := time.Now()
		var (
			payload any
			err     error
		)
		func() {
			stageCtx := ctx
			if o.cfg.StageTimeout > 0 {
				var cancel context.CancelFunc
				stageCtx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
				defer cancel()
			}
			switch stage {
			case pipeline.StageCollect:
				raw, err = o.deps.Collector.Collect(stageCtx, job.Key)
				payload = raw
			case pipeline.StageProcess:
				processed, err = o.deps.Processor.Process(stageCtx, raw)
				payload = processed
			case pipeline.StageOrganize:
				organized, err = o.deps.Organizer.Organize(stageCtx, processed)
				payload = organized
			case pipeline.StageIndex:
				var ack pipeline.IndexAck
				ack, err = o.deps.Indexer.Index(stageCtx, organized)
				payload = ack
			}
		}()
		metrics.ObserveStage(string(stage), time.Since(start))

		if err != nil {
			return o.fail(ctx, job, stage, err, logger)
		}

		ref, err := o.persist(ctx, job, stage, payload)
		if err != nil {
			return o.fail(ctx, job, stage, err, logger)
		}
		job.Artifacts[stage] = ref
		o.update(job, logger)

		o.publish(stageTopics[stage], Event{
			JobKey:    job.Key.String(),
			RunID:     job.RunID,
			Stage:     stage,
			State:     job.State,
			Artifact:  ref,
			Timestamp: o.deps.Clock.Now(),
		}, logger)
		logger.Info("stage finished",
			zap.String("stage", string(stage)),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}

// persist writes the stage output to the artifact store. The artifact is
// durable before the job advances past the stage.
func (o *Orchestrator) persist(ctx context.Context, job *pipeline.Job, stage pipeline.StageName, payload any) (pipeline.ArtifactRef, error) {
	data, err := pipeline.EncodeArtifact(payload)
	if err != nil {
		return "", pipeline.NewError(pipeline.KindFatal, stage, "encode artifact", err)
	}
	ref, err := o.deps.Artifacts.Put(ctx, job.Key, stage, data)
	if err != nil {
		return "", pipeline.NewError(pipeline.KindFatal, stage, "persist artifact", err)
	}
	return ref, nil
}

func (o *Orchestrator) fail(ctx context.Context, job *pipeline.Job, stage pipeline.StageName, err error, logger *zap.Logger) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		o.cancel(job, logger)
		return err
	}

	kind := pipeline.KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = pipeline.KindTimeout
		err = pipeline.NewError(kind, stage, "stage deadline exceeded", err)
	}

	job.Error = &pipeline.ErrorInfo{
		Stage:   stage,
		Kind:    kind,
		Message: err.Error(),
	}
	o.transition(job, pipeline.StateFailed, logger)
	o.publish(pipeline.TopicJobDone, Event{
		JobKey:    job.Key.String(),
		RunID:     job.RunID,
		Stage:     stage,
		State:     job.State,
		Timestamp: o.deps.Clock.Now(),
	}, logger)
	logger.Error("pipeline run failed",
		zap.String("stage", string(stage)),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return err
}

func (o *Orchestrator) cancel(job *pipeline.Job, logger *zap.Logger) {
	o.transition(job, pipeline.StateCancelled, logger)
	o.publish(pipeline.TopicJobDone, Event{
		JobKey:    job.Key.String(),
		RunID:     job.RunID,
		State:     job.State,
		Timestamp: o.deps.Clock.Now(),
	}, logger)
	logger.Warn("pipeline run cancelled")
}

func (o *Orchestrator) transition(job *pipeline.Job, next pipeline.JobState, logger *zap.Logger) {
	if !job.State.CanTransition(next) {
		logger.Error("illegal state transition attempted",
			zap.String("from", string(job.State)),
			zap.String("to", string(next)))
		return
	}
	job.State = next
	o.update(job, logger)
	if next.Terminal() {
		metrics.ObserveJob(string(next))
	}
}

func (o *Orchestrator) update(job *pipeline.Job, logger *zap.Logger) {
	job.UpdatedAt = o.deps.Clock.Now()
	// Persistence of the record itself is best-effort: the run carries
	// its state in memory and the next update retries the write.
	if err := o.deps.Jobs.UpdateJob(context.Background(), *job); err != nil {
		logger.Error("failed to persist job record", zap.Error(err))
	}
}

func (o *Orchestrator) publish(topic string, event Event, logger *zap.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.deps.Publisher.Publish(ctx, topic, event); err != nil {
		logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.Error(err))
	}
}
