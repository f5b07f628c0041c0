// Package pipeline defines the core types and interfaces shared by the
// gazette pipeline subsystems: jobs, stages, artifacts, and the contracts
// the orchestrator uses to drive them.
package pipeline

import (
	"fmt"
	"time"
)

// Section identifies a subdivision of the gazette.
type Section string

// Gazette sections. The extra edition is published irregularly alongside
// the three regular sections.
const (
	Section1     Section = "1"
	Section2     Section = "2"
	Section3     Section = "3"
	SectionExtra Section = "extra"
)

// ParseSection normalizes user input into a Section.
func ParseSection(s string) (Section, error) {
	switch s {
	case "1", "2", "3":
		return Section(s), nil
	case "e", "E", "extra":
		return SectionExtra, nil
	default:
		return "", fmt.Errorf("invalid section %q (want 1, 2, 3 or extra)", s)
	}
}

// Mode selects the collection strategy for a job.
type Mode string

// Collection modes. Full re-fetches every page bypassing the cache;
// incremental reuses live cache entries and re-emits only changed pages.
const (
	ModeFull        Mode = "completo"
	ModeIncremental Mode = "incremental"
)

// ParseMode normalizes user input into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "completo", "full":
		return ModeFull, nil
	case "incremental":
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want completo or incremental)", s)
	}
}

// DateLayout is the canonical date form used in job keys and artifacts.
const DateLayout = "2006-01-02"

// InputDateLayout is the DD-MM-YYYY form accepted on the command line.
const InputDateLayout = "02-01-2006"

// JobKey uniquely identifies one pipeline run and prefixes its artifacts
// in the artifact store.
type JobKey struct {
	Date    time.Time `json:"data"`
	Section Section   `json:"secao"`
	Mode    Mode      `json:"modo"`
}

// NewJobKey builds a JobKey with the date truncated to its calendar day.
func NewJobKey(date time.Time, section Section, mode Mode) JobKey {
	return JobKey{
		Date:    date.UTC().Truncate(24 * time.Hour),
		Section: section,
		Mode:    mode,
	}
}

// String renders the key as the artifact-store prefix, e.g.
// "2025-04-07_secao3_completo".
func (k JobKey) String() string {
	return fmt.Sprintf("%s_secao%s_%s", k.Date.Format(DateLayout), k.Section, k.Mode)
}

// JobState is the lifecycle state of a pipeline job.
type JobState string

// Job states. Failed and Cancelled are reachable from any non-terminal
// state; Succeeded only from Indexing. No transition skips a stage.
const (
	StatePending    JobState = "pending"
	StateCollecting JobState = "collecting"
	StateProcessing JobState = "processing"
	StateOrganizing JobState = "organizing"
	StateIndexing   JobState = "indexing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

var forwardTransitions = map[JobState]JobState{
	StatePending:    StateCollecting,
	StateCollecting: StateProcessing,
	StateProcessing: StateOrganizing,
	StateOrganizing: StateIndexing,
	StateIndexing:   StateSucceeded,
}

// CanTransition reports whether moving from s to next is legal: one step
// forward along the stage order, or to Failed/Cancelled while non-terminal.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateCancelled {
		return true
	}
	return forwardTransitions[s] == next
}

// StageName identifies one of the four pipeline stages.
type StageName string

// Pipeline stages in execution order.
const (
	StageCollect  StageName = "coleta"
	StageProcess  StageName = "processamento"
	StageOrganize StageName = "organizacao"
	StageIndex    StageName = "indexacao"
)

// Stages lists the stages in execution order.
func Stages() []StageName {
	return []StageName{StageCollect, StageProcess, StageOrganize, StageIndex}
}

// StateFor returns the running state that corresponds to a stage.
func StateFor(stage StageName) JobState {
	switch stage {
	case StageCollect:
		return StateCollecting
	case StageProcess:
		return StateProcessing
	case StageOrganize:
		return StateOrganizing
	case StageIndex:
		return StateIndexing
	default:
		return StatePending
	}
}

// ArtifactRef is an opaque handle to a persisted stage artifact.
type ArtifactRef string

// ErrorInfo records the failure that moved a job to Failed.
type ErrorInfo struct {
	Stage   StageName `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is the orchestrator-owned record for one pipeline run. Read-only
// copies may be handed to the monitor; only the orchestrator mutates it.
type Job struct {
	Key       JobKey                    `json:"key"`
	RunID     string                    `json:"run_id"`
	State     JobState                  `json:"state"`
	Artifacts map[StageName]ArtifactRef `json:"artifacts"`
	Error     *ErrorInfo                `json:"error,omitempty"`
	StartedAt time.Time                 `json:"started_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the orchestrator.
func (j Job) Clone() Job {
	out := j
	out.Artifacts = make(map[StageName]ArtifactRef, len(j.Artifacts))
	for k, v := range j.Artifacts {
		out.Artifacts[k] = v
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
