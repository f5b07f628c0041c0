package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Failure taxonomy. Transient errors are retried and contained inside the
// fetch engine; every other kind surfaces to the orchestrator and marks
// the job Failed without stage-level retry.
const (
	KindTransient         ErrorKind = "transient"
	KindExhausted         ErrorKind = "exhausted"
	KindPartialFailure    ErrorKind = "partial_failure"
	KindValidationFailure ErrorKind = "validation_failure"
	KindTimeout           ErrorKind = "timeout"
	KindAlreadyRunning    ErrorKind = "already_running"
	KindFatal             ErrorKind = "fatal"
)

// ErrAlreadyRunning rejects a duplicate submission for a key whose prior
// run has not reached a terminal state.
var ErrAlreadyRunning = &Error{Kind: KindAlreadyRunning, Message: "a run for this job key is already in progress"}

// Error is the typed failure carried on jobs and returned by stages.
type Error struct {
	Kind    ErrorKind
	Stage   StageName
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the cause chain to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind and message so sentinel comparisons like
// errors.Is(err, ErrAlreadyRunning) work across instances while distinct
// sentinels sharing a kind stay distinguishable.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind && e.Message == other.Message
}

// NewError builds a typed pipeline error.
func NewError(kind ErrorKind, stage StageName, message string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or KindFatal when err carries
// no pipeline classification.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}
