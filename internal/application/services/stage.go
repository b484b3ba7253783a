package services

import (
	"fmt"

	"github.com/caretide/priorauth/internal/domain/entities"
)

// StageFailure means a stage could not produce a result. The case stays in
// processing and the run may be retried; completed stage results are kept.
type StageFailure struct {
	Stage entities.StageName
	Cause error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageFailure) Unwrap() error {
	return e.Cause
}

// InvalidStateError means a case carries a status the engine does not
// recognize and cannot be orchestrated.
type InvalidStateError struct {
	CaseID string
	Status entities.CaseStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("case %s has invalid status %q", e.CaseID, e.Status)
}

// UnknownToolError means the reasoning service requested a tool outside the
// closed tool set. The request is never forwarded anywhere.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q requested", e.Name)
}

// ToolLoopExceededError means the conversation hit the round bound before
// the reasoning service produced a final answer.
type ToolLoopExceededError struct {
	Rounds      int
	PartialText string
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d rounds without a final answer", e.Rounds)
}
