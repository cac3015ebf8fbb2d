// Package runledger implements the Run Ledger: the lifecycle of one
// WorkflowDefinition execution, its append-only log lines, and the
// compare-and-set status machine that is the only place the engine decides
// "what happens next" for a run (§4.I).
package runledger

import "time"

// Status is one of the acyclic states a Run may occupy (§3 invariant 4).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the states a Run cannot leave.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions is the acyclic status graph from §3 invariant 4:
// queued -> running -> {success, failure, cancelled}.
var allowedTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusFailure, StatusCancelled},
}

func isAllowedTransition(from, to Status) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}

	return false
}

type (
	// Cursor is the executor's only persisted mutable state, enabling
	// crash/restart resume at the next batch boundary (§9 "Coroutine-style
	// execution").
	Cursor struct {
		RunID       string
		StepIndex   int
		BatchOffset int
	}

	// Run is one execution of a WorkflowDefinition.
	Run struct {
		ID             string
		WorkflowID     string
		Status         Status
		Trigger        string // "schedule" | "manual"
		QueuedAt       time.Time
		StartedAt      *time.Time
		FinishedAt     *time.Time
		HeartbeatAt    *time.Time
		ProcessedItems int
		FailedItems    int
		UploadedFile   *string
		Cursor         Cursor
	}

	// RunLog is one append-only structured log line for a Run.
	RunLog struct {
		ID        string
		RunID     string
		Timestamp time.Time
		Severity  string
		Message   string
		Meta      map[string]any
	}

	// ListFilter narrows ListRuns results.
	ListFilter struct {
		WorkflowID *string
		Status     *Status
	}

	// Page is a limit/offset pagination window.
	Page struct {
		Limit  int
		Offset int
	}
)
