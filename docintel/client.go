package docintel

import (
	"context"
	"io"

	"github.com/opsgrid/docbase/split"
)

// JobHandle identifies a submitted parse job on the remote service.
type JobHandle string

// PollState is the remote job state reported by Poll.
type PollState int

const (
	// StatePending means the job is queued and has not started.
	StatePending PollState = iota + 1
	// StateRunning means the job is being processed.
	StateRunning
	// StateSucceeded means the job finished and a result is available.
	StateSucceeded
	// StateFailed means the job finished unsuccessfully.
	StateFailed
)

// String returns the state name.
func (s PollState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Submission is one document handed to the service for parsing.
type Submission struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// PollResult is the outcome of one poll. Result is set only for
// StateSucceeded; Message carries the remote failure reason for StateFailed.
type PollResult struct {
	State   PollState
	Result  *split.ParsedDocument
	Message string
}

// Client is the poll-based document-intelligence protocol: submit a document,
// then poll the returned handle until the job reaches a final state. The
// ingestion orchestrator owns the polling loop and its bounds; the client is
// a thin protocol wrapper.
type Client interface {
	// Submit hands a document to the service and returns a handle for polling.
	Submit(ctx context.Context, sub Submission) (JobHandle, error)

	// Poll reports the current state of a submitted job.
	Poll(ctx context.Context, handle JobHandle) (*PollResult, error)
}
