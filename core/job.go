// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "time"

// JobStatus identifies the state of an ingestion job within its lifecycle.
type JobStatus int

const (
	// JobSubmitted is the initial state after upload.
	JobSubmitted JobStatus = iota + 1
	// JobParsing means the document was handed to the document-intelligence
	// service and is being polled for a result.
	JobParsing
	// JobParsed means a structured parse result has been received.
	JobParsed
	// JobSplitting means the parsed document is being split into chunks.
	JobSplitting
	// JobEmbedding means chunk embeddings are being computed.
	JobEmbedding
	// JobIndexing means chunk vectors are being written to the vector store.
	JobIndexing
	// JobCompleted is the terminal success state.
	JobCompleted
	// JobPartiallyCompleted is a terminal state reached when a strict subset
	// of chunks failed embedding or indexing irrecoverably.
	JobPartiallyCompleted
	// JobFailed is the terminal failure state.
	JobFailed
	// JobCancelling means cancellation was requested and the job is draining
	// its current in-flight call.
	JobCancelling
	// JobCancelled is the terminal state after a successful cancellation.
	JobCancelled
)

// String returns the status name used in logs and status responses.
func (s JobStatus) String() string {
	switch s {
	case JobSubmitted:
		return "Submitted"
	case JobParsing:
		return "Parsing"
	case JobParsed:
		return "Parsed"
	case JobSplitting:
		return "Splitting"
	case JobEmbedding:
		return "Embedding"
	case JobIndexing:
		return "Indexing"
	case JobCompleted:
		return "Completed"
	case JobPartiallyCompleted:
		return "PartiallyCompleted"
	case JobFailed:
		return "Failed"
	case JobCancelling:
		return "Cancelling"
	case JobCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status is terminal. A terminal job is never
// mutated again and is skipped by crash recovery.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobPartiallyCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// jobTransitions is the fixed transition table for the ingestion state machine.
// Failed is additionally reachable from every non-terminal state and is not
// listed per-state.
var jobTransitions = map[JobStatus][]JobStatus{
	JobSubmitted:  {JobParsing},
	JobParsing:    {JobParsed},
	JobParsed:     {JobSplitting},
	JobSplitting:  {JobEmbedding},
	JobEmbedding:  {JobIndexing, JobPartiallyCompleted},
	JobIndexing:   {JobCompleted, JobPartiallyCompleted},
	JobCancelling: {JobCancelled},
}

// CanTransition reports whether moving from one status to another follows the
// state graph. Any non-terminal state may move to Failed or Cancelling.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobFailed {
		return true
	}
	if to == JobCancelling {
		return from != JobCancelling
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IngestionJob is the persisted unit of work tracking one document's ingestion
// lifecycle. Job state is owned exclusively by the ingestion orchestrator.
type IngestionJob struct {
	Id             ID
	DocumentId     ID
	Status         JobStatus
	Attempts       int    // Attempts consumed by the current or last monitored operation
	LastError      string // Last error observed, kept for diagnostics
	FailedChunkIds []ID   // Chunk ids that failed irrecoverably (PartiallyCompleted)
	Progress       int    // 0-100, derived from state and chunk completion
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewIngestionJob creates a job in the Submitted state for a document.
func NewIngestionJob(documentId ID) *IngestionJob {
	now := time.Now().UTC()
	return &IngestionJob{
		Id:         NewRandomID(),
		DocumentId: documentId,
		Status:     JobSubmitted,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition moves the job to a new status, enforcing the transition table.
// Returns ErrInvalidTransition when the move is not allowed.
func (j *IngestionJob) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return &TransitionError{From: j.Status, To: to}
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}
