package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusString(t *testing.T) {
	assert.Equal(t, "Submitted", JobSubmitted.String())
	assert.Equal(t, "PartiallyCompleted", JobPartiallyCompleted.String())
	assert.Equal(t, "Cancelled", JobCancelled.String())
	assert.Equal(t, "Unknown", JobStatus(0).String())
	assert.Equal(t, "Unknown", JobStatus(99).String())
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobCompleted, JobPartiallyCompleted, JobFailed, JobCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s.String())
	}

	active := []JobStatus{JobSubmitted, JobParsing, JobParsed, JobSplitting, JobEmbedding, JobIndexing, JobCancelling}
	for _, s := range active {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestCanTransition(t *testing.T) {
	t.Run("pipeline order", func(t *testing.T) {
		assert.True(t, CanTransition(JobSubmitted, JobParsing))
		assert.True(t, CanTransition(JobParsing, JobParsed))
		assert.True(t, CanTransition(JobParsed, JobSplitting))
		assert.True(t, CanTransition(JobSplitting, JobEmbedding))
		assert.True(t, CanTransition(JobEmbedding, JobIndexing))
		assert.True(t, CanTransition(JobIndexing, JobCompleted))
	})

	t.Run("partial completion", func(t *testing.T) {
		assert.True(t, CanTransition(JobEmbedding, JobPartiallyCompleted))
		assert.True(t, CanTransition(JobIndexing, JobPartiallyCompleted))
		assert.False(t, CanTransition(JobParsing, JobPartiallyCompleted))
	})

	t.Run("failure reachable from every active state", func(t *testing.T) {
		for _, s := range []JobStatus{JobSubmitted, JobParsing, JobParsed, JobSplitting, JobEmbedding, JobIndexing, JobCancelling} {
			assert.True(t, CanTransition(s, JobFailed), s.String())
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		assert.True(t, CanTransition(JobEmbedding, JobCancelling))
		assert.True(t, CanTransition(JobCancelling, JobCancelled))
		assert.False(t, CanTransition(JobCancelling, JobCancelling))
		assert.False(t, CanTransition(JobCancelled, JobCancelling))
	})

	t.Run("terminal states are frozen", func(t *testing.T) {
		for _, s := range []JobStatus{JobCompleted, JobPartiallyCompleted, JobFailed, JobCancelled} {
			assert.False(t, CanTransition(s, JobFailed), s.String())
			assert.False(t, CanTransition(s, JobParsing), s.String())
		}
	})

	t.Run("no skipping stages", func(t *testing.T) {
		assert.False(t, CanTransition(JobSubmitted, JobEmbedding))
		assert.False(t, CanTransition(JobParsing, JobCompleted))
	})

	t.Run("no moving backwards", func(t *testing.T) {
		assert.False(t, CanTransition(JobEmbedding, JobParsing))
		assert.False(t, CanTransition(JobParsed, JobSubmitted))
	})
}

func TestNewIngestionJob(t *testing.T) {
	docId := NewRandomID()
	job := NewIngestionJob(docId)

	assert.NotZero(t, job.Id)
	assert.Equal(t, docId, job.DocumentId)
	assert.Equal(t, JobSubmitted, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)

	other := NewIngestionJob(docId)
	assert.NotEqual(t, job.Id, other.Id)
}

func TestIngestionJobTransition(t *testing.T) {
	job := NewIngestionJob(NewRandomID())
	created := job.UpdatedAt
	time.Sleep(time.Millisecond)

	require.NoError(t, job.Transition(JobParsing))
	assert.Equal(t, JobParsing, job.Status)
	assert.True(t, job.UpdatedAt.After(created))

	err := job.Transition(JobCompleted)
	require.Error(t, err)
	assert.Equal(t, JobParsing, job.Status, "failed transition must not mutate status")

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, JobParsing, te.From)
	assert.Equal(t, JobCompleted, te.To)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
