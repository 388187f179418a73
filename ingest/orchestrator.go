// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/opsgrid/docbase/ai"
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/docintel"
	"github.com/opsgrid/docbase/monitor"
	"github.com/opsgrid/docbase/split"
	"github.com/opsgrid/docbase/vectorstore"
)

// Progress checkpoints per stage. Embedding interpolates between its base
// and the indexing checkpoint as chunks complete.
const (
	progressParsing   = 10
	progressParsed    = 40
	progressSplitting = 45
	progressEmbedBase = 50
	progressIndexing  = 90
	progressDone      = 100
)

const (
	defaultPollInterval    = 10 * time.Second
	defaultMaxPollAttempts = 120
	defaultCallTimeout     = 60 * time.Second
	defaultMaxInFlight     = 4
)

// Orchestrator drives ingestion jobs through their lifecycle: submit to the
// parse service, poll to completion, split, embed, and index. Each job runs
// as an independent unit of work on the pool and owns its persisted state
// exclusively.
type Orchestrator struct {
	jobs     JobStore
	client   docintel.Client
	splitter *split.Splitter
	embedder ai.Embedder
	store    vectorstore.Store

	pool            *ants.Pool
	retry           monitor.Policy
	pollInterval    time.Duration
	maxPollAttempts int
	callTimeout     time.Duration
	spoolDir        string
	logger          *slog.Logger

	// inflight bounds concurrent calls to the parse service across all jobs.
	inflight chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	cancels   map[core.ID]context.CancelFunc
	cancelled map[core.ID]bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithPoolSize sets the worker pool size for concurrent jobs.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		if o.pool != nil {
			o.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		o.pool = pool
		return nil
	}
}

// WithRetryPolicy sets the retry policy applied to parse, embed, and index
// operations. The per-attempt timeout is ignored for the parse stage, whose
// attempts span the whole poll loop; individual service calls are bounded
// by the call timeout instead.
func WithRetryPolicy(policy monitor.Policy) Option {
	return func(o *Orchestrator) error {
		if policy.MaxAttempts <= 0 {
			return monitor.ErrInvalidMaxAttempts
		}
		o.retry = policy
		return nil
	}
}

// WithPollInterval sets the wait between poll attempts.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Orchestrator) error {
		if interval <= 0 {
			return errors.New("poll interval must be positive")
		}
		o.pollInterval = interval
		return nil
	}
}

// WithMaxPollAttempts bounds how many polls one parse attempt may consume.
func WithMaxPollAttempts(attempts int) Option {
	return func(o *Orchestrator) error {
		if attempts <= 0 {
			return errors.New("max poll attempts must be positive")
		}
		o.maxPollAttempts = attempts
		return nil
	}
}

// WithCallTimeout bounds each individual call to the parse service.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) error {
		if timeout <= 0 {
			return errors.New("call timeout must be positive")
		}
		o.callTimeout = timeout
		return nil
	}
}

// WithMaxInFlight bounds concurrent parse-service calls across all jobs.
func WithMaxInFlight(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			n = 1
		}
		o.inflight = make(chan struct{}, n)
		return nil
	}
}

// WithSpoolDir sets the directory where uploaded documents are kept until
// their job reaches a terminal state.
func WithSpoolDir(dir string) Option {
	return func(o *Orchestrator) error {
		if dir == "" {
			return errors.New("spool dir must not be empty")
		}
		o.spoolDir = dir
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger.With("component", "ingest")
		return nil
	}
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(jobs JobStore, client docintel.Client, splitter *split.Splitter, embedder ai.Embedder, store vectorstore.Store, opts ...Option) (*Orchestrator, error) {
	if jobs == nil {
		return nil, ErrJobStoreRequired
	}
	if client == nil {
		return nil, ErrClientRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}
	if splitter == nil {
		var err error
		splitter, err = split.NewSplitter(split.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		jobs:            jobs,
		client:          client,
		splitter:        splitter,
		embedder:        embedder,
		store:           store,
		pool:            pool,
		retry:           monitor.DefaultPolicy(),
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
		callTimeout:     defaultCallTimeout,
		spoolDir:        filepath.Join(os.TempDir(), "docbase-spool"),
		logger:          slog.Default().With("component", "ingest"),
		inflight:        make(chan struct{}, defaultMaxInFlight),
		baseCtx:         baseCtx,
		baseCancel:      baseCancel,
		cancels:         make(map[core.ID]context.CancelFunc),
		cancelled:       make(map[core.ID]bool),
	}

	for _, opt := range opts {
		if optErr := opt(o); optErr != nil {
			pool.Release()
			baseCancel()
			return nil, optErr
		}
	}

	return o, nil
}

// SubmitDocument registers the upload, persists a job in the Submitted
// state, and schedules the ingestion pipeline. Unsupported formats fail the
// job immediately without touching the parse service; the failure surfaces
// through the job status, mirroring the asynchronous contract of every
// other failure mode.
func (o *Orchestrator) SubmitDocument(ctx context.Context, doc *core.Document, body io.Reader) (*core.IngestionJob, error) {
	if doc.Id == 0 {
		doc.Id = core.NewRandomID()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	job := core.NewIngestionJob(doc.Id)
	rec := &JobRecord{Job: *job, Document: *doc}

	if err := docintel.ValidateFormat(doc.FileName); err != nil {
		rec.Job.LastError = err.Error()
		if terr := rec.Job.Transition(core.JobFailed); terr != nil {
			return nil, terr
		}
		if perr := o.jobs.Put(ctx, rec); perr != nil {
			return nil, perr
		}
		o.logger.Warn("rejected unsupported document",
			"jobId", rec.Job.Id, "file", doc.FileName, "error", err)
		failed := rec.Job
		return &failed, nil
	}

	spooled, size, err := o.spool(doc, body)
	if err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	rec.Document.FilePath = spooled
	rec.Document.SizeBytes = size

	if err := o.jobs.Put(ctx, rec); err != nil {
		return nil, err
	}

	// Snapshot before scheduling: once the worker owns the record, only it
	// may touch rec.Job.
	submitted := rec.Job

	if err := o.schedule(rec); err != nil {
		return nil, err
	}

	o.logger.Info("document submitted",
		"jobId", submitted.Id, "documentId", doc.Id, "file", doc.FileName, "bytes", size)

	return &submitted, nil
}

// GetJobStatus returns a snapshot of the job's persisted state.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobId core.ID) (*core.IngestionJob, error) {
	rec, err := o.jobs.Get(ctx, jobId)
	if err != nil {
		return nil, err
	}
	job := rec.Job
	return &job, nil
}

// CancelJob requests cancellation. A running job finishes its in-flight
// external call, then transitions Cancelling to Cancelled; a job with no
// active worker is cancelled directly in the store.
func (o *Orchestrator) CancelJob(ctx context.Context, jobId core.ID) error {
	rec, err := o.jobs.Get(ctx, jobId)
	if err != nil {
		return err
	}
	if rec.Job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, rec.Job.Status)
	}

	o.mu.Lock()
	cancel, active := o.cancels[jobId]
	o.cancelled[jobId] = true
	o.mu.Unlock()

	if active {
		cancel()
		o.logger.Info("cancellation requested", "jobId", jobId)
		return nil
	}

	// No worker owns the job; finalize it here.
	if err := rec.Job.Transition(core.JobCancelling); err != nil {
		return err
	}
	if err := rec.Job.Transition(core.JobCancelled); err != nil {
		return err
	}
	if err := o.jobs.Put(ctx, rec); err != nil {
		return err
	}
	o.discardSpool(rec)
	o.logger.Info("job cancelled", "jobId", jobId)
	return nil
}

// Resume schedules every non-terminal job found in the store. Called once
// after process start; replay is safe because chunk IDs are deterministic,
// the embedding cache absorbs repeated texts, and upsert is idempotent.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	pending, err := o.jobs.Pending(ctx)
	if err != nil {
		return 0, err
	}

	for _, rec := range pending {
		jobId, status := rec.Job.Id, rec.Job.Status
		if err := o.schedule(rec); err != nil {
			return 0, err
		}
		o.logger.Info("job resumed", "jobId", jobId, "status", status.String())
	}

	return len(pending), nil
}

// Wait blocks until all scheduled jobs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops accepting work, cancels running jobs, and waits for them to
// persist their state. Jobs interrupted by Close stay non-terminal and are
// picked up by the next Resume.
func (o *Orchestrator) Close() {
	o.baseCancel()
	o.wg.Wait()
	o.pool.Release()
}

func (o *Orchestrator) spool(doc *core.Document, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(o.spoolDir, 0755); err != nil {
		return "", 0, err
	}

	f, err := os.CreateTemp(o.spoolDir, fmt.Sprintf("doc-%d-*%s", doc.Id, filepath.Ext(doc.FileName)))
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	size, err := io.Copy(f, body)
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}

	return f.Name(), size, nil
}

func (o *Orchestrator) discardSpool(rec *JobRecord) {
	if rec.Document.FilePath == "" {
		return
	}
	if err := os.Remove(rec.Document.FilePath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn("removing spooled document", "jobId", rec.Job.Id, "error", err)
	}
}

func (o *Orchestrator) schedule(rec *JobRecord) error {
	jobCtx, cancel := context.WithCancel(o.baseCtx)

	o.mu.Lock()
	o.cancels[rec.Job.Id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	err := o.pool.Submit(func() {
		defer o.wg.Done()
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, rec.Job.Id)
			o.mu.Unlock()
		}()
		o.run(jobCtx, rec)
	})
	if err != nil {
		o.wg.Done()
		cancel()
		o.mu.Lock()
		delete(o.cancels, rec.Job.Id)
		o.mu.Unlock()
		return err
	}

	return nil
}

func (o *Orchestrator) cancelRequested(jobId core.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[jobId]
}

// run executes the pipeline and settles the job's terminal state.
func (o *Orchestrator) run(ctx context.Context, rec *JobRecord) {
	err := o.pipeline(ctx, rec)
	if err == nil {
		o.discardSpool(rec)
		return
	}

	if errors.Is(err, context.Canceled) {
		if o.cancelRequested(rec.Job.Id) {
			o.finalizeCancel(rec)
		} else {
			// Shutdown: leave the persisted state for the next Resume.
			o.logger.Info("job interrupted by shutdown",
				"jobId", rec.Job.Id, "status", rec.Job.Status.String())
		}
		return
	}

	rec.Job.LastError = err.Error()
	if terr := rec.Job.Transition(core.JobFailed); terr != nil {
		o.logger.Error("failing job", "jobId", rec.Job.Id, "error", terr)
	}
	if perr := o.jobs.Put(context.WithoutCancel(ctx), rec); perr != nil {
		o.logger.Error("persisting failed job", "jobId", rec.Job.Id, "error", perr)
	}
	o.discardSpool(rec)
	o.logger.Warn("job failed", "jobId", rec.Job.Id, "error", err)
}

func (o *Orchestrator) finalizeCancel(rec *JobRecord) {
	ctx := context.Background()
	if rec.Job.Status != core.JobCancelling {
		if err := rec.Job.Transition(core.JobCancelling); err != nil {
			o.logger.Error("cancelling job", "jobId", rec.Job.Id, "error", err)
			return
		}
	}
	if err := rec.Job.Transition(core.JobCancelled); err != nil {
		o.logger.Error("cancelling job", "jobId", rec.Job.Id, "error", err)
		return
	}
	if err := o.jobs.Put(ctx, rec); err != nil {
		o.logger.Error("persisting cancelled job", "jobId", rec.Job.Id, "error", err)
	}
	o.discardSpool(rec)
	o.logger.Info("job cancelled", "jobId", rec.Job.Id)
}

// advance moves the job forward to status, persisting the change. A job
// resumed past that stage is left alone: pipeline stages re-derive their
// inputs but never regress persisted state.
func (o *Orchestrator) advance(ctx context.Context, rec *JobRecord, status core.JobStatus, progress int) error {
	if rec.Job.Status >= status {
		return nil
	}
	if err := rec.Job.Transition(status); err != nil {
		return err
	}
	if progress > rec.Job.Progress {
		rec.Job.Progress = progress
	}
	return o.jobs.Put(ctx, rec)
}

// pipeline runs the stages from the job's current state to a terminal one.
func (o *Orchestrator) pipeline(ctx context.Context, rec *JobRecord) error {
	parsed, err := o.parse(ctx, rec)
	if err != nil {
		return err
	}
	if err := o.advance(ctx, rec, core.JobParsed, progressParsed); err != nil {
		return err
	}

	if err := o.advance(ctx, rec, core.JobSplitting, progressSplitting); err != nil {
		return err
	}
	chunks, err := o.splitter.Split(rec.Document.Id, parsed, chunkMetadata(&rec.Document, parsed))
	if err != nil {
		// Splitting is deterministic; a failure here never heals on retry.
		return monitor.AsPermanent(err)
	}

	if err := o.advance(ctx, rec, core.JobEmbedding, progressEmbedBase); err != nil {
		return err
	}
	records, failed, err := o.embedChunks(ctx, rec, chunks)
	if err != nil {
		return err
	}

	if err := o.advance(ctx, rec, core.JobIndexing, progressIndexing); err != nil {
		return err
	}
	if err := o.index(ctx, records); err != nil {
		return err
	}

	return o.complete(ctx, rec, len(chunks), failed)
}

// parse obtains the structured document, submitting first when the record
// has no handle yet. The whole submit-poll cycle is one monitored attempt;
// poll exhaustion is transient, so policy decides whether the submission is
// retried from scratch or the job fails.
func (o *Orchestrator) parse(ctx context.Context, rec *JobRecord) (*split.ParsedDocument, error) {
	if err := o.advance(ctx, rec, core.JobParsing, progressParsing); err != nil {
		return nil, err
	}

	policy := o.retry
	policy.TimeoutPerAttempt = 0 // attempts span the poll loop

	var parsed *split.ParsedDocument
	res := monitor.RunWithLogger(ctx, func(ctx context.Context) error {
		if rec.Handle == "" {
			handle, err := o.submit(ctx, rec)
			if err != nil {
				return err
			}
			rec.Handle = handle
			if err := o.jobs.Put(ctx, rec); err != nil {
				return monitor.AsPermanent(err)
			}
		}

		doc, err := o.pollUntilDone(ctx, rec)
		if err != nil {
			if errors.Is(err, ErrPollExhausted) {
				// Retrying resubmits the document rather than polling a
				// job the service may have abandoned.
				rec.Handle = ""
			}
			return err
		}

		parsed = doc
		return nil
	}, policy, o.logger)

	rec.Job.Attempts = res.Attempts
	if res.Status == monitor.Failed {
		return nil, res.Err
	}
	return parsed, nil
}

func (o *Orchestrator) submit(ctx context.Context, rec *JobRecord) (docintel.JobHandle, error) {
	f, err := os.Open(rec.Document.FilePath)
	if err != nil {
		return "", monitor.AsPermanent(fmt.Errorf("opening spooled document: %w", err))
	}
	defer f.Close()

	if err := o.acquire(ctx); err != nil {
		return "", err
	}
	defer o.release()

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	return o.client.Submit(callCtx, docintel.Submission{
		FileName:    rec.Document.FileName,
		ContentType: rec.Document.MimeType,
		Body:        f,
	})
}

// pollUntilDone polls the handle until the remote job settles or the
// attempt bound is hit. Transient poll errors consume an attempt but do not
// abort the loop.
func (o *Orchestrator) pollUntilDone(ctx context.Context, rec *JobRecord) (*split.ParsedDocument, error) {
	for attempt := 1; attempt <= o.maxPollAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(o.pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		res, err := o.poll(ctx, rec.Handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if monitor.DefaultClassifier(err) == monitor.Permanent {
				return nil, err
			}
			o.logger.Debug("poll attempt failed",
				"jobId", rec.Job.Id, "attempt", attempt, "error", err)
			continue
		}

		switch res.State {
		case docintel.StateSucceeded:
			return res.Result, nil
		case docintel.StateFailed:
			return nil, monitor.AsPermanent(fmt.Errorf("%w: %s", docintel.ErrParseFailed, res.Message))
		default:
			if attempt%10 == 0 {
				o.logger.Info("parse still in progress",
					"jobId", rec.Job.Id, "attempt", attempt, "state", res.State.String())
			}
		}
	}

	return nil, monitor.AsTransient(fmt.Errorf("%w after %d polls", ErrPollExhausted, o.maxPollAttempts))
}

func (o *Orchestrator) poll(ctx context.Context, handle docintel.JobHandle) (*docintel.PollResult, error) {
	if err := o.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.release()

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	return o.client.Poll(callCtx, handle)
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release() {
	<-o.inflight
}

// embedChunks embeds every chunk, tracking failures independently so a
// strict subset of bad chunks degrades the job to PartiallyCompleted
// instead of failing it outright.
func (o *Orchestrator) embedChunks(ctx context.Context, rec *JobRecord, chunks []*core.DocumentChunk) ([]*vectorstore.Record, []core.ID, error) {
	modelVersion := o.embedder.ModelVersion()
	records := make([]*vectorstore.Record, 0, len(chunks))
	var failed []core.ID

	total := len(chunks)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		var vector []float32
		res := monitor.RunWithLogger(ctx, func(ctx context.Context) error {
			v, err := o.embedder.EmbedText(ctx, chunk.Text)
			if err != nil {
				return err
			}
			vector = v
			return nil
		}, o.retry, o.logger)

		rec.Job.Attempts = res.Attempts
		if res.Status == monitor.Failed {
			if errors.Is(res.Err, context.Canceled) {
				return nil, nil, res.Err
			}
			o.logger.Warn("chunk embedding failed",
				"jobId", rec.Job.Id, "chunkId", chunk.Id, "ordinal", chunk.Ordinal, "error", res.Err)
			rec.Job.LastError = res.Err.Error()
			failed = append(failed, chunk.Id)
			continue
		}

		records = append(records, &vectorstore.Record{
			Chunk: *chunk,
			Embedding: core.EmbeddingVector{
				ChunkId:      chunk.Id,
				ModelVersion: modelVersion,
				Vector:       vector,
			},
		})

		progress := progressEmbedBase + (progressIndexing-progressEmbedBase)*(i+1)/total
		if progress > rec.Job.Progress {
			rec.Job.Progress = progress
			if err := o.jobs.Put(ctx, rec); err != nil {
				return nil, nil, err
			}
		}
	}

	if len(records) == 0 {
		return nil, failed, fmt.Errorf("%w: %d chunks", ErrAllChunksFailed, total)
	}

	return records, failed, nil
}

func (o *Orchestrator) index(ctx context.Context, records []*vectorstore.Record) error {
	res := monitor.RunWithLogger(ctx, func(ctx context.Context) error {
		return o.store.Upsert(ctx, records)
	}, o.retry, o.logger)
	if res.Status == monitor.Failed {
		return res.Err
	}
	return nil
}

// complete settles the job: Completed when every chunk made it, otherwise
// PartiallyCompleted carrying the failed chunk IDs for targeted retry.
func (o *Orchestrator) complete(ctx context.Context, rec *JobRecord, total int, failed []core.ID) error {
	if len(failed) == 0 {
		if err := rec.Job.Transition(core.JobCompleted); err != nil {
			return err
		}
		rec.Job.Progress = progressDone
		rec.Job.FailedChunkIds = nil
		if err := o.jobs.Put(ctx, rec); err != nil {
			return err
		}
		o.logger.Info("job completed", "jobId", rec.Job.Id, "chunks", total)
		return nil
	}

	if err := rec.Job.Transition(core.JobPartiallyCompleted); err != nil {
		return err
	}
	rec.Job.Progress = progressDone
	rec.Job.FailedChunkIds = failed
	if err := o.jobs.Put(ctx, rec); err != nil {
		return err
	}
	o.logger.Warn("job partially completed",
		"jobId", rec.Job.Id, "chunks", total, "failedChunks", len(failed))
	return nil
}

// chunkMetadata derives the filterable attributes stamped on every chunk.
func chunkMetadata(doc *core.Document, parsed *split.ParsedDocument) core.ChunkMetadata {
	return core.ChunkMetadata{
		Title:   parsed.Title,
		Source:  doc.FileName,
		Vendor:  doc.Vendor,
		Tags:    doc.Tags,
		DocType: strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.FileName)), "."),
	}
}
