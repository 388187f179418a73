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

package docbase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opsgrid/docbase/ai"
	"github.com/opsgrid/docbase/ai/openai"
	"github.com/opsgrid/docbase/cache"
	"github.com/opsgrid/docbase/config"
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/docintel"
	"github.com/opsgrid/docbase/ingest"
	"github.com/opsgrid/docbase/monitor"
	"github.com/opsgrid/docbase/reindex"
	"github.com/opsgrid/docbase/retrieve"
	"github.com/opsgrid/docbase/split"
	"github.com/opsgrid/docbase/vectorstore"
	"github.com/opsgrid/docbase/vectorstore/local"
	"github.com/opsgrid/docbase/vectorstore/qdrant"
)

// KnowledgeBase is the assembled system: ingestion pipeline, hybrid
// retrieval, and their shared cache and stores, wired from one AppConfig.
type KnowledgeBase struct {
	cfg          *config.AppConfig
	cacheStore   *cache.MemoryStore
	provider     ai.Provider
	embedder     ai.Embedder
	store        vectorstore.Store
	jobs         ingest.JobStore
	orchestrator *ingest.Orchestrator
	engine       *retrieve.Engine
	logger       *slog.Logger
}

// Option configures a KnowledgeBase.
type Option func(*knowledgeBaseOptions)

type knowledgeBaseOptions struct {
	logger *slog.Logger
	client docintel.Client
	store  vectorstore.Store
	jobs   ingest.JobStore
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *knowledgeBaseOptions) {
		o.logger = logger
	}
}

// WithDocIntelClient replaces the HTTP document-intelligence client,
// typically with a test double.
func WithDocIntelClient(client docintel.Client) Option {
	return func(o *knowledgeBaseOptions) {
		o.client = client
	}
}

// WithVectorStore replaces the configured vector store backend.
func WithVectorStore(store vectorstore.Store) Option {
	return func(o *knowledgeBaseOptions) {
		o.store = store
	}
}

// WithJobStore replaces the configured job store.
func WithJobStore(jobs ingest.JobStore) Option {
	return func(o *knowledgeBaseOptions) {
		o.jobs = jobs
	}
}

// New assembles a KnowledgeBase from the configuration.
func New(cfg *config.AppConfig, opts ...Option) (*KnowledgeBase, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	options := &knowledgeBaseOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	cacheStore := cache.NewMemoryStore(cache.WithLogger(logger))

	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(cfg.AI.EmbeddingHost),
		ai.WithEmbeddingModel(cfg.AI.EmbeddingModel),
		ai.WithRerankHost(cfg.AI.RerankHost),
		ai.WithRerankModel(cfg.AI.RerankModel),
		ai.WithAPIKey(cfg.AI.APIKey()),
	)
	provider, err := openai.NewProvider(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("creating AI provider: %w", err)
	}

	embedder, err := ai.NewCachingEmbedder(provider.Embedder(), cacheStore,
		ai.WithTTL(cfg.EmbeddingTTL()), ai.WithLogger(logger))
	if err != nil {
		provider.Close()
		return nil, err
	}

	store := options.store
	if store == nil {
		store, err = openStore(cfg)
		if err != nil {
			provider.Close()
			return nil, err
		}
	}

	client := options.client
	if client == nil {
		client, err = docintel.NewHTTPClient(cfg.DocIntel.BaseURL,
			docintel.WithAPIKey(cfg.DocIntel.APIKey()), docintel.WithLogger(logger))
		if err != nil {
			store.Close()
			provider.Close()
			return nil, err
		}
	}

	splitter, err := split.NewSplitter(split.Config{
		MaxChunkLen: cfg.Split.MaxChunkLen,
		MinChunkLen: cfg.Split.MinChunkLen,
		Overlap:     cfg.Split.Overlap,
	}, split.WithLogger(logger))
	if err != nil {
		store.Close()
		provider.Close()
		return nil, err
	}

	jobs := options.jobs
	if jobs == nil {
		jobs, err = ingest.OpenJobStore(cfg.Ingest.JobsPath, false)
		if err != nil {
			store.Close()
			provider.Close()
			return nil, err
		}
	}

	orchestratorOpts := []ingest.Option{
		ingest.WithRetryPolicy(retryPolicy(cfg)),
		ingest.WithPollInterval(cfg.PollInterval()),
		ingest.WithMaxPollAttempts(cfg.DocIntel.MaxPollAttempts),
		ingest.WithCallTimeout(cfg.CallTimeout()),
		ingest.WithMaxInFlight(cfg.DocIntel.MaxInFlight),
		ingest.WithSpoolDir(cfg.Ingest.SpoolDir),
		ingest.WithLogger(logger),
	}
	if cfg.Ingest.PoolSize > 0 {
		orchestratorOpts = append(orchestratorOpts, ingest.WithPoolSize(cfg.Ingest.PoolSize))
	}
	orchestrator, err := ingest.NewOrchestrator(jobs, client, splitter, embedder, store, orchestratorOpts...)
	if err != nil {
		jobs.Close()
		store.Close()
		provider.Close()
		return nil, err
	}

	engineOpts := []retrieve.Option{
		retrieve.WithRerankTTL(cfg.RerankTTL()),
		retrieve.WithLogger(logger),
	}
	if cfg.Retrieve.RerankEnabled {
		engineOpts = append(engineOpts, retrieve.WithReranker(provider.Reranker()))
	}
	engine, err := retrieve.NewEngine(store, embedder, cacheStore, retrieve.Config{
		VectorWeight:  cfg.Retrieve.VectorWeight,
		KeywordWeight: cfg.Retrieve.KeywordWeight,
		VectorTopK:    cfg.Retrieve.VectorTopK,
		KeywordTopK:   cfg.Retrieve.KeywordTopK,
		TopK:          cfg.Retrieve.TopK,
		RerankTopN:    cfg.Retrieve.RerankTopN,
	}, engineOpts...)
	if err != nil {
		orchestrator.Close()
		jobs.Close()
		store.Close()
		provider.Close()
		return nil, err
	}

	return &KnowledgeBase{
		cfg:          cfg,
		cacheStore:   cacheStore,
		provider:     provider,
		embedder:     embedder,
		store:        store,
		jobs:         jobs,
		orchestrator: orchestrator,
		engine:       engine,
		logger:       logger,
	}, nil
}

func openStore(cfg *config.AppConfig) (vectorstore.Store, error) {
	switch cfg.Store.Type {
	case "qdrant":
		q := cfg.Store.Qdrant
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return qdrant.New(ctx, q.Host, q.Port, q.Collection, q.Dimension)
	default:
		return local.Open(cfg.Store.Path, false)
	}
}

func retryPolicy(cfg *config.AppConfig) monitor.Policy {
	return monitor.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseBackoff:       time.Duration(cfg.Retry.BaseBackoffMillis) * time.Millisecond,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		Jitter:            time.Duration(cfg.Retry.JitterMillis) * time.Millisecond,
		QuotaBackoffFloor: time.Duration(cfg.Retry.QuotaBackoffFloorSecs) * time.Second,
		TimeoutPerAttempt: time.Duration(cfg.Retry.TimeoutPerAttemptSecs) * time.Second,
	}
}

// Upload describes one document handed to SubmitDocument.
type Upload struct {
	FileName string
	MimeType string
	Vendor   string
	Tags     []string
}

// SubmitDocument registers an upload and schedules its ingestion. The
// returned job reflects the initial persisted state; progress is observed
// through GetJobStatus.
func (kb *KnowledgeBase) SubmitDocument(ctx context.Context, upload Upload, body io.Reader) (*core.IngestionJob, error) {
	doc := &core.Document{
		FileName: upload.FileName,
		MimeType: upload.MimeType,
		Vendor:   upload.Vendor,
		Tags:     upload.Tags,
	}
	return kb.orchestrator.SubmitDocument(ctx, doc, body)
}

// GetJobStatus returns the current persisted state of an ingestion job.
func (kb *KnowledgeBase) GetJobStatus(ctx context.Context, jobId core.ID) (*core.IngestionJob, error) {
	return kb.orchestrator.GetJobStatus(ctx, jobId)
}

// CancelJob requests cancellation of an ingestion job.
func (kb *KnowledgeBase) CancelJob(ctx context.Context, jobId core.ID) error {
	return kb.orchestrator.CancelJob(ctx, jobId)
}

// Resume schedules every non-terminal job left over from a previous run.
func (kb *KnowledgeBase) Resume(ctx context.Context) (int, error) {
	return kb.orchestrator.Resume(ctx)
}

// Wait blocks until every scheduled ingestion job has finished.
func (kb *KnowledgeBase) Wait() {
	kb.orchestrator.Wait()
}

// Search runs a hybrid retrieval query.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, opts *retrieve.Options) (*retrieve.Response, error) {
	return kb.engine.Search(ctx, query, opts)
}

// DeleteDocument removes every indexed chunk belonging to the document.
func (kb *KnowledgeBase) DeleteDocument(ctx context.Context, documentId core.ID) error {
	return kb.store.DeleteDocument(ctx, documentId)
}

// NewReindexer creates a reindexer over the knowledge base's store and
// embedder, for use after an embedding-model change.
func (kb *KnowledgeBase) NewReindexer(cfg *reindex.Config, progress io.Writer) (*reindex.Reindexer, error) {
	return reindex.NewReindexer(kb.store, kb.embedder, cfg, progress)
}

// Close drains running jobs and releases every resource.
func (kb *KnowledgeBase) Close() error {
	kb.orchestrator.Close()

	if err := kb.provider.Close(); err != nil {
		kb.logger.Error("error closing AI provider", "err", err)
	}
	if err := kb.jobs.Close(); err != nil {
		kb.logger.Error("error closing job store", "err", err)
		return err
	}
	if err := kb.store.Close(); err != nil {
		kb.logger.Error("error closing vector store", "err", err)
		return err
	}
	return nil
}
