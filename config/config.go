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

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AIConfig configures the OpenAI-compatible embedding and rerank endpoints.
type AIConfig struct {
	EmbeddingHost  string `yaml:"embedding_host"`
	EmbeddingModel string `yaml:"embedding_model"`
	RerankHost     string `yaml:"rerank_host"`
	RerankModel    string `yaml:"rerank_model"`
	APIKeyEnv      string `yaml:"api_key_env"`
}

// APIKey resolves the key from the configured environment variable.
func (c AIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// DocIntelConfig configures the document-intelligence service connection
// and the polling bounds the orchestrator applies to it.
type DocIntelConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	PollIntervalSecs int    `yaml:"poll_interval_secs"`
	MaxPollAttempts  int    `yaml:"max_poll_attempts"`
	CallTimeoutSecs  int    `yaml:"call_timeout_secs"`
	MaxInFlight      int    `yaml:"max_in_flight"`
}

// APIKey resolves the key from the configured environment variable.
func (c DocIntelConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Type is "local" or "qdrant".
	Type   string        `yaml:"type"`
	Path   string        `yaml:"path,omitempty"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// SplitConfig configures chunk sizing.
type SplitConfig struct {
	MaxChunkLen int `yaml:"max_chunk_len"`
	MinChunkLen int `yaml:"min_chunk_len"`
	Overlap     int `yaml:"overlap"`
}

// RetryConfig maps the task-monitor policy.
type RetryConfig struct {
	MaxAttempts           int     `yaml:"max_attempts"`
	BaseBackoffMillis     int     `yaml:"base_backoff_millis"`
	BackoffMultiplier     float64 `yaml:"backoff_multiplier"`
	JitterMillis          int     `yaml:"jitter_millis"`
	QuotaBackoffFloorSecs int     `yaml:"quota_backoff_floor_secs"`
	TimeoutPerAttemptSecs int     `yaml:"timeout_per_attempt_secs"`
}

// RetrieveConfig configures hybrid fusion and reranking.
type RetrieveConfig struct {
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`
	VectorTopK    int     `yaml:"vector_top_k"`
	KeywordTopK   int     `yaml:"keyword_top_k"`
	TopK          int     `yaml:"top_k"`
	RerankEnabled bool    `yaml:"rerank_enabled"`
	RerankTopN    int     `yaml:"rerank_top_n"`
}

// CacheConfig configures the single-flight TTL cache.
type CacheConfig struct {
	EmbeddingTTLSecs int `yaml:"embedding_ttl_secs"`
	RerankTTLSecs    int `yaml:"rerank_ttl_secs"`
}

// IngestConfig configures the orchestrator's pool and spool.
type IngestConfig struct {
	PoolSize int    `yaml:"pool_size"`
	JobsPath string `yaml:"jobs_path"`
	SpoolDir string `yaml:"spool_dir"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	AI       AIConfig       `yaml:"ai"`
	DocIntel DocIntelConfig `yaml:"docintel"`
	Store    StoreConfig    `yaml:"store"`
	Split    SplitConfig    `yaml:"split"`
	Retry    RetryConfig    `yaml:"retry"`
	Retrieve RetrieveConfig `yaml:"retrieve"`
	Cache    CacheConfig    `yaml:"cache"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

// Default returns the configuration used when no file is present: a local
// badger-backed index, a local OpenAI-compatible embedding endpoint, and
// reranking disabled.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a config file, layering any .env file in the working directory
// first so `${VAR}`-style key references resolve. A missing config file
// yields defaults rather than an error.
func Load(path string) (*AppConfig, error) {
	// Absent .env files are fine; explicit load keeps env handling visible.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations no component would accept.
func (c *AppConfig) Validate() error {
	switch c.Store.Type {
	case "local":
		if c.Store.Path == "" {
			return errors.New("config: store.path required for local store")
		}
	case "qdrant":
		if c.Store.Qdrant == nil || c.Store.Qdrant.Host == "" {
			return errors.New("config: store.qdrant.host required for qdrant store")
		}
	default:
		return fmt.Errorf("config: unknown store type %q", c.Store.Type)
	}

	if c.Retrieve.VectorWeight < 0 || c.Retrieve.KeywordWeight < 0 {
		return errors.New("config: fusion weights must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("config: retry.max_attempts must be positive")
	}
	if c.DocIntel.MaxPollAttempts <= 0 {
		return errors.New("config: docintel.max_poll_attempts must be positive")
	}
	return nil
}

// PollInterval returns the poll interval as a duration.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.DocIntel.PollIntervalSecs) * time.Second
}

// CallTimeout returns the per-call timeout as a duration.
func (c *AppConfig) CallTimeout() time.Duration {
	return time.Duration(c.DocIntel.CallTimeoutSecs) * time.Second
}

// EmbeddingTTL returns the embedding-cache TTL as a duration.
func (c *AppConfig) EmbeddingTTL() time.Duration {
	return time.Duration(c.Cache.EmbeddingTTLSecs) * time.Second
}

// RerankTTL returns the rerank-cache TTL as a duration.
func (c *AppConfig) RerankTTL() time.Duration {
	return time.Duration(c.Cache.RerankTTLSecs) * time.Second
}

func applyDefaults(cfg *AppConfig) {
	if cfg.AI.EmbeddingHost == "" {
		cfg.AI.EmbeddingHost = "http://localhost:11434/v1"
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = "embeddinggemma"
	}

	if cfg.DocIntel.BaseURL == "" {
		cfg.DocIntel.BaseURL = "http://localhost:8970"
	}
	if cfg.DocIntel.PollIntervalSecs == 0 {
		cfg.DocIntel.PollIntervalSecs = 10
	}
	if cfg.DocIntel.MaxPollAttempts == 0 {
		cfg.DocIntel.MaxPollAttempts = 120
	}
	if cfg.DocIntel.CallTimeoutSecs == 0 {
		cfg.DocIntel.CallTimeoutSecs = 60
	}
	if cfg.DocIntel.MaxInFlight == 0 {
		cfg.DocIntel.MaxInFlight = 4
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "local"
	}
	if cfg.Store.Type == "local" && cfg.Store.Path == "" {
		cfg.Store.Path = "data/index"
	}

	if cfg.Split.MaxChunkLen == 0 {
		cfg.Split.MaxChunkLen = 2000
	}
	if cfg.Split.MinChunkLen == 0 {
		cfg.Split.MinChunkLen = 200
	}
	if cfg.Split.Overlap == 0 {
		cfg.Split.Overlap = 120
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoffMillis == 0 {
		cfg.Retry.BaseBackoffMillis = 1000
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2
	}
	if cfg.Retry.JitterMillis == 0 {
		cfg.Retry.JitterMillis = 250
	}
	if cfg.Retry.QuotaBackoffFloorSecs == 0 {
		cfg.Retry.QuotaBackoffFloorSecs = 10
	}
	if cfg.Retry.TimeoutPerAttemptSecs == 0 {
		cfg.Retry.TimeoutPerAttemptSecs = 30
	}

	if cfg.Retrieve.VectorWeight == 0 && cfg.Retrieve.KeywordWeight == 0 {
		cfg.Retrieve.VectorWeight = 0.6
		cfg.Retrieve.KeywordWeight = 0.4
	}
	if cfg.Retrieve.VectorTopK == 0 {
		cfg.Retrieve.VectorTopK = 20
	}
	if cfg.Retrieve.KeywordTopK == 0 {
		cfg.Retrieve.KeywordTopK = 20
	}
	if cfg.Retrieve.TopK == 0 {
		cfg.Retrieve.TopK = 10
	}
	if cfg.Retrieve.RerankTopN == 0 {
		cfg.Retrieve.RerankTopN = 8
	}

	if cfg.Cache.EmbeddingTTLSecs == 0 {
		cfg.Cache.EmbeddingTTLSecs = 3600
	}
	if cfg.Cache.RerankTTLSecs == 0 {
		cfg.Cache.RerankTTLSecs = 1800
	}

	if cfg.Ingest.JobsPath == "" {
		cfg.Ingest.JobsPath = "data/jobs"
	}
	if cfg.Ingest.SpoolDir == "" {
		cfg.Ingest.SpoolDir = "data/spool"
	}
}
