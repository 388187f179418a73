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


package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/opsgrid/docbase/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const rerankSystemPrompt = `You are a relevance judge for technical documentation retrieval.
Given a query and a passage, rate how relevant the passage is to answering the query.
Respond with a single number between 0.00 and 1.00 and nothing else.
1.00 means the passage directly answers the query, 0.00 means it is unrelated.`

// Reranker implements ai.Reranker using an OpenAI-compatible chat model as a
// relevance judge.
type Reranker struct {
	client llms.Model
	model  string
	logger *slog.Logger
}

var _ ai.Reranker = (*Reranker)(nil)

// newReranker is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newReranker(config *ai.Config) (*Reranker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.RerankHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.RerankModel),
	)
	if err != nil {
		return nil, err
	}

	return &Reranker{
		client: client,
		model:  config.RerankModel,
		logger: slog.Default().With("component", "openai-reranker"),
	}, nil
}

// NewReranker creates a new reranker using the provided configuration.
//
// Returns ai.Reranker interface to enforce abstraction.
func NewReranker(config *ai.Config) (ai.Reranker, error) {
	return newReranker(config)
}

// ModelVersion returns the configured rerank model identifier.
func (r *Reranker) ModelVersion() string {
	return r.model
}

// Score asks the model to rate the passage's relevance to the query.
// The model's reply is parsed as a float and clamped to [0,1].
func (r *Reranker) Score(ctx context.Context, query, passage string) (float64, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(rerankSystemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(fmt.Sprintf("Query: %s\n\nPassage: %s", query, passage))},
		},
	}

	response, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		r.logger.Error("rerank call failed", "err", err)
		return 0, err
	}
	if len(response.Choices) < 1 {
		return 0, fmt.Errorf("reranker returned no choices")
	}

	return parseScore(response.Choices[0].Content)
}

// parseScore extracts the leading float from a model reply and clamps it to [0,1].
func parseScore(reply string) (float64, error) {
	reply = strings.TrimSpace(reply)
	// Some models wrap the number in prose; take the first token that parses.
	for _, field := range strings.Fields(reply) {
		field = strings.Trim(field, "`\"'.,:")
		score, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		return score, nil
	}
	return 0, fmt.Errorf("unparseable rerank reply: %q", reply)
}
