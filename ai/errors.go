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


package ai

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrCacheRequired is returned when a cache store is not provided.
	ErrCacheRequired = errors.New("cache store required")

	// ErrEmbeddingMismatch indicates the upstream returned a different number
	// of embeddings than texts submitted.
	ErrEmbeddingMismatch = errors.New("embedding count does not match text count")
)
