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


// Package cache provides a TTL key/value store with single-flight
// get-or-compute semantics.
//
// GetOrCompute guarantees at most one concurrent computation per key:
// concurrent callers with the same key block on the single in-flight
// computation and receive its result. The embedding service and the rerank
// stage share one Store instance, passed explicitly rather than held in
// package state.
package cache
