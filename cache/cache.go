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


package cache

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ComputeFunc produces a value for a key on cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Store is a key/value cache with TTL and single-flight get-or-compute
// semantics. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the cached value for key. Expired entries are misses.
	Get(key string) (any, bool)

	// Set stores value under key with the given TTL. A non-positive TTL
	// stores the entry without expiry.
	Set(key string, value any, ttl time.Duration)

	// GetOrCompute returns the cached value for key, computing it via fn on
	// miss. At most one computation per key is in flight at any time;
	// concurrent callers with the same key wait for that computation and
	// share its result. A failed computation propagates its error to all
	// waiters and does not populate the cache.
	GetOrCompute(ctx context.Context, key string, fn ComputeFunc, ttl time.Duration) (any, error)

	// Delete removes the entry for key, if present.
	Delete(key string)
}

// Key builds a cache key from a prefix and arbitrary parts. Parts are joined
// and hashed with BLAKE2b so keys stay fixed-length regardless of content
// size, while the prefix stays readable for debugging.
func Key(prefix string, parts ...string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(prefix))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(h.Sum(nil)))
	return b.String()
}
