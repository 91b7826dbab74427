// Copyright 2025 Poiesic Systems
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


// Package partition routes bots to their physical partitions and keeps the
// two stores aligned.
//
// The relational store owns the canonical mapping; the vector-side partition
// is created only after the canonical mapping is known, so concurrent
// registrations of the same bot converge on one partition. A vector-side
// creation that fails after relational-side success is retried the next time
// Ensure runs for that bot, since both creations are idempotent.
package partition

import (
	"context"
	"log/slog"
	"sync"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

// Resolver caches bot partition mappings. The cache is read-mostly and safe
// for concurrent use; writes are serialized by the relational store's
// conflict resolution, not by this process, since multiple processes may
// run workers.
type Resolver struct {
	docs    storage.DocumentStore
	vectors storage.VectorStore
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*core.PartitionMapping
}

// NewResolver creates a resolver over the two stores.
func NewResolver(docs storage.DocumentStore, vectors storage.VectorStore) *Resolver {
	return &Resolver{
		docs:    docs,
		vectors: vectors,
		logger:  slog.Default().With("component", "partition-resolver"),
		cache:   make(map[string]*core.PartitionMapping),
	}
}

func (r *Resolver) cached(botID string) *core.PartitionMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[botID]
}

func (r *Resolver) store(mapping *core.PartitionMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[mapping.BotId] = mapping
}

// Resolve returns the partition mapping for a registered bot.
// Cache miss falls through to the relational store; an unregistered bot
// yields storage.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	if mapping := r.cached(botID); mapping != nil {
		return mapping, nil
	}

	mapping, err := r.docs.GetPartition(ctx, botID)
	if err != nil {
		return nil, err
	}
	r.store(mapping)
	return mapping, nil
}

// Ensure creates the partition in both stores if absent and returns the
// canonical mapping. Always runs the vector-side creation, even on a cache
// hit, so a vector partition lost after relational-side success self-heals.
func (r *Resolver) Ensure(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	mapping := r.cached(botID)
	if mapping == nil {
		var err error
		mapping, err = r.docs.RegisterBot(ctx, botID)
		if err != nil {
			return nil, err
		}
	}

	if err := r.vectors.EnsurePartition(ctx, mapping.PartitionName); err != nil {
		// Not cached: the next Ensure must retry the vector side.
		return nil, err
	}

	r.store(mapping)
	r.logger.Debug("partition ensured", "botId", botID, "partition", mapping.PartitionName)
	return mapping, nil
}
