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


package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/docflow/ai"
	"github.com/poiesic/docflow/partition"
	"github.com/poiesic/docflow/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of documents fetched per scan batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for embedding calls
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reembedder rebuilds the embeddings for every chunk a bot has stored,
// overwriting the rows in the bot's vector partition.
type Reembedder struct {
	resolver  *partition.Resolver
	docs      storage.DocumentStore
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(resolver *partition.Resolver, docs storage.DocumentStore, vectors storage.VectorStore, embedder ai.Embedder, config *Config, progress io.Writer) *Reembedder {
	if config == nil {
		config = DefaultConfig()
	}

	processor := NewBatchProcessor(vectors, embedder, config.MaxRetries, config.RetryDelay)
	iterator := NewDocumentIterator(docs, config.BatchSize)

	return &Reembedder{
		resolver:  resolver,
		docs:      docs,
		config:    config,
		progress:  progress,
		processor: processor,
		iterator:  iterator,
	}
}

// Run re-embeds every chunk in the bot's partition with the configured
// embedder. Progress is reported to the configured writer. The run is
// restartable: an interrupted run leaves a mix of old and new vectors, and
// re-running overwrites all of them.
func (r *Reembedder) Run(ctx context.Context, botID string) error {
	mapping, err := r.resolver.Ensure(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to resolve partition: %w", err)
	}

	total, err := r.docs.CountChunks(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks stored for bot %s\n", botID)
		return nil
	}

	fmt.Fprintf(r.progress, "Reembedding %d chunks for bot %s (batch size: %d documents)\n",
		total, botID, r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	err = r.iterator.ForEach(ctx, botID, func(doc *storage.DocumentChunks) error {
		if err := r.processor.Process(ctx, mapping.PartitionName, doc); err != nil {
			return fmt.Errorf("failed to process document %d: %w", doc.DocId, err)
		}

		processed += len(doc.Chunks)
		tracker.Update(processed)
		return nil
	})
	if err != nil {
		return err
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		total, elapsed.Round(time.Second), float64(total)/elapsed.Seconds())

	return nil
}
