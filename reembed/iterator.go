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

	"github.com/poiesic/docflow/storage"
)

const (
	// DefaultBatchSize is the default number of documents to fetch in each batch
	DefaultBatchSize = 100
)

// DocumentIterator pages through a bot's documents together with their
// chunk rows, in ascending document ID order.
type DocumentIterator struct {
	docs      storage.DocumentStore
	batchSize int
}

// NewDocumentIterator creates a new document iterator.
// batchSize: number of documents to fetch in each batch (must be > 0)
func NewDocumentIterator(docs storage.DocumentStore, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &DocumentIterator{
		docs:      docs,
		batchSize: batchSize,
	}
}

// ForEach iterates over all documents in the bot's partition, calling fn
// once per document. Iteration stops on the first error from fn or when the
// scan reaches the end. Context cancellation is checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, botID string, fn func(*storage.DocumentChunks) error) error {
	var afterDoc int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := it.docs.ListChunks(ctx, botID, afterDoc, it.batchSize)
		if err != nil {
			return fmt.Errorf("failed to list chunks: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, doc := range batch {
			if err := fn(doc); err != nil {
				return err
			}
		}
		afterDoc = batch[len(batch)-1].DocId
	}
}
