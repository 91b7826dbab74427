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


package docflow

import (
	"context"
	"io"
	"log/slog"

	"github.com/poiesic/docflow/ai"
	"github.com/poiesic/docflow/ai/openai"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/ingestion"
	"github.com/poiesic/docflow/partition"
	"github.com/poiesic/docflow/reembed"
	"github.com/poiesic/docflow/search"
	"github.com/poiesic/docflow/storage"
	badgerstore "github.com/poiesic/docflow/storage/badger"
	"github.com/poiesic/docflow/storage/pgvector"
	"github.com/poiesic/docflow/storage/postgres"
)

// System wires the three stores and the embedding service together:
// a local badger database for durable job state, PostgreSQL for document
// metadata and chunk text, and a pgvector database for embeddings.
type System struct {
	backend  *badgerstore.Backend
	jobs     storage.JobStore
	docs     storage.DocumentStore
	vectors  storage.VectorStore
	embedder ai.Embedder
	resolver *partition.Resolver
	logger   *slog.Logger
}

// SystemOption configures a System.
type SystemOption func(*systemOptions)

type systemOptions struct {
	aiConfig     *ai.Config
	jobStoreOpts []badgerstore.JobStoreOption
}

// WithAIConfig sets the embedding service configuration.
// Default is ai.DefaultConfig().
func WithAIConfig(cfg *ai.Config) SystemOption {
	return func(o *systemOptions) {
		if cfg != nil {
			o.aiConfig = cfg
		}
	}
}

// WithJobStoreOptions forwards options to the job store, such as
// retention TTL overrides.
func WithJobStoreOptions(opts ...badgerstore.JobStoreOption) SystemOption {
	return func(o *systemOptions) {
		o.jobStoreOpts = append(o.jobStoreOpts, opts...)
	}
}

// NewSystem opens the job database at jobPath, connects to the relational
// and vector stores, and runs the relational migrations.
func NewSystem(ctx context.Context, jobPath, relationalURL, vectorURL string, opts ...SystemOption) (*System, error) {
	options := &systemOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	backend, err := badgerstore.OpenBackend(jobPath, false)
	if err != nil {
		return nil, err
	}

	jobs, err := badgerstore.NewJobStore(backend, options.jobStoreOpts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	docs, err := postgres.Connect(ctx, relationalURL)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := docs.Migrate(ctx); err != nil {
		docs.Close()
		backend.Close()
		return nil, err
	}

	vectors, err := pgvector.Connect(ctx, vectorURL, options.aiConfig.Dimension)
	if err != nil {
		docs.Close()
		backend.Close()
		return nil, err
	}

	embedder, err := openai.NewEmbedder(options.aiConfig)
	if err != nil {
		vectors.Close()
		docs.Close()
		backend.Close()
		return nil, err
	}

	return &System{
		backend:  backend,
		jobs:     jobs,
		docs:     docs,
		vectors:  vectors,
		embedder: embedder,
		resolver: partition.NewResolver(docs, vectors),
		logger:   slog.Default(),
	}, nil
}

func (s *System) Close() error {
	if err := s.vectors.Close(); err != nil {
		s.logger.Error("error closing vector store", "err", err)
	}
	if err := s.docs.Close(); err != nil {
		s.logger.Error("error closing document store", "err", err)
	}

	// The job store owns the backend.
	if err := s.jobs.Close(); err != nil {
		s.logger.Error("error closing job store", "err", err)
		return err
	}
	return nil
}

func (s *System) JobStore() storage.JobStore {
	return s.jobs
}

func (s *System) DocumentStore() storage.DocumentStore {
	return s.docs
}

func (s *System) VectorStore() storage.VectorStore {
	return s.vectors
}

// EnsureBot registers a bot's partition in both stores if absent and
// returns the canonical mapping.
func (s *System) EnsureBot(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	return s.resolver.Ensure(ctx, botID)
}

// NewEngine creates an ingestion engine over the system's stores.
func (s *System) NewEngine(opts ...ingestion.Option) (*ingestion.Engine, error) {
	return ingestion.NewEngine(s.jobs, s.docs, s.vectors, s.embedder, opts...)
}

// NewSearcher creates a searcher over the system's stores.
func (s *System) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(s.resolver, s.docs, s.vectors, s.embedder, opts...)
}

// NewReembedder creates a reembedder over the system's stores, writing
// progress to w.
func (s *System) NewReembedder(config *reembed.Config, w io.Writer) *reembed.Reembedder {
	return reembed.NewReembedder(s.resolver, s.docs, s.vectors, s.embedder, config, w)
}
