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


// Package storage provides the storage abstraction layer for docflow.
//
// This package defines the store interfaces that decouple storage
// implementation from orchestration logic. Three stores back the engine:
//
//   - JobStore: durable job and result state (BadgerDB)
//   - DocumentStore: canonical document metadata and chunk text (PostgreSQL)
//   - VectorStore: chunk embeddings partitioned per bot (pgvector)
//
// # Constructor Return Type Pattern
//
// This package follows a strict "return interface" pattern for all public
// constructors to enforce abstraction and enable multiple backend
// implementations:
//
//	jobs, err := badger.NewJobStore(path)  // returns storage.JobStore interface
//
// This design decision prioritizes:
//   - Abstraction: Prevents accidental coupling to backend specifics
//   - Swappability: Easy to add alternative backends (in-memory, etc.)
//   - Testing: Consumers can use mock implementations without modification
//
// Internal package constructors (newBackend, etc.) may return concrete types
// since they're only used within the implementation package.
//
// # Durability Contract
//
// The JobStore is the engine's source of truth for crash recovery. Every
// write it acknowledges must be visible to a process that restarts
// immediately afterwards: a job reported as created is found by the recovery
// scan, and a document result reported as recorded is never re-processed.
//
// # Thread Safety
//
// All store implementations must be thread-safe and support concurrent
// access from multiple goroutines.
//
// # Context Support
//
// All store methods accept context.Context for cancellation and timeout
// support. Pass context.Background() for operations without specific
// timeout requirements.
package storage
