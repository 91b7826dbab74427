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


package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidJob indicates a Job failed validation.
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyBotId indicates the BotId field is empty.
	ErrEmptyBotId = errors.New("bot id cannot be empty")

	// ErrEmptyContentKey indicates the ContentKey field is empty.
	ErrEmptyContentKey = errors.New("content key cannot be empty")

	// ErrNoChunks indicates a document was submitted with no chunks.
	ErrNoChunks = errors.New("document must have at least one chunk")

	// ErrEmptyChunk indicates a chunk with empty text.
	ErrEmptyChunk = errors.New("chunk text cannot be empty")

	// ErrInvalidJobStatus indicates an invalid JobStatus value.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrAlreadyExists indicates a document's content key is already present
	// in the bot's partition.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCancelled indicates processing stopped because cancellation was
	// requested for the job.
	ErrCancelled = errors.New("cancelled")
)

// CompensationError reports that a document's insert failed AND the rollback
// of its already-applied writes also failed, leaving orphaned rows behind.
// It wraps the compensation fault; the original insert fault is kept as text.
type CompensationError struct {
	ContentKey string
	Cause      string // the insert failure that triggered compensation
	Err        error  // the compensation failure itself
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for %q (after: %s): %v", e.ContentKey, e.Cause, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}
