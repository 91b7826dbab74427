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

import "fmt"

// ValidateJob validates a Job according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - BotId must not be empty
//   - Status must be a known value
//   - DocumentCount must not be negative
//
// NOT validated (set during processing):
//   - StartedAt / CompletedAt (zero until the corresponding transition)
//   - Error (empty unless the job failed)
func ValidateJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}

	if job.Id == "" {
		return fmt.Errorf("%w: job id cannot be empty", ErrInvalidJob)
	}

	if job.BotId == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyBotId)
	}

	if err := ValidateJobStatus(job.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if job.DocumentCount < 0 {
		return fmt.Errorf("%w: document count cannot be negative", ErrInvalidJob)
	}

	return nil
}

// ValidateDocument validates a submitted Document according to domain rules.
//
// Validation rules:
//   - ContentKey must not be empty
//   - At least one chunk must be present
//   - Every chunk must carry non-empty text
//
// NOT validated:
//   - Metadata (any map, including nil, is accepted)
//   - Chunk.Index (reassigned to submission order at insert time)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.ContentKey == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContentKey)
	}

	if len(doc.Chunks) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrNoChunks)
	}

	for i, c := range doc.Chunks {
		if c.Text == "" {
			return fmt.Errorf("%w: %w (index %d)", ErrInvalidDocument, ErrEmptyChunk, i)
		}
	}

	return nil
}

// ValidateJobStatus validates that a JobStatus has a known value.
func ValidateJobStatus(status JobStatus) error {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidJobStatus, status)
	}
}
