package core

import (
	"errors"
	"testing"
)

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		job     *Job
		wantErr error
	}{
		{
			name: "valid pending job",
			job: &Job{
				Id:            "f6c7a2e0-9d1b-4a52-8f3e-1c2d3e4f5a6b",
				BotId:         "bot-1",
				Status:        JobStatusPending,
				DocumentCount: 3,
			},
			wantErr: nil,
		},
		{
			name: "valid empty batch",
			job: &Job{
				Id:            "f6c7a2e0-9d1b-4a52-8f3e-1c2d3e4f5a6b",
				BotId:         "bot-1",
				Status:        JobStatusCompleted,
				DocumentCount: 0,
			},
			wantErr: nil,
		},
		{
			name:    "nil job",
			job:     nil,
			wantErr: ErrInvalidJob,
		},
		{
			name: "empty id",
			job: &Job{
				BotId:  "bot-1",
				Status: JobStatusPending,
			},
			wantErr: ErrInvalidJob,
		},
		{
			name: "empty bot id",
			job: &Job{
				Id:     "f6c7a2e0-9d1b-4a52-8f3e-1c2d3e4f5a6b",
				Status: JobStatusPending,
			},
			wantErr: ErrEmptyBotId,
		},
		{
			name: "unknown status",
			job: &Job{
				Id:     "f6c7a2e0-9d1b-4a52-8f3e-1c2d3e4f5a6b",
				BotId:  "bot-1",
				Status: JobStatus(42),
			},
			wantErr: ErrInvalidJobStatus,
		},
		{
			name: "negative document count",
			job: &Job{
				Id:            "f6c7a2e0-9d1b-4a52-8f3e-1c2d3e4f5a6b",
				BotId:         "bot-1",
				Status:        JobStatusPending,
				DocumentCount: -1,
			},
			wantErr: ErrInvalidJob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJob(tt.job)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateJob() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name: "valid document",
			doc: &Document{
				ContentKey: "https://example.com/page",
				Chunks:     []Chunk{{Index: 0, Text: "some text"}},
			},
			wantErr: nil,
		},
		{
			name: "valid document with metadata",
			doc: &Document{
				ContentKey: "manual.pdf",
				Metadata:   map[string]string{"source": "upload"},
				Chunks:     []Chunk{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}},
			},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name: "empty content key",
			doc: &Document{
				Chunks: []Chunk{{Index: 0, Text: "text"}},
			},
			wantErr: ErrEmptyContentKey,
		},
		{
			name: "no chunks",
			doc: &Document{
				ContentKey: "doc",
			},
			wantErr: ErrNoChunks,
		},
		{
			name: "empty chunk text",
			doc: &Document{
				ContentKey: "doc",
				Chunks:     []Chunk{{Index: 0, Text: "ok"}, {Index: 1, Text: ""}},
			},
			wantErr: ErrEmptyChunk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompensationError(t *testing.T) {
	inner := errors.New("connection reset")
	cerr := &CompensationError{
		ContentKey: "doc-3",
		Cause:      "vector insert failed",
		Err:        inner,
	}

	if !errors.Is(cerr, inner) {
		t.Errorf("errors.Is() should unwrap to the compensation fault")
	}

	msg := cerr.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
}
