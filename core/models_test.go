package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "same content produces same ID",
			content: "test content",
		},
		{
			name:    "empty string",
			content: "",
		},
		{
			name:    "long content",
			content: "This is a much longer piece of content that should still hash consistently",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent("content1")
	id2 := IDFromContent("content2")

	if id1 == id2 {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestJobStatus_String(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   string
	}{
		{JobStatusPending, "pending"},
		{JobStatusProcessing, "processing"},
		{JobStatusCompleted, "completed"},
		{JobStatusFailed, "failed"},
		{JobStatusCancelled, "cancelled"},
		{JobStatus(0), "unknown"},
		{JobStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_RetentionClass(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   RetentionClass
	}{
		{JobStatusPending, RetentionLive},
		{JobStatusProcessing, RetentionLive},
		{JobStatusCompleted, RetentionCompleted},
		{JobStatusFailed, RetentionFailed},
		{JobStatusCancelled, RetentionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			job := &Job{Status: tt.status}
			if got := job.RetentionClass(); got != tt.want {
				t.Errorf("RetentionClass() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocument_ChunkTexts(t *testing.T) {
	doc := &Document{
		ContentKey: "doc-1",
		Chunks: []Chunk{
			{Index: 0, Text: "first"},
			{Index: 1, Text: "second"},
			{Index: 2, Text: "third"},
		},
	}

	texts := doc.ChunkTexts()
	if len(texts) != 3 {
		t.Fatalf("ChunkTexts() returned %d texts, want 3", len(texts))
	}
	for i, want := range []string{"first", "second", "third"} {
		if texts[i] != want {
			t.Errorf("ChunkTexts()[%d] = %q, want %q", i, texts[i], want)
		}
	}
}

func TestProgressFromResults(t *testing.T) {
	results := []*DocumentResult{
		{ContentKey: "a", Success: true, DocId: 1},
		{ContentKey: "b", Success: false, Error: "embed failed"},
		{ContentKey: "c", Success: true, DocId: 2},
	}

	p := ProgressFromResults(results, 5)

	if p.Processed != 3 {
		t.Errorf("Processed = %d, want 3", p.Processed)
	}
	if p.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", p.Succeeded)
	}
	if p.Failed != 1 {
		t.Errorf("Failed = %d, want 1", p.Failed)
	}
	if p.Total != 5 {
		t.Errorf("Total = %d, want 5", p.Total)
	}
	if got := p.Percentage(); got != 60 {
		t.Errorf("Percentage() = %v, want 60", got)
	}
}

func TestProgress_Percentage_EmptyJob(t *testing.T) {
	p := ProgressFromResults(nil, 0)
	if got := p.Percentage(); got != 0 {
		t.Errorf("Percentage() = %v, want 0 for empty job", got)
	}
}
