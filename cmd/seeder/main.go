// Seeds a local stack with sample documents for manual testing.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/docflow"
	"github.com/poiesic/docflow/core"
)

var sentences = []string{
	"The quick brown fox jumps over the lazy dog.",
	"A gentle breeze rustled the leaves of the old oak tree.",
	"She found a hidden key in the dusty attic.",
	"The city skyline glowed under the starry night sky.",
	"He whispered secrets to the wind, hoping they would travel far.",
	"Rain drummed on the rooftop, creating a soothing rhythm.",
	"A bright comet streaked across the horizon at midnight.",
	"They laughed together as fireworks painted the evening air.",
	"The ancient library held stories that never faded.",
	"Beneath the waves, coral gardens shimmered in colors unseen.",
	"The hummingbird hovered beside a vibrant purple flower.",
	"A mysterious map led them to a forgotten treasure.",
	"The lighthouse beam cut through fog, guiding sailors safely.",
	"He carried a lantern into the dark forest, illuminating paths.",
	"The night sky glittered with countless stars.",
	"A gentle rain fell on the windowpane, making soft patterns.",
	"The old ship's hull creaked as it sailed across calm seas.",
	"She sang a hymn that echoed through the chapel.",
	"A sudden flash of lightning illuminated the dark night.",
	"The sky turned orange as the sun dipped below the horizon.",
	"The abandoned lighthouse still broadcasts its warning every third Tuesday.",
	"Coffee tastes better when nobody's watching.",
	"The algorithm dreamed it was a butterfly sorting itself.",
	"The rubber duck solved the halting problem but won't tell anyone.",
	"Documentation exists in a superposition until observed.",
	"The random number generator achieved enlightenment at seed 42.",
	"Bugs are features that haven't read the documentation.",
	"Memory leaks formed a union.",
}

var (
	seedFileName = flag.String("src", "", "file of seed data, one chunk per line")
	botID        = flag.String("bot", "demo", "bot to seed")
	chunksPerDoc = flag.Int("chunks", 4, "chunks per document")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// linesFromFile returns an iterator over lines in a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
	}, nil
}

// linesFromSlice returns an iterator over a slice of strings.
func linesFromSlice(lines []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, line := range lines {
			if !yield(line) {
				return
			}
		}
	}
}

// documentsFrom groups lines into documents of size chunks each.
func documentsFrom(source iter.Seq[string], chunks int) []*core.Document {
	var docs []*core.Document
	var current []core.Chunk

	flush := func() {
		if len(current) == 0 {
			return
		}
		docs = append(docs, &core.Document{
			ContentKey: fmt.Sprintf("seed-%03d", len(docs)),
			Metadata:   map[string]string{"source": "seeder"},
			Chunks:     current,
		})
		current = nil
	}

	for line := range source {
		if line == "" {
			continue
		}
		current = append(current, core.Chunk{Index: len(current), Text: line})
		if len(current) == chunks {
			flush()
		}
	}
	flush()
	return docs
}

func main() {
	ctx := context.Background()

	sys, err := docflow.NewSystem(ctx, "./jobs_db",
		envOr("DOCFLOW_RELATIONAL_URL", "postgres://localhost:5432/docflow"),
		envOr("DOCFLOW_VECTOR_URL", "postgres://localhost:5432/docflow_vectors"))
	if err != nil {
		panic(err)
	}
	defer sys.Close()

	engine, err := sys.NewEngine()
	if err != nil {
		panic(err)
	}
	defer engine.Release()

	var source iter.Seq[string]
	if seedFileName != nil && *seedFileName != "" {
		source, err = linesFromFile(*seedFileName)
		if err != nil {
			panic(err)
		}
	} else {
		source = linesFromSlice(sentences)
	}

	docs := documentsFrom(source, *chunksPerDoc)
	if len(docs) == 0 {
		panic("no seed data")
	}

	job, err := engine.CreateJob(ctx, *botID, docs)
	if err != nil {
		panic(err)
	}
	slog.Info("seed job created", "jobId", job.Id, "documents", job.DocumentCount)

	for {
		time.Sleep(500 * time.Millisecond)
		view, err := engine.GetJob(ctx, job.Id)
		if err != nil {
			panic(err)
		}
		if view.Job.Status.Terminal() {
			slog.Info("seed job finished", "status", view.Job.Status.String(),
				"succeeded", view.Progress.Succeeded, "failed", view.Progress.Failed)
			return
		}
	}
}
