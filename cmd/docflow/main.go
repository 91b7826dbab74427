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


package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/docflow"
	"github.com/poiesic/docflow/ai"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/ingestion"
	"github.com/poiesic/docflow/reembed"
	"github.com/poiesic/docflow/search"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "docflow",
		Usage: "Batch document ingestion into a relational and vector store pair",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the job database directory",
				Value:   "./jobs_db",
			},
			&cli.StringFlag{
				Name:    "relational-url",
				Usage:   "PostgreSQL connection string for document metadata",
				EnvVars: []string{"DOCFLOW_RELATIONAL_URL"},
				Value:   "postgres://localhost:5432/docflow",
			},
			&cli.StringFlag{
				Name:    "vector-url",
				Usage:   "PostgreSQL connection string for the pgvector store",
				EnvVars: []string{"DOCFLOW_VECTOR_URL"},
				Value:   "postgres://localhost:5432/docflow_vectors",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
				Value: "http://localhost:11434/v1",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
				Value: "embeddinggemma",
			},
			&cli.IntFlag{
				Name:  "dimension",
				Usage: "Embedding vector dimension",
				Value: 384,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "register",
				Usage:  "Create the partition for a bot in both stores",
				Action: registerCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bot",
						Aliases:  []string{"b"},
						Usage:    "Bot identifier",
						Required: true,
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Submit a batch of documents as an ingestion job",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bot",
						Aliases:  []string{"b"},
						Usage:    "Bot identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "JSON file of documents, or - for stdin",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Block until the job reaches a terminal state",
					},
					&cli.DurationFlag{
						Name:  "poll-interval",
						Usage: "Progress poll interval when waiting",
						Value: time.Second,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent jobs processed by this run (0 = default)",
					},
					&cli.DurationFlag{
						Name:  "doc-timeout",
						Usage: "Per-document processing timeout",
						Value: 2 * time.Minute,
					},
				},
			},
			{
				Name:   "delete",
				Usage:  "Remove a document and its embeddings by content key",
				Action: deleteCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bot",
						Aliases:  []string{"b"},
						Usage:    "Bot identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "key",
						Aliases:  []string{"k"},
						Usage:    "Content key of the document",
						Required: true,
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show a job's status, progress and results",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Aliases:  []string{"j"},
						Usage:    "Job identifier",
						Required: true,
					},
				},
			},
			{
				Name:   "jobs",
				Usage:  "List jobs in pending or processing state",
				Action: jobsCommand,
			},
			{
				Name:   "cancel",
				Usage:  "Request cancellation of a job",
				Action: cancelCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Aliases:  []string{"j"},
						Usage:    "Job identifier",
						Required: true,
					},
				},
			},
			{
				Name:   "purge",
				Usage:  "Delete a job's record and results ahead of retention expiry",
				Action: purgeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Aliases:  []string{"j"},
						Usage:    "Job identifier",
						Required: true,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Rebuild a bot's vector partition with the current embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bot",
						Aliases:  []string{"b"},
						Usage:    "Bot identifier",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Documents fetched per scan batch",
						Value: 100,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search a bot's documents by semantic similarity",
				Action:    searchCommand,
				ArgsUsage: "QUERY...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bot",
						Aliases:  []string{"b"},
						Usage:    "Bot identifier",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "max-hits",
						Usage: "Maximum number of results",
						Value: 5,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Similarity floor for vector hits",
						Value: 0.60,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openSystem(c *cli.Context) (*docflow.System, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithDimension(c.Int("dimension")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	sys, err := docflow.NewSystem(c.Context, c.String("db"),
		c.String("relational-url"), c.String("vector-url"),
		docflow.WithAIConfig(aiConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to open system: %w", err)
	}
	return sys, nil
}

func registerCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	mapping, err := sys.EnsureBot(c.Context, c.String("bot"))
	if err != nil {
		return fmt.Errorf("failed to register bot: %w", err)
	}

	fmt.Printf("bot %s -> partition %s\n", mapping.BotId, mapping.PartitionName)
	return nil
}

// documentSpec is the on-disk JSON shape of one document in an ingest file.
type documentSpec struct {
	ContentKey string            `json:"contentKey"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Chunks     []string          `json:"chunks"`
}

func parseDocuments(r io.Reader) ([]*core.Document, error) {
	var specs []documentSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}

	docs := make([]*core.Document, len(specs))
	for i, spec := range specs {
		chunks := make([]core.Chunk, len(spec.Chunks))
		for j, text := range spec.Chunks {
			chunks[j] = core.Chunk{Index: j, Text: text}
		}
		docs[i] = &core.Document{
			ContentKey: spec.ContentKey,
			Metadata:   spec.Metadata,
			Chunks:     chunks,
		}
	}
	return docs, nil
}

func ingestCommand(c *cli.Context) error {
	ctx := c.Context

	var input io.ReadCloser
	if name := c.String("file"); name == "-" {
		input = os.Stdin
	} else {
		file, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open document file: %w", err)
		}
		input = file
	}
	docs, err := parseDocuments(input)
	input.Close()
	if err != nil {
		return err
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	engineOpts := []ingestion.Option{ingestion.WithDocumentTimeout(c.Duration("doc-timeout"))}
	if workers := c.Int("workers"); workers > 0 {
		engineOpts = append(engineOpts, ingestion.WithPoolSize(workers))
	}
	engine, err := sys.NewEngine(engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Release()

	// Pick up anything a previous run left unfinished first.
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recovery scan failed: %w", err)
	}

	job, err := engine.CreateJob(ctx, c.String("bot"), docs)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	fmt.Printf("job %s created with %d documents\n", job.Id, job.DocumentCount)

	if !c.Bool("wait") {
		return nil
	}

	ticker := time.NewTicker(c.Duration("poll-interval"))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		view, err := engine.GetJob(ctx, job.Id)
		if err != nil {
			return fmt.Errorf("failed to poll job: %w", err)
		}
		fmt.Fprintf(os.Stderr, "\r%s: %d/%d (%.0f%%)", view.Job.Status,
			view.Progress.Processed, view.Progress.Total, view.Progress.Percentage())
		if view.Job.Status.Terminal() {
			fmt.Fprintln(os.Stderr)
			printView(view)
			return nil
		}
	}
}

func statusCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	engine, err := sys.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Release()

	view, err := engine.GetJob(c.Context, c.String("job"))
	if err != nil {
		return fmt.Errorf("failed to read job: %w", err)
	}
	printView(view)
	return nil
}

func jobsCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	active, err := sys.JobStore().ListActive(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	if len(active) == 0 {
		fmt.Println("no active jobs")
		return nil
	}
	for _, job := range active {
		fmt.Printf("%s  %-10s  bot=%s  documents=%d  created=%s\n",
			job.Id, job.Status, job.BotId, job.DocumentCount,
			job.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func cancelCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	job, err := sys.JobStore().RequestCancel(c.Context, c.String("job"))
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	fmt.Printf("job %s: %s\n", job.Id, job.Status)
	return nil
}

func purgeCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	jobID := c.String("job")
	if err := sys.JobStore().DeleteJob(c.Context, jobID); err != nil {
		return fmt.Errorf("failed to purge job: %w", err)
	}
	fmt.Printf("job %s purged\n", jobID)
	return nil
}

func deleteCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	engine, err := sys.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Release()

	bot, key := c.String("bot"), c.String("key")
	if err := engine.DeleteDocument(c.Context, bot, key); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	fmt.Printf("document %s deleted from bot %s\n", key, bot)
	return nil
}

func reembedCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	config := reembed.DefaultConfig()
	config.BatchSize = c.Int("batch-size")

	r := sys.NewReembedder(config, os.Stderr)
	if err := r.Run(c.Context, c.String("bot")); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("query is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	searcher, err := sys.NewSearcher(search.WithMinScore(float32(c.Float64("min-score"))))
	if err != nil {
		return fmt.Errorf("failed to create searcher: %w", err)
	}

	results, err := searcher.FindSimilar(c.Context, c.String("bot"), query, c.Int("max-hits"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Printf("Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Printf("%d: %s#%d [%0.3f] %s\n", i, hit.ContentKey, hit.ChunkIndex, hit.Score, hit.Text)
	}
	return nil
}

func printView(view *ingestion.JobView) {
	job := view.Job
	fmt.Printf("job %s\n", job.Id)
	fmt.Printf("  status:    %s\n", job.Status)
	fmt.Printf("  bot:       %s\n", job.BotId)
	fmt.Printf("  documents: %d\n", job.DocumentCount)
	fmt.Printf("  progress:  %d processed, %d succeeded, %d failed (%.0f%%)\n",
		view.Progress.Processed, view.Progress.Succeeded, view.Progress.Failed,
		view.Progress.Percentage())
	if job.Error != "" {
		fmt.Printf("  error:     %s\n", job.Error)
	}
	for _, result := range view.Results {
		if result.Success {
			fmt.Printf("  ok   %s (doc %d, %d chunks)\n", result.ContentKey, result.DocId, result.ChunkCount)
		} else {
			fmt.Printf("  fail %s: %s\n", result.ContentKey, result.Error)
		}
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
