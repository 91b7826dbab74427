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


// Quick query tool against a locally running stack.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/docflow"
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
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

	searcher, err := sys.NewSearcher()
	if err != nil {
		panic(err)
	}

	botID := envOr("DOCFLOW_BOT", "demo")
	query := "lantern"
	if len(os.Args) > 1 {
		query = strings.Join(os.Args[1:], " ")
	}

	results, err := searcher.FindSimilar(ctx, botID, query, 5)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Printf("%d: '%s' (%s#%d)[%0.3f]\n", i, hit.Text, hit.ContentKey, hit.ChunkIndex, hit.Score)
	}
}
