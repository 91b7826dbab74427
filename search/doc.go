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


// Package search provides partition-scoped semantic search over ingested
// documents.
//
// The Searcher type embeds the query, runs a cosine-similarity scan over
// the bot's vector partition, and hydrates the matching chunks with their
// text and owning document from the relational store. Hits whose text
// contains every query word verbatim receive a score boost on top of
// their similarity.
package search
