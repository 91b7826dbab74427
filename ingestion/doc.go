// Package ingestion runs batch document ingestion jobs against the dual
// store backend.
//
// The Engine type owns the workflow: it persists a job and its document
// payloads, claims the job for exclusive processing, splits out documents
// whose content key is already committed, then drives each remaining
// document through an ordered write sequence (relational insert, embedding,
// vector insert) with explicit compensation when a later step fails. One
// bad document is recorded as a failed result and never aborts its
// siblings; the job completes once every document slot has an outcome.
//
// Jobs run concurrently on a bounded worker pool. On process start,
// Recover re-submits every job the last process left unfinished; all
// per-document writes are keyed so a replay after a crash is a no-op.
package ingestion
