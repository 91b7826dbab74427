// Package reembed regenerates the vector embeddings for a bot's stored
// chunks. The canonical chunk text lives in the document store, so after an
// embedding model change the vector partition can be rebuilt in place: every
// document is scanned in batches, its chunk texts are embedded with the
// current model, and the rows are written back over the existing ones.
//
// Row keys in the vector store derive from the partition, doc id and chunk
// index, which makes every write an overwrite. The operation is therefore safe to re-run after an
// interruption; already-processed documents are simply written again.
package reembed
