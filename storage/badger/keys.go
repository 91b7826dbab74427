package badger

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for different data types
const (
	jobRecordPrefix   = "ingjob"
	jobActivePrefix   = "ingact"
	jobResultPrefix   = "ingres"
	jobDocumentPrefix = "ingdoc"
)

// makeJobKey generates a key for a job record by ID.
func makeJobKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobRecordPrefix, id))
}

// makeActiveKey generates a key for the active-job index.
// The marker exists iff the job is pending or processing.
func makeActiveKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobActivePrefix, id))
}

// jobIDFromActiveKey extracts the job ID from an active-job index key.
func jobIDFromActiveKey(key []byte) string {
	return string(key[len(jobActivePrefix)+1:])
}

// makeResultKey generates a composite key for a document result.
// Format: prefix:jobID:index, with the index in BigEndian so lexicographic
// iteration yields submission order. One key per document slot per job, so
// replaying a result after a crash lands on the same key.
func makeResultKey(jobID string, index int) []byte {
	prefix := []byte(fmt.Sprintf("%s:%s:", jobResultPrefix, jobID))
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// indexFromKey extracts the trailing BigEndian document index from a
// result or payload key.
func indexFromKey(key []byte) int {
	return int(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeResultScanPrefix generates the iteration prefix for a job's results.
func makeResultScanPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", jobResultPrefix, jobID))
}

// makeDocumentKey generates a composite key for a job's document payload.
// Format: prefix:jobID:index, with the index in BigEndian so lexicographic
// iteration yields submission order.
func makeDocumentKey(jobID string, index int) []byte {
	prefix := []byte(fmt.Sprintf("%s:%s:", jobDocumentPrefix, jobID))
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// makeDocumentScanPrefix generates the iteration prefix for a job's
// document payloads.
func makeDocumentScanPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", jobDocumentPrefix, jobID))
}
