// Package canonicalization provides deterministic ID generation for the job
// queue and pipeline executor.
//
// These are pure utility functions that operate on primitives (strings)
// rather than domain types, so they stay reusable across every queue
// producer (scheduler, manual trigger, retry) without importing their types.
//
// Key functions:
//   - GenerateJobCorrelationID: groups every job belonging to the same run
//   - GenerateJobIdempotencyKey: dedup key for at-least-once redelivery
//
// All IDs use SHA256 hashing for determinism and collision resistance.
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
)

// GenerateJobCorrelationID generates a deterministic canonical ID that groups
// every job enqueued for the same workflow run.
//
// Formula: SHA256(workflowID + runID)
//
// The fetch queue and the process queue enqueue separate jobs per batch; this
// ID lets the run ledger and maintenance worker find every job belonging to
// one run without a join.
func GenerateJobCorrelationID(workflowID, runID string) string {
	return hashSHA256(workflowID + runID)
}

// GenerateJobIdempotencyKey generates the dedup key a consumer uses to decide
// whether it has already processed a redelivered message.
//
// Formula: SHA256(runID + stepIndex + batchOffset)
//
// Kafka's at-least-once delivery means a crash between fetch and commit
// redelivers the same message; the key is stable across redeliveries of the
// identical (run, step, offset) triple but distinct across retries that
// advance the cursor, so a retried batch is not mistaken for a duplicate.
func GenerateJobIdempotencyKey(runID, stepIndex, batchOffset string) string {
	return hashSHA256(runID + stepIndex + batchOffset)
}

// hashSHA256 computes the SHA256 hash of the input string.
func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
