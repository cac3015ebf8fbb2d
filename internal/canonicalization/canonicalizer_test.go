package canonicalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateJobCorrelationID_Deterministic(t *testing.T) {
	first := GenerateJobCorrelationID("wf-123", "run-456")
	second := GenerateJobCorrelationID("wf-123", "run-456")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestGenerateJobCorrelationID_DifferentRunsDiffer(t *testing.T) {
	a := GenerateJobCorrelationID("wf-123", "run-456")
	b := GenerateJobCorrelationID("wf-123", "run-789")

	assert.NotEqual(t, a, b)
}

func TestGenerateJobIdempotencyKey_StableAcrossRedelivery(t *testing.T) {
	// Same (run, step, offset) triple redelivered after a crash must collapse
	// to the same key so the consumer can detect and skip the duplicate.
	first := GenerateJobIdempotencyKey("run-456", "2", "1000")
	redelivered := GenerateJobIdempotencyKey("run-456", "2", "1000")

	assert.Equal(t, first, redelivered)
}

func TestGenerateJobIdempotencyKey_AdvancingCursorDiffers(t *testing.T) {
	first := GenerateJobIdempotencyKey("run-456", "2", "1000")
	next := GenerateJobIdempotencyKey("run-456", "2", "2000")

	assert.NotEqual(t, first, next)
}
