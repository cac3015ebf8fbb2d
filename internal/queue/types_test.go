package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_MarshalUnmarshalRoundTrip(t *testing.T) {
	job := Job{RunID: "run-1", WorkflowID: "wf-1", StepIndex: 2, BatchOffset: 500}

	raw, err := job.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJob(raw)
	require.NoError(t, err)

	assert.Equal(t, job, got)
}

func TestUnmarshalJob_RejectsMalformedPayload(t *testing.T) {
	_, err := UnmarshalJob([]byte("not json"))
	assert.Error(t, err)
}
