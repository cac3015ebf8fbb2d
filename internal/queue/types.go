// Package queue implements the Job Queue: the Kafka-backed hand-off
// between the Scheduler (which enqueues) and the worker pool (which
// dequeues and drives the Pipeline Executor), per §4.G.
package queue

import "encoding/json"

// Job is the small JSON value carried on both the fetch and process topics:
// enough to resume a run at its persisted cursor (§4.F "RunCursor is the
// only mutable state").
type Job struct {
	RunID       string `json:"run_id"`
	WorkflowID  string `json:"workflow_id"`
	StepIndex   int    `json:"step_index"`
	BatchOffset int    `json:"batch_offset"`
}

// Marshal encodes a Job for a Kafka message value.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob decodes a Kafka message value into a Job.
func UnmarshalJob(raw []byte) (Job, error) {
	var j Job

	err := json.Unmarshal(raw, &j)

	return j, err
}
