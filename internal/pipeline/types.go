// Package pipeline implements the Pipeline Executor (§4.F): staging a
// step's `from` into RawItems, running the DSL's per-row transforms over
// each one, emitting the result to the step's `to` destination, and
// persisting a resumable cursor in the Run Ledger after every batch.
package pipeline

import "time"

// RawItem is one row staged during a run, the unit the executor resumes
// on. Ownership is exclusive to a Run: deleting the run cascades (§3
// Ownership).
type RawItem struct {
	ID            string
	RunID         string
	SourceOffset  int64
	Payload       map[string]any
	Processed     bool
	Failed        bool
	FailureReason string
}

// Config bounds batch size, per-destination rate limiting, and the per-row
// retry/backoff policy (§4.F).
type Config struct {
	BatchSize int

	DestinationRPS   float64
	DestinationBurst int

	RetryInitial     time.Duration
	RetryMax         time.Duration
	RetryMaxAttempts uint64

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

// DefaultConfig mirrors the concrete figures named in §4.F.
func DefaultConfig() Config {
	return Config{
		BatchSize:        500,
		DestinationRPS:   10,
		DestinationBurst: 20,
		RetryInitial:     250 * time.Millisecond,
		RetryMax:         30 * time.Second,
		RetryMaxAttempts: 5,
		CleanupInterval:  5 * time.Minute,
		IdleTimeout:      time.Hour,
	}
}
