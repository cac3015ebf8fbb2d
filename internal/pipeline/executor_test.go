package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/runledger"
)

type fakeLedger struct {
	mu        sync.Mutex
	statuses  []runledger.Status
	processed int
	failed    int
	logs      []string
}

func (f *fakeLedger) Advance(_ context.Context, _ string, to runledger.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, to)
	return nil
}

func (f *fakeLedger) Heartbeat(context.Context, string) error { return nil }

func (f *fakeLedger) UpdateProgress(_ context.Context, _ string, processed, failed, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = processed
	f.failed = failed
	return nil
}

func (f *fakeLedger) AppendLog(_ context.Context, _, _, message string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, message)
	return nil
}

func (f *fakeLedger) lastStatus() runledger.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

type fakeRawItems struct {
	mu    sync.Mutex
	items []RawItem
}

func (f *fakeRawItems) NextOffset(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items)), nil
}

func (f *fakeRawItems) StageBatch(_ context.Context, runID string, startOffset int64, rows []map[string]any) ([]RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]RawItem, len(rows))
	for i, row := range rows {
		item := RawItem{ID: idFor(startOffset + int64(i)), RunID: runID, SourceOffset: startOffset + int64(i), Payload: row}
		f.items = append(f.items, item)
		out[i] = item
	}

	return out, nil
}

func (f *fakeRawItems) PendingBatch(_ context.Context, _ string, afterOffset int64, limit int) ([]RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []RawItem

	for _, item := range f.items {
		if item.Processed || item.SourceOffset <= afterOffset {
			continue
		}

		out = append(out, item)

		if len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (f *fakeRawItems) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Processed = true
		}
	}

	return nil
}

func (f *fakeRawItems) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Processed = true
			f.items[i].Failed = true
			f.items[i].FailureReason = reason
		}
	}

	return nil
}

func idFor(offset int64) string {
	return "item-" + string(rune('a'+offset))
}

type fakeSource struct {
	rows []dsl.Row
	err  error
}

func (f *fakeSource) Fetch(context.Context, dsl.From, *string) ([]dsl.Row, error) {
	return f.rows, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	emitted []dsl.Row
	failOn  func(dsl.Row) error
}

func (f *fakeSink) Emit(_ context.Context, _ dsl.To, row dsl.Row) error {
	if f.failOn != nil {
		if err := f.failOn(row); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, row)

	return nil
}

func newTestExecutor(rawItems RawItems, source Source, sink Sink) (*Executor, *fakeLedger) {
	ledger := &fakeLedger{}
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 0 // no retries in unit tests

	return NewExecutor(ledger, rawItems, source, sink, nil, nil, nil, cfg), ledger
}

func TestExecutor_Run_AllRowsSucceed(t *testing.T) {
	source := &fakeSource{rows: []dsl.Row{{"name": "a"}, {"name": "b"}}}
	sink := &fakeSink{}
	rawItems := &fakeRawItems{}

	executor, ledger := newTestExecutor(rawItems, source, sink)

	program := dsl.Program{Steps: []dsl.Step{{
		From: dsl.From{Kind: "upload"},
		To:   dsl.To{Kind: "format", Options: map[string]any{"format": "json", "output": "push"}},
	}}}

	run := &runledger.Run{ID: "run-1", Cursor: runledger.Cursor{RunID: "run-1"}}

	err := executor.Run(context.Background(), run, program, nil)
	require.NoError(t, err)

	assert.Equal(t, runledger.StatusSuccess, ledger.lastStatus())
	assert.Equal(t, 2, ledger.processed)
	assert.Equal(t, 0, ledger.failed)
	assert.Len(t, sink.emitted, 2)
}

func TestExecutor_Run_RowFailureDoesNotHaltRun(t *testing.T) {
	source := &fakeSource{rows: []dsl.Row{{"name": "a"}, {"name": "bad"}, {"name": "c"}}}
	sink := &fakeSink{failOn: func(row dsl.Row) error {
		if row["name"] == "bad" {
			return assert.AnError
		}
		return nil
	}}
	rawItems := &fakeRawItems{}

	executor, ledger := newTestExecutor(rawItems, source, sink)

	program := dsl.Program{Steps: []dsl.Step{{
		From: dsl.From{Kind: "upload"},
		To:   dsl.To{Kind: "format", Options: map[string]any{"format": "json", "output": "push"}},
	}}}

	run := &runledger.Run{ID: "run-1", Cursor: runledger.Cursor{RunID: "run-1"}}

	err := executor.Run(context.Background(), run, program, nil)
	require.NoError(t, err)

	assert.Equal(t, runledger.StatusSuccess, ledger.lastStatus())
	assert.Equal(t, 2, ledger.processed)
	assert.Equal(t, 1, ledger.failed)
	assert.Len(t, sink.emitted, 2)
}

func TestExecutor_Run_SourceFetchErrorFailsRun(t *testing.T) {
	source := &fakeSource{err: assert.AnError}
	sink := &fakeSink{}
	rawItems := &fakeRawItems{}

	executor, ledger := newTestExecutor(rawItems, source, sink)

	program := dsl.Program{Steps: []dsl.Step{{From: dsl.From{Kind: "upload"}, To: dsl.To{Kind: "format"}}}}
	run := &runledger.Run{ID: "run-1", Cursor: runledger.Cursor{RunID: "run-1"}}

	err := executor.Run(context.Background(), run, program, nil)
	assert.Error(t, err)
	assert.Equal(t, runledger.StatusFailure, ledger.lastStatus())
}

func TestExecutor_Run_ObservesCancellationBetweenBatches(t *testing.T) {
	source := &fakeSource{rows: []dsl.Row{{"name": "a"}}}
	sink := &fakeSink{}
	rawItems := &fakeRawItems{}

	executor, ledger := newTestExecutor(rawItems, source, sink)

	program := dsl.Program{Steps: []dsl.Step{{From: dsl.From{Kind: "upload"}, To: dsl.To{Kind: "format"}}}}
	run := &runledger.Run{ID: "run-1", Cursor: runledger.Cursor{RunID: "run-1"}}

	err := executor.Run(context.Background(), run, program, func() bool { return true })
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusCancelled, ledger.lastStatus())
}
