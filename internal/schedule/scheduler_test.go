package schedule

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/queue"
	"github.com/r3data-core/rdatacore/internal/runledger"
	"github.com/r3data-core/rdatacore/internal/workflow"
)

type fakeWorkflows struct {
	defs         []workflow.Definition
	markEnqueued []string
}

func (f *fakeWorkflows) List(context.Context, workflow.ListFilter, workflow.Page) ([]workflow.Definition, error) {
	return f.defs, nil
}

func (f *fakeWorkflows) MarkEnqueued(_ context.Context, id string) error {
	f.markEnqueued = append(f.markEnqueued, id)
	return nil
}

type fakeRuns struct {
	inFlight map[string]bool
	opened   []string
}

func (f *fakeRuns) HasInFlight(_ context.Context, workflowID string) (bool, error) {
	return f.inFlight[workflowID], nil
}

func (f *fakeRuns) OpenRun(_ context.Context, workflowID, _ string, _ *string) (*runledger.Run, error) {
	f.opened = append(f.opened, workflowID)
	return &runledger.Run{ID: "run-for-" + workflowID, WorkflowID: workflowID}, nil
}

type fakeEnqueuer struct {
	enqueued []queue.Job
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job queue.Job) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_FiresDueWorkflowNotInFlight(t *testing.T) {
	cron := "*/5 * * * *"
	past := time.Now().Add(-time.Hour)

	workflows := &fakeWorkflows{defs: []workflow.Definition{{ID: "wf-1", Cron: &cron, CreatedAt: past}}}
	runs := &fakeRuns{inFlight: map[string]bool{}}
	enqueuer := &fakeEnqueuer{}

	s := New(workflows, runs, enqueuer, Config{UpdateInterval: time.Minute}, testLogger())
	s.reconcile(context.Background())

	require.Len(t, runs.opened, 1)
	assert.Equal(t, "wf-1", runs.opened[0])
	require.Len(t, enqueuer.enqueued, 1)
	assert.Equal(t, "run-for-wf-1", enqueuer.enqueued[0].RunID)
	assert.Equal(t, []string{"wf-1"}, workflows.markEnqueued)
}

func TestScheduler_SkipsWorkflowAlreadyInFlight(t *testing.T) {
	cron := "*/5 * * * *"
	past := time.Now().Add(-time.Hour)

	workflows := &fakeWorkflows{defs: []workflow.Definition{{ID: "wf-1", Cron: &cron, CreatedAt: past}}}
	runs := &fakeRuns{inFlight: map[string]bool{"wf-1": true}}
	enqueuer := &fakeEnqueuer{}

	s := New(workflows, runs, enqueuer, Config{UpdateInterval: time.Minute}, testLogger())
	s.reconcile(context.Background())

	assert.Empty(t, runs.opened)
	assert.Empty(t, enqueuer.enqueued)
}

func TestScheduler_SkipsManualOnlyWorkflow(t *testing.T) {
	workflows := &fakeWorkflows{defs: []workflow.Definition{{ID: "wf-1", Cron: nil, CreatedAt: time.Now()}}}
	runs := &fakeRuns{inFlight: map[string]bool{}}
	enqueuer := &fakeEnqueuer{}

	s := New(workflows, runs, enqueuer, Config{UpdateInterval: time.Minute}, testLogger())
	s.reconcile(context.Background())

	assert.Empty(t, runs.opened)
}

func TestScheduler_SkipsWorkflowNotYetDue(t *testing.T) {
	cron := "0 0 1 1 *" // once a year, Jan 1st
	recentlyEnqueued := time.Now()

	workflows := &fakeWorkflows{defs: []workflow.Definition{{ID: "wf-1", Cron: &cron, LastEnqueuedAt: &recentlyEnqueued}}}
	runs := &fakeRuns{inFlight: map[string]bool{}}
	enqueuer := &fakeEnqueuer{}

	s := New(workflows, runs, enqueuer, Config{UpdateInterval: time.Minute}, testLogger())
	s.reconcile(context.Background())

	assert.Empty(t, runs.opened)
}
