package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/queue"
	"github.com/r3data-core/rdatacore/internal/runledger"
	"github.com/r3data-core/rdatacore/internal/workflow"
)

const listPageSize = 1000

type (
	// WorkflowLister is the workflow registry surface the Scheduler reads
	// enabled workflows from. Implemented by *workflow.Store.
	WorkflowLister interface {
		List(ctx context.Context, filter workflow.ListFilter, page workflow.Page) ([]workflow.Definition, error)
		MarkEnqueued(ctx context.Context, id string) error
	}

	// RunOpener is the Run Ledger surface the Scheduler gates firings
	// through. Implemented by *runledger.Ledger.
	RunOpener interface {
		HasInFlight(ctx context.Context, workflowID string) (bool, error)
		OpenRun(ctx context.Context, workflowID, trigger string, uploadedFile *string) (*runledger.Run, error)
	}

	// Enqueuer hands a freshly opened run's first job to the Job Queue.
	// Implemented by *queue.Producer (the fetch-topic producer).
	Enqueuer interface {
		Enqueue(ctx context.Context, job queue.Job) error
	}
)

// Scheduler is the reconciliation loop described in §4.H: a plain
// time.Ticker, not a full cron.Cron scheduler, because every firing must be
// gated by the at-most-one-in-flight check against the Run Ledger at
// enqueue time rather than at cron-match time.
type Scheduler struct {
	workflows WorkflowLister
	runs      RunOpener
	enqueuer  Enqueuer
	clock     clock.Clock
	cfg       Config
	logger    *slog.Logger
}

// New builds a Scheduler.
func New(workflows WorkflowLister, runs RunOpener, enqueuer Enqueuer, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{workflows: workflows, runs: runs, enqueuer: enqueuer, clock: clock.New(), cfg: cfg, logger: logger}
}

// Run ticks every cfg.UpdateInterval until ctx is done, reconciling on each
// tick. It also reconciles once immediately on start, so a restarted
// scheduler does not wait a full interval before catching up on overdue
// firings.
func (s *Scheduler) Run(ctx context.Context) {
	s.reconcile(ctx)

	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile checks every enabled workflow's cron schedule against the Run
// Ledger, opening and enqueuing a run for each one that is due and not
// already in flight.
func (s *Scheduler) reconcile(ctx context.Context) {
	defs, err := s.workflows.List(ctx, workflow.ListFilter{EnabledOnly: true}, workflow.Page{Limit: listPageSize})
	if err != nil {
		s.logger.Error("scheduler: list enabled workflows failed", slog.String("error", err.Error()))
		return
	}

	now := s.clock.Now()

	for _, def := range defs {
		if def.Cron == nil {
			continue // manual-only workflow, never auto-fires
		}

		if !s.due(def, now) {
			continue
		}

		s.fire(ctx, def)
	}
}

func (s *Scheduler) due(def workflow.Definition, now time.Time) bool {
	sched, err := dsl.ParseCron(*def.Cron)
	if err != nil {
		s.logger.Error("scheduler: invalid cron expression",
			slog.String("workflow_id", def.ID), slog.String("cron", *def.Cron), slog.String("error", err.Error()))

		return false
	}

	baseline := def.CreatedAt
	if def.LastEnqueuedAt != nil {
		baseline = *def.LastEnqueuedAt
	}

	return !sched.Next(baseline).After(now)
}

func (s *Scheduler) fire(ctx context.Context, def workflow.Definition) {
	inFlight, err := s.runs.HasInFlight(ctx, def.ID)
	if err != nil {
		s.logger.Error("scheduler: in-flight check failed", slog.String("workflow_id", def.ID), slog.String("error", err.Error()))
		return
	}

	if inFlight {
		return // at-most-one-in-flight (§4.H)
	}

	run, err := s.runs.OpenRun(ctx, def.ID, "schedule", nil)
	if err != nil {
		s.logger.Error("scheduler: open run failed", slog.String("workflow_id", def.ID), slog.String("error", err.Error()))
		return
	}

	job := queue.Job{RunID: run.ID, WorkflowID: def.ID}

	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		s.logger.Error("scheduler: enqueue run failed",
			slog.String("workflow_id", def.ID), slog.String("run_id", run.ID), slog.String("error", err.Error()))

		return
	}

	if err := s.workflows.MarkEnqueued(ctx, def.ID); err != nil {
		s.logger.Error("scheduler: mark enqueued failed", slog.String("workflow_id", def.ID), slog.String("error", err.Error()))
	}
}
