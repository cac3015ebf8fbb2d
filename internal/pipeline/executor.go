package pipeline

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/runledger"
)

// LedgerOps is the Run Ledger surface the executor drives a run through.
// Implemented by *runledger.Ledger.
type LedgerOps interface {
	Advance(ctx context.Context, runID string, to runledger.Status) error
	Heartbeat(ctx context.Context, runID string) error
	UpdateProgress(ctx context.Context, runID string, processed, failed, stepIndex, batchOffset int) error
	AppendLog(ctx context.Context, runID, severity, message string, meta map[string]any) error
}

// RawItems is the RawItemStore surface the executor stages and drains
// against. Implemented by *RawItemStore.
type RawItems interface {
	NextOffset(ctx context.Context, runID string) (int64, error)
	StageBatch(ctx context.Context, runID string, startOffset int64, rows []map[string]any) ([]RawItem, error)
	PendingBatch(ctx context.Context, runID string, afterOffset int64, limit int) ([]RawItem, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Executor runs a validated Program against a Run, per §4.F. It is the
// only component that advances a Run's counters and cursor.
type Executor struct {
	ledger   LedgerOps
	rawItems RawItems
	source   Source
	sink     Sink
	reader   dsl.EntityReader
	issuer   *dsl.TokenIssuer
	creds    dsl.CredentialCache
	cfg      Config
}

// NewExecutor builds an Executor. reader, issuer, and creds may be nil;
// they are only required by the `lookup`/`authenticate` transforms a given
// program actually uses.
func NewExecutor(
	ledger LedgerOps,
	rawItems RawItems,
	source Source,
	sink Sink,
	reader dsl.EntityReader,
	issuer *dsl.TokenIssuer,
	creds dsl.CredentialCache,
	cfg Config,
) *Executor {
	return &Executor{
		ledger: ledger, rawItems: rawItems, source: source, sink: sink,
		reader: reader, issuer: issuer, creds: creds, cfg: cfg,
	}
}

// Run executes program against run starting from its persisted cursor,
// observing cancelled between batches — in-flight destination calls are
// allowed to finish, per §4.F "Cancellation".
func (e *Executor) Run(ctx context.Context, run *runledger.Run, program dsl.Program, cancelled func() bool) error {
	if err := e.ledger.Advance(ctx, run.ID, runledger.StatusRunning); err != nil {
		return err
	}

	_ = e.ledger.Heartbeat(ctx, run.ID)

	processed, failed := run.ProcessedItems, run.FailedItems

	for stepIndex := run.Cursor.StepIndex; stepIndex < len(program.Steps); stepIndex++ {
		step := program.Steps[stepIndex]
		batchOffset := 0
		after := int64(-1)

		if stepIndex == run.Cursor.StepIndex {
			batchOffset = run.Cursor.BatchOffset
		}

		if batchOffset == 0 {
			if err := e.stageStep(ctx, run, step); err != nil {
				_ = e.ledger.AppendLog(ctx, run.ID, "error", "source fetch failed: "+err.Error(), nil)
				return e.fail(ctx, run.ID, err)
			}
		} else {
			after = int64(batchOffset)
		}

		for {
			if cancelled != nil && cancelled() {
				return e.ledger.Advance(ctx, run.ID, runledger.StatusCancelled)
			}

			batch, err := e.rawItems.PendingBatch(ctx, run.ID, after, e.cfg.BatchSize)
			if err != nil {
				return e.fail(ctx, run.ID, err)
			}

			if len(batch) == 0 {
				break
			}

			for _, item := range batch {
				if err := e.processItem(ctx, run.ID, step, item); err != nil {
					failed++

					_ = e.ledger.AppendLog(ctx, run.ID, "warn",
						fmt.Sprintf("row at offset %d failed: %s", item.SourceOffset, err.Error()),
						map[string]any{"offset": item.SourceOffset})
				} else {
					processed++
				}

				if item.SourceOffset > after {
					after = item.SourceOffset
					batchOffset = int(item.SourceOffset)
				}
			}

			if err := e.ledger.UpdateProgress(ctx, run.ID, processed, failed, stepIndex, batchOffset); err != nil {
				return e.fail(ctx, run.ID, err)
			}

			_ = e.ledger.Heartbeat(ctx, run.ID)
		}

		if err := e.ledger.UpdateProgress(ctx, run.ID, processed, failed, stepIndex+1, 0); err != nil {
			return e.fail(ctx, run.ID, err)
		}
	}

	return e.ledger.Advance(ctx, run.ID, runledger.StatusSuccess)
}

func (e *Executor) stageStep(ctx context.Context, run *runledger.Run, step dsl.Step) error {
	rows, err := e.source.Fetch(ctx, step.From, run.UploadedFile)
	if err != nil {
		return err
	}

	startOffset, err := e.rawItems.NextOffset(ctx, run.ID)
	if err != nil {
		return err
	}

	plain := make([]map[string]any, len(rows))
	for i, r := range rows {
		plain[i] = map[string]any(r)
	}

	const stageChunk = 1000

	for i := 0; i < len(plain); i += stageChunk {
		end := i + stageChunk
		if end > len(plain) {
			end = len(plain)
		}

		if _, err := e.rawItems.StageBatch(ctx, run.ID, startOffset+int64(i), plain[i:end]); err != nil {
			return err
		}
	}

	return nil
}

// processItem applies the step's transforms to one row and emits it,
// marking the underlying RawItem processed or failed. A transform error is
// row-localized per §4.F step 2; the executor does not re-order rows or
// retry a transform failure.
func (e *Executor) processItem(ctx context.Context, runID string, step dsl.Step, item RawItem) error {
	row := dsl.Row(item.Payload)

	if err := dsl.ApplyTransforms(ctx, step, row, e.reader, e.issuer, e.creds); err != nil {
		_ = e.rawItems.MarkFailed(ctx, item.ID, err.Error())
		return err
	}

	if err := e.emitWithRetry(ctx, step.To, row); err != nil {
		_ = e.rawItems.MarkFailed(ctx, item.ID, err.Error())
		return err
	}

	return e.rawItems.MarkProcessed(ctx, item.ID)
}

// emitWithRetry wraps Sink.Emit with the per-row retry/backoff policy from
// §4.F Backpressure: transient destination errors are retried with
// exponential backoff (base 250ms, cap 30s, max 5 attempts); permanent
// errors (validation, config, unknown kind) fail the row immediately.
func (e *Executor) emitWithRetry(ctx context.Context, to dsl.To, row dsl.Row) error {
	operation := func() error {
		err := e.sink.Emit(ctx, to, row)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     e.cfg.RetryInitial,
		MaxInterval:         e.cfg.RetryMax,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}

	retries := e.cfg.RetryMaxAttempts
	if retries > 0 {
		retries-- // the first try counts as an attempt
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}

func isTransient(err error) bool {
	switch apierrors.KindOf(err) {
	case apierrors.KindStorage, apierrors.KindTimeout, apierrors.KindQueue:
		return true
	default:
		return false
	}
}

func (e *Executor) fail(ctx context.Context, runID string, cause error) error {
	_ = e.ledger.AppendLog(ctx, runID, "error", "run failed: "+cause.Error(), nil)

	if advErr := e.ledger.Advance(ctx, runID, runledger.StatusFailure); advErr != nil {
		return advErr
	}

	return cause
}
