package runledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/storage"
)

// Ledger implements the Run Ledger (§4.I).
type Ledger struct {
	conn  *storage.Connection
	clock clock.Clock
}

// New constructs a Ledger.
func New(conn *storage.Connection) *Ledger {
	return &Ledger{conn: conn, clock: clock.New()}
}

// HasInFlight reports whether workflowID has a run in `queued` or
// `running` state, the gate the Scheduler consults to enforce
// at-most-one-in-flight (§4.H).
func (l *Ledger) HasInFlight(ctx context.Context, workflowID string) (bool, error) {
	const q = `
		SELECT EXISTS(
			SELECT 1 FROM workflow_runs
			WHERE workflow_id = $1 AND status IN ('queued', 'running')
		)`

	var exists bool
	if err := l.conn.QueryRowContext(ctx, q, workflowID).Scan(&exists); err != nil {
		return false, apierrors.Wrap(apierrors.KindStorage, "check in-flight runs", err)
	}

	return exists, nil
}

// OpenRun creates a new Run in status `queued`, per §4.I open_run.
func (l *Ledger) OpenRun(ctx context.Context, workflowID, trigger string, uploadedFile *string) (*Run, error) {
	id, err := clock.NewID()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "generate run id", err)
	}

	now := l.clock.Now()

	const q = `
		INSERT INTO workflow_runs (id, workflow_id, status, trigger, queued_at, uploaded_file, step_index, batch_offset)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0)`

	if _, err := l.conn.ExecContext(ctx, q, id, workflowID, StatusQueued, trigger, now, uploadedFile); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "open run", err)
	}

	return &Run{
		ID: id, WorkflowID: workflowID, Status: StatusQueued, Trigger: trigger,
		QueuedAt: now, UploadedFile: uploadedFile, Cursor: Cursor{RunID: id},
	}, nil
}

// OpenManualRun opens a run triggered by an uploaded file rather than a
// cron firing (§10 supplemental feature: manual run with uploaded file).
func (l *Ledger) OpenManualRun(ctx context.Context, workflowID, uploadedFile string) (*Run, error) {
	return l.OpenRun(ctx, workflowID, "manual", &uploadedFile)
}

// Advance transitions runID to `to`, enforced as a compare-and-set against
// the row's current status (§5 "serialises status transitions behind a
// compare-and-set"). Returns Conflict if the transition is not allowed from
// the current status.
func (l *Ledger) Advance(ctx context.Context, runID string, to Status) error {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "begin advance transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current Status
	if err := tx.QueryRowContext(ctx, "SELECT status FROM workflow_runs WHERE id = $1 FOR UPDATE", runID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierrors.New(apierrors.KindNotFound, "run not found: "+runID)
		}

		return apierrors.Wrap(apierrors.KindStorage, "load run status", err)
	}

	if !isAllowedTransition(current, to) {
		return apierrors.New(apierrors.KindConflict, fmt.Sprintf("invalid transition %s -> %s", current, to))
	}

	now := l.clock.Now()

	q := "UPDATE workflow_runs SET status = $1"
	args := []any{to}

	if to == StatusRunning {
		q += fmt.Sprintf(", started_at = $%d, heartbeat_at = $%d", len(args)+1, len(args)+2)
		args = append(args, now, now)
	}

	if to.IsTerminal() {
		q += fmt.Sprintf(", finished_at = $%d", len(args)+1)
		args = append(args, now)
	}

	args = append(args, runID)
	q += fmt.Sprintf(" WHERE id = $%d AND status = $%d", len(args), len(args)+1)
	args = append(args, current)

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "advance run status", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindConflict, "run status changed concurrently")
	}

	return apierrors.Wrap(apierrors.KindStorage, "commit advance transaction", tx.Commit())
}

// Heartbeat refreshes heartbeat_at for a running run, so the Maintenance
// Worker's stale-run reaper (§4.I) does not consider it stuck.
func (l *Ledger) Heartbeat(ctx context.Context, runID string) error {
	const q = `UPDATE workflow_runs SET heartbeat_at = $1 WHERE id = $2 AND status = $3`

	if _, err := l.conn.ExecContext(ctx, q, l.clock.Now(), runID, StatusRunning); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "heartbeat run", err)
	}

	return nil
}

// UpdateProgress persists processed/failed counters and the resumable
// cursor after every batch commit (§4.F at-least-once semantics).
func (l *Ledger) UpdateProgress(ctx context.Context, runID string, processed, failed, stepIndex, batchOffset int) error {
	const q = `
		UPDATE workflow_runs
		SET processed_items = $1, failed_items = $2, step_index = $3, batch_offset = $4
		WHERE id = $5`

	if _, err := l.conn.ExecContext(ctx, q, processed, failed, stepIndex, batchOffset, runID); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "update run progress", err)
	}

	return nil
}

// AppendLog appends one structured, immutable log line (§4.I append_log).
func (l *Ledger) AppendLog(ctx context.Context, runID, severity, message string, meta map[string]any) error {
	id, err := clock.NewID()
	if err != nil {
		return apierrors.Wrap(apierrors.KindUnexpected, "generate run log id", err)
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return apierrors.Wrap(apierrors.KindUnexpected, "marshal run log meta", err)
	}

	const q = `
		INSERT INTO workflow_run_logs (id, run_id, timestamp, severity, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := l.conn.ExecContext(ctx, q, id, runID, l.clock.Now(), severity, message, payload); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "append run log", err)
	}

	return nil
}

// GetRun loads one run by id (§4.I get_run).
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	const q = `
		SELECT id, workflow_id, status, trigger, queued_at, started_at, finished_at, heartbeat_at,
		       processed_items, failed_items, uploaded_file, step_index, batch_offset
		FROM workflow_runs WHERE id = $1`

	var r Run
	if err := l.conn.QueryRowContext(ctx, q, runID).Scan(
		&r.ID, &r.WorkflowID, &r.Status, &r.Trigger, &r.QueuedAt, &r.StartedAt, &r.FinishedAt, &r.HeartbeatAt,
		&r.ProcessedItems, &r.FailedItems, &r.UploadedFile, &r.Cursor.StepIndex, &r.Cursor.BatchOffset,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "run not found: "+runID)
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "get run", err)
	}

	r.Cursor.RunID = r.ID

	return &r, nil
}

// ListRuns lists runs matching filter, newest first (§4.I list_runs).
func (l *Ledger) ListRuns(ctx context.Context, filter ListFilter, page Page) ([]Run, error) {
	q := `
		SELECT id, workflow_id, status, trigger, queued_at, started_at, finished_at, heartbeat_at,
		       processed_items, failed_items, uploaded_file, step_index, batch_offset
		FROM workflow_runs WHERE 1 = 1`

	var args []any

	if filter.WorkflowID != nil {
		args = append(args, *filter.WorkflowID)
		q += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, page.Limit, page.Offset)
	q += fmt.Sprintf(" ORDER BY queued_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := l.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list runs", err)
	}
	defer rows.Close()

	var out []Run

	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.WorkflowID, &r.Status, &r.Trigger, &r.QueuedAt, &r.StartedAt, &r.FinishedAt, &r.HeartbeatAt,
			&r.ProcessedItems, &r.FailedItems, &r.UploadedFile, &r.Cursor.StepIndex, &r.Cursor.BatchOffset,
		); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan run", err)
		}

		r.Cursor.RunID = r.ID
		out = append(out, r)
	}

	return out, rows.Err()
}

// ListLogs lists log lines for a run, newest first by default but
// indexable by offset (§4.I list_logs).
func (l *Ledger) ListLogs(ctx context.Context, runID string, page Page) ([]RunLog, error) {
	const q = `
		SELECT id, run_id, timestamp, severity, message, meta
		FROM workflow_run_logs WHERE run_id = $1
		ORDER BY timestamp DESC LIMIT $2 OFFSET $3`

	rows, err := l.conn.QueryContext(ctx, q, runID, page.Limit, page.Offset)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list run logs", err)
	}
	defer rows.Close()

	var out []RunLog

	for rows.Next() {
		var (
			entry   RunLog
			payload []byte
		)

		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Timestamp, &entry.Severity, &entry.Message, &payload); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan run log", err)
		}

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entry.Meta); err != nil {
				return nil, apierrors.Wrap(apierrors.KindUnexpected, "unmarshal run log meta", err)
			}
		}

		out = append(out, entry)
	}

	return out, rows.Err()
}

// DeleteOldLogs removes log lines belonging to terminal runs whose
// finished_at predates olderThan, the run-log-retention task the
// Maintenance Worker drives on every tick (§4.J). Logs for runs still
// queued or running are never touched, regardless of age.
func (l *Ledger) DeleteOldLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `
		DELETE FROM workflow_run_logs
		WHERE run_id IN (
			SELECT id FROM workflow_runs
			WHERE status IN ('success', 'failure', 'cancelled') AND finished_at < $1
		)`

	res, err := l.conn.ExecContext(ctx, q, olderThan)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "delete old run logs", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "delete old run logs rows affected", err)
	}

	return n, nil
}

// ReapStale transitions every run in `running` whose heartbeat is older
// than staleThreshold to `failure`, appending a synthetic log line
// (§4.I heartbeat rule, driven by the Maintenance Worker).
func (l *Ledger) ReapStale(ctx context.Context, staleBefore int64) (int, error) {
	const q = `
		SELECT id FROM workflow_runs
		WHERE status = 'running' AND heartbeat_at IS NOT NULL
		  AND EXTRACT(EPOCH FROM (now() - heartbeat_at)) > $1`

	rows, err := l.conn.QueryContext(ctx, q, staleBefore)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "find stale runs", err)
	}

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()

			return 0, apierrors.Wrap(apierrors.KindStorage, "scan stale run id", err)
		}

		ids = append(ids, id)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "iterate stale runs", err)
	}

	reaped := 0

	for _, id := range ids {
		if err := l.Advance(ctx, id, StatusFailure); err != nil {
			continue
		}

		_ = l.AppendLog(ctx, id, "error", "run reaped: heartbeat exceeded stale threshold", nil)

		reaped++
	}

	return reaped, nil
}
