package pipeline

import (
	"context"
	"encoding/json"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/storage"
)

// RawItemStore persists RawItems against workflow_raw_items, grounded on
// the teacher's LineageStore batch idiom: staging happens in bounded,
// single-transaction batches; draining reads bounded batches and marks each
// row processed or failed with its own statement.
type RawItemStore struct {
	conn *storage.Connection
}

// NewRawItemStore constructs a RawItemStore over an existing connection
// pool.
func NewRawItemStore(conn *storage.Connection) *RawItemStore {
	return &RawItemStore{conn: conn}
}

// NextOffset returns the next free source_offset for runID, so a caller
// staging a new step's rows can continue the run's offset sequence instead
// of colliding with an already-staged step.
func (s *RawItemStore) NextOffset(ctx context.Context, runID string) (int64, error) {
	const q = `SELECT COALESCE(MAX(source_offset) + 1, 0) FROM workflow_raw_items WHERE run_id = $1`

	var next int64
	if err := s.conn.QueryRowContext(ctx, q, runID).Scan(&next); err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "compute next raw item offset", err)
	}

	return next, nil
}

// StageBatch inserts rows as RawItems for runID in one transaction,
// starting at startOffset, and returns the staged items.
func (s *RawItemStore) StageBatch(ctx context.Context, runID string, startOffset int64, rows []map[string]any) ([]RawItem, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "begin stage raw items transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO workflow_raw_items (id, run_id, source_offset, payload, processed, failed) VALUES ($1, $2, $3, $4, false, false)`

	items := make([]RawItem, 0, len(rows))

	for i, row := range rows {
		id, err := clock.NewID()
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindUnexpected, "generate raw item id", err)
		}

		payload, err := json.Marshal(row)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindUnexpected, "marshal raw item payload", err)
		}

		offset := startOffset + int64(i)

		if _, err := tx.ExecContext(ctx, q, id, runID, offset, payload); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "stage raw item", err)
		}

		items = append(items, RawItem{ID: id, RunID: runID, SourceOffset: offset, Payload: row})
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "commit stage raw items transaction", err)
	}

	return items, nil
}

// PendingBatch returns up to limit not-yet-processed items for runID with
// source_offset > afterOffset, ordered by offset — the resumable read
// cursor the executor drains between Run Ledger commits.
func (s *RawItemStore) PendingBatch(ctx context.Context, runID string, afterOffset int64, limit int) ([]RawItem, error) {
	const q = `
		SELECT id, run_id, source_offset, payload, processed, failed, COALESCE(failure_reason, '')
		FROM workflow_raw_items
		WHERE run_id = $1 AND NOT processed AND source_offset > $2
		ORDER BY source_offset
		LIMIT $3`

	rows, err := s.conn.QueryContext(ctx, q, runID, afterOffset, limit)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "load pending raw items", err)
	}
	defer rows.Close()

	var out []RawItem

	for rows.Next() {
		var (
			item    RawItem
			payload []byte
		)

		if err := rows.Scan(&item.ID, &item.RunID, &item.SourceOffset, &payload, &item.Processed, &item.Failed, &item.FailureReason); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan raw item", err)
		}

		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, apierrors.Wrap(apierrors.KindUnexpected, "unmarshal raw item payload", err)
		}

		out = append(out, item)
	}

	return out, rows.Err()
}

// MarkProcessed marks id as successfully emitted.
func (s *RawItemStore) MarkProcessed(ctx context.Context, id string) error {
	const q = `UPDATE workflow_raw_items SET processed = true WHERE id = $1`

	if _, err := s.conn.ExecContext(ctx, q, id); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "mark raw item processed", err)
	}

	return nil
}

// MarkFailed marks id as processed-but-failed, recording reason — a row
// failure never retries automatically on the next batch pull, per §4.F
// row-localized failure.
func (s *RawItemStore) MarkFailed(ctx context.Context, id, reason string) error {
	const q = `UPDATE workflow_raw_items SET processed = true, failed = true, failure_reason = $1 WHERE id = $2`

	if _, err := s.conn.ExecContext(ctx, q, reason, id); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "mark raw item failed", err)
	}

	return nil
}

// Count returns the total number of RawItems staged for runID, the bound
// invariant 5 (processed + failed <= count) is checked against.
func (s *RawItemStore) Count(ctx context.Context, runID string) (int, error) {
	const q = `SELECT COUNT(*) FROM workflow_raw_items WHERE run_id = $1`

	var count int
	if err := s.conn.QueryRowContext(ctx, q, runID).Scan(&count); err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "count raw items", err)
	}

	return count, nil
}
