package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/storage"
)

// Store persists WorkflowDefinitions, following the Entity Definition
// Registry's per-operation transaction idiom (internal/definition.Registry).
type Store struct {
	conn  *storage.Connection
	clock clock.Clock
}

// New constructs a Store.
func New(conn *storage.Connection) *Store {
	return &Store{conn: conn, clock: clock.New()}
}

// Create persists a new Definition at version 1.
func (s *Store) Create(ctx context.Context, def *Definition) (*Definition, error) {
	id, err := clock.NewID()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "generate workflow id", err)
	}

	now := s.clock.Now()

	const insertQ = `
		INSERT INTO workflow_definitions
			(id, name, description, kind, enabled, cron, program, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)`

	if _, err := s.conn.ExecContext(ctx, insertQ,
		id, def.Name, def.Description, def.Kind, def.Enabled, def.Cron, def.Program, now,
	); err != nil {
		return nil, translatePQError(err)
	}

	def.ID = id
	def.Version = 1
	def.CreatedAt, def.UpdatedAt = now, now

	return def, nil
}

// Get loads a Definition by id.
func (s *Store) Get(ctx context.Context, id string) (*Definition, error) {
	const q = `
		SELECT id, name, description, kind, enabled, cron, program, version,
		       last_enqueued_at, created_at, updated_at
		FROM workflow_definitions WHERE id = $1`

	return scanOne(s.conn.QueryRowContext(ctx, q, id))
}

// Update applies an operator-proposed change to an existing Definition,
// bumping its version. The caller must pass the full desired Definition;
// CreatedAt/Version are preserved from the stored row.
func (s *Store) Update(ctx context.Context, id string, proposed *Definition) (*Definition, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "begin update workflow transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	const lockQ = `SELECT version, created_at FROM workflow_definitions WHERE id = $1 FOR UPDATE`

	var (
		currentVersion int
		createdAt      = proposed.CreatedAt
	)

	if err := tx.QueryRowContext(ctx, lockQ, id).Scan(&currentVersion, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "workflow not found: "+id)
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "load workflow for update", err)
	}

	now := s.clock.Now()
	newVersion := currentVersion + 1

	const updateQ = `
		UPDATE workflow_definitions
		SET name = $1, description = $2, kind = $3, enabled = $4, cron = $5,
		    program = $6, version = $7, updated_at = $8
		WHERE id = $9`

	if _, err := tx.ExecContext(ctx, updateQ,
		proposed.Name, proposed.Description, proposed.Kind, proposed.Enabled, proposed.Cron,
		proposed.Program, newVersion, now, id,
	); err != nil {
		return nil, translatePQError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "commit update workflow transaction", err)
	}

	proposed.ID = id
	proposed.Version = newVersion
	proposed.CreatedAt = createdAt
	proposed.UpdatedAt = now

	return proposed, nil
}

// Delete removes a Definition; cascading to its runs, logs, and raw items
// per §3 Ownership is enforced by the workflow_runs FK's ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "delete workflow", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "delete workflow rows affected", err)
	}

	if n == 0 {
		return apierrors.New(apierrors.KindNotFound, "workflow not found: "+id)
	}

	return nil
}

// List returns Definitions ordered by name, optionally narrowed to enabled
// rows or a given Kind — the Scheduler's reconciliation loop calls this with
// ListFilter{EnabledOnly: true} every tick.
func (s *Store) List(ctx context.Context, filter ListFilter, page Page) ([]Definition, error) {
	where := "WHERE true"

	args := []any{page.Limit, page.Offset}

	if filter.EnabledOnly {
		where += " AND enabled"
	}

	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}

	q := fmt.Sprintf(`
		SELECT id, name, description, kind, enabled, cron, program, version,
		       last_enqueued_at, created_at, updated_at
		FROM workflow_definitions %s ORDER BY name LIMIT $1 OFFSET $2`, where)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list workflows", err)
	}
	defer rows.Close()

	var out []Definition

	for rows.Next() {
		def, err := scanRows(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *def)
	}

	return out, rows.Err()
}

// MarkEnqueued stamps last_enqueued_at, the Scheduler's at-most-one-in-flight
// bookkeeping (§4.H) beyond the Run Ledger's own HasInFlight check.
func (s *Store) MarkEnqueued(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, "UPDATE workflow_definitions SET last_enqueued_at = $1 WHERE id = $2", s.clock.Now(), id)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "mark workflow enqueued", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*Definition, error) {
	var def Definition

	var cronExpr sql.NullString

	if err := row.Scan(&def.ID, &def.Name, &def.Description, &def.Kind, &def.Enabled, &cronExpr, &def.Program,
		&def.Version, &def.LastEnqueuedAt, &def.CreatedAt, &def.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "workflow not found")
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "scan workflow", err)
	}

	if cronExpr.Valid {
		def.Cron = &cronExpr.String
	}

	return &def, nil
}

func scanRows(rows *sql.Rows) (*Definition, error) {
	return scanOne(rows)
}

func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apierrors.Wrap(apierrors.KindNameConflict, "unique constraint violated", err)
	}

	return apierrors.Wrap(apierrors.KindStorage, "workflow registry write", err)
}
