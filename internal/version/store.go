package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/storage"
)

// Store persists and prunes version archives. One row per (key, version);
// the live row (owned by internal/definition or internal/entity) always
// carries version = max(archived) + 1.
type Store struct {
	conn *storage.Connection
}

// New constructs a Store over an existing connection pool.
func New(conn *storage.Connection) *Store {
	return &Store{conn: conn}
}

// RecordDefinitionVersion appends one immutable DefinitionVersion row.
// Called by internal/definition inside the same transaction as the
// definition mutation it snapshots, so either both commit or neither does.
func (s *Store) RecordDefinitionVersion(
	ctx context.Context, tx *sql.Tx, definitionID string, ver int, payload []byte, createdBy, comment string,
) error {
	const q = `
		INSERT INTO definition_versions (definition_id, version, created_at, created_by, payload, comment)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.ExecContext(ctx, q, definitionID, ver, time.Now().UTC(), createdBy, payload, comment); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "record definition version", err)
	}

	return nil
}

// RecordEntityVersion appends one immutable EntityVersion row, inside the
// caller's transaction.
func (s *Store) RecordEntityVersion(
	ctx context.Context, tx *sql.Tx, entityType, entityID string, ver int, payload []byte, createdBy, comment string,
) error {
	const q = `
		INSERT INTO entity_versions (entity_type, entity_id, version, created_at, created_by, payload, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.ExecContext(
		ctx, q, entityType, entityID, ver, time.Now().UTC(), createdBy, payload, comment,
	); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "record entity version", err)
	}

	return nil
}

// ListDefinitionVersions returns archived versions for one definition,
// newest first.
func (s *Store) ListDefinitionVersions(ctx context.Context, definitionID string, limit, offset int) ([]DefinitionVersion, error) {
	const q = `
		SELECT definition_id, version, created_at, created_by, payload, comment
		FROM definition_versions
		WHERE definition_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.conn.QueryContext(ctx, q, definitionID, limit, offset)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list definition versions", err)
	}
	defer rows.Close()

	var out []DefinitionVersion

	for rows.Next() {
		var v DefinitionVersion
		if err := rows.Scan(&v.DefinitionID, &v.Version, &v.CreatedAt, &v.CreatedBy, &v.Payload, &v.Comment); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan definition version", err)
		}

		out = append(out, v)
	}

	return out, rows.Err()
}

// ListEntityVersions returns archived versions for one entity, newest first.
func (s *Store) ListEntityVersions(ctx context.Context, entityType, entityID string, limit, offset int) ([]EntityVersion, error) {
	const q = `
		SELECT entity_type, entity_id, version, created_at, created_by, payload, comment
		FROM entity_versions
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY version DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.conn.QueryContext(ctx, q, entityType, entityID, limit, offset)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list entity versions", err)
	}
	defer rows.Close()

	var out []EntityVersion

	for rows.Next() {
		var v EntityVersion
		if err := rows.Scan(&v.EntityType, &v.EntityID, &v.Version, &v.CreatedAt, &v.CreatedBy, &v.Payload, &v.Comment); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan entity version", err)
		}

		out = append(out, v)
	}

	return out, rows.Err()
}

// PruneEntityVersions applies policy to one (entity_type, entity_id) pair in
// a single transaction, per §4.D: at least one (the latest) version is
// always retained regardless of thresholds.
func (s *Store) PruneEntityVersions(ctx context.Context, entityType, entityID string, policy PruningPolicy) (int64, error) {
	if !policy.Enabled {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "begin prune transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64

	if policy.MaxVersions != nil {
		const q = `
			DELETE FROM entity_versions
			WHERE entity_type = $1 AND entity_id = $2 AND version NOT IN (
				SELECT version FROM entity_versions
				WHERE entity_type = $1 AND entity_id = $2
				ORDER BY version DESC
				LIMIT GREATEST($3, 1)
			)`

		res, err := tx.ExecContext(ctx, q, entityType, entityID, *policy.MaxVersions)
		if err != nil {
			return 0, apierrors.Wrap(apierrors.KindStorage, "prune by max_versions", err)
		}

		n, _ := res.RowsAffected()
		deleted += n
	}

	if policy.MaxAgeDays != nil {
		const q = `
			DELETE FROM entity_versions
			WHERE entity_type = $1 AND entity_id = $2
			  AND created_at < now() - ($3 || ' days')::interval
			  AND version < (SELECT max(version) FROM entity_versions WHERE entity_type = $1 AND entity_id = $2)`

		res, err := tx.ExecContext(ctx, q, entityType, entityID, *policy.MaxAgeDays)
		if err != nil {
			return 0, apierrors.Wrap(apierrors.KindStorage, "prune by max_age_days", err)
		}

		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "commit prune transaction", err)
	}

	return deleted, nil
}

// PruneDefinitionVersions mirrors PruneEntityVersions for definition snapshots.
func (s *Store) PruneDefinitionVersions(ctx context.Context, definitionID string, policy PruningPolicy) (int64, error) {
	if !policy.Enabled {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "begin prune transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64

	if policy.MaxVersions != nil {
		const q = `
			DELETE FROM definition_versions
			WHERE definition_id = $1 AND version NOT IN (
				SELECT version FROM definition_versions
				WHERE definition_id = $1
				ORDER BY version DESC
				LIMIT GREATEST($2, 1)
			)`

		res, err := tx.ExecContext(ctx, q, definitionID, *policy.MaxVersions)
		if err != nil {
			return 0, apierrors.Wrap(apierrors.KindStorage, "prune by max_versions", err)
		}

		n, _ := res.RowsAffected()
		deleted += n
	}

	if policy.MaxAgeDays != nil {
		const q = `
			DELETE FROM definition_versions
			WHERE definition_id = $1
			  AND created_at < now() - ($2 || ' days')::interval
			  AND version < (SELECT max(version) FROM definition_versions WHERE definition_id = $1)`

		res, err := tx.ExecContext(ctx, q, definitionID, *policy.MaxAgeDays)
		if err != nil {
			return 0, apierrors.Wrap(apierrors.KindStorage, "prune by max_age_days", err)
		}

		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, apierrors.Wrap(apierrors.KindStorage, "commit prune transaction", err)
	}

	return deleted, nil
}

// DistinctEntityKeys returns every (entity_type, entity_id) pair that has at
// least one archived version, for the Maintenance Worker to iterate over
// one pruning transaction per pair (§4.D).
func (s *Store) DistinctEntityKeys(ctx context.Context) ([]struct{ EntityType, EntityID string }, error) {
	const q = `SELECT DISTINCT entity_type, entity_id FROM entity_versions`

	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list distinct entity keys", err)
	}
	defer rows.Close()

	var out []struct{ EntityType, EntityID string }

	for rows.Next() {
		var k struct{ EntityType, EntityID string }
		if err := rows.Scan(&k.EntityType, &k.EntityID); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan entity key", err)
		}

		out = append(out, k)
	}

	return out, rows.Err()
}

// DistinctDefinitionIDs returns every definition id that has at least one
// archived version, for the Maintenance Worker to iterate over one pruning
// transaction per definition (§4.D).
func (s *Store) DistinctDefinitionIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT definition_id FROM definition_versions`

	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "list distinct definition ids", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan definition id", err)
		}

		out = append(out, id)
	}

	return out, rows.Err()
}

// ErrNoRows mirrors sql.ErrNoRows so callers don't need to import database/sql
// just to check for the common not-found case.
var ErrNoRows = sql.ErrNoRows

// LatestDefinitionVersion returns the highest version number archived for a
// definition, or 0 if none exist yet.
func (s *Store) LatestDefinitionVersion(ctx context.Context, definitionID string) (int, error) {
	const q = `SELECT coalesce(max(version), 0) FROM definition_versions WHERE definition_id = $1`

	var v int
	if err := s.conn.QueryRowContext(ctx, q, definitionID).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		return 0, apierrors.Wrap(apierrors.KindStorage, "latest definition version", fmt.Errorf("%w", err))
	}

	return v, nil
}
