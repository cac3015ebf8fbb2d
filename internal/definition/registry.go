package definition

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/storage"
)

type (
	// VersionRecorder appends an immutable DefinitionVersion row inside the
	// caller's transaction. Implemented by internal/version.Store.
	VersionRecorder interface {
		RecordDefinitionVersion(ctx context.Context, tx *sql.Tx, definitionID string, version int, payload []byte, createdBy, comment string) error
	}

	// Invalidator is the subset of the Cache Layer the registry needs:
	// explicit invalidation on mutation (§9 "Global state").
	Invalidator interface {
		Invalidate(key string)
	}

	// Registry implements the Entity Definition Registry (§4.B).
	Registry struct {
		conn     *storage.Connection
		versions VersionRecorder
		cache    Invalidator // optional, may be nil
		clock    clock.Clock
	}
)

// New constructs a Registry. cache may be nil if no Cache Layer is wired.
func New(conn *storage.Connection, versions VersionRecorder, cache Invalidator) *Registry {
	return &Registry{conn: conn, versions: versions, cache: cache, clock: clock.New()}
}

// tryLockDefinition takes pg_try_advisory_xact_lock keyed by
// hashtext(name), serialising concurrent mutations of the same type
// per §5 "the materialised-table DDL path is serialised through a global
// advisory lock".
func (r *Registry) tryLockDefinition(ctx context.Context, tx *sql.Tx, name string) error {
	var locked bool

	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock(hashtext($1))", name).Scan(&locked); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "acquire definition advisory lock", err)
	}

	if !locked {
		return apierrors.New(apierrors.KindConflict, "definition "+name+" is being mutated concurrently")
	}

	return nil
}

// validateDefinition checks identifier safety, reserved words, and
// per-field constraint sanity (§4.B validation).
func validateDefinition(def *EntityDefinition) error {
	if err := ValidateIdentifier(def.Name); err != nil {
		return err
	}

	seen := make(map[string]bool, len(def.Fields))

	for _, f := range def.Fields {
		if err := ValidateIdentifier(f.Name); err != nil {
			return err
		}

		if seen[f.Name] {
			return apierrors.New(apierrors.KindNameConflict, "duplicate field name: "+f.Name)
		}

		seen[f.Name] = true

		if !f.Type.IsValid() {
			return apierrors.New(apierrors.KindValidation, "unknown field type: "+string(f.Type)).
				WithViolations(apierrors.Violation{Field: f.Name, Message: "unknown field type", Code: "TypeMismatch"})
		}

		if err := validateConstraintTags(f); err != nil {
			return err
		}

		if f.Default != nil {
			if err := validateDefaultCoercible(f); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateDefaultCoercible checks that a field's default value is coercible
// to its declared type; the actual coercion logic for row data lives in
// internal/entity, this is a lighter syntactic check scoped to definition
// authoring time.
func validateDefaultCoercible(f FieldDefinition) error {
	switch f.Type {
	case FieldInteger, FieldFloat, FieldBoolean:
		// Numeric/boolean defaults are validated precisely at row-write
		// time against the full §7.2 token table; here we only reject the
		// empty string, which can never coerce.
		if *f.Default == "" {
			return apierrors.New(apierrors.KindValidation, "default cannot be empty for field: "+f.Name).
				WithViolations(apierrors.Violation{Field: f.Name, Message: "empty default", Code: "TypeMismatch"})
		}
	}

	return nil
}

// CreateDefinition persists a new EntityDefinition and materialises its
// table and view, per §4.B create_definition.
func (r *Registry) CreateDefinition(ctx context.Context, def *EntityDefinition, actor string) (*EntityDefinition, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "begin create_definition transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.tryLockDefinition(ctx, tx, def.Name); err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM entity_definitions WHERE name = $1)", def.Name).
		Scan(&exists); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "check definition name conflict", err)
	}

	if exists {
		return nil, apierrors.New(apierrors.KindNameConflict, "definition already exists: "+def.Name)
	}

	id, err := clock.NewID()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "generate definition id", err)
	}

	now := r.clock.Now()
	fieldsJSON, err := json.Marshal(def.Fields)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "marshal field definitions", err)
	}

	const insertQ = `
		INSERT INTO entity_definitions
			(id, name, display_name, "group", icon, allow_children, published, version, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $9)`

	if _, err := tx.ExecContext(ctx, insertQ,
		id, def.Name, def.DisplayName, def.Group, def.Icon, def.AllowChildren, def.Published, fieldsJSON, now,
	); err != nil {
		return nil, translatePQError(err)
	}

	if _, err := tx.ExecContext(ctx, BuildCreateTableDDL(def)); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "create materialised table", err)
	}

	if _, err := tx.ExecContext(ctx, BuildCreateViewDDL(def)); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "create union view", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "commit create_definition transaction", err)
	}

	def.ID = id
	def.Version = 1
	def.CreatedAt, def.UpdatedAt = now, now

	return def, nil
}

// UpdateDefinition applies an operator-proposed definition change, bumping
// the version and emitting the minimal DDL for the computed field diff, per
// §4.B update_definition.
func (r *Registry) UpdateDefinition(ctx context.Context, id string, proposed *EntityDefinition, actor string) (*EntityDefinition, error) {
	if err := validateDefinition(proposed); err != nil {
		return nil, err
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "begin update_definition transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := r.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := r.tryLockDefinition(ctx, tx, current.Name); err != nil {
		return nil, err
	}

	if proposed.Name != current.Name {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM entity_definitions WHERE name = $1 AND id <> $2)",
			proposed.Name, id).Scan(&exists); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "check definition name conflict", err)
		}

		if exists {
			return nil, apierrors.New(apierrors.KindNameConflict, "definition already exists: "+proposed.Name)
		}
	}

	diffs := DiffFields(current.Fields, proposed.Fields)

	alters, err := BuildAlterTableDDL(current.Name, diffs)
	if err != nil {
		return nil, err
	}

	for _, stmt := range alters {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "alter materialised table", err)
		}
	}

	now := r.clock.Now()
	newVersion := current.Version + 1

	payload, err := json.Marshal(current) // snapshot is the PRE-change state
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "marshal pre-change definition", err)
	}

	if err := r.versions.RecordDefinitionVersion(ctx, tx, id, current.Version, payload, actor, "updated"); err != nil {
		return nil, err
	}

	fieldsJSON, err := json.Marshal(proposed.Fields)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "marshal field definitions", err)
	}

	const updateQ = `
		UPDATE entity_definitions
		SET name = $1, display_name = $2, "group" = $3, icon = $4, allow_children = $5,
		    published = $6, version = $7, fields = $8, updated_at = $9
		WHERE id = $10`

	if _, err := tx.ExecContext(ctx, updateQ,
		proposed.Name, proposed.DisplayName, proposed.Group, proposed.Icon, proposed.AllowChildren,
		proposed.Published, newVersion, fieldsJSON, now, id,
	); err != nil {
		return nil, translatePQError(err)
	}

	if proposed.Name != current.Name {
		if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+ViewName(current.Name)); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "drop stale view", err)
		}

		if _, err := tx.ExecContext(ctx, "ALTER TABLE "+TableName(current.Name)+" RENAME TO "+TableName(proposed.Name)); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "rename materialised table", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+ViewName(current.Name)); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "drop stale view", err)
		}
	}

	proposed.ID = id
	proposed.Version = newVersion

	if _, err := tx.ExecContext(ctx, BuildCreateViewDDL(proposed)); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "recreate union view", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "commit update_definition transaction", err)
	}

	if r.cache != nil {
		r.cache.Invalidate(current.Name)
	}

	proposed.CreatedAt = current.CreatedAt
	proposed.UpdatedAt = now

	return proposed, nil
}

// DeleteDefinition drops a definition's view and table and removes its
// registry row, rejecting if published and any entity of the type exists
// (§4.B delete_definition).
func (r *Registry) DeleteDefinition(ctx context.Context, id string) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "begin delete_definition transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	def, err := r.getForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}

	if err := r.tryLockDefinition(ctx, tx, def.Name); err != nil {
		return err
	}

	if def.Published {
		var count int

		countQ := fmt.Sprintf("SELECT count(*) FROM %s", TableName(def.Name))
		if err := tx.QueryRowContext(ctx, countQ).Scan(&count); err != nil {
			return apierrors.Wrap(apierrors.KindStorage, "count entities of type", err)
		}

		if count > 0 {
			return apierrors.New(apierrors.KindDefinitionInUse,
				fmt.Sprintf("definition %s is published and has %d entities", def.Name, count))
		}
	}

	for _, stmt := range BuildDropDDL(def.Name) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apierrors.Wrap(apierrors.KindStorage, "drop materialised table/view", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entity_definitions WHERE id = $1", id); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "delete registry row", err)
	}

	if err := tx.Commit(); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "commit delete_definition transaction", err)
	}

	if r.cache != nil {
		r.cache.Invalidate(def.Name)
	}

	return nil
}

// ListDefinitions returns definitions ordered by display name (§4.B
// list_definitions).
func (r *Registry) ListDefinitions(ctx context.Context, filter ListFilter, page Page) ([]EntityDefinition, int, error) {
	where := ""
	if filter.PublishedOnly {
		where = "WHERE published = true"
	}

	countQ := "SELECT count(*) FROM entity_definitions " + where

	var total int
	if err := r.conn.QueryRowContext(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, apierrors.Wrap(apierrors.KindStorage, "count definitions", err)
	}

	q := fmt.Sprintf(
		`SELECT id, name, display_name, "group", icon, allow_children, published, version, fields, created_at, updated_at
		 FROM entity_definitions %s ORDER BY display_name LIMIT $1 OFFSET $2`, where)

	rows, err := r.conn.QueryContext(ctx, q, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, apierrors.Wrap(apierrors.KindStorage, "list definitions", err)
	}
	defer rows.Close()

	var out []EntityDefinition

	for rows.Next() {
		var def EntityDefinition

		var fieldsJSON []byte
		if err := rows.Scan(&def.ID, &def.Name, &def.DisplayName, &def.Group, &def.Icon, &def.AllowChildren,
			&def.Published, &def.Version, &fieldsJSON, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, 0, apierrors.Wrap(apierrors.KindStorage, "scan definition", err)
		}

		if err := json.Unmarshal(fieldsJSON, &def.Fields); err != nil {
			return nil, 0, apierrors.Wrap(apierrors.KindUnexpected, "unmarshal fields", err)
		}

		out = append(out, def)
	}

	return out, total, rows.Err()
}

// Fields returns the declared fields for entityType plus the synthesised
// invariant fields, flagged system=true (§4.B fields).
func (r *Registry) Fields(ctx context.Context, entityType string) ([]FieldDefinition, error) {
	const q = `SELECT fields FROM entity_definitions WHERE name = $1`

	var fieldsJSON []byte
	if err := r.conn.QueryRowContext(ctx, q, entityType).Scan(&fieldsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "definition not found: "+entityType)
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "load fields", err)
	}

	var fields []FieldDefinition
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "unmarshal fields", err)
	}

	return append(append([]FieldDefinition{}, invariantAttributes...), fields...), nil
}

// getForUpdate loads a definition by id within tx, for mutation call sites.
func (r *Registry) getForUpdate(ctx context.Context, tx *sql.Tx, id string) (*EntityDefinition, error) {
	const q = `
		SELECT id, name, display_name, "group", icon, allow_children, published, version, fields, created_at, updated_at
		FROM entity_definitions WHERE id = $1 FOR UPDATE`

	var def EntityDefinition

	var fieldsJSON []byte
	if err := tx.QueryRowContext(ctx, q, id).Scan(&def.ID, &def.Name, &def.DisplayName, &def.Group, &def.Icon,
		&def.AllowChildren, &def.Published, &def.Version, &fieldsJSON, &def.CreatedAt, &def.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "definition not found: "+id)
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "load definition for update", err)
	}

	if err := json.Unmarshal(fieldsJSON, &def.Fields); err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "unmarshal fields", err)
	}

	return &def, nil
}

// translatePQError maps a Postgres unique-violation into NameConflict,
// everything else into a generic Storage error.
func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apierrors.Wrap(apierrors.KindNameConflict, "unique constraint violated", err)
	}

	return apierrors.Wrap(apierrors.KindStorage, "definition registry write", err)
}
