package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/definition"
	"github.com/r3data-core/rdatacore/internal/storage"
)

type (
	// DefinitionLookup resolves a published definition's fields, consulting
	// the Cache Layer when one is wired (§4.C: "looks up definition (via
	// cache)"). Implemented by internal/definition.Registry plus the cache
	// wrapper in internal/cache.
	DefinitionLookup interface {
		Fields(ctx context.Context, entityType string) ([]definition.FieldDefinition, error)
	}

	// VersionRecorder appends an immutable EntityVersion row inside the
	// caller's transaction. Implemented by internal/version.Store.
	VersionRecorder interface {
		RecordEntityVersion(ctx context.Context, tx *sql.Tx, entityType, entityID string, version int, payload []byte, createdBy, comment string) error
	}

	// Store implements the Entity Store (§4.C).
	Store struct {
		conn        *storage.Connection
		definitions DefinitionLookup
		versions    VersionRecorder
		clock       clock.Clock
	}
)

// New constructs a Store.
func New(conn *storage.Connection, definitions DefinitionLookup, versions VersionRecorder) *Store {
	return &Store{conn: conn, definitions: definitions, versions: versions, clock: clock.New()}
}

// validateFieldData applies §4.C.1 to every declared (non-system) field and
// rejects unknown keys.
func validateFieldData(fields []definition.FieldDefinition, data map[string]any) (map[string]any, error) {
	declared := make(map[string]definition.FieldDefinition)

	for _, f := range fields {
		if !f.System {
			declared[f.Name] = f
		}
	}

	for key := range data {
		if _, ok := declared[key]; !ok {
			return nil, apierrors.New(apierrors.KindUnknownField, "unknown field: "+key).
				WithViolations(apierrors.Violation{Field: key, Message: "not declared on this definition", Code: "UnknownField"})
		}
	}

	coerced := make(map[string]any, len(declared))

	for name, fd := range declared {
		raw, present := data[name]
		if !present {
			if fd.Required {
				return nil, fieldErr(name, "required field is missing")
			}

			continue
		}

		value, err := CoerceValue(fd, raw)
		if err != nil {
			return nil, err
		}

		coerced[name] = value
	}

	return coerced, nil
}

// Create inserts a new entity of entityType, per §4.C create.
func (s *Store) Create(ctx context.Context, entityType string, fieldData map[string]any, actor, parentPath string) (*Entity, error) {
	fields, err := s.definitions.Fields(ctx, entityType)
	if err != nil {
		return nil, err
	}

	coerced, err := validateFieldData(fields, fieldData)
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "begin create transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := clock.NewID()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "generate entity id", err)
	}

	now := s.clock.Now()
	path := NormalizePath(parentPath)

	const insertRegistryQ = `
		INSERT INTO entities (id, entity_type, path, created_at, updated_at, created_by, updated_by, published, version)
		VALUES ($1, $2, $3, $4, $4, $5, $5, false, 1)`

	if _, err := tx.ExecContext(ctx, insertRegistryQ, id, entityType, path, now, actor); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "insert registry row", err)
	}

	if err := insertTypeRow(ctx, tx, entityType, id, coerced); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "commit create transaction", err)
	}

	return &Entity{
		ID: id, Type: entityType, Path: path, CreatedAt: now, UpdatedAt: now,
		CreatedBy: actor, UpdatedBy: actor, Version: 1, Fields: coerced,
	}, nil
}

// Update applies patch to an existing entity, archiving the pre-change
// payload and bumping the version counter (§4.C update).
func (s *Store) Update(ctx context.Context, entityType, id string, patch map[string]any, actor string) (*Entity, error) {
	fields, err := s.definitions.Fields(ctx, entityType)
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "begin update transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, currentVersion, err := s.getForUpdate(ctx, tx, entityType, id, fields)
	if err != nil {
		return nil, err
	}

	coercedPatch, err := validateFieldData(fields, patch)
	if err != nil {
		return nil, err
	}

	prePayload, err := json.Marshal(current.Fields)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnexpected, "marshal pre-change payload", err)
	}

	if err := s.versions.RecordEntityVersion(ctx, tx, entityType, id, currentVersion, prePayload, actor, "updated"); err != nil {
		return nil, err
	}

	merged := current.Fields
	if merged == nil {
		merged = map[string]any{}
	}

	for k, v := range coercedPatch {
		merged[k] = v
	}

	now := s.clock.Now()
	newVersion := currentVersion + 1

	if err := updateTypeRow(ctx, tx, entityType, id, coercedPatch); err != nil {
		return nil, err
	}

	const updateRegistryQ = `
		UPDATE entities SET updated_at = $1, updated_by = $2, version = $3 WHERE id = $4`

	if _, err := tx.ExecContext(ctx, updateRegistryQ, now, actor, newVersion, id); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "update registry row", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "commit update transaction", err)
	}

	current.Fields = merged
	current.UpdatedAt = now
	current.UpdatedBy = actor
	current.Version = newVersion

	return current, nil
}

// Delete removes an entity; the version archive retains its history until
// pruned (§4.C delete, ownership rules in §3).
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE entity_id = $1", definition.TableName(entityType)), id); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "delete type row", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = $1 AND entity_type = $2", id, entityType)
	if err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "delete registry row", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.New(apierrors.KindNotFound, "entity not found: "+id)
	}

	return apierrors.Wrap(apierrors.KindStorage, "commit delete transaction", tx.Commit())
}

// Get loads one entity by (type, id), per §4.C get.
func (s *Store) Get(ctx context.Context, entityType, id string) (*Entity, error) {
	const q = `
		SELECT id, entity_type, path, created_at, updated_at, created_by, updated_by, published, version
		FROM entities WHERE id = $1 AND entity_type = $2`

	var e Entity
	if err := s.conn.QueryRowContext(ctx, q, id, entityType).Scan(
		&e.ID, &e.Type, &e.Path, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy, &e.Published, &e.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "entity not found: "+id)
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "get entity", err)
	}

	fields, err := s.loadTypeRow(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	e.Fields = fields

	return &e, nil
}

// GetByPath loads one entity by its exact path, per §4.C get_by_path.
func (s *Store) GetByPath(ctx context.Context, path string) (*Entity, error) {
	const q = `
		SELECT id, entity_type, path, created_at, updated_at, created_by, updated_by, published, version
		FROM entities WHERE path = $1`

	var e Entity
	if err := s.conn.QueryRowContext(ctx, q, NormalizePath(path)).Scan(
		&e.ID, &e.Type, &e.Path, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy, &e.Published, &e.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "entity not found at path: "+path)
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "get entity by path", err)
	}

	fields, err := s.loadTypeRow(ctx, e.Type, e.ID)
	if err != nil {
		return nil, err
	}

	e.Fields = fields

	return &e, nil
}

// FindByField returns the first entity of entityType whose declared field
// equals value, used by the DSL `authenticate` transform and the entity
// sink's update_key match to resolve a row value against the Entity Store.
func (s *Store) FindByField(ctx context.Context, entityType, field string, value any) (*Entity, error) {
	fields, err := s.definitions.Fields(ctx, entityType)
	if err != nil {
		return nil, err
	}

	declared := false

	for _, f := range fields {
		if !f.System && f.Name == field {
			declared = true

			break
		}
	}

	if !declared {
		return nil, apierrors.New(apierrors.KindUnknownField, "unknown field: "+field)
	}

	q := fmt.Sprintf(`
		SELECT e.id FROM entities e JOIN %s t ON t.entity_id = e.id
		WHERE e.entity_type = $1 AND t.%s = $2 LIMIT 1`, definition.TableName(entityType), field)

	var id string
	if err := s.conn.QueryRowContext(ctx, q, entityType, value).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.New(apierrors.KindNotFound, "no entity with "+field+" = "+fmt.Sprint(value))
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "find entity by field", err)
	}

	return s.Get(ctx, entityType, id)
}

// Query lists entities of a type filtered by parent/path, per §4.C query.
func (s *Store) Query(ctx context.Context, entityType string, filter QueryFilter, page Page) ([]Entity, error) {
	q := `SELECT id, entity_type, path, created_at, updated_at, created_by, updated_by, published, version
	      FROM entities WHERE entity_type = $1`

	args := []any{entityType}

	if filter.Path != nil {
		args = append(args, *filter.Path)
		q += fmt.Sprintf(" AND path = $%d", len(args))
	}

	if filter.Parent != nil {
		args = append(args, *filter.Parent+"%")
		q += fmt.Sprintf(" AND path LIKE $%d", len(args))
	}

	args = append(args, page.Limit, page.Offset)
	q += fmt.Sprintf(" ORDER BY path, created_at LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "query entities", err)
	}
	defer rows.Close()

	var out []Entity

	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Type, &e.Path, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy,
			&e.Published, &e.Version); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan entity", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func (s *Store) getForUpdate(ctx context.Context, tx *sql.Tx, entityType, id string, fields []definition.FieldDefinition) (*Entity, int, error) {
	const q = `
		SELECT id, entity_type, path, created_at, updated_at, created_by, updated_by, published, version
		FROM entities WHERE id = $1 AND entity_type = $2 FOR UPDATE`

	var e Entity
	if err := tx.QueryRowContext(ctx, q, id, entityType).Scan(
		&e.ID, &e.Type, &e.Path, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy, &e.Published, &e.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, apierrors.New(apierrors.KindNotFound, "entity not found: "+id)
		}

		return nil, 0, apierrors.Wrap(apierrors.KindStorage, "get entity for update", err)
	}

	typeFields, err := loadTypeRowTx(ctx, tx, entityType, id, fields)
	if err != nil {
		return nil, 0, err
	}

	e.Fields = typeFields

	return &e, e.Version, nil
}

func (s *Store) loadTypeRow(ctx context.Context, entityType, id string) (map[string]any, error) {
	fields, err := s.definitions.Fields(ctx, entityType)
	if err != nil {
		return nil, err
	}

	cols := declaredColumnNames(fields)
	if len(cols) == 0 {
		return map[string]any{}, nil
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE entity_id = $1", joinCols(cols), definition.TableName(entityType))

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}

	if err := s.conn.QueryRowContext(ctx, q, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{}, nil
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "load type row", err)
	}

	out := make(map[string]any, len(cols))
	for i, col := range cols {
		out[col] = *(dest[i].(*any))
	}

	return out, nil
}

func loadTypeRowTx(ctx context.Context, tx *sql.Tx, entityType, id string, fields []definition.FieldDefinition) (map[string]any, error) {
	cols := declaredColumnNames(fields)
	if len(cols) == 0 {
		return map[string]any{}, nil
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE entity_id = $1", joinCols(cols), definition.TableName(entityType))

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}

	if err := tx.QueryRowContext(ctx, q, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{}, nil
		}

		return nil, apierrors.Wrap(apierrors.KindStorage, "load type row", err)
	}

	out := make(map[string]any, len(cols))
	for i, col := range cols {
		out[col] = *(dest[i].(*any))
	}

	return out, nil
}

func declaredColumnNames(fields []definition.FieldDefinition) []string {
	cols := make([]string, 0, len(fields))

	for _, f := range fields {
		if !f.System {
			cols = append(cols, f.Name)
		}
	}

	return cols
}

func joinCols(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}

	return out
}

func insertTypeRow(ctx context.Context, tx *sql.Tx, entityType, id string, data map[string]any) error {
	cols := []string{"entity_id"}
	vals := []any{id}
	placeholders := []string{"$1"}

	i := 2
	for k, v := range data {
		cols = append(cols, k)
		vals = append(vals, v)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		i++
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		definition.TableName(entityType), joinCols(cols), joinCols(placeholders))

	if _, err := tx.ExecContext(ctx, q, vals...); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "insert type row", err)
	}

	return nil
}

func updateTypeRow(ctx context.Context, tx *sql.Tx, entityType, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	sets := make([]string, 0, len(patch))
	vals := make([]any, 0, len(patch)+1)

	i := 1
	for k, v := range patch {
		sets = append(sets, fmt.Sprintf("%s = $%d", k, i))
		vals = append(vals, v)
		i++
	}

	vals = append(vals, id)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE entity_id = $%d", definition.TableName(entityType), joinCols(sets), i)

	if _, err := tx.ExecContext(ctx, q, vals...); err != nil {
		return apierrors.Wrap(apierrors.KindStorage, "update type row", err)
	}

	return nil
}
