package entity

import (
	"context"
	"fmt"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
)

// DanglingReference is one Reference-field value that no longer resolves to
// an entity in the store (Design Note "Cyclic references": weak references
// are surfaced for the operator to act on, never auto-resolved or nulled
// out by the engine).
type DanglingReference struct {
	EntityID string
	Value    string
}

// CheckReferences scans every entity of entityType for values in field that
// point at an entity id no longer present in the Entity Store. field must
// be a declared Reference field; the caller is expected to have validated
// that against the Definition Registry before calling, the same contract
// loadTypeRow/insertTypeRow rely on for column names.
func (s *Store) CheckReferences(ctx context.Context, entityType, field string) ([]DanglingReference, error) {
	table := definition.TableName(entityType)

	q := fmt.Sprintf(`
		SELECT t.entity_id, t.%s
		FROM %s t
		LEFT JOIN entities e ON e.id::text = t.%s
		WHERE t.%s IS NOT NULL AND e.id IS NULL`,
		field, table, field, field)

	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "check dangling references", err)
	}
	defer rows.Close()

	var out []DanglingReference

	for rows.Next() {
		var d DanglingReference
		if err := rows.Scan(&d.EntityID, &d.Value); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan dangling reference", err)
		}

		out = append(out, d)
	}

	return out, rows.Err()
}
