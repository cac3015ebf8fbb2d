package definition

import (
	"fmt"
	"strings"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

// TableName returns the materialised table name for a definition, per §3
// invariant 3.
func TableName(name string) string {
	return "entity_" + name
}

// ViewName returns the union view name for a definition.
func ViewName(name string) string {
	return TableName(name) + "_view"
}

// sqlType maps a FieldType to its Postgres column type.
func sqlType(ft FieldType) string {
	switch ft {
	case FieldString, FieldEmail, FieldURL, FieldFile, FieldImage, FieldReference:
		return "VARCHAR(255)"
	case FieldText, FieldRichText:
		return "TEXT"
	case FieldInteger:
		return "BIGINT"
	case FieldFloat:
		return "DOUBLE PRECISION"
	case FieldBoolean:
		return "BOOLEAN"
	case FieldDate:
		return "DATE"
	case FieldDateTime:
		return "TIMESTAMPTZ"
	case FieldTime:
		return "TIME"
	case FieldJSON:
		return "JSONB"
	case FieldPassword:
		return "TEXT" // stores the bcrypt hash, never the plaintext
	default:
		return "TEXT"
	}
}

// allowedWidenings enumerates the only type changes update_definition will
// accept (§4.B: "widening only — narrowing is rejected"). A change not
// listed here is rejected with SchemaNarrowing; keeping a field's type
// unchanged is always accepted (see isWidening).
var allowedWidenings = map[FieldType][]FieldType{
	FieldInteger:  {FieldFloat},
	FieldString:   {FieldText},
	FieldText:     {FieldRichText},
	FieldDate:     {FieldDateTime},
	FieldEmail:    {FieldString},
	FieldURL:      {FieldString},
}

// isWidening reports whether changing a column from 'from' to 'to' is a
// widening (or identity) change.
func isWidening(from, to FieldType) bool {
	if from == to {
		return true
	}

	for _, allowed := range allowedWidenings[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// BuildCreateTableDDL emits the materialised table for a new definition:
// an id-only table foreign-keyed to the registry, plus one column per
// declared field.
func BuildCreateTableDDL(def *EntityDefinition) string {
	table := TableName(def.Name)

	var cols strings.Builder

	fmt.Fprintf(&cols, "CREATE TABLE %s (\n", table)
	fmt.Fprintf(&cols, "  entity_id UUID PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE")

	for _, f := range def.Fields {
		fmt.Fprintf(&cols, ",\n  %s %s", f.Name, sqlType(f.Type))

		if f.Required {
			cols.WriteString(" NOT NULL")
		}

		if f.Default != nil {
			fmt.Fprintf(&cols, " DEFAULT %s", quoteLiteral(*f.Default))
		}
	}

	cols.WriteString("\n)")

	return cols.String()
}

// BuildCreateViewDDL emits the union view joining the common registry row
// with the type-specific row. It emits the CREATE VIEW statement only: no
// INSTEAD OF triggers are created, so the view is read-only and writes go
// to the entity_<name> table.
func BuildCreateViewDDL(def *EntityDefinition) string {
	table := TableName(def.Name)
	view := ViewName(def.Name)

	fieldNames := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		fieldNames = append(fieldNames, "t."+f.Name)
	}

	selectList := "e.id, e.entity_type, e.path, e.created_at, e.updated_at, e.created_by, e.updated_by, e.published, e.version"
	if len(fieldNames) > 0 {
		selectList += ", " + strings.Join(fieldNames, ", ")
	}

	return fmt.Sprintf(
		`CREATE VIEW %s AS
SELECT %s
FROM entities e
JOIN %s t ON t.entity_id = e.id
WHERE e.entity_type = %s`,
		view, selectList, table, quoteLiteral(def.Name),
	)
}

// BuildDropDDL emits the statements to tear down a definition's view and
// table, in dependency order.
func BuildDropDDL(name string) []string {
	return []string{
		"DROP VIEW IF EXISTS " + ViewName(name),
		"DROP TABLE IF EXISTS " + TableName(name),
	}
}

// FieldDiff classifies one field across an update as added, removed, or
// altered (type change).
type FieldDiff struct {
	Name      string
	Kind      string // "added", "removed", "altered"
	OldField  *FieldDefinition
	NewField  *FieldDefinition
}

// DiffFields computes an ordered field diff between the live definition and
// a proposed update, per §4.B update_definition.
func DiffFields(oldFields, newFields []FieldDefinition) []FieldDiff {
	oldByName := make(map[string]FieldDefinition, len(oldFields))
	for _, f := range oldFields {
		oldByName[f.Name] = f
	}

	newByName := make(map[string]FieldDefinition, len(newFields))
	for _, f := range newFields {
		newByName[f.Name] = f
	}

	var diffs []FieldDiff

	for _, f := range newFields {
		f := f

		old, existed := oldByName[f.Name]
		if !existed {
			diffs = append(diffs, FieldDiff{Name: f.Name, Kind: "added", NewField: &f})

			continue
		}

		if old.Type != f.Type {
			old := old
			diffs = append(diffs, FieldDiff{Name: f.Name, Kind: "altered", OldField: &old, NewField: &f})
		}
	}

	for _, f := range oldFields {
		f := f
		if _, stillPresent := newByName[f.Name]; !stillPresent {
			diffs = append(diffs, FieldDiff{Name: f.Name, Kind: "removed", OldField: &f})
		}
	}

	return diffs
}

// BuildAlterTableDDL turns a field diff into the ALTER TABLE statements
// needed to bring the materialised table in line, rejecting narrowing type
// changes with SchemaNarrowing.
func BuildAlterTableDDL(defName string, diffs []FieldDiff) ([]string, error) {
	table := TableName(defName)

	var stmts []string

	for _, d := range diffs {
		switch d.Kind {
		case "added":
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, d.NewField.Name, sqlType(d.NewField.Type))
			if d.NewField.Default != nil {
				stmt += fmt.Sprintf(" DEFAULT %s", quoteLiteral(*d.NewField.Default))
			}

			stmts = append(stmts, stmt)
		case "removed":
			if d.OldField.Indexed {
				return nil, apierrors.New(apierrors.KindDefinitionInUse,
					"cannot drop indexed column: "+d.Name)
			}

			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, d.Name))
		case "altered":
			if !isWidening(d.OldField.Type, d.NewField.Type) {
				return nil, apierrors.New(apierrors.KindSchemaNarrowing,
					fmt.Sprintf("cannot narrow field %q from %s to %s", d.Name, d.OldField.Type, d.NewField.Type))
			}

			if d.OldField.Type == d.NewField.Type {
				continue
			}

			stmts = append(stmts, fmt.Sprintf(
				"ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
				table, d.Name, sqlType(d.NewField.Type), d.Name, sqlType(d.NewField.Type),
			))
		}
	}

	return stmts, nil
}

// quoteLiteral escapes a string for inline use as a SQL literal. DDL
// statements here are built from operator-authored definitions, not
// end-user row data, but defaults are still escaped defensively.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
