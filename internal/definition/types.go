// Package definition implements the Entity Definition Registry: the
// operator-authored type catalogue, its DDL lifecycle (materialised table +
// union view per definition), and the validation that keeps the catalogue
// internally consistent.
package definition

import "time"

// FieldType is the closed catalogue of field-type tags a FieldDefinition may
// declare, per §3.
type FieldType string

const (
	FieldString    FieldType = "String"
	FieldText      FieldType = "Text"
	FieldRichText  FieldType = "RichText"
	FieldInteger   FieldType = "Integer"
	FieldFloat     FieldType = "Float"
	FieldBoolean   FieldType = "Boolean"
	FieldDate      FieldType = "Date"
	FieldDateTime  FieldType = "DateTime"
	FieldTime      FieldType = "Time"
	FieldEmail     FieldType = "Email"
	FieldURL       FieldType = "URL"
	FieldFile      FieldType = "File"
	FieldImage     FieldType = "Image"
	FieldJSON      FieldType = "JSON"
	FieldPassword  FieldType = "Password"
	FieldReference FieldType = "Reference"
)

// IsValid reports whether ft is one of the recognised field types.
func (ft FieldType) IsValid() bool {
	switch ft {
	case FieldString, FieldText, FieldRichText, FieldInteger, FieldFloat, FieldBoolean,
		FieldDate, FieldDateTime, FieldTime, FieldEmail, FieldURL, FieldFile, FieldImage,
		FieldJSON, FieldPassword, FieldReference:
		return true
	default:
		return false
	}
}

type (
	// Constraints bounds a field's accepted values. Every entry is optional;
	// a nil pointer means "unconstrained" for that axis. Struct tags drive
	// go-playground/validator/v10 field-level checks run by fieldValidator;
	// the cross-field "min <= max" and "pattern compiles" rules are
	// registered in validateConstraints as a struct-level validation, since validator has no
	// tag for "compare these two *float64 if both are set".
	Constraints struct {
		Min     *float64
		Max     *float64
		Length  *int     `validate:"omitempty,gte=0"`
		Pattern *string
		Step    *float64 `validate:"omitempty,gt=0"`
	}

	// FieldDefinition is one operator-declared field on an EntityDefinition.
	FieldDefinition struct {
		Name        string
		DisplayName string
		Type        FieldType
		Required    bool
		Indexed     bool
		Filterable  bool
		Default     *string
		Constraints Constraints
		UIHint      map[string]any
		// System marks a synthesised invariant attribute (id, path, ...)
		// rather than an operator-declared field; returned by Fields() but
		// never persisted as a column the registry manages.
		System bool
	}

	// EntityDefinition is an operator-authored type.
	EntityDefinition struct {
		ID            string
		Name          string // identifier-safe, unique
		DisplayName   string
		Group         string
		Icon          string
		AllowChildren bool
		Published     bool
		Version       int
		Fields        []FieldDefinition
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// ListFilter narrows ListDefinitions results.
	ListFilter struct {
		PublishedOnly bool
	}

	// Page is a simple limit/offset pagination window.
	Page struct {
		Limit  int
		Offset int
	}
)

// invariantAttributes are the attribute names present on every Entity
// regardless of its definition (§3); they double as the FieldDefinition
// reserved-word list (§4.B validation) and the synthesised System fields
// returned by Fields().
var invariantAttributes = []FieldDefinition{
	{Name: "id", DisplayName: "ID", Type: FieldString, System: true},
	{Name: "entity_type", DisplayName: "Entity Type", Type: FieldString, System: true},
	{Name: "path", DisplayName: "Path", Type: FieldString, System: true},
	{Name: "created_at", DisplayName: "Created At", Type: FieldDateTime, System: true},
	{Name: "updated_at", DisplayName: "Updated At", Type: FieldDateTime, System: true},
	{Name: "created_by", DisplayName: "Created By", Type: FieldReference, System: true},
	{Name: "updated_by", DisplayName: "Updated By", Type: FieldReference, System: true},
	{Name: "published", DisplayName: "Published", Type: FieldBoolean, System: true},
	{Name: "version", DisplayName: "Version", Type: FieldInteger, System: true},
}

// IsReservedName reports whether name collides with an invariant attribute.
func IsReservedName(name string) bool {
	for _, f := range invariantAttributes {
		if f.Name == name {
			return true
		}
	}

	return false
}
