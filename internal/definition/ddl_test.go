package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

func customerDef() *EntityDefinition {
	return &EntityDefinition{
		Name: "customer",
		Fields: []FieldDefinition{
			{Name: "name", Type: FieldString, Required: true},
			{Name: "email", Type: FieldEmail},
			{Name: "age", Type: FieldInteger},
		},
	}
}

func TestTableName_AndViewName(t *testing.T) {
	assert.Equal(t, "entity_customer", TableName("customer"))
	assert.Equal(t, "entity_customer_view", ViewName("customer"))
}

func TestBuildCreateTableDDL_IncludesEveryField(t *testing.T) {
	ddl := BuildCreateTableDDL(customerDef())

	assert.Contains(t, ddl, "CREATE TABLE entity_customer")
	assert.Contains(t, ddl, "name VARCHAR(255) NOT NULL")
	assert.Contains(t, ddl, "email VARCHAR(255)")
	assert.Contains(t, ddl, "age BIGINT")
}

func TestBuildCreateViewDDL_JoinsRegistryAndTypeTable(t *testing.T) {
	ddl := BuildCreateViewDDL(customerDef())

	assert.Contains(t, ddl, "CREATE VIEW entity_customer_view")
	assert.Contains(t, ddl, "JOIN entity_customer t ON t.entity_id = e.id")
	assert.Contains(t, ddl, "t.name")
}

func TestDiffFields_DetectsAddedRemovedAltered(t *testing.T) {
	oldFields := []FieldDefinition{
		{Name: "name", Type: FieldString},
		{Name: "age", Type: FieldInteger},
	}
	newFields := []FieldDefinition{
		{Name: "name", Type: FieldString},
		{Name: "age", Type: FieldFloat}, // widened
		{Name: "city", Type: FieldString},
	}

	diffs := DiffFields(oldFields, newFields)

	kinds := map[string]string{}
	for _, d := range diffs {
		kinds[d.Name] = d.Kind
	}

	assert.Equal(t, "added", kinds["city"])
	assert.Equal(t, "altered", kinds["age"])
	assert.NotContains(t, kinds, "name")
}

func TestDiffFields_DetectsRemoval(t *testing.T) {
	oldFields := []FieldDefinition{{Name: "age", Type: FieldInteger}}

	diffs := DiffFields(oldFields, nil)

	require.Len(t, diffs, 1)
	assert.Equal(t, "removed", diffs[0].Kind)
}

func TestBuildAlterTableDDL_WideningIsAccepted(t *testing.T) {
	diffs := []FieldDiff{
		{Name: "age", Kind: "altered",
			OldField: &FieldDefinition{Name: "age", Type: FieldInteger},
			NewField: &FieldDefinition{Name: "age", Type: FieldFloat}},
	}

	stmts, err := BuildAlterTableDDL("customer", diffs)

	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "ALTER COLUMN age TYPE")
}

func TestBuildAlterTableDDL_NarrowingIsRejected(t *testing.T) {
	diffs := []FieldDiff{
		{Name: "name", Kind: "altered",
			OldField: &FieldDefinition{Name: "name", Type: FieldString},
			NewField: &FieldDefinition{Name: "name", Type: FieldInteger}},
	}

	_, err := BuildAlterTableDDL("customer", diffs)

	require.Error(t, err)
	assert.Equal(t, apierrors.KindSchemaNarrowing, apierrors.KindOf(err))
}

func TestBuildAlterTableDDL_AddedColumnEmitsDDL(t *testing.T) {
	diffs := []FieldDiff{
		{Name: "city", Kind: "added", NewField: &FieldDefinition{Name: "city", Type: FieldString}},
	}

	stmts, err := BuildAlterTableDDL("customer", diffs)

	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "ADD COLUMN city")
}

func TestBuildAlterTableDDL_RemovedIndexedColumnRejected(t *testing.T) {
	diffs := []FieldDiff{
		{Name: "age", Kind: "removed", OldField: &FieldDefinition{Name: "age", Type: FieldInteger, Indexed: true}},
	}

	_, err := BuildAlterTableDDL("customer", diffs)

	require.Error(t, err)
	assert.Equal(t, apierrors.KindDefinitionInUse, apierrors.KindOf(err))
}

func TestBuildDropDDL_DropsViewThenTable(t *testing.T) {
	stmts := BuildDropDDL("customer")

	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "DROP VIEW")
	assert.Contains(t, stmts[1], "DROP TABLE")
}
