package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
)

func customerFields() []definition.FieldDefinition {
	return []definition.FieldDefinition{
		{Name: "name", Type: definition.FieldString, Required: true},
		{Name: "age", Type: definition.FieldInteger},
		{Name: "id", Type: definition.FieldString, System: true},
	}
}

func TestValidateFieldData_RejectsUnknownField(t *testing.T) {
	_, err := validateFieldData(customerFields(), map[string]any{"nickname": "bob"})

	require.Error(t, err)
	assert.Equal(t, apierrors.KindUnknownField, apierrors.KindOf(err))
}

func TestValidateFieldData_RejectsMissingRequired(t *testing.T) {
	_, err := validateFieldData(customerFields(), map[string]any{"age": float64(5)})

	require.Error(t, err)
}

func TestValidateFieldData_SkipsSystemFields(t *testing.T) {
	_, err := validateFieldData(customerFields(), map[string]any{"id": "should-be-rejected"})

	require.Error(t, err)
	assert.Equal(t, apierrors.KindUnknownField, apierrors.KindOf(err))
}

func TestValidateFieldData_CoercesDeclaredFields(t *testing.T) {
	got, err := validateFieldData(customerFields(), map[string]any{"name": "Ada", "age": float64(36)})

	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, int64(36), got["age"])
}

func TestDeclaredColumnNames_ExcludesSystemFields(t *testing.T) {
	cols := declaredColumnNames(customerFields())

	assert.ElementsMatch(t, []string{"name", "age"}, cols)
}

func TestJoinCols_CommaSeparates(t *testing.T) {
	assert.Equal(t, "a, b, c", joinCols([]string{"a", "b", "c"}))
	assert.Equal(t, "a", joinCols([]string{"a"}))
}

func TestNormalizePath_EmptyBecomesRoot(t *testing.T) {
	assert.Equal(t, "/", NormalizePath(""))
	assert.Equal(t, "/docs", NormalizePath("/docs"))
}

func TestFirstSegment_DirectVsDescendant(t *testing.T) {
	name, direct := firstSegment("child")
	assert.Equal(t, "child", name)
	assert.True(t, direct)

	name, direct = firstSegment("child/grandchild")
	assert.Equal(t, "child", name)
	assert.False(t, direct)

	name, direct = firstSegment("")
	assert.Equal(t, "", name)
	assert.False(t, direct)
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "leaf", lastSegment("/a/b/leaf"))
	assert.Equal(t, "leaf", lastSegment("leaf"))
}

func TestPaginate_LimitAndOffset(t *testing.T) {
	entries := []BrowseEntry{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}

	assert.Equal(t, []BrowseEntry{{Name: "b"}, {Name: "c"}}, paginate(entries, Page{Limit: 2, Offset: 1}))
	assert.Equal(t, []BrowseEntry{}, paginate(entries, Page{Limit: 2, Offset: 10}))
	assert.Equal(t, entries, paginate(entries, Page{}))
}
