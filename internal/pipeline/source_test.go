package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONRows_FlattensNestedObjects(t *testing.T) {
	raw := []byte(`[{"name":"acme","address":{"city":"lagos","zip":"100001"}}]`)

	rows, err := decodeJSONRows(raw)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "acme", rows[0]["name"])
	assert.Equal(t, "lagos", rows[0]["address.city"])
	assert.Equal(t, "100001", rows[0]["address.zip"])
}

func TestDecodeJSONRows_RejectsNonArrayTopLevel(t *testing.T) {
	_, err := decodeJSONRows([]byte(`{"name":"acme"}`))

	require.Error(t, err)
}

func TestDecodeJSONRows_RejectsNonObjectElement(t *testing.T) {
	_, err := decodeJSONRows([]byte(`["acme", "globex"]`))

	require.Error(t, err)
}

func TestDecodeJSONRows_PreservesScalarTypes(t *testing.T) {
	raw := []byte(`[{"count":3,"active":true,"tags":["a","b"]}]`)

	rows, err := decodeJSONRows(raw)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(3), rows[0]["count"])
	assert.Equal(t, true, rows[0]["active"])
	assert.Equal(t, []any{"a", "b"}, rows[0]["tags"])
}
