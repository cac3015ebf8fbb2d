package dsl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
	"github.com/r3data-core/rdatacore/internal/entity"
)

type fakeReader struct {
	byID    map[string]*entity.Entity
	byField map[string]*entity.Entity // keyed "type.field.value"
}

func (f fakeReader) Get(_ context.Context, entityType, id string) (*entity.Entity, error) {
	e, ok := f.byID[entityType+"."+id]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "not found")
	}

	return e, nil
}

func (f fakeReader) FindByField(_ context.Context, entityType, field string, value any) (*entity.Entity, error) {
	e, ok := f.byField[entityType+"."+field+"."+value.(string)]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "not found")
	}

	return e, nil
}

func TestApplyRename_MovesValueToTargetKey(t *testing.T) {
	row := Row{"first_name": "Ada"}
	tr := Transform{Kind: "rename", Options: map[string]any{
		"mappings": []any{map[string]any{"source": "first_name", "target": "name"}},
	}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
	assert.Equal(t, "Ada", row["name"])
	_, stillPresent := row["first_name"]
	assert.False(t, stillPresent)
}

func TestApplyRename_AppliesCapturePattern(t *testing.T) {
	row := Row{"items_0_sku": "X1", "items_1_sku": "X2"}
	tr := Transform{Kind: "rename", Options: map[string]any{
		"mappings": []any{map[string]any{"source": "items_{index}_sku", "target": "line_items.{index}.sku"}},
	}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
	assert.Equal(t, "X1", row["line_items.0.sku"])
	assert.Equal(t, "X2", row["line_items.1.sku"])
}

func TestApplyConcat_JoinsOperandsWithSeparator(t *testing.T) {
	row := Row{"first": "Ada", "last": "Lovelace"}
	tr := Transform{Kind: "concat", Options: map[string]any{
		"target": "full_name", "separator": " ", "operands": []any{"first", "last"},
	}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
	assert.Equal(t, "Ada Lovelace", row["full_name"])
}

func TestApplyArithmetic_Add(t *testing.T) {
	row := Row{"a": float64(2), "b": float64(3)}
	tr := Transform{Kind: "arithmetic", Options: map[string]any{"left": "a", "op": "add", "right": "b", "target": "sum"}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
	assert.Equal(t, float64(5), row["sum"])
}

func TestApplyArithmetic_DivisionByZeroRejected(t *testing.T) {
	row := Row{"a": float64(2), "b": float64(0)}
	tr := Transform{Kind: "arithmetic", Options: map[string]any{"left": "a", "op": "div", "right": "b", "target": "q"}}

	err := applyOne(context.Background(), tr, row, nil, nil, nil)
	require.Error(t, err)
}

func TestApplyCast_CoercesFieldType(t *testing.T) {
	row := Row{"age": "42"}
	tr := Transform{Kind: "cast", Options: map[string]any{"field": "age", "type": "Integer"}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
	assert.Equal(t, int64(42), row["age"])
}

func TestApplyFilter_PassesWhenExpressionTrue(t *testing.T) {
	row := Row{"age": float64(36), "status": "active"}
	tr := Transform{Kind: "filter", Options: map[string]any{"expression": `and(gt(age, 18), eq(status, "active"))`}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
}

func TestApplyFilter_RejectsRowWhenExpressionFalse(t *testing.T) {
	row := Row{"age": float64(10)}
	tr := Transform{Kind: "filter", Options: map[string]any{"expression": `gt(age, 18)`}}

	err := applyOne(context.Background(), tr, row, nil, nil, nil)
	require.Error(t, err)
}

func TestApplyFilter_InOperator(t *testing.T) {
	row := Row{"status": "archived"}
	tr := Transform{Kind: "filter", Options: map[string]any{
		"expression": `in(status, "active", "archived")`,
	}}

	require.NoError(t, applyOne(context.Background(), tr, row, nil, nil, nil))
}

func TestApplyLookup_InjectsFields(t *testing.T) {
	reader := fakeReader{byID: map[string]*entity.Entity{
		"customer.c1": {ID: "c1", Type: "customer", Fields: map[string]any{"name": "Ada"}},
	}}

	row := Row{"customer_id": "c1"}
	tr := Transform{Kind: "lookup", Options: map[string]any{"entity_type": "customer", "key_field": "customer_id", "target": "customer"}}

	require.NoError(t, applyOne(context.Background(), tr, row, reader, nil, nil))
	assert.Equal(t, map[string]any{"name": "Ada"}, row["customer"])
}

func TestApplyAuthenticate_IssuesTokenOnMatch(t *testing.T) {
	reader := fakeReader{byField: map[string]*entity.Entity{
		"user.username.ada": {ID: "u1", Type: "user", Fields: map[string]any{
			"username": "ada", "password": mustHash(t, "correct"),
		}},
	}}

	issuer := NewTokenIssuer([]byte("test-signing-key"))

	row := Row{"in_user": "ada", "in_pw": "correct"}
	tr := Transform{Kind: "authenticate", Options: map[string]any{
		"entity_type": "user", "identifier_field": "username", "password_field": "password",
		"input_identifier": "in_user", "input_password": "in_pw", "target_token": "token",
	}}

	require.NoError(t, applyOne(context.Background(), tr, row, reader, issuer, nil))
	assert.NotEmpty(t, row["token"])
}

func TestApplyAuthenticate_RejectsWrongPassword(t *testing.T) {
	reader := fakeReader{byField: map[string]*entity.Entity{
		"user.username.ada": {ID: "u1", Type: "user", Fields: map[string]any{
			"username": "ada", "password": mustHash(t, "correct"),
		}},
	}}

	issuer := NewTokenIssuer([]byte("test-signing-key"))

	row := Row{"in_user": "ada", "in_pw": "wrong"}
	tr := Transform{Kind: "authenticate", Options: map[string]any{
		"entity_type": "user", "identifier_field": "username", "password_field": "password",
		"input_identifier": "in_user", "input_password": "in_pw", "target_token": "token",
	}}

	err := applyOne(context.Background(), tr, row, reader, issuer, nil)

	require.Error(t, err)
	assert.Equal(t, apierrors.KindAuthenticationFailed, apierrors.KindOf(err))
	assert.Empty(t, row["token"])
}

func mustHash(t *testing.T, plaintext string) string {
	t.Helper()

	hash, err := entity.CoerceValue(definition.FieldDefinition{Name: "password", Type: definition.FieldPassword}, plaintext)
	require.NoError(t, err)

	s, ok := hash.(string)
	require.True(t, ok)

	return s
}
