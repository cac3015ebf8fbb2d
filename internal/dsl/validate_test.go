package dsl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/definition"
)

type fakeLookup map[string][]definition.FieldDefinition

func (f fakeLookup) Fields(_ context.Context, entityType string) ([]definition.FieldDefinition, error) {
	fields, ok := f[entityType]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "unknown definition: "+entityType)
	}

	return fields, nil
}

func validProgram() Program {
	return Program{Steps: []Step{{
		From: From{Kind: "upload"},
		To:   To{Kind: "entity", Options: map[string]any{"entity_type": "customer", "mode": "create"}},
	}}}
}

func TestValidate_AcceptsWellFormedProgram(t *testing.T) {
	lookup := fakeLookup{"customer": {{Name: "name", Type: definition.FieldString}}}

	err := Validate(context.Background(), validProgram(), NewCatalogue(), lookup)

	require.NoError(t, err)
}

func TestValidate_RejectsEmptyProgram(t *testing.T) {
	err := Validate(context.Background(), Program{}, NewCatalogue(), nil)

	require.Error(t, err)
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

func TestValidate_RejectsUnknownFromKind(t *testing.T) {
	program := Program{Steps: []Step{{
		From: From{Kind: "ftp"},
		To:   To{Kind: "entity", Options: map[string]any{"entity_type": "customer", "mode": "create"}},
	}}}

	err := Validate(context.Background(), program, NewCatalogue(), fakeLookup{"customer": nil})

	require.Error(t, err)

	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)
	assert.Contains(t, apiErr.Violations[0].Code, "UnknownStepKind")
}

func TestValidate_RejectsMissingToClause(t *testing.T) {
	program := Program{Steps: []Step{{From: From{Kind: "upload"}}}}

	err := Validate(context.Background(), program, NewCatalogue(), nil)

	require.Error(t, err)
}

func TestValidate_RejectsUnresolvedEntityMapping(t *testing.T) {
	program := Program{Steps: []Step{{
		From: From{Kind: "upload"},
		To: To{Kind: "entity", Options: map[string]any{
			"entity_type": "customer", "mode": "create",
			"mappings": []any{map[string]any{"source": "in_name", "target": "nonexistent_field"}},
		}},
	}}}

	lookup := fakeLookup{"customer": {{Name: "name", Type: definition.FieldString}}}

	err := Validate(context.Background(), program, NewCatalogue(), lookup)

	require.Error(t, err)

	apiErr, ok := err.(*apierrors.Error)
	require.True(t, ok)

	found := false

	for _, v := range apiErr.Violations {
		if v.Code == "UnresolvedMapping" {
			found = true
		}
	}

	assert.True(t, found)
}

func TestValidate_AuthenticateRejectedWithoutPasswordField(t *testing.T) {
	program := Program{Steps: []Step{{
		From: From{Kind: "upload"},
		Transforms: []Transform{{Kind: "authenticate", Options: map[string]any{
			"entity_type": "user", "identifier_field": "username",
			"input_identifier": "in_user", "input_password": "in_pw", "target_token": "token",
		}}},
		To: To{Kind: "entity", Options: map[string]any{"entity_type": "user", "mode": "create"}},
	}}}

	lookup := fakeLookup{"user": {{Name: "username", Type: definition.FieldString}}}

	err := Validate(context.Background(), program, NewCatalogue(), lookup)

	require.Error(t, err)
}

func TestValidate_AuthenticateAcceptedWithPasswordField(t *testing.T) {
	program := Program{Steps: []Step{{
		From: From{Kind: "upload"},
		Transforms: []Transform{{Kind: "authenticate", Options: map[string]any{
			"entity_type": "user", "identifier_field": "username",
			"input_identifier": "in_user", "input_password": "in_pw", "target_token": "token",
		}}},
		To: To{Kind: "entity", Options: map[string]any{"entity_type": "user", "mode": "create"}},
	}}}

	lookup := fakeLookup{"user": {
		{Name: "username", Type: definition.FieldString},
		{Name: "password", Type: definition.FieldPassword},
	}}

	err := Validate(context.Background(), program, NewCatalogue(), lookup)

	require.NoError(t, err)
}
