package version

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrNoRows_AliasesSQLErrNoRows(t *testing.T) {
	assert.True(t, errors.Is(ErrNoRows, sql.ErrNoRows))
}

func TestPruningPolicy_DisabledSkipsPruning(t *testing.T) {
	policy := PruningPolicy{Enabled: false}

	s := &Store{}

	deleted, err := s.PruneEntityVersions(nil, "customer", "e1", policy) //nolint:staticcheck // nil ctx ok, short-circuits before any I/O

	assert.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestPruningPolicy_DisabledSkipsDefinitionPruning(t *testing.T) {
	policy := PruningPolicy{Enabled: false}

	s := &Store{}

	deleted, err := s.PruneDefinitionVersions(nil, "def-1", policy) //nolint:staticcheck // nil ctx ok, short-circuits before any I/O

	assert.NoError(t, err)
	assert.Zero(t, deleted)
}
