package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCatalogue_RecognisesBuiltInKinds(t *testing.T) {
	c := NewCatalogue()

	_, ok := c.lookupFrom("entity")
	assert.True(t, ok)

	_, ok = c.lookupTransform("authenticate")
	assert.True(t, ok)

	_, ok = c.lookupTo("entity")
	assert.True(t, ok)

	assert.True(t, c.hasFormat("csv"))
	assert.False(t, c.hasFormat("xml"))
}

func TestCatalogue_RejectsUnknownKind(t *testing.T) {
	c := NewCatalogue()

	_, ok := c.lookupFrom("ftp")
	assert.False(t, ok)
}

func TestCatalogue_Describe_ListsEveryClause(t *testing.T) {
	c := NewCatalogue()

	specs := c.Describe()

	assert.NotEmpty(t, specs)

	seenClauses := map[string]bool{}
	for _, s := range specs {
		seenClauses[s.Clause] = true
	}

	assert.True(t, seenClauses["from"])
	assert.True(t, seenClauses["transform"])
	assert.True(t, seenClauses["to"])
}
