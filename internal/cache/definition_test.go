package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3data-core/rdatacore/internal/definition"
)

type stubLoader struct {
	calls  int
	fields []definition.FieldDefinition
	err    error
}

func (s *stubLoader) Fields(_ context.Context, _ string) ([]definition.FieldDefinition, error) {
	s.calls++
	return s.fields, s.err
}

func TestDefinitionCache_MissThenHit(t *testing.T) {
	loader := &stubLoader{fields: []definition.FieldDefinition{{Name: "title"}}}
	c := NewDefinitionCache(8)
	c.Bind(loader)

	first, err := c.Fields(context.Background(), "article")
	require.NoError(t, err)
	assert.Equal(t, loader.fields, first)
	assert.Equal(t, 1, loader.calls)

	second, err := c.Fields(context.Background(), "article")
	require.NoError(t, err)
	assert.Equal(t, loader.fields, second)
	assert.Equal(t, 1, loader.calls, "second call must be served from cache, not the loader")
}

func TestDefinitionCache_InvalidateForcesReload(t *testing.T) {
	loader := &stubLoader{fields: []definition.FieldDefinition{{Name: "title"}}}
	c := NewDefinitionCache(8)
	c.Bind(loader)

	_, err := c.Fields(context.Background(), "article")
	require.NoError(t, err)

	c.Invalidate("article")

	_, err = c.Fields(context.Background(), "article")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls, "invalidate must force the next call back to the loader")
}

func TestDefinitionCache_PropagatesLoaderError(t *testing.T) {
	loader := &stubLoader{err: assert.AnError}
	c := NewDefinitionCache(8)
	c.Bind(loader)

	_, err := c.Fields(context.Background(), "article")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDefinitionCache_InvalidateAllForcesReloadOfEverything(t *testing.T) {
	loader := &stubLoader{fields: []definition.FieldDefinition{{Name: "title"}}}
	c := NewDefinitionCache(8)
	c.Bind(loader)

	_, err := c.Fields(context.Background(), "article")
	require.NoError(t, err)
	_, err = c.Fields(context.Background(), "author")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)

	c.InvalidateAll()

	_, err = c.Fields(context.Background(), "article")
	require.NoError(t, err)
	_, err = c.Fields(context.Background(), "author")
	require.NoError(t, err)
	assert.Equal(t, 4, loader.calls, "InvalidateAll must force both entries back to the loader")
}
