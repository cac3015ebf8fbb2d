package aliasing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver_WithValidConfig(t *testing.T) {
	cfg := &Config{
		RenameRules: []RenameRule{
			{Source: "items_{index}_sku", Target: "line_items.{index}.sku"},
		},
	}

	r := NewResolver(cfg)

	require.NotNil(t, r)
	assert.Equal(t, 1, r.RuleCount())
}

func TestNewResolver_WithNilConfig(t *testing.T) {
	r := NewResolver(nil)

	require.NotNil(t, r)
	assert.Equal(t, 0, r.RuleCount())
}

func TestNewResolver_SkipsInvalidRules(t *testing.T) {
	cfg := &Config{
		RenameRules: []RenameRule{
			{Source: "", Target: "x"},
			{Source: "y", Target: ""},
			{Source: "valid_{n}", Target: "v.{n}"},
		},
	}

	r := NewResolver(cfg)

	assert.Equal(t, 1, r.RuleCount())
}

func TestResolver_Resolve_MatchingRule(t *testing.T) {
	cfg := &Config{
		RenameRules: []RenameRule{
			{Source: "items_{index}_sku", Target: "line_items.{index}.sku"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "line_items.0.sku", r.Resolve("items_0_sku"))
}

func TestResolver_Resolve_NoMatchReturnsOriginal(t *testing.T) {
	cfg := &Config{
		RenameRules: []RenameRule{
			{Source: "items_{index}_sku", Target: "line_items.{index}.sku"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "unrelated_key", r.Resolve("unrelated_key"))
}

func TestResolver_Resolve_GreedyCapturesNestedPath(t *testing.T) {
	cfg := &Config{
		RenameRules: []RenameRule{
			{Source: "meta.{path*}", Target: "metadata.{path*}"},
		},
	}
	r := NewResolver(cfg)

	assert.Equal(t, "metadata.a.b.c", r.Resolve("meta.a.b.c"))
}

func TestResolver_Match_FirstRuleWins(t *testing.T) {
	cfg := &Config{
		RenameRules: []RenameRule{
			{Source: "key_{n}", Target: "first.{n}"},
			{Source: "key_{n}", Target: "second.{n}"},
		},
	}
	r := NewResolver(cfg)

	target, ok := r.Match("key_1")

	require.True(t, ok)
	assert.Equal(t, "first.1", target)
}

func TestResolver_Resolve_NilResolver(t *testing.T) {
	var r *Resolver

	assert.Equal(t, "key", r.Resolve("key"))
}
