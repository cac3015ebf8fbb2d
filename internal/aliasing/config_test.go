package aliasing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rdatacore.yaml")

	content := `
rename_rules:
  - source: "items_{index}_sku"
    target: "line_items.{index}.sku"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.RenameRules, 1)
	assert.Equal(t, "items_{index}_sku", cfg.RenameRules[0].Source)
}

func TestLoadConfig_MissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.RenameRules)
}

func TestLoadConfig_InvalidYAMLDegradesGracefully(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rdatacore.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("not: [valid: yaml"), 0o600))

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.RenameRules)
}

func TestLoadConfig_EmptyFileReturnsEmptyConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rdatacore.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte(""), 0o600))

	cfg, err := LoadConfig(configPath)

	require.NoError(t, err)
	assert.Empty(t, cfg.RenameRules)
}

func TestLoadConfigFromEnv_UsesEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom.yaml")

	content := `
rename_rules:
  - source: "a_{n}"
    target: "b.{n}"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	t.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadConfigFromEnv()

	require.NoError(t, err)
	assert.Len(t, cfg.RenameRules, 1)
}
