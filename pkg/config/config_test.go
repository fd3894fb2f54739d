package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name" toml:"name"`
	Count int    `yaml:"count" toml:"count"`
	Keep  string `yaml:"keep" toml:"keep"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count cannot be negative")
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	path := writeFile(t, "c.yaml", "name: ${SAMPLE_NAME}\ncount: 3\n")

	cfg := sample{Keep: "default"}
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, sample{Name: "from-env", Count: 3, Keep: "default"}, cfg)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "toml-env")
	path := writeFile(t, "c.toml", "name = \"$SAMPLE_NAME\"\ncount = 5\n")

	var cfg sample
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "toml-env", cfg.Name)
	assert.Equal(t, 5, cfg.Count)
}

func TestLoad_Errors(t *testing.T) {
	var cfg sample

	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = Load(writeFile(t, "bad.yaml", "name: [unclosed\n"), &cfg)
	assert.ErrorContains(t, err, "failed to parse")

	err = Load(writeFile(t, "bad.toml", "name = \n"), &cfg)
	assert.ErrorContains(t, err, "failed to parse")

	err = Load(writeFile(t, "neg.yaml", "count: -1\n"), &cfg)
	assert.ErrorContains(t, err, "validation failed")
}

func TestLoadIfExists(t *testing.T) {
	var cfg sample
	found, err := LoadIfExists(filepath.Join(t.TempDir(), "none.yaml"), &cfg)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = LoadIfExists(writeFile(t, "c.yml", "name: x\n"), &cfg)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", cfg.Name)
}
