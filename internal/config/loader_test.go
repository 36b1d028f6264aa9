package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("ZN_TEST_HOST", "db.internal")

	assert.Equal(t, "host: db.internal", expandEnv("host: ${ZN_TEST_HOST}"))
	assert.Equal(t, "port: 5433", expandEnv("port: ${ZN_TEST_UNSET_PORT:5433}"))
	assert.Equal(t, "key: ", expandEnv("key: ${ZN_TEST_UNSET_KEY:}"))
	assert.Equal(t, "raw: ${ZN_TEST_UNSET_RAW}", expandEnv("raw: ${ZN_TEST_UNSET_RAW}"))
}

func TestLoadFrom_DefaultsWithoutFiles(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "z-novel-pipeline", cfg.App.Name)
	assert.Equal(t, 7.5, cfg.Pipeline.TargetMinScore)
	assert.Equal(t, 2, cfg.Pipeline.MaxQualityCycles)
	assert.Equal(t, 3, cfg.Pipeline.MaxEdits)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.LLM.Retry.InitialInterval)
	assert.Equal(t, 2, cfg.Pipeline.Extraction.MaxRetries)
	assert.Equal(t, 256, cfg.Telemetry.BufferSize)
}

func TestLoadFrom_FileOverridesAndClamps(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	t.Setenv("ZN_TEST_MODEL", "story-model")

	base := `
llm:
  default_provider: openai
  providers:
    openai:
      model: ${ZN_TEST_MODEL:fallback}
pipeline:
  max_quality_cycles: 9
  max_edits: 0
`
	overlay := `
pipeline:
  target_min_score: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), []byte(overlay), 0o644))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "story-model", cfg.LLM.Providers["openai"].Model)
	assert.Equal(t, 5, cfg.Pipeline.MaxQualityCycles)
	assert.Equal(t, 1, cfg.Pipeline.MaxEdits)
	assert.Equal(t, 8.0, cfg.Pipeline.TargetMinScore)
}
