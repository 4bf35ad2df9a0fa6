package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.FetchWorkers)
	assert.Equal(t, 60*24*time.Hour, cfg.RecencyWindow.Std())
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout.Std())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeddb.yaml")
	doc := `
raw_dir: /data/raw
fetch_timeout: 30s
recency_window: 30d
label_batch_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/raw", cfg.RawDir)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout.Std())
	assert.Equal(t, 30*24*time.Hour, cfg.RecencyWindow.Std())
	assert.Equal(t, 4, cfg.LabelBatchSize)
	// Unset keys keep their defaults.
	assert.Equal(t, 10, cfg.LabelWorkers)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().RawDir, cfg.RawDir)
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeddb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch_timeout: soon"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FEEDDB_RAW_DIR", "/env/raw")
	t.Setenv("FEEDDB_OUTPUT", "/env/out.jsonl")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/env/raw", cfg.RawDir)
	assert.Equal(t, "/env/out.jsonl", cfg.OutputPath)
}
