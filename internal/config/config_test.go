package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FREIBOT_CONFIG", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 8000, cfg.Context.HistoryTokenBudget)
	assert.Equal(t, 1500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 300, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 50, cfg.Embedding.BatchSize)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 2*time.Second, cfg.Scraper.Delay)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FREIBOT_CONFIG", "")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("HISTORY_TOKEN_BUDGET", "4000")
	t.Setenv("ARK_STREAM", "false")
	t.Setenv("ARK_MODEL", "doubao-pro")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 4000, cfg.Context.HistoryTokenBudget)
	assert.False(t, cfg.AI.StreamResponse)
	assert.Equal(t, "doubao-pro", cfg.AI.Model)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":            "80 80",
		"SESSION_TTL":     "forever",
		"ARK_STREAM":      "maybe",
		"CHUNK_SIZE":      "big",
		"VECTOR_BACKEND":  "chroma",
		"SESSION_BACKEND": "redis",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("FREIBOT_CONFIG", "")
			t.Setenv("REDIS_URL", "")
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freibot.yaml")
	content := []byte(`
server:
  addr: "127.0.0.1:7000"
session:
  backend: redis
  redis_url: redis://localhost:6379/0
  ttl: 2h
ingest:
  pdf_dir: /srv/pdfs
  chunk_size: 1000
  chunk_overlap: 100
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("FREIBOT_CONFIG", path)
	t.Setenv("PORT", "")
	t.Setenv("PDF_DIR", "/override")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, "/override", cfg.Ingest.PDFDir)
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{}.Enabled())
	assert.True(t, AIConfig{Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
}
