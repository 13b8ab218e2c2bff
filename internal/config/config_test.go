package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(envConfigPath, "")
	t.Setenv("GROQ_API_KEY", "groq-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "groq", cfg.Model.Provider)
	assert.Equal(t, "llama-3.1-70b-versatile", cfg.Model.Name)
	assert.InDelta(t, 0.5, cfg.Model.Temperature, 1e-6)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "memory", cfg.History.Backend)
	assert.Equal(t, "groq-key", cfg.Model.APIKey)
}

func TestLoadFailsWithoutCredential(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	path := writeConfig(t, "model:\n  provider: groq\n  name: llama\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "GROQ_API_KEY")
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "k")
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadFileAndOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ant-key")
	t.Setenv(envAddr, ":9999")
	path := writeConfig(t, `
server:
  address: ":8080"
  request_timeout: 30s
model:
  provider: claude
  name: claude-3-5-haiku-latest
retrieval:
  top_k: 5
history:
  backend: sql
database:
  driver: sqlite3
  dsn: data/bot.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Model.APIKeyEnv)
	assert.Equal(t, "ant-key", cfg.Model.APIKey)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "sql", cfg.History.Backend)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/bot.db"), cfg.Database.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Run("unknown history backend", func(t *testing.T) {
		cfg := Default()
		cfg.Model.APIKey = "k"
		cfg.History.Backend = "etcd"
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive top k", func(t *testing.T) {
		cfg := Default()
		cfg.Model.APIKey = "k"
		cfg.Retrieval.TopK = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("answer prompt without context", func(t *testing.T) {
		cfg := Default()
		cfg.Model.APIKey = "k"
		cfg.Prompts.Answer = "Answer briefly: {input}"
		assert.Error(t, cfg.Validate())
	})

	t.Run("custom key env", func(t *testing.T) {
		t.Setenv("MY_KEY", "secret")
		cfg := Default()
		cfg.Model.APIKeyEnv = "MY_KEY"
		cfg.applyEnvOverrides()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "secret", cfg.Model.APIKey)
	})
}
