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
	path := filepath.Join(dir, "mother.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("MOTHER_LLM_PROVIDER", "")
	path := writeConfig(t, `{"tools":{"manifest":"plugins.yaml"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	base := filepath.Dir(path)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 5, cfg.Agent.MemoryItems)
	assert.Equal(t, "reject", cfg.Agent.PendingPolicy)
	assert.Equal(t, time.Hour, cfg.Agent.SessionTTL())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.Anthropic.APIKeyEnv)
	assert.Equal(t, filepath.Join(base, "plugins.yaml"), cfg.Tools.Manifest)
	assert.Equal(t, filepath.Join(base, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, "memory", cfg.TaskQueue.Driver)
	assert.Equal(t, 2, cfg.TaskQueue.Worker)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `{"agent":{"pending_policy":"queue"}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestProviderOverrideFromEnv(t *testing.T) {
	t.Setenv("MOTHER_LLM_PROVIDER", "mock")
	path := writeConfig(t, `{"llm":{"provider":"openai"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM.Provider)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_MOTHER_KEY", "  from-env ")
	assert.Equal(t, "from-env", ProviderConfig{APIKeyEnv: "TEST_MOTHER_KEY"}.ResolveAPIKey())
	assert.Equal(t, "explicit", ProviderConfig{APIKey: "explicit", APIKeyEnv: "TEST_MOTHER_KEY"}.ResolveAPIKey())
	assert.Empty(t, ProviderConfig{}.ResolveAPIKey())
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.json"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestSQLiteTaskStoreDefaultsIntoDataDir(t *testing.T) {
	path := writeConfig(t, `{"runtime":{"data_dir":"state"},"storage":{"task_store":{"driver":"sqlite3","conn_max_lifetime_seconds":30}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "state", "jobs.db"), cfg.Storage.TaskStore.DSN)
	assert.Equal(t, 30*time.Second, cfg.Storage.TaskStore.ConnMaxLifetime())
	assert.Equal(t, 2, cfg.Storage.TaskStore.Retries)
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	_, err := Load(writeConfig(t, `{"storage":{"task_store":{"driver":"postgres"}}}`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"task_queue":{"driver":"kafka"}}`))
	require.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	t.Setenv("MOTHER_LLM_PROVIDER", "")
	path := filepath.Join("..", "..", "configs", "mother.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	root := filepath.Join("..", "..")
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, "sqlite3", cfg.Storage.TaskStore.Driver)
	assert.Equal(t, filepath.Join(root, "data", "jobs.db"), cfg.Storage.TaskStore.DSN)
	assert.Equal(t, filepath.Join(root, "configs", "tools.yaml"), cfg.Tools.Manifest)
	assert.True(t, cfg.Logging.Audit.Enabled)
	assert.Equal(t, filepath.Join(root, "data", "audit.log"), cfg.Logging.Audit.Path)
}
