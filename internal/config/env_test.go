package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("WHITELISTED", "alice bob")
	t.Setenv("RELAY_STORE_BACKEND", "sqlite")
	t.Setenv("RELAY_METRICS_ADDR", ":9100")

	env, err := ReadEnvOverrides()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", env.BotToken)
	assert.Equal(t, "alice bob", env.Whitelisted)
	assert.Equal(t, "sqlite", env.StoreBackend)
	assert.Equal(t, ":9100", env.MetricsAddr)
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOT_TOKEN=from-file\nRELAY_LOG_LEVEL=debug\n"), 0o600))

	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("RELAY_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("RELAY_LOG_LEVEL"))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("RELAY_LOG_LEVEL") })

	assert.Equal(t, "from-env", os.Getenv("BOT_TOKEN"))
	assert.Equal(t, "debug", os.Getenv("RELAY_LOG_LEVEL"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}
