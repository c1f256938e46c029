package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[bot]
token = "123:abc"
allowed_handles = ["alice", "@bob"]
poll_timeout = "30s"
max_concurrent = 4
max_attachment_size = "10MiB"

[store]
backend = "sqlite"
sqlite_path = "/var/lib/relay/users.db"

[rate_limit]
window = "5s"
limit = 2

[cloud]
auth_url = "http://localhost:9000"
discovery_url = "http://localhost:9001"
device_desc = "desktop-macos"

[network]
timeout = "15s"
user_agent = "relay-test"

[logging]
level = "debug"
format = "json"

[metrics]
listen_addr = "127.0.0.1:9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, []string{"alice", "@bob"}, cfg.Bot.AllowedHandles)
	assert.Equal(t, 4, cfg.Bot.MaxConcurrent)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 2, cfg.RateLimit.Limit)
	assert.Equal(t, "desktop-macos", cfg.Cloud.DeviceDesc)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.ListenAddr)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
level = "warn"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, defaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, defaultRateWindow, cfg.RateLimit.Window)
	assert.Equal(t, defaultRateLimit, cfg.RateLimit.Limit)
	assert.Equal(t, defaultStoreBackend, cfg.Store.Backend)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `[bot`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTestConfig(t, `
[bot]
tokn = "x"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "bot.token"`)
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[store]
backend = "postgres"

[logging]
level = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_DefaultsWithoutFile(t *testing.T) {
	dataDir := t.TempDir()

	r, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath: filepath.Join(dataDir, "none.toml"),
		DataDir:    dataDir,
	})
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, r.RateWindow)
	assert.Equal(t, 1, r.RateLimit)
	assert.Equal(t, int64(20_000_000), r.MaxAttachmentSize)
	assert.Equal(t, filepath.Join(dataDir, storeDirName), r.Store.Dir)
	assert.Equal(t, filepath.Join(dataDir, sqliteFileName), r.Store.SQLitePath)
	assert.Equal(t, filepath.Join(dataDir, pidFileName), r.PIDFilePath())
	assert.Empty(t, r.BotToken)
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	path := writeTestConfig(t, `
[bot]
token = "file-token"
allowed_handles = ["carol"]

[store]
backend = "dir"
`)

	r, err := Resolve(EnvOverrides{
		BotToken:     "env-token",
		Whitelisted:  "alice @bob",
		StoreBackend: "redis",
		RedisURL:     "redis://localhost:6379/0",
		LogLevel:     "debug",
	}, CLIOverrides{ConfigPath: path, DataDir: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "env-token", r.BotToken)
	assert.Equal(t, []string{"alice", "bob"}, r.AllowedHandles)
	assert.Equal(t, "redis", r.Store.Backend)
	assert.Equal(t, "debug", r.LogLevel)
}

func TestResolve_CLIConfigPathWinsOverEnv(t *testing.T) {
	envPath := writeTestConfig(t, "[logging]\nlevel = \"error\"\n")
	cliPath := writeTestConfig(t, "[logging]\nlevel = \"warn\"\n")

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath, DataDir: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "warn", r.LogLevel)
	assert.Equal(t, cliPath, r.ConfigPath)
}

func TestResolve_RedisWithoutURL(t *testing.T) {
	_, err := Resolve(EnvOverrides{StoreBackend: "redis"}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		DataDir:    t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.redis_url")
}

func TestResolve_InvalidEnvBackend(t *testing.T) {
	_, err := Resolve(EnvOverrides{StoreBackend: "mongo"}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		DataDir:    t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestRequireServe(t *testing.T) {
	r := &Resolved{}

	err := r.RequireServe()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingBotToken)
	assert.ErrorIs(t, err, ErrMissingAllowList)

	r.BotToken = "t"
	r.AllowedHandles = []string{"alice"}
	assert.NoError(t, r.RequireServe())
}

func TestSplitHandles(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob", "carol"}, SplitHandles("  @alice bob\t@carol "))
	assert.Empty(t, SplitHandles(""))
	assert.Empty(t, SplitHandles("@ "))
}
