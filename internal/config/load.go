package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. A deployment configured purely
// through BOT_TOKEN and WHITELISTED needs no file at all.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The result is validated for internal consistency but not for serve-time
// requirements; see Resolved.RequireServe.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	applyEnv(cfg, env)

	// 4. Resolve data dir: CLI > env > platform default
	dataDir := DefaultDataDir()
	if env.DataDir != "" {
		dataDir = env.DataDir
	}

	if cli.DataDir != "" {
		dataDir = cli.DataDir
	}

	// 5. Re-validate, since env values bypassed Load.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved, err := resolve(cfg, cfgPath, dataDir)
	if err != nil {
		return nil, err
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.BotToken != "" {
		cfg.Bot.Token = env.BotToken
	}

	if env.Whitelisted != "" {
		cfg.Bot.AllowedHandles = SplitHandles(env.Whitelisted)
	}

	if env.StoreBackend != "" {
		cfg.Store.Backend = env.StoreBackend
	}

	if env.RedisURL != "" {
		cfg.Store.RedisURL = env.RedisURL
	}

	if env.MetricsAddr != "" {
		cfg.Metrics.ListenAddr = env.MetricsAddr
	}

	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
}

// SplitHandles splits a space-separated allow-list ("alice @bob") into
// handles without their "@" prefix. Empty entries are dropped.
func SplitHandles(s string) []string {
	fields := strings.Fields(s)
	handles := make([]string, 0, len(fields))

	for _, f := range fields {
		if h := strings.TrimPrefix(f, "@"); h != "" {
			handles = append(handles, h)
		}
	}

	return handles
}

// resolve converts validated string settings into typed values.
func resolve(cfg *Config, cfgPath, dataDir string) (*Resolved, error) {
	pollTimeout, err := parseDuration("bot.poll_timeout", cfg.Bot.PollTimeout)
	if err != nil {
		return nil, err
	}

	window, err := parseDuration("rate_limit.window", cfg.RateLimit.Window)
	if err != nil {
		return nil, err
	}

	httpTimeout, err := parseDuration("network.timeout", cfg.Network.Timeout)
	if err != nil {
		return nil, err
	}

	maxAttachment, err := ParseSize(cfg.Bot.MaxAttachmentSize)
	if err != nil {
		return nil, fmt.Errorf("bot.max_attachment_size: %w", err)
	}

	handles := make([]string, 0, len(cfg.Bot.AllowedHandles))
	for _, h := range cfg.Bot.AllowedHandles {
		if h = strings.TrimPrefix(strings.TrimSpace(h), "@"); h != "" {
			handles = append(handles, h)
		}
	}

	store := cfg.Store
	if store.Dir == "" && dataDir != "" {
		store.Dir = filepath.Join(dataDir, storeDirName)
	}

	if store.SQLitePath == "" && dataDir != "" {
		store.SQLitePath = filepath.Join(dataDir, sqliteFileName)
	}

	return &Resolved{
		ConfigPath:        cfgPath,
		DataDir:           dataDir,
		BotToken:          cfg.Bot.Token,
		AllowedHandles:    handles,
		PollTimeout:       pollTimeout,
		MaxConcurrent:     cfg.Bot.MaxConcurrent,
		MaxAttachmentSize: maxAttachment,
		Store:             store,
		RateWindow:        window,
		RateLimit:         cfg.RateLimit.Limit,
		Cloud:             cfg.Cloud,
		HTTPTimeout:       httpTimeout,
		UserAgent:         cfg.Network.UserAgent,
		LogLevel:          cfg.Logging.Level,
		LogFormat:         cfg.Logging.Format,
		MetricsAddr:       cfg.Metrics.ListenAddr,
	}, nil
}
