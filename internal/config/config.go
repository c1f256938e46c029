// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for remarkable-relay. Values follow a
// layered override chain: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Bot       BotConfig       `toml:"bot"`
	Store     StoreConfig     `toml:"store"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Cloud     CloudConfig     `toml:"cloud"`
	Network   NetworkConfig   `toml:"network"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// BotConfig controls the chat transport and who may use it.
// AllowedHandles are public usernames, with or without a leading "@".
type BotConfig struct {
	Token             string   `toml:"token"`
	AllowedHandles    []string `toml:"allowed_handles"`
	PollTimeout       string   `toml:"poll_timeout"`
	MaxConcurrent     int      `toml:"max_concurrent"`
	MaxAttachmentSize string   `toml:"max_attachment_size"`
}

// StoreConfig selects the credential store backend. Empty paths resolve
// under the data directory.
type StoreConfig struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	SQLitePath string `toml:"sqlite_path"`
	RedisURL   string `toml:"redis_url"`
}

// RateLimitConfig bounds how often one sender is served: at most Limit
// interactions per Window.
type RateLimitConfig struct {
	Window string `toml:"window"`
	Limit  int    `toml:"limit"`
}

// CloudConfig overrides the reMarkable cloud endpoints. Empty values use
// the production services.
type CloudConfig struct {
	AuthURL      string `toml:"auth_url"`
	DiscoveryURL string `toml:"discovery_url"`
	DeviceDesc   string `toml:"device_desc"`
}

// NetworkConfig controls outbound HTTP behavior.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig enables the Prometheus/health listener when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	DataDir    string // --data-dir flag (empty = use default)
}
