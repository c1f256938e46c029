package config

// Default values for configuration options. These are the bottom layer of
// the override chain.
const (
	defaultPollTimeout       = "60s"
	defaultMaxConcurrent     = 8
	defaultMaxAttachmentSize = "20MB"
	defaultStoreBackend      = "dir"
	defaultRateWindow        = "3s"
	defaultRateLimit         = 1
	defaultHTTPTimeout       = "60s"
	defaultUserAgent         = "remarkable-relay/0.1"
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"

	storeDirName   = "db"
	sqliteFileName = "users.db"
	pidFileName    = "relay.pid"
)

// DefaultConfig returns a Config populated with all default values.
// Used as the starting point for TOML decoding so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			PollTimeout:       defaultPollTimeout,
			MaxConcurrent:     defaultMaxConcurrent,
			MaxAttachmentSize: defaultMaxAttachmentSize,
		},
		Store: StoreConfig{
			Backend: defaultStoreBackend,
		},
		RateLimit: RateLimitConfig{
			Window: defaultRateWindow,
			Limit:  defaultRateLimit,
		},
		Network: NetworkConfig{
			Timeout:   defaultHTTPTimeout,
			UserAgent: defaultUserAgent,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
