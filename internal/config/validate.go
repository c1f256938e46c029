package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minMaxConcurrent = 1
	maxMaxConcurrent = 256
	minRateLimit     = 1
	minHTTPTimeout   = time.Second
	minRateWindow    = 100 * time.Millisecond
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBot(&cfg.Bot)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateCloud(&cfg.Cloud)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense on the merged
// result of all override layers.
func ValidateResolved(r *Resolved) error {
	var errs []error

	switch r.Store.Backend {
	case "dir":
		if r.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir: no data directory available, set --data-dir or RELAY_DATA_DIR"))
		}
	case "sqlite":
		if r.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path: no data directory available, set --data-dir or RELAY_DATA_DIR"))
		}
	case "redis":
		if r.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url: required when backend is redis"))
		}
	}

	return errors.Join(errs...)
}

func validateBot(b *BotConfig) []error {
	var errs []error

	if _, err := parseDuration("bot.poll_timeout", b.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if b.MaxConcurrent < minMaxConcurrent || b.MaxConcurrent > maxMaxConcurrent {
		errs = append(errs, fmt.Errorf("bot.max_concurrent: must be between %d and %d, got %d",
			minMaxConcurrent, maxMaxConcurrent, b.MaxConcurrent))
	}

	if n, err := ParseSize(b.MaxAttachmentSize); err != nil {
		errs = append(errs, fmt.Errorf("bot.max_attachment_size: %w", err))
	} else if n <= 0 {
		errs = append(errs, fmt.Errorf("bot.max_attachment_size: must be positive, got %q", b.MaxAttachmentSize))
	}

	return errs
}

var validBackends = map[string]bool{
	"dir":    true,
	"sqlite": true,
	"redis":  true,
}

func validateStore(s *StoreConfig) []error {
	var errs []error

	if !validBackends[s.Backend] {
		errs = append(errs, fmt.Errorf("store.backend: must be one of dir, sqlite, redis; got %q", s.Backend))
	}

	if s.RedisURL != "" {
		if _, err := url.Parse(s.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("store.redis_url: %w", err))
		}
	}

	return errs
}

func validateRateLimit(r *RateLimitConfig) []error {
	var errs []error

	d, err := parseDuration("rate_limit.window", r.Window)
	if err != nil {
		errs = append(errs, err)
	} else if d < minRateWindow {
		errs = append(errs, fmt.Errorf("rate_limit.window: must be >= %s, got %s", minRateWindow, d))
	}

	if r.Limit < minRateLimit {
		errs = append(errs, fmt.Errorf("rate_limit.limit: must be >= %d, got %d", minRateLimit, r.Limit))
	}

	return errs
}

func validateCloud(c *CloudConfig) []error {
	var errs []error

	for name, raw := range map[string]string{"cloud.auth_url": c.AuthURL, "cloud.discovery_url": c.DiscoveryURL} {
		if raw == "" {
			continue
		}

		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: must be an absolute URL, got %q", name, raw))
		}
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := parseDuration("network.timeout", n.Timeout)
	if err != nil {
		return []error{err}
	}

	if d < minHTTPTimeout {
		return []error{fmt.Errorf("network.timeout: must be >= %s, got %s", minHTTPTimeout, d)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("logging.format: must be one of text, json; got %q", l.Format))
	}

	return errs
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %q", field, s)
	}

	return d, nil
}
