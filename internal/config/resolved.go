package config

import (
	"errors"
	"path/filepath"
	"time"
)

// Startup errors for settings the serve command cannot run without.
var (
	ErrMissingBotToken  = errors.New("config: bot token is not set (BOT_TOKEN or bot.token)")
	ErrMissingAllowList = errors.New("config: allow-list is empty (WHITELISTED or bot.allowed_handles)")
)

// Resolved is the fully merged configuration with durations and sizes
// parsed, ready for use by the serve and users commands.
type Resolved struct {
	ConfigPath string
	DataDir    string

	BotToken          string
	AllowedHandles    []string
	PollTimeout       time.Duration
	MaxConcurrent     int
	MaxAttachmentSize int64

	Store StoreConfig

	RateWindow time.Duration
	RateLimit  int

	Cloud       CloudConfig
	HTTPTimeout time.Duration
	UserAgent   string

	LogLevel  string
	LogFormat string

	MetricsAddr string
}

// PIDFilePath is where serve records its process ID.
func (r *Resolved) PIDFilePath() string {
	if r.DataDir == "" {
		return ""
	}

	return filepath.Join(r.DataDir, pidFileName)
}

// RequireServe reports the settings serve cannot start without. Both
// problems are reported together.
func (r *Resolved) RequireServe() error {
	var errs []error

	if r.BotToken == "" {
		errs = append(errs, ErrMissingBotToken)
	}

	if len(r.AllowedHandles) == 0 {
		errs = append(errs, ErrMissingAllowList)
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: the bot token and any store
// password are masked.
func (r *Resolved) Redacted() *Resolved {
	cp := *r
	if cp.BotToken != "" {
		cp.BotToken = redacted
	}

	cp.Store.RedisURL = redactURL(cp.Store.RedisURL)

	return &cp
}
