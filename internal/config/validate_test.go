package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PassesValidation(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Bot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bot.MaxConcurrent = 0
	cfg.Bot.PollTimeout = "soon"
	cfg.Bot.MaxAttachmentSize = "lots"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot.max_concurrent")
	assert.Contains(t, err.Error(), "bot.poll_timeout")
	assert.Contains(t, err.Error(), "bot.max_attachment_size")
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Window = "1ms"
	cfg.RateLimit.Limit = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit.window")
	assert.Contains(t, err.Error(), "rate_limit.limit")
}

func TestValidate_CloudURLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cloud.AuthURL = "not a url"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud.auth_url")
}

func TestValidate_NegativeDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.Timeout = "-5s"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network.timeout")
}

func TestValidate_LogFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("20MB")
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000), n)

	n, err = ParseSize("1MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), n)

	_, err = ParseSize("")
	assert.Error(t, err)

	_, err = ParseSize("big")
	assert.Error(t, err)
}
