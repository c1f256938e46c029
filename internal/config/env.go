package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// EnvOverrides holds values derived from environment variables.
// BOT_TOKEN and WHITELISTED keep the names operators already deploy with.
type EnvOverrides struct {
	ConfigPath   string `env:"RELAY_CONFIG"`
	DataDir      string `env:"RELAY_DATA_DIR"`
	BotToken     string `env:"BOT_TOKEN"`
	Whitelisted  string `env:"WHITELISTED"`
	StoreBackend string `env:"RELAY_STORE_BACKEND"`
	RedisURL     string `env:"RELAY_REDIS_URL"`
	MetricsAddr  string `env:"RELAY_METRICS_ADDR"`
	LogLevel     string `env:"RELAY_LOG_LEVEL"`
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() (EnvOverrides, error) {
	var env EnvOverrides
	if err := cleanenv.ReadEnv(&env); err != nil {
		return EnvOverrides{}, fmt.Errorf("reading environment: %w", err)
	}

	return env, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	return nil
}
