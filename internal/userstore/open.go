package userstore

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	Dir        string
	SQLitePath string
	RedisURL   string
}

// Open returns the Store named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendDir, "":
		return NewDirStore(opts.Dir, logger)
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath, logger)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL, logger)
	default:
		return nil, fmt.Errorf("userstore: unknown backend %q", opts.Backend)
	}
}
