package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRecordPrefix = "relay:user:"
	redisIndexKey     = "relay:users"

	// maxMergeAttempts bounds the optimistic WATCH/MULTI loop. Contention on
	// one key is limited to the handful of interactions a single user can
	// trigger, so a small bound is enough.
	maxMergeAttempts = 8
)

// ErrMergeContention is returned when a Redis merge loses the optimistic
// race maxMergeAttempts times in a row.
var ErrMergeContention = errors.New("userstore: too much contention merging record")

// RedisStore keeps records as JSON strings in Redis. Merges use WATCH/MULTI
// so concurrent relays sharing one Redis cannot overwrite each other.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	locks  *keyLocker
	now    func() time.Time
}

// NewRedisStore connects to the Redis server at url and pings it.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("userstore: parse redis URL: %w", err)
	}

	return NewRedisStoreWithClient(ctx, redis.NewClient(opts), logger)
}

// NewRedisStoreWithClient wraps an existing client. The client is closed by Close.
func NewRedisStoreWithClient(ctx context.Context, client *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("userstore: redis ping failed: %w", err)
	}

	logger.Info("using redis credential store", slog.String("addr", client.Options().Addr))

	return &RedisStore{client: client, logger: logger, locks: newKeyLocker(), now: time.Now}, nil
}

// Get returns the record for key, or nil if none exists.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	raw, err := s.client.Get(ctx, redisRecordPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // sentinel for "not registered"
	}

	if err != nil {
		return nil, fmt.Errorf("userstore: redis get: %w", err)
	}

	return decodeRecord(raw)
}

// Merge applies patch with an optimistic compare-and-swap on the record key.
func (s *RedisStore) Merge(ctx context.Context, key string, patch Patch) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	// Local merges queue on the key lock; WATCH only has to arbitrate
	// between processes.
	unlock := s.locks.lock(key)
	defer unlock()

	rk := redisRecordPrefix + key

	var merged *Record

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, rk).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		rec := &Record{Key: key}

		if len(raw) > 0 {
			existing, decErr := decodeRecord(raw)
			if decErr != nil {
				s.logger.Warn("replacing corrupt credential record",
					slog.String("session_key", key),
					slog.String("error", decErr.Error()),
				)
			} else {
				rec = existing
			}
		}

		patch.Apply(rec, s.now())

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("userstore: encoding record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, 0)
			pipe.SAdd(ctx, redisIndexKey, key)

			return nil
		})
		if err != nil {
			return err
		}

		merged = rec

		return nil
	}

	for attempt := 1; attempt <= maxMergeAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, rk)
		if err == nil {
			return merged, nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("userstore: redis merge: %w", err)
		}

		s.logger.Debug("redis merge lost race, retrying",
			slog.String("session_key", key),
			slog.Int("attempt", attempt),
		)
	}

	return nil, ErrMergeContention
}

// Keys returns all indexed session keys, sorted ascending.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("userstore: redis smembers: %w", err)
	}

	sort.Strings(keys)

	return keys, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecord(raw []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return &rec, nil
}
