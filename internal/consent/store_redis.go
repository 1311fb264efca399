package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"enforce/pkg/platform/sentinel"
)

const (
	// Redis key suffixes for the three persisted fields.
	redisDataKey    = "consent:data"
	redisExpiryKey  = "consent:expires_at_ms"
	redisVersionKey = "consent:version"

	defaultRedisPrefix = "enforce:"
)

// RedisBackend stores the record as three keys written in one MULTI/EXEC
// transaction. Each key also carries the record expiry as a Redis EXPIREAT so
// stale consent disappears even if nothing ever reads it.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// RedisBackendOption configures a RedisBackend instance.
type RedisBackendOption func(*RedisBackend)

// WithKeyPrefix namespaces the keys, e.g. per application or device.
func WithKeyPrefix(prefix string) RedisBackendOption {
	return func(b *RedisBackend) {
		b.prefix = prefix
	}
}

// NewRedisBackend constructs a Redis-backed consent backend.
func NewRedisBackend(client *redis.Client, opts ...RedisBackendOption) *RedisBackend {
	b := &RedisBackend{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *RedisBackend) keys() (data, expiry, version string) {
	return b.prefix + redisDataKey, b.prefix + redisExpiryKey, b.prefix + redisVersionKey
}

func (b *RedisBackend) Read(ctx context.Context) (*Record, error) {
	dataKey, expiryKey, versionKey := b.keys()
	values, err := b.client.MGet(ctx, dataKey, expiryKey, versionKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read consent keys: %w", err)
	}
	if values[0] == nil && values[1] == nil && values[2] == nil {
		return nil, sentinel.ErrNotFound
	}

	// A partially present triple is returned as an already-expired record so
	// the store purges the leftovers.
	record := &Record{Flags: map[string]bool{}}
	if raw, ok := values[0].(string); ok {
		if err := json.Unmarshal([]byte(raw), &record.Flags); err != nil {
			return nil, fmt.Errorf("decode consent flags: %w", err)
		}
	}
	if raw, ok := values[1].(string); ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode consent expiry: %w", err)
		}
		record.ExpiresAt = timeFromMillis(ms)
	}
	if raw, ok := values[2].(string); ok {
		record.Version = raw
	}
	return record, nil
}

func (b *RedisBackend) Write(ctx context.Context, record Record) error {
	flags, err := json.Marshal(cloneFlags(record.Flags))
	if err != nil {
		return fmt.Errorf("encode consent flags: %w", err)
	}

	dataKey, expiryKey, versionKey := b.keys()
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, dataKey, flags, 0)
	pipe.Set(ctx, expiryKey, record.ExpiresAt.UnixMilli(), 0)
	pipe.Set(ctx, versionKey, record.Version, 0)
	for _, key := range []string{dataKey, expiryKey, versionKey} {
		pipe.ExpireAt(ctx, key, record.ExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write consent keys: %w", err)
	}
	return nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	dataKey, expiryKey, versionKey := b.keys()
	if err := b.client.Del(ctx, dataKey, expiryKey, versionKey).Err(); err != nil {
		return fmt.Errorf("clear consent keys: %w", err)
	}
	return nil
}
