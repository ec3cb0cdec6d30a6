package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensandbox/codespace/internal/crypto"
	"github.com/opensandbox/codespace/pkg/types"
)

// RedisHashKey holds one field per credential, valued with its JSON record.
const RedisHashKey = "codespace:credentials"

// RedisStore keeps credentials in a Redis hash so they survive restarts and
// are shared between server replicas.
type RedisStore struct {
	rdb    *redis.Client
	sealer *crypto.Sealer
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, sealer *crypto.Sealer) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{rdb: rdb, sealer: sealer}, nil
}

func (s *RedisStore) Create(ctx context.Context, req types.CreateKeyRequest) (*types.KeyInfo, error) {
	rec, err := newRecord(s.sealer, req, time.Now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}

	created, err := s.rdb.HSetNX(ctx, RedisHashKey, rec.Name, data).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HSETNX: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrExists, rec.Name)
	}
	info := rec.info()
	return &info, nil
}

func (s *RedisStore) List(ctx context.Context) ([]types.KeyInfo, error) {
	all, err := s.rdb.HGetAll(ctx, RedisHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}

	infos := make([]types.KeyInfo, 0, len(all))
	for name, data := range all {
		var rec record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", name, err)
		}
		infos = append(infos, rec.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *RedisStore) Revoke(ctx context.Context, name string) error {
	n, err := s.rdb.HDel(ctx, RedisHashKey, name).Result()
	if err != nil {
		return fmt.Errorf("redis HDEL: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (s *RedisStore) Reveal(ctx context.Context, name string) (string, error) {
	data, err := s.rdb.HGet(ctx, RedisHashKey, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("redis HGET: %w", err)
	}
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return "", fmt.Errorf("decode credential %s: %w", name, err)
	}
	return s.sealer.Open(rec.Sealed)
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
