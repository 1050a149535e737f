package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix     = "backoffice:item_stock:"
	defaultTTL           = 10 * time.Minute
	defaultScanBatchSize = 100
)

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps cached item stock in Redis so every API instance serves
// the same copy. Entries expire after ttl as a backstop for missed refreshes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL sets the entry expiry.
func WithTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(itemID string) string {
	return s.prefix + itemID
}

func (s *RedisStore) Get(ctx context.Context, itemID string) (*ItemStock, error) {
	data, err := s.client.Get(ctx, s.key(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeItemStock(data)
}

func (s *RedisStore) Set(ctx context.Context, v *ItemStock) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode item stock: %w", err)
	}
	if err := s.client.Set(ctx, s.key(v.ItemID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) ItemIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", defaultScanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

func decodeItemStock(data []byte) (*ItemStock, error) {
	var v ItemStock
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode item stock: %w", err)
	}
	return &v, nil
}
