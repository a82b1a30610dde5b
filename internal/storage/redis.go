package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"vollahub/internal/config"
	"vollahub/pkg/types"
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const defaultSnapshotKey = "vollahub:snapshots"

// RedisStore keeps snapshots as JSON values in one Redis hash.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.Timeout.Or(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Key, timeout), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, key string, timeout time.Duration) *RedisStore {
	if key == "" {
		key = defaultSnapshotKey
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStore{client: client, key: key, timeout: timeout}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Save writes the snapshot into the hash field named after its kind.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	if snap.Entries == nil {
		snap.Entries = []types.ContentEntry{}
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.HSet(ctx, s.key, string(snap.Kind), payload).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get loads the snapshot for kind.
func (s *RedisStore) Get(ctx context.Context, kind types.CrawlKind) (Snapshot, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	raw, err := s.client.HGet(ctx, s.key, string(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", kind, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", kind, err)
	}
	return snap, true, nil
}

// List returns all stored snapshots ordered by kind.
func (s *RedisStore) List(ctx context.Context) ([]Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]Snapshot, 0, len(values))
	for field, raw := range values {
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", field, err)
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// Remove deletes the snapshot for kind.
func (s *RedisStore) Remove(ctx context.Context, kind types.CrawlKind) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.HDel(ctx, s.key, string(kind)).Err(); err != nil {
		return fmt.Errorf("remove snapshot %s: %w", kind, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
