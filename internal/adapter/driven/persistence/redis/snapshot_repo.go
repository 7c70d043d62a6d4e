package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Prefix namespaces keys, typically per user.
	Prefix string
}

// SnapshotRepository keeps snapshots in redis. Entries expire on their own
// slightly after domain.MaxSnapshotAge.
type SnapshotRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func Connect(ctx context.Context, cfg Config) (*SnapshotRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewSnapshotRepository(client, cfg.Prefix), nil
}

func NewSnapshotRepository(client *redis.Client, prefix string) *SnapshotRepository {
	return &SnapshotRepository{
		client: client,
		prefix: prefix,
		ttl:    domain.MaxSnapshotAge + time.Minute,
	}
}

func (r *SnapshotRepository) key(k string) string {
	return r.prefix + k
}

func (r *SnapshotRepository) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	return data, err
}

func (r *SnapshotRepository) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, r.ttl).Err()
}

func (r *SnapshotRepository) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *SnapshotRepository) Close() error {
	return r.client.Close()
}
