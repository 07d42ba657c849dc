package progress

import (
	"context"

	"github.com/redis/go-redis/v9"

	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/services"
)

// HashClient is the subset of *redis.Client used by RedisStore.
type HashClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisStore keeps one hash per video: field = encoding id, value = entry.
type RedisStore struct {
	client HashClient
}

// OpenRedis connects to the configured redis server and verifies it answers.
func OpenRedis(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := NewRedisStore(client)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client HashClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, videoID string, encodingID contracts.EncodingID, value string) error {
	if err := s.client.HSet(ctx, Key(videoID), string(encodingID), value).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "progress", "redis hset", Key(videoID), err)
	}
	return nil
}

func (s *RedisStore) Entries(ctx context.Context, videoID string) (map[contracts.EncodingID]string, error) {
	raw, err := s.client.HGetAll(ctx, Key(videoID)).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "progress", "redis hgetall", Key(videoID), err)
	}
	out := make(map[contracts.EncodingID]string, len(raw))
	for field, value := range raw {
		out[contracts.EncodingID(field)] = value
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "progress", "redis ping", "", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
