package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whatislife/savekeeper/pkg/apperr"
	"github.com/whatislife/savekeeper/pkg/paths"
)

// RedisRepository keeps each save in its own hash, save:{<player_id>}.
type RedisRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRepository connects to the Redis server named by redisURL.
func NewRedisRepository(ctx context.Context, redisURL string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisRepositoryWithClient(client), nil
}

// NewRedisRepositoryWithClient wraps an existing client.
func NewRedisRepositoryWithClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
		now:    time.Now,
	}
}

func (r *RedisRepository) Close(ctx context.Context) error {
	return r.client.Close()
}

func saveKey(playerID string) string {
	return "save:{" + playerID + "}"
}

func (r *RedisRepository) SaveGame(ctx context.Context, playerID string, data string) error {
	if _, err := paths.SanitizeID(playerID); err != nil {
		return err
	}

	key := saveKey(playerID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"data", data,
			"player_id", playerID,
			"last_modified", strconv.FormatInt(nowUnix(r.now), 10),
			"version", SaveFormatVersion,
		)
		return nil
	})
	if err != nil {
		return apperr.Errorf(apperr.KindIO, "saves.save", "failed to save game data: %w", err)
	}
	return nil
}

func (r *RedisRepository) LoadGame(ctx context.Context, playerID string) (string, error) {
	if _, err := paths.SanitizeID(playerID); err != nil {
		return "", err
	}

	data, err := r.client.HGet(ctx, saveKey(playerID), "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", apperr.Errorf(apperr.KindIO, "saves.load", "failed to load game data: %w", err)
	}
	return data, nil
}
