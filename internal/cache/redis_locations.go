package cache

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-sync/internal/models"
)

// RedisLocations implements Locations on a redis hash per ride:
// ride_locations:<code> maps userName to "lat,lng".
type RedisLocations struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisLocations(client *redis.Client, logger *slog.Logger) *RedisLocations {
	return &RedisLocations{client: client, logger: logger}
}

func locationsKey(rideCode string) string { return "ride_locations:" + rideCode }

func (r *RedisLocations) Set(ctx context.Context, rideCode, userName string, p models.Position) error {
	return r.client.HSet(ctx, locationsKey(rideCode), userName, encodePosition(p)).Err()
}

func (r *RedisLocations) Get(ctx context.Context, rideCode, userName string) (models.Position, bool, error) {
	v, err := r.client.HGet(ctx, locationsKey(rideCode), userName).Result()
	if err == redis.Nil {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, err
	}
	p, ok := parsePosition(v)
	if !ok {
		r.logger.Warn("malformed cached location",
			"ride_code", rideCode, "user_name", userName, "value", v)
		return models.Position{}, false, nil
	}
	return p, true, nil
}

func (r *RedisLocations) All(ctx context.Context, rideCode string) (map[string]models.Position, error) {
	raw, err := r.client.HGetAll(ctx, locationsKey(rideCode)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Position, len(raw))
	for name, v := range raw {
		p, ok := parsePosition(v)
		if !ok {
			r.logger.Warn("malformed cached location",
				"ride_code", rideCode, "user_name", name, "value", v)
			continue
		}
		out[name] = p
	}
	return out, nil
}

func (r *RedisLocations) Remove(ctx context.Context, rideCode, userName string) error {
	return r.client.HDel(ctx, locationsKey(rideCode), userName).Err()
}

func (r *RedisLocations) Count(ctx context.Context, rideCode string) (int64, error) {
	return r.client.HLen(ctx, locationsKey(rideCode)).Result()
}

func (r *RedisLocations) Drop(ctx context.Context, rideCode string) error {
	return r.client.Del(ctx, locationsKey(rideCode)).Err()
}
