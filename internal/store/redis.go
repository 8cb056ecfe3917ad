package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/monitor/internal/config"
	"fleet-monitor/monitor/internal/geo"
)

const geocodeKeyPrefix = "geocode:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func geocodeKey(address string) string {
	return geocodeKeyPrefix + address
}

// GetGeocode reads a cached "lat,lon" for an already-normalized address.
func (r *RedisStore) GetGeocode(ctx context.Context, address string) (geo.Point, bool, error) {
	val, err := r.client.Get(ctx, geocodeKey(address)).Result()
	if err == redis.Nil {
		return geo.Point{}, false, nil
	}
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("redis get geocode failed: %w", err)
	}
	p, err := geo.ParseLatLon(val)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("redis geocode %q: %w", address, err)
	}
	return p, true, nil
}

func (r *RedisStore) SetGeocode(ctx context.Context, address string, p geo.Point, ttl time.Duration) error {
	return r.client.Set(ctx, geocodeKey(address), p.String(), ttl).Err()
}

// SeedGeocodes writes many entries in one pipeline. Used by the seeding
// script.
func (r *RedisStore) SeedGeocodes(ctx context.Context, entries map[string]geo.Point, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	for address, p := range entries {
		pipe.Set(ctx, geocodeKey(address), p.String(), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *RedisStore) PublishTripChanged(ctx context.Context, channel, tripID string) error {
	return r.client.Publish(ctx, channel, tripID).Err()
}

// SubscribeTripChanges forwards trip ids published on channel until ctx is
// cancelled. The returned channel is closed when the subscription ends.
func (r *RedisStore) SubscribeTripChanges(ctx context.Context, channel string, logger *slog.Logger) <-chan string {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With(slog.String("component", "trip_change_subscriber"), slog.String("channel", channel))

	sub := r.client.Subscribe(ctx, channel)
	out := make(chan string, 64)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Warn("subscription_closed")
					return
				}
				id := strings.TrimSpace(msg.Payload)
				if id == "" {
					continue
				}
				select {
				case out <- id:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
