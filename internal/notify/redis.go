package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/monitor/internal/domain"
)

var _ Notifier = (*RedisPublisher)(nil)

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, alert domain.Alert) error {
	body, err := Encode(alert)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}
