package services

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"parallax-connect/internal/models"
)

// ChatUpdatesChannel is the redis pub/sub channel carrying state and
// title updates to connected websocket clients.
const ChatUpdatesChannel = "chat_updates"

// Publisher fans chat updates out to websocket clients.
type Publisher interface {
	Publish(ctx context.Context, msg models.WSMessage)
}

type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.redis.Publish(ctx, ChatUpdatesChannel, string(data))
}

// NopPublisher drops updates, used in tests and when redis is absent.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, msg models.WSMessage) {}
