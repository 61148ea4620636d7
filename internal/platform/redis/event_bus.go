package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

const DefaultChannel = "detox:jobs"

// EventBus publishes JSON events on a single pub/sub channel.
type EventBus struct {
	log     *logger.Logger
	rdb     goredis.UniversalClient
	channel string
}

func NewEventBus(log *logger.Logger, rdb goredis.UniversalClient, channel string) (*EventBus, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	ch := strings.TrimSpace(channel)
	if ch == "" {
		ch = DefaultChannel
	}
	return &EventBus{log: log.With("service", "RedisEventBus"), rdb: rdb, channel: ch}, nil
}

func (b *EventBus) Channel() string { return b.channel }

func (b *EventBus) Publish(ctx context.Context, event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}
