package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/skillswap/internal/logger"
)

func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func SwapChannel(swapID uuid.UUID) string {
	return "swap:" + swapID.String()
}

// RedisPublisher sends events with redis PUBLISH: to every involved user channel and to the swap channel
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channels := make([]string, 0, len(event.AccountIDs)+1)
	for _, id := range event.AccountIDs {
		channels = append(channels, UserChannel(id))
	}
	channels = append(channels, SwapChannel(event.SwapID))

	pipe := p.rdb.Pipeline()
	for _, ch := range channels {
		pipe.Publish(ctx, ch, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// LogPublisher writes events to log. Used when redis is not configured
type LogPublisher struct {
	logger logger.Logger
}

func NewLogPublisher(l logger.Logger) *LogPublisher {
	return &LogPublisher{logger: l}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	args := []any{"type", event.Type, "swap_id", event.SwapID, "account_ids", event.AccountIDs}
	if event.Amount != nil {
		args = append(args, "amount", *event.Amount)
	}
	if event.Status != "" {
		args = append(args, "status", event.Status)
	}

	p.logger.Info("Event published", args...)
	return nil
}
