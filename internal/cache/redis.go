package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/UmutKorkmaz/solana-route-engine/internal/models"
)

// Redis keys and channels.
const (
	keyRecentExecutions = "executions:recent"
	keyPricePrefix      = "price:"

	channelExecutions    = "executions:live"
	channelOpportunities = "opportunities:live"

	maxRecentExecutions = 100
)

// RedisCache publishes execution receipts and arbitrage opportunities for
// live consumers and keeps a short rolling history. All writes are
// best-effort from the executor's point of view.
type RedisCache struct {
	client *redis.Client
	logger *logrus.Logger
}

type RedisConfig struct {
	Addr string
	DB   int
}

func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCacheFromClient(client, nil), nil
}

func NewRedisCacheFromClient(client *redis.Client, logger *logrus.Logger) *RedisCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisCache{client: client, logger: logger}
}

// AddRecentExecution pushes an execution event onto the rolling history list.
func (r *RedisCache) AddRecentExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, keyRecentExecutions, data)
	pipe.LTrim(ctx, keyRecentExecutions, 0, maxRecentExecutions-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push execution: %w", err)
	}
	return nil
}

// GetRecentExecutions returns up to limit most recent execution events.
func (r *RedisCache) GetRecentExecutions(ctx context.Context, limit int64) ([]*models.ExecutionEvent, error) {
	if limit <= 0 || limit > maxRecentExecutions {
		limit = maxRecentExecutions
	}

	raw, err := r.client.LRange(ctx, keyRecentExecutions, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read executions: %w", err)
	}

	out := make([]*models.ExecutionEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.ExecutionEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			r.logger.WithError(err).Warn("skipping malformed execution event")
			continue
		}
		out = append(out, &ev)
	}
	return out, nil
}

// PublishExecution broadcasts an execution event to live subscribers.
func (r *RedisCache) PublishExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	return r.client.Publish(ctx, channelExecutions, data).Err()
}

// PublishOpportunity broadcasts a detected arbitrage cycle.
func (r *RedisCache) PublishOpportunity(ctx context.Context, ev *models.OpportunityEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal opportunity: %w", err)
	}
	return r.client.Publish(ctx, channelOpportunities, data).Err()
}

// SubscribeOpportunities delivers live opportunity events to handler until
// ctx is cancelled.
func (r *RedisCache) SubscribeOpportunities(ctx context.Context, handler func(*models.OpportunityEvent)) error {
	pubsub := r.client.Subscribe(ctx, channelOpportunities)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.OpportunityEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.WithError(err).Warn("skipping malformed opportunity event")
				continue
			}
			handler(&ev)
		}
	}
}

// SetPriceUSD caches a token price as a decimal string.
func (r *RedisCache) SetPriceUSD(ctx context.Context, mint string, price string) error {
	return r.client.Set(ctx, keyPricePrefix+mint, price, 0).Err()
}

// GetPriceUSD reads a cached token price.
func (r *RedisCache) GetPriceUSD(ctx context.Context, mint string) (string, error) {
	val, err := r.client.Get(ctx, keyPricePrefix+mint).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("no cached price for %s", mint)
	}
	return val, err
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
