package redis

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/control-tower/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SignalViewKey derives a stable cache key from the normalized filter
// description of a ranked signal view.
func SignalViewKey(filterDesc string) string {
	return fmt.Sprintf("signals:ranked:%x", md5.Sum([]byte(filterDesc)))
}

func riskKey(personID string) string {
	return fmt.Sprintf("risk:current:%s", personID)
}

func (c *Client) SetSignalView(ctx context.Context, key string, view interface{}, ttl time.Duration) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal signal view: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache signal view: %w", err)
	}

	logger.Debug("Signal view cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetSignalView(ctx context.Context, key string, view interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read signal view cache: %w", err)
	}

	if err := json.Unmarshal(data, view); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached signal view: %w", err)
	}

	return true, nil
}

func (c *Client) SetCurrentRisk(ctx context.Context, personID string, score float64, ttl time.Duration) error {
	if err := c.client.Set(ctx, riskKey(personID), score, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache risk score: %w", err)
	}
	return nil
}

func (c *Client) GetCurrentRisk(ctx context.Context, personID string) (float64, bool, error) {
	score, err := c.client.Get(ctx, riskKey(personID)).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read risk score cache: %w", err)
	}

	return score, true, nil
}

// InvalidateDerivedViews drops every cached ranked view and risk score.
// Called after each generator run so readers never see a stale view longer
// than one poll interval.
func (c *Client) InvalidateDerivedViews(ctx context.Context) error {
	for _, pattern := range []string{"signals:ranked:*", "risk:current:*"} {
		iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to invalidate cache key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
	}

	logger.Debug("Derived view caches invalidated")
	return nil
}
