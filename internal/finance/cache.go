package finance

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const summaryKeyPrefix = "finance:summary"

// Cache keeps financial summaries in Redis. Concurrent misses for the same key
// share one load. Redis errors are logged and served from the loader.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func summaryKey(centerID uuid.UUID, period Period) string {
	return strings.Join([]string{summaryKeyPrefix, centerID.String(), period.String()}, ":")
}

// Fetch loads a cached summary or populates it using loader.
func (c *Cache) Fetch(ctx context.Context, centerID uuid.UUID, period Period, loader func(context.Context) (FinancialSummary, error)) (FinancialSummary, error) {
	if loader == nil {
		return FinancialSummary{}, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := summaryKey(centerID, period)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var out FinancialSummary
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("summary cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		summary, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(summary)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("summary cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return summary, nil
	})
	if err != nil {
		return FinancialSummary{}, err
	}
	return v.(FinancialSummary), nil
}

// Invalidate drops the cached summaries of the given periods.
func (c *Cache) Invalidate(ctx context.Context, centerID uuid.UUID, periods ...Period) error {
	if c == nil || c.client == nil || len(periods) == 0 {
		return nil
	}
	keys := make([]string, 0, len(periods))
	for _, p := range periods {
		keys = append(keys, summaryKey(centerID, p))
	}
	return c.client.Del(ctx, keys...).Err()
}
