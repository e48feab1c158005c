// Package ratelimit enforces per-user message budgets over ulule/limiter.
// Two independent windows exist: one for all inbound WebSocket frames and a
// tighter one for chat. The store is Redis-backed when a client is supplied
// and in-memory otherwise.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/config"
	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/types"
)

// RateLimiter holds the per-surface limiter instances.
type RateLimiter struct {
	wsMessages   *limiter.Limiter
	chatMessages *limiter.Limiter
}

// NewRateLimiter parses the configured rates and builds the limiters.
// redisClient may be nil, in which case counts live in process memory.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsMessages)
	if err != nil {
		return nil, fmt.Errorf("invalid WS message rate: %w", err)
	}
	chatRate, err := limiter.NewRateFromFormatted(cfg.RateLimitChatMessages)
	if err != nil {
		return nil, fmt.Errorf("invalid chat message rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store")
	}

	return &RateLimiter{
		wsMessages:   limiter.New(store, wsRate),
		chatMessages: limiter.New(store, chatRate),
	}, nil
}

// AllowMessage counts one inbound WebSocket frame against userID's budget.
// Returns false once the window is exhausted. Store failures fail open.
func (rl *RateLimiter) AllowMessage(ctx context.Context, userID types.UserID) bool {
	return rl.allow(ctx, rl.wsMessages, "ws:"+string(userID))
}

// AllowChat counts one chat message against userID's budget.
func (rl *RateLimiter) AllowChat(ctx context.Context, userID types.UserID) bool {
	return rl.allow(ctx, rl.chatMessages, "chat:"+string(userID))
}

func (rl *RateLimiter) allow(ctx context.Context, l *limiter.Limiter, key string) bool {
	res, err := l.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.String("key", key), zap.Error(err))
		return true
	}
	return !res.Reached
}
