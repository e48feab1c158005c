package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gambitlive/backend/internal/v1/config"
)

func newLimiter(t *testing.T, wsRate, chatRate string) *RateLimiter {
	t.Helper()
	rl, err := NewRateLimiter(&config.Config{
		RateLimitWsMessages:   wsRate,
		RateLimitChatMessages: chatRate,
	}, nil)
	require.NoError(t, err)
	return rl
}

func TestNewRateLimiterRejectsBadFormat(t *testing.T) {
	_, err := NewRateLimiter(&config.Config{
		RateLimitWsMessages:   "lots",
		RateLimitChatMessages: "50-M",
	}, nil)
	require.Error(t, err)

	_, err = NewRateLimiter(&config.Config{
		RateLimitWsMessages:   "50-M",
		RateLimitChatMessages: "",
	}, nil)
	require.Error(t, err)
}

func TestAllowMessageExhaustsWindow(t *testing.T) {
	rl := newLimiter(t, "3-M", "50-M")
	ctx := context.Background()

	for i := range 3 {
		assert.True(t, rl.AllowMessage(ctx, "alice"), "message %d within budget", i+1)
	}
	assert.False(t, rl.AllowMessage(ctx, "alice"), "fourth message breaches the window")

	// Budgets are per user.
	assert.True(t, rl.AllowMessage(ctx, "bob"))
}

func TestChatAndMessageBudgetsAreIndependent(t *testing.T) {
	rl := newLimiter(t, "50-M", "2-M")
	ctx := context.Background()

	assert.True(t, rl.AllowChat(ctx, "alice"))
	assert.True(t, rl.AllowChat(ctx, "alice"))
	assert.False(t, rl.AllowChat(ctx, "alice"))

	// The WS window is untouched by chat traffic.
	assert.True(t, rl.AllowMessage(ctx, "alice"))
}
