// Package store provides the two state surfaces of the chess core: the hot
// store (redis: live games, rooms, queues, counters) and the durable store
// (postgres: lifecycle-boundary records).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/gambitlive/backend/internal/v1/metrics"
)

// ErrHotStoreUnavailable is returned when the circuit breaker is open.
var ErrHotStoreUnavailable = errors.New("hot store unavailable")

// Hot wraps the redis client used for cross-component live state. All calls
// run through a circuit breaker; when the breaker is open the error surfaces
// to the caller, because unlike pub/sub fan-out this state cannot be dropped.
type Hot struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewHot creates a hot store connection and verifies it with a ping.
func NewHot(addr, password string) (*Hot, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewHotWithClient(rdb), nil
}

// NewHotWithClient wraps an existing client. Tests hand in a miniredis-backed
// client here.
func NewHotWithClient(client *redis.Client) *Hot {
	st := gobreaker.Settings{
		Name:        "hotstore",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	return &Hot{client: client, cb: gobreaker.NewCircuitBreaker(st)}
}

func (h *Hot) execute(fn func() (any, error)) (any, error) {
	res, err := h.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, ErrHotStoreUnavailable
	}
	return res, err
}

// SetJSON marshals val under key. A zero ttl means no expiry.
func (h *Hot) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = h.execute(func() (any, error) {
		return nil, h.client.Set(ctx, key, data, ttl).Err()
	})
	return err
}

// GetJSON unmarshals key into dest. The bool reports presence. A miss is not
// an error (and must not trip the breaker).
func (h *Hot) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	res, err := h.execute(func() (any, error) {
		data, err := h.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	if err := json.Unmarshal(res.([]byte), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetString stores a plain string value. A zero ttl means no expiry.
func (h *Hot) SetString(ctx context.Context, key, val string, ttl time.Duration) error {
	_, err := h.execute(func() (any, error) {
		return nil, h.client.Set(ctx, key, val, ttl).Err()
	})
	return err
}

// GetString reads a plain string value. The bool reports presence.
func (h *Hot) GetString(ctx context.Context, key string) (string, bool, error) {
	res, err := h.execute(func() (any, error) {
		val, err := h.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

// SetNX stores val only if key is absent. Reports whether the write happened.
func (h *Hot) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	res, err := h.execute(func() (any, error) {
		return h.client.SetNX(ctx, key, val, ttl).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Del removes keys in a single pipeline round trip.
func (h *Hot) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := h.execute(func() (any, error) {
		pipe := h.client.TxPipeline()
		pipe.Del(ctx, keys...)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// Incr increments the counter at key, applying ttl when the counter is new.
func (h *Hot) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := h.execute(func() (any, error) {
		pipe := h.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return incr.Val(), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// RPush appends values at the tail (newest end) of a queue list.
func (h *Hot) RPush(ctx context.Context, key string, vals ...string) error {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	_, err := h.execute(func() (any, error) {
		return nil, h.client.RPush(ctx, key, args...).Err()
	})
	return err
}

// LPush restores values at the head (oldest end) of a queue list.
func (h *Hot) LPush(ctx context.Context, key string, vals ...string) error {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	_, err := h.execute(func() (any, error) {
		return nil, h.client.LPush(ctx, key, args...).Err()
	})
	return err
}

// LPopCount atomically pops up to n entries from the head of the list.
// Returns nil when the list is empty.
func (h *Hot) LPopCount(ctx context.Context, key string, n int) ([]string, error) {
	res, err := h.execute(func() (any, error) {
		vals, err := h.client.LPopCount(ctx, key, n).Result()
		if err == redis.Nil {
			return nil, nil
		}
		return vals, err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.([]string), nil
}

// LLen returns the list length.
func (h *Hot) LLen(ctx context.Context, key string) (int64, error) {
	res, err := h.execute(func() (any, error) {
		return h.client.LLen(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// LRem removes every occurrence of value from the list and reports how many
// entries were removed.
func (h *Hot) LRem(ctx context.Context, key, value string) (int64, error) {
	res, err := h.execute(func() (any, error) {
		return h.client.LRem(ctx, key, 0, value).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// LRange returns the whole list, head (oldest) first.
func (h *Hot) LRange(ctx context.Context, key string) ([]string, error) {
	res, err := h.execute(func() (any, error) {
		return h.client.LRange(ctx, key, 0, -1).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// Client exposes the underlying redis client for components that manage
// their own keys (the rate limiter store).
func (h *Hot) Client() *redis.Client {
	return h.client
}

// Ping checks connectivity. Used by the readiness probe.
func (h *Hot) Ping(ctx context.Context) error {
	_, err := h.execute(func() (any, error) {
		return nil, h.client.Ping(ctx).Err()
	})
	return err
}

// Close shuts down the underlying client.
func (h *Hot) Close() error {
	return h.client.Close()
}
