package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	prefixBlacklist   = "auth:blacklist:"
	prefixReset       = "auth:reset:"
	prefixIdempotency = "idem:"
)

// Client wraps go-redis client with optional logger.
type Client struct {
	*redis.Client
	logger *zap.Logger
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis client connected", zap.String("addr", addr))
	return Wrap(rdb, logger), nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{Client: rdb, logger: logger}
}

// Blacklist marks a token id as revoked until ttl elapses.
func (c *Client) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.Set(ctx, prefixBlacklist+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a token id was revoked.
func (c *Client) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.Exists(ctx, prefixBlacklist+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return n > 0, nil
}

// SaveResetToken stores a single-use password reset token for userID.
func (c *Client) SaveResetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := c.Set(ctx, prefixReset+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	return nil
}

// PeekResetToken returns the user id bound to token without spending it.
func (c *Client) PeekResetToken(ctx context.Context, token string) (userID string, ok bool, err error) {
	userID, err = c.Get(ctx, prefixReset+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read reset token: %w", err)
	}
	return userID, true, nil
}

// ConsumeResetToken returns the user id bound to token and deletes it. ok is false for an unknown or used token.
func (c *Client) ConsumeResetToken(ctx context.Context, token string) (userID string, ok bool, err error) {
	userID, err = c.GetDel(ctx, prefixReset+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume reset token: %w", err)
	}
	return userID, true, nil
}

// AcquireIdempotencyKey claims key for ttl. It returns false when the key is already held.
func (c *Client) AcquireIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.SetNX(ctx, prefixIdempotency+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if !ok {
		c.logger.Warn("duplicate idempotency key", zap.String("key", key))
	}
	return ok, nil
}

// ReleaseIdempotencyKey frees key so a failed operation can be retried.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if err := c.Del(ctx, prefixIdempotency+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
