package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when REDIS_TEST_ADDR is set.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, nil)
}

func TestBlacklist(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	jti := uuid.NewString()

	revoked, err := c.IsBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, c.Blacklist(ctx, jti, time.Minute))
	revoked, err = c.IsBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestResetTokenSingleUse(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	token := uuid.NewString()

	require.NoError(t, c.SaveResetToken(ctx, token, "user-1", time.Minute))

	peeked, ok, err := c.PeekResetToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-1", peeked)

	userID, ok, err := c.ConsumeResetToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	_, ok, err = c.ConsumeResetToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.PeekResetToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyKey(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	ok, err := c.AcquireIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseIdempotencyKey(ctx, key))
	ok, err = c.AcquireIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
