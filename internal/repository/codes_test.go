package repository

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return client, server
}

func TestRedisCodeStore_IssueSetsTTL(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	ctx := context.Background()

	ok, err := store.Issue(ctx, PurposeReset, " Ann@Example.com", "1234", 10*time.Minute, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	key := "code:reset:ann@example.com"
	assert.Equal(t, "1234", server.HGet(key, "code"))
	assert.Equal(t, 10*time.Minute, server.TTL(key))
	assert.Equal(t, time.Minute, server.TTL(key+":cooldown"))
}

func TestRedisCodeStore_CooldownKeepsOldCode(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRedisCodeStore(client, "otp")
	ctx := context.Background()

	_, err := store.Issue(ctx, PurposeReset, "ann@example.com", "1111", 10*time.Minute, time.Minute)
	require.NoError(t, err)
	ok, err := store.Issue(ctx, PurposeReset, "ann@example.com", "2222", 10*time.Minute, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "1111", server.HGet("otp:reset:ann@example.com", "code"))

	server.FastForward(time.Minute)
	ok, err = store.Issue(ctx, PurposeReset, "ann@example.com", "2222", 10*time.Minute, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2222", server.HGet("otp:reset:ann@example.com", "code"))
}

func TestRedisCodeStore_VerifyThenConsumeOnce(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	ctx := context.Background()

	_, err := store.Issue(ctx, PurposeReset, "ann@example.com", "1234", 10*time.Minute, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Consume(ctx, PurposeReset, "ann@example.com", "1234", true), ErrInvalidCode, "not verified yet")
	require.NoError(t, store.Verify(ctx, PurposeReset, "ann@example.com", "1234", 5))
	require.NoError(t, store.Consume(ctx, PurposeReset, "ann@example.com", "1234", true))

	assert.ErrorIs(t, store.Consume(ctx, PurposeReset, "ann@example.com", "1234", true), ErrInvalidCode)
	assert.ErrorIs(t, store.Verify(ctx, PurposeReset, "ann@example.com", "1234", 5), ErrInvalidCode)
}

func TestRedisCodeStore_AttemptsLimit(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	ctx := context.Background()

	_, err := store.Issue(ctx, PurposeVerify, "ann@example.com", "1234", 10*time.Minute, 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, store.Verify(ctx, PurposeVerify, "ann@example.com", "0000", 3), ErrInvalidCode)
	}
	assert.Equal(t, "2", server.HGet("code:verify:ann@example.com", "attempts"))
	assert.ErrorIs(t, store.Verify(ctx, PurposeVerify, "ann@example.com", "0000", 3), ErrInvalidCode)
	assert.False(t, server.Exists("code:verify:ann@example.com"), "burned after the last attempt")

	assert.ErrorIs(t, store.Verify(ctx, PurposeVerify, "ann@example.com", "1234", 3), ErrInvalidCode)
}

func TestRedisCodeStore_Expired(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	ctx := context.Background()

	_, err := store.Issue(ctx, PurposeReset, "ann@example.com", "1234", time.Minute, 0)
	require.NoError(t, err)
	server.FastForward(time.Minute + time.Second)

	assert.ErrorIs(t, store.Verify(ctx, PurposeReset, "ann@example.com", "1234", 5), ErrInvalidCode)
}

func TestRedisCodeStore_WrongGuessKeepsTTL(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	ctx := context.Background()
	key := "code:reset:ann@example.com"

	_, err := store.Issue(ctx, PurposeReset, "ann@example.com", "1234", time.Minute, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Verify(ctx, PurposeReset, "ann@example.com", "0000", 5), ErrInvalidCode)
	assert.Equal(t, time.Minute, server.TTL(key))

	require.NoError(t, store.Consume(ctx, PurposeReset, "ann@example.com", "1234", false))
	assert.ErrorIs(t, store.Verify(ctx, PurposeReset, "ann@example.com", "0000", 5), ErrInvalidCode)
	assert.False(t, server.Exists(key), "a guess after consumption does not recreate the code")
}

func TestRedisCodeStore_PurposesAreSeparate(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	ctx := context.Background()

	_, err := store.Issue(ctx, PurposeVerify, "ann@example.com", "1234", time.Minute, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Consume(ctx, PurposeReset, "ann@example.com", "1234", false), ErrInvalidCode)
	assert.NoError(t, store.Consume(ctx, PurposeVerify, "ann@example.com", "1234", false))
}

func TestRedisCodeStore_InvalidTTL(t *testing.T) {
	client, _ := newTestRedis(t)
	_, err := NewRedisCodeStore(client, "").Issue(context.Background(), PurposeReset, "a@b.co", "1234", 0, 0)
	assert.Error(t, err)
}

func TestRedisCodeStore_ServerDown(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewRedisCodeStore(client, "")
	server.Close()

	_, err := store.Issue(context.Background(), PurposeReset, "a@b.co", "1234", time.Minute, time.Minute)
	assert.Error(t, err)
	assert.NotErrorIs(t, store.Verify(context.Background(), PurposeReset, "a@b.co", "1234", 5), ErrInvalidCode)
}
