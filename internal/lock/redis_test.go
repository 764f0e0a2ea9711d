package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, 5*time.Second)
	r.retryWait = time.Millisecond
	r.newToken = func() string { return "token-1" }
	return r, mock
}

func TestRedisLockAndRelease(t *testing.T) {
	r, mock := newTestRedis(t)
	key := keyPrefix + "laboratory/2026-10-18"

	mock.ExpectSetNX(key, "token-1", 5*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{key}, "token-1").SetVal(int64(1))

	unlock, err := r.Lock(context.Background(), "laboratory/2026-10-18")
	require.NoError(t, err)
	unlock()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockRetriesWhileHeld(t *testing.T) {
	r, mock := newTestRedis(t)
	key := keyPrefix + "k"

	mock.ExpectSetNX(key, "token-1", 5*time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-1", 5*time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-1", 5*time.Second).SetVal(true)

	_, err := r.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockError(t *testing.T) {
	r, mock := newTestRedis(t)
	mock.ExpectSetNX(keyPrefix+"k", "token-1", 5*time.Second).SetErr(errors.New("connection refused"))

	_, err := r.Lock(context.Background(), "k")
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisLockGivesUpOnContext(t *testing.T) {
	r, mock := newTestRedis(t)
	r.retryWait = 50 * time.Millisecond
	mock.ExpectSetNX(keyPrefix+"k", "token-1", 5*time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRedisURL(t *testing.T) {
	c, err := ParseRedisURL("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()

	_, err = ParseRedisURL("http://nope")
	assert.Error(t, err)
}
