package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	a := NewRedisLocker(rdb)
	b := NewRedisLocker(rdb)

	release, ok, err := a.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := b.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	l := NewRedisLocker(rdb)

	release, ok, err := l.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists("sweep"), "stale holder must not drop the new lease")
}
