package ws

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisBridgeDeliversAcrossInstances(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := NewHub(nil)
	remote := NewHub(nil)
	publisher := NewRedisBridge(local, rdb, "test:realtime", nil, nil)
	subscriber := NewRedisBridge(remote, rdb, "test:realtime", nil, nil)
	ready, _ := subscriber.Run(ctx)
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	c := NewClient(11, false)
	remote.Register(c)
	require.NoError(t, publisher.Publish(ctx, User(11), "new-notification", map[string]string{"title": "Hi"}))

	select {
	case data := <-c.Send:
		assert.Contains(t, string(data), `"event":"new-notification"`)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered through redis")
	}
}

func TestRedisPresenceCounts(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	presence := NewRedisPresence(rdb, time.Minute, nil)

	hub := NewHub(nil)
	hub.SetPresenceTracker(presence)
	bridge := NewRedisBridge(NewHub(nil), rdb, "test:realtime", presence, nil)

	c := NewClient(8, false)
	hub.Register(c)
	assert.True(t, bridge.IsOnline(ctx, 8), "presence visible to other instances")
	assert.True(t, mr.Exists(presenceKey(8)))

	c.Close()
	assert.False(t, bridge.IsOnline(ctx, 8))
	assert.False(t, mr.Exists(presenceKey(8)))
}

func TestRedisPresenceExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	presence := NewRedisPresence(rdb, time.Minute, nil)
	presence.Online(ctx, 4)
	assert.True(t, presence.IsOnline(ctx, 4))
	mr.FastForward(2 * time.Minute)
	assert.False(t, presence.IsOnline(ctx, 4))
}
