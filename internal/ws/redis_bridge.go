package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type wireMessage struct {
	Address  Address   `json:"address"`
	Envelope *Envelope `json:"envelope"`
}

// RedisBridge fans publishes out to every instance through a Redis pub/sub channel.
// Each instance runs Run, which feeds received frames into its local hub.
type RedisBridge struct {
	hub      *Hub
	rdb      *redis.Client
	channel  string
	presence *RedisPresence
	log      *zap.Logger
}

func NewRedisBridge(hub *Hub, rdb *redis.Client, channel string, presence *RedisPresence, log *zap.Logger) *RedisBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBridge{hub: hub, rdb: rdb, channel: channel, presence: presence, log: log}
}

func (b *RedisBridge) Publish(ctx context.Context, addr Address, event string, payload any) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wireMessage{Address: addr, Envelope: env})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", addr, err)
	}
	return nil
}

// IsOnline checks the local hub first, then the shared presence counters.
func (b *RedisBridge) IsOnline(ctx context.Context, userID uint) bool {
	if b.hub.IsOnline(ctx, userID) {
		return true
	}
	if b.presence == nil {
		return false
	}
	return b.presence.IsOnline(ctx, userID)
}

// Run subscribes to the channel and delivers frames locally until ctx ends.
// The returned channel is closed once the subscription is confirmed.
func (b *RedisBridge) Run(ctx context.Context) (<-chan struct{}, <-chan error) {
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		sub := b.rdb.Subscribe(ctx, b.channel)
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			done <- fmt.Errorf("redis subscribe %s: %w", b.channel, err)
			return
		}
		close(ready)
		b.log.Info("realtime bridge subscribed", zap.String("channel", b.channel))
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				done <- nil
				return
			case msg, ok := <-ch:
				if !ok {
					done <- nil
					return
				}
				var wm wireMessage
				if err := json.Unmarshal([]byte(msg.Payload), &wm); err != nil || wm.Envelope == nil {
					b.log.Warn("discarding malformed realtime frame", zap.Error(err))
					continue
				}
				b.hub.Deliver(wm.Address, wm.Envelope)
			}
		}
	}()
	return ready, done
}

// RedisPresence keeps a per-user session counter shared by all instances.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisPresence {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPresence{rdb: rdb, ttl: ttl, log: log}
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("tvcast:presence:%d", userID)
}

func (p *RedisPresence) Online(ctx context.Context, userID uint) {
	key := presenceKey(userID)
	pipe := p.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("presence online", zap.Uint("user_id", userID), zap.Error(err))
	}
}

func (p *RedisPresence) Offline(ctx context.Context, userID uint) {
	key := presenceKey(userID)
	n, err := p.rdb.Decr(ctx, key).Result()
	if err != nil {
		p.log.Warn("presence offline", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if n <= 0 {
		p.rdb.Del(ctx, key)
	}
}

// Refresh extends the TTL of users still connected to this instance.
func (p *RedisPresence) Refresh(ctx context.Context, userIDs []uint) {
	if len(userIDs) == 0 {
		return
	}
	pipe := p.rdb.Pipeline()
	for _, id := range userIDs {
		pipe.Expire(ctx, presenceKey(id), p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("presence refresh", zap.Error(err))
	}
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID uint) bool {
	n, err := p.rdb.Get(ctx, presenceKey(userID)).Int64()
	if err != nil {
		return false
	}
	return n > 0
}

// KeepAlive refreshes presence for the hub's users every interval until ctx ends.
func (p *RedisPresence) KeepAlive(ctx context.Context, hub *Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx, hub.UserIDs())
		}
	}
}
