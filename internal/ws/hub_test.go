package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	default:
		t.Fatalf("no frame for user %d", c.UserID)
	}
	return Envelope{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	assert.Len(t, c.Send, 0, "unexpected frame for user %d", c.UserID)
}

func TestHubRoutesByAddress(t *testing.T) {
	hub := NewHub(nil)
	alice := NewClient(1, false)
	bob := NewClient(2, false)
	admin := NewClient(99, true)
	for _, c := range []*Client{alice, bob, admin} {
		hub.Register(c)
	}
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, User(1), "new-notification", map[string]int{"id": 7}))
	env := readEnvelope(t, alice)
	assert.Equal(t, "new-notification", env.Event)
	assert.JSONEq(t, `{"id":7}`, string(env.Data))
	assert.NotEmpty(t, env.ID)
	assertEmpty(t, bob)
	assertEmpty(t, admin)

	require.NoError(t, hub.Publish(ctx, Admin(), "notification-sent", map[string]int{"totalUsers": 2}))
	assert.Equal(t, "notification-sent", readEnvelope(t, admin).Event)
	assertEmpty(t, alice)
	assertEmpty(t, bob)

	require.NoError(t, hub.Publish(ctx, Broadcast(), "new-notification", nil))
	readEnvelope(t, alice)
	readEnvelope(t, bob)
	readEnvelope(t, admin)
}

func TestHubRejectsInvalidAddress(t *testing.T) {
	hub := NewHub(nil)
	assert.Error(t, hub.Publish(context.Background(), Address{Kind: KindUser}, "x", nil))
	assert.Error(t, hub.Publish(context.Background(), Address{}, "x", nil))
}

type recordingPresence struct {
	online, offline []uint
}

func (r *recordingPresence) Online(_ context.Context, id uint)  { r.online = append(r.online, id) }
func (r *recordingPresence) Offline(_ context.Context, id uint) { r.offline = append(r.offline, id) }

func TestHubPresence(t *testing.T) {
	hub := NewHub(nil)
	rec := &recordingPresence{}
	hub.SetPresenceTracker(rec)
	ctx := context.Background()

	first := NewClient(5, false)
	second := NewClient(5, false)
	hub.Register(first)
	hub.Register(second)
	assert.True(t, hub.IsOnline(ctx, 5))
	assert.False(t, hub.IsOnline(ctx, 6))
	assert.Equal(t, []uint{5}, rec.online)

	first.Close()
	assert.True(t, hub.IsOnline(ctx, 5))
	assert.Empty(t, rec.offline)

	second.Close()
	second.Close()
	assert.False(t, hub.IsOnline(ctx, 5))
	assert.Equal(t, []uint{5}, rec.offline)
	assert.Zero(t, hub.ClientCount())
}

func TestClosedClientDropsFrames(t *testing.T) {
	hub := NewHub(nil)
	c := NewClient(3, false)
	hub.Register(c)
	c.Close()
	env, err := NewEnvelope("x", nil)
	require.NoError(t, err)
	assert.False(t, c.push([]byte("{}")))
	assert.Zero(t, hub.Deliver(User(3), env))
}

func TestPublishReportsUndeliveredUserFrame(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	assert.ErrorIs(t, hub.Publish(ctx, User(4), "new-notification", nil), ErrNotDelivered)

	c := NewClient(4, false)
	hub.Register(c)
	for i := 0; i < cap(c.Send); i++ {
		require.NoError(t, hub.Publish(ctx, User(4), "new-notification", nil))
	}
	assert.ErrorIs(t, hub.Publish(ctx, User(4), "new-notification", nil), ErrNotDelivered)

	// broadcast and admin frames with no listener are not an error
	assert.NoError(t, hub.Publish(ctx, Admin(), "notification-sent", nil))
}

func TestAddressJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(User(42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"user","user_id":42}`, string(data))
	var a Address
	require.NoError(t, json.Unmarshal(data, &a))
	assert.Equal(t, User(42), a)
}
