package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"tvcast/internal/domain"
	"tvcast/internal/models"
	"tvcast/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelcomeBroadcast(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 10, func(id uint) bool { return id <= 6 })
	testutil.SeedUsers(t, e.db, models.User{ID: 11, IsBlocked: true, FCMToken: testutil.Token(11)})

	online := map[uint]bool{2: true, 5: true, 9: true}
	for id := range online {
		e.connect(id, false)
	}
	blocked := e.connect(11, false)
	admin := e.connect(500, true)

	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Welcome", Message: "Hi"})
	require.NoError(t, err)
	require.False(t, res.Scheduled)
	stats := res.Stats
	assert.Equal(t, 10, stats.TotalUsers)
	assert.Equal(t, int64(10), stats.RecordsCreated)
	assert.Equal(t, 3, stats.OnlineDelivered)
	assert.Equal(t, 7, stats.Offline)
	assert.LessOrEqual(t, stats.PushSent, 6)
	assert.Equal(t, 6, stats.PushSent)

	for id := uint(1); id <= 10; id++ {
		rec := e.record(t, id, res.Notification.ID)
		if online[id] {
			assert.NotNil(t, rec.DeliveredAt, "user %d", id)
			assert.Zero(t, e.queue.Len(id))
		} else {
			assert.Nil(t, rec.DeliveredAt, "user %d", id)
			assert.Equal(t, 1, e.queue.Len(id))
		}
	}
	_, err = e.store.GetRecord(context.Background(), 11, res.Notification.ID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound), "blocked user gets no row")
	assert.Empty(t, frames(t, blocked), "blocked user gets no frame")

	got, err := e.store.GetByID(context.Background(), res.Notification.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(t0))

	adminFrames := frames(t, admin)
	require.Equal(t, []string{domain.EventNotificationSent}, events(adminFrames))
	var published DeliveryStats
	require.NoError(t, json.Unmarshal(adminFrames[0].Data, &published))
	assert.Equal(t, *stats, published)
}

func TestExplicitTargetsRouteIndividually(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 4, nil)
	alice := e.connect(1, false)
	bystander := e.connect(4, false)

	res, err := e.svc.Send(context.Background(), SendRequest{
		Title: "Season 2", Message: "Now streaming", Type: domain.TypeUpdate,
		TargetUsers: []uint{1, 2, 2, 99},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.TotalUsers)
	assert.Equal(t, 1, res.Stats.OnlineDelivered)
	assert.Equal(t, 1, res.Stats.Offline)

	got := frames(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventNewNotification, got[0].Event)
	p := payloadOf(t, got[0])
	assert.Equal(t, "Season 2", p.Title)
	assert.Equal(t, domain.TypeUpdate, p.Type)
	assert.Empty(t, frames(t, bystander))
	assert.Equal(t, 1, e.queue.Len(2))
}

func TestPushPartialFailureStillSucceeds(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 2, func(uint) bool { return true })
	e.sender.tokenErrs[testutil.Token(2)] = errors.New("quota exceeded")

	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There", TargetUsers: []uint{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.PushSent)
	assert.Equal(t, int64(2), res.Stats.RecordsCreated)
}

func TestPushOutageIsNonFatal(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 2, func(uint) bool { return true })
	down := errors.New("fcm unavailable")
	e.sender.chunkErrs = []error{down, down, down}
	e.connect(1, false)

	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There"})
	require.NoError(t, err)
	assert.Zero(t, res.Stats.PushSent)
	assert.Equal(t, 1, res.Stats.OnlineDelivered)
	assert.Equal(t, 3, e.sender.callCount())
}

func TestUnregisteredTokensAreCleared(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 2, func(uint) bool { return true })
	e.sender.tokenErrs[testutil.Token(1)] = fmt.Errorf("%w: gone", ErrTokenUnregistered)

	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.PushSent)

	users, err := e.users.ListActive(context.Background(), []uint{1, 2})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Empty(t, users[0].FCMToken)
	assert.Equal(t, testutil.Token(2), users[1].FCMToken)
}

func TestNoTargetsCreatesNothing(t *testing.T) {
	e := newEnv(t)
	testutil.SeedUsers(t, e.db, models.User{ID: 1, IsBlocked: true})

	_, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There", TargetUsers: []uint{1, 42}})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoTargets))
	assert.ErrorIs(t, err, domain.ErrNoTargets)

	var count int64
	require.NoError(t, e.db.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, e.db.Model(&models.DeliveryRecord{}).Count(&count).Error)
	assert.Zero(t, count)

	n := e.notification(t, []uint{}, nil)
	_, err = e.fanout.DeliverNotification(context.Background(), n, DeliveryOptions{})
	assert.True(t, domain.IsKind(err, domain.KindNoTargets))
}

type failingCommitStore struct {
	NotificationStore
}

func (failingCommitStore) CommitFanout(context.Context, uint, []uint, time.Time) (int64, error) {
	return 0, domain.E(domain.KindPersistence, "claim notification", errors.New("connection refused"))
}

func TestPersistenceFailureAbortsFanout(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 3, func(uint) bool { return true })
	client := e.connect(1, false)
	n := e.notification(t, nil, nil)

	fanout := NewDeliveryFanout(failingCommitStore{e.store}, e.users, e.resolver, e.transport, e.queue, e.push, e.clock, e.log)
	_, err := fanout.DeliverNotification(context.Background(), n, DeliveryOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindPersistence))

	assert.Empty(t, frames(t, client))
	assert.Zero(t, e.queue.Len(2))
	assert.Zero(t, e.sender.callCount())
	got, err := e.store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SentAt)
}

// cancelAfterCommitStore cancels the caller's context as soon as the commit succeeds,
// the way a disconnecting HTTP client would.
type cancelAfterCommitStore struct {
	NotificationStore
	cancel context.CancelFunc
}

func (s cancelAfterCommitStore) CommitFanout(ctx context.Context, id uint, userIDs []uint, at time.Time) (int64, error) {
	created, err := s.NotificationStore.CommitFanout(ctx, id, userIDs, at)
	s.cancel()
	return created, err
}

func TestFanoutCompletesAfterCallerCancels(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 3, func(uint) bool { return true })
	client := e.connect(1, false)
	n := e.notification(t, []uint{1, 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := cancelAfterCommitStore{NotificationStore: e.store, cancel: cancel}
	fanout := NewDeliveryFanout(store, e.users, e.resolver, e.transport, e.queue, e.push, e.clock, e.log)

	stats, err := fanout.DeliverNotification(ctx, n, DeliveryOptions{})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, 2, stats.PushSent)
	assert.Equal(t, 1, e.sender.callCount())
	assert.Equal(t, 1, stats.OnlineDelivered)
	assert.Len(t, frames(t, client), 1)
	assert.NotNil(t, e.record(t, 1, n.ID).DeliveredAt)
	assert.Nil(t, e.record(t, 2, n.ID).DeliveredAt)
	assert.Equal(t, 1, e.queue.Len(2))
}

func TestSecondFanoutConflicts(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 2, nil)
	n := e.notification(t, nil, nil)
	ctx := context.Background()

	_, err := e.fanout.DeliverNotification(ctx, n, DeliveryOptions{})
	require.NoError(t, err)
	_, err = e.fanout.DeliverNotification(ctx, n, DeliveryOptions{})
	assert.True(t, domain.IsKind(err, domain.KindConflict))
	assert.Equal(t, 1, e.queue.Len(1), "no second copy queued")
}

func TestPublishFailureQueuesConnectedUser(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 2, nil)
	e.connect(1, false)
	e.transport.failUser[1] = true

	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There", TargetUsers: []uint{1, 2}})
	require.NoError(t, err)
	assert.Zero(t, res.Stats.OnlineDelivered)
	assert.Equal(t, 2, res.Stats.Offline)
	assert.Equal(t, 1, e.queue.Len(1))
	assert.Nil(t, e.record(t, 1, res.Notification.ID).DeliveredAt)
}

func TestFullSessionBufferQueuesInstead(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 1, nil)
	c := e.connect(1, false)
	for len(c.Send) < cap(c.Send) {
		c.Send <- []byte("{}")
	}

	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There", TargetUsers: []uint{1}})
	require.NoError(t, err)
	assert.Zero(t, res.Stats.OnlineDelivered)
	assert.Equal(t, 1, e.queue.Len(1))
	assert.Nil(t, e.record(t, 1, res.Notification.ID).DeliveredAt)
}

func TestStatusBarSkipsPush(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 2, func(uint) bool { return true })
	c := e.connect(1, false)

	res, err := e.svc.SendStatusBar(context.Background(), StatusBarRequest{
		Title: "Maintenance", Message: "Back at 3am", Priority: domain.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Stats.PushSent)
	assert.Zero(t, e.sender.callCount())
	assert.Equal(t, domain.TypeStatusBar, res.Notification.Type)

	got := frames(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventStatusBarNotification, got[0].Event)
	p := payloadOf(t, got[0])
	assert.True(t, p.Persistent)
	assert.Nil(t, p.AutoHideMs)

	res, err = e.svc.SendStatusBar(context.Background(), StatusBarRequest{
		Title: "Tip", Message: "Try the new guide", Priority: domain.PriorityLow, TargetUsers: []uint{1},
	})
	require.NoError(t, err)
	p = payloadOf(t, frames(t, c)[0])
	require.NotNil(t, p.AutoHideMs)
	assert.Equal(t, int64(5000), *p.AutoHideMs)
	assert.False(t, p.Persistent)
}
