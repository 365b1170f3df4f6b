package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tvcast/internal/models"
	"tvcast/internal/repository"
	"tvcast/internal/testutil"
	"tvcast/internal/ws"
	"tvcast/pkg/retry"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu        sync.Mutex
	tokenErrs map[string]error
	// chunkErrs are returned by successive SendEach calls before it starts succeeding.
	chunkErrs []error
	calls     int
	sent      []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{tokenErrs: map[string]error{}}
}

func (s *fakeSender) Send(_ context.Context, token string, _ *PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.chunkErrs) > 0 {
		err := s.chunkErrs[0]
		s.chunkErrs = s.chunkErrs[1:]
		return err
	}
	if err := s.tokenErrs[token]; err != nil {
		return err
	}
	s.sent = append(s.sent, token)
	return nil
}

func (s *fakeSender) SendEach(_ context.Context, tokens []string, _ *PushMessage) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.chunkErrs) > 0 {
		err := s.chunkErrs[0]
		s.chunkErrs = s.chunkErrs[1:]
		return nil, err
	}
	out := make([]error, len(tokens))
	for i, tok := range tokens {
		if err := s.tokenErrs[tok]; err != nil {
			out[i] = err
			continue
		}
		s.sent = append(s.sent, tok)
	}
	return out, nil
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// flakyTransport wraps a hub and fails publishes to the listed user addresses.
type flakyTransport struct {
	*ws.Hub
	mu       sync.Mutex
	failUser map[uint]bool
	failAll  bool
}

func (f *flakyTransport) Publish(ctx context.Context, addr ws.Address, event string, payload any) error {
	f.mu.Lock()
	fail := f.failAll || (addr.Kind == ws.KindUser && f.failUser[addr.UserID])
	f.mu.Unlock()
	if fail {
		return errors.New("transport down")
	}
	return f.Hub.Publish(ctx, addr, event, payload)
}

type testEnv struct {
	db        *gorm.DB
	store     *repository.NotificationRepository
	users     *repository.UserRepository
	hub       *ws.Hub
	transport *flakyTransport
	queue     *OfflineQueue
	sender    *fakeSender
	push      *PushGateway
	resolver  *TargetResolver
	fanout    *DeliveryFanout
	svc       *NotificationService
	clock     *clockwork.FakeClock
	log       *zap.Logger
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		db:     testutil.NewDB(t),
		clock:  clockwork.NewFakeClockAt(t0),
		log:    zaptest.NewLogger(t),
		sender: newFakeSender(),
	}
	e.store = repository.NewNotificationRepository(e.db)
	e.users = repository.NewUserRepository(e.db)
	e.hub = ws.NewHub(e.log)
	e.transport = &flakyTransport{Hub: e.hub, failUser: map[uint]bool{}}
	e.queue = NewOfflineQueue(e.transport, e.store, DefaultOfflineCapacity, e.clock, e.log)
	e.push = NewPushGateway(e.sender, PushGatewayConfig{
		Policy: retry.Policy{MaxAttempts: 3, Backoff: retry.Constant(0)},
	}, e.log)
	e.resolver = NewTargetResolver(e.users)
	e.fanout = NewDeliveryFanout(e.store, e.users, e.resolver, e.transport, e.queue, e.push, e.clock, e.log)
	e.svc = NewNotificationService(e.store, e.users, e.resolver, e.fanout, e.clock, e.log)
	return e
}

// seed creates users 1..n; withToken selects who gets a device token.
func (e *testEnv) seed(t *testing.T, n uint, withToken func(id uint) bool) {
	t.Helper()
	users := make([]models.User, 0, n)
	for id := uint(1); id <= n; id++ {
		u := models.User{ID: id}
		if withToken != nil && withToken(id) {
			u.FCMToken = testutil.Token(id)
		}
		users = append(users, u)
	}
	testutil.SeedUsers(t, e.db, users...)
}

func (e *testEnv) connect(userID uint, admin bool) *ws.Client {
	c := ws.NewClient(userID, admin)
	e.hub.Register(c)
	return c
}

func (e *testEnv) notification(t *testing.T, targets []uint, scheduledAt *time.Time) *models.Notification {
	t.Helper()
	n := &models.Notification{
		Title:       "Welcome",
		Message:     "Hi",
		Type:        "general",
		SendPush:    true,
		IsActive:    true,
		ScheduledAt: scheduledAt,
	}
	require.NoError(t, n.SetTargets(targets))
	require.NoError(t, e.store.Create(context.Background(), n))
	return n
}

func (e *testEnv) record(t *testing.T, userID, notificationID uint) *models.DeliveryRecord {
	t.Helper()
	rec, err := e.store.GetRecord(context.Background(), userID, notificationID)
	require.NoError(t, err)
	return rec
}

func frames(t *testing.T, c *ws.Client) []ws.Envelope {
	t.Helper()
	var out []ws.Envelope
	for {
		select {
		case data := <-c.Send:
			var env ws.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func payloadOf(t *testing.T, env ws.Envelope) NotificationPayload {
	t.Helper()
	var p NotificationPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func events(envs []ws.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}
