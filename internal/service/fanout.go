package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tvcast/internal/domain"
	"tvcast/internal/metrics"
	"tvcast/internal/models"
	"tvcast/internal/ws"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// deliveryTimeout bounds the work after the commit. Once sent_at is claimed the fanout
// cannot be retried, so that work no longer follows the caller's cancellation.
const deliveryTimeout = 2 * time.Minute

type FanoutRequest struct {
	Notification *models.Notification
	Targets      []Recipient
	SendPush     bool
	// Event is the per-user realtime event, AdminEvent the statistics event for observers.
	Event      string
	AdminEvent string
}

// DeliveryStats is the outcome of one fanout; it is also the admin event payload.
type DeliveryStats struct {
	NotificationID  uint  `json:"notificationId"`
	TotalUsers      int   `json:"totalUsers"`
	OnlineDelivered int   `json:"onlineDelivered"`
	Offline         int   `json:"offline"`
	PushSent        int   `json:"pushSent"`
	RecordsCreated  int64 `json:"recordsCreated"`
}

type DeliveryOptions struct {
	AdminEvent string
}

type DeliveryFanout struct {
	store     NotificationStore
	users     UserDirectory
	resolver  *TargetResolver
	transport Transport
	queue     *OfflineQueue
	push      *PushGateway
	clock     clockwork.Clock
	log       *zap.Logger
}

func NewDeliveryFanout(
	store NotificationStore,
	users UserDirectory,
	resolver *TargetResolver,
	transport Transport,
	queue *OfflineQueue,
	push *PushGateway,
	clock clockwork.Clock,
	log *zap.Logger,
) *DeliveryFanout {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DeliveryFanout{
		store:     store,
		users:     users,
		resolver:  resolver,
		transport: transport,
		queue:     queue,
		push:      push,
		clock:     clock,
		log:       log,
	}
}

// DeliverNotification resolves the stored target selector and runs the fanout.
func (f *DeliveryFanout) DeliverNotification(ctx context.Context, n *models.Notification, opts DeliveryOptions) (*DeliveryStats, error) {
	ids, err := n.Targets()
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "decode targets", err)
	}
	targets, err := f.resolver.Resolve(ctx, ids, n.TargetAll)
	if err != nil {
		return nil, err
	}
	req := FanoutRequest{
		Notification: n,
		Targets:      targets,
		SendPush:     n.SendPush,
		Event:        domain.EventNewNotification,
		AdminEvent:   opts.AdminEvent,
	}
	if n.Type == domain.TypeStatusBar {
		req.Event = domain.EventStatusBarNotification
		req.SendPush = false
	}
	return f.Deliver(ctx, req)
}

// Deliver commits the delivery rows, then routes the payload to live sessions, the offline
// queue and push. Only the commit step can fail the fanout.
func (f *DeliveryFanout) Deliver(ctx context.Context, req FanoutRequest) (*DeliveryStats, error) {
	n := req.Notification
	if len(req.Targets) == 0 {
		metrics.Fanouts.WithLabelValues("no_targets").Inc()
		return nil, domain.E(domain.KindNoTargets, "deliver notification", domain.ErrNoTargets)
	}
	if req.Event == "" {
		req.Event = domain.EventNewNotification
	}
	if req.AdminEvent == "" {
		req.AdminEvent = domain.EventNotificationSent
	}

	userIDs := make([]uint, 0, len(req.Targets))
	for _, r := range req.Targets {
		userIDs = append(userIDs, r.UserID)
	}
	now := f.clock.Now()
	created, err := f.store.CommitFanout(ctx, n.ID, userIDs, now)
	if err != nil {
		metrics.Fanouts.WithLabelValues(domain.KindOf(err).String()).Inc()
		return nil, fmt.Errorf("deliver notification %d: %w", n.ID, err)
	}
	n.SentAt = &now

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	entry := QueueEntry{
		NotificationID: n.ID,
		Event:          req.Event,
		Payload:        buildPayload(n),
		QueuedAt:       now,
	}
	online := f.route(ctx, userIDs, entry)

	stats := &DeliveryStats{
		NotificationID:  n.ID,
		TotalUsers:      len(req.Targets),
		OnlineDelivered: len(online),
		Offline:         len(req.Targets) - len(online),
		RecordsCreated:  created,
	}
	if len(online) > 0 {
		if _, err := f.store.MarkDelivered(ctx, n.ID, online, now); err != nil {
			f.log.Warn("mark delivered failed", zap.Uint("notification_id", n.ID), zap.Error(err))
		}
	}
	metrics.Deliveries.WithLabelValues("online").Add(float64(stats.OnlineDelivered))
	metrics.Deliveries.WithLabelValues("offline").Add(float64(stats.Offline))

	if req.SendPush && f.push != nil {
		stats.PushSent = f.sendPush(ctx, n, req.Targets)
	}

	if err := f.transport.Publish(ctx, ws.Admin(), req.AdminEvent, stats); err != nil {
		f.log.Warn("admin stats publish failed", zap.Uint("notification_id", n.ID), zap.Error(err))
	}
	metrics.Fanouts.WithLabelValues("sent").Inc()
	f.log.Info("notification delivered",
		zap.Uint("notification_id", n.ID),
		zap.Int("total", stats.TotalUsers),
		zap.Int("online", stats.OnlineDelivered),
		zap.Int("offline", stats.Offline),
		zap.Int("push_sent", stats.PushSent),
		zap.Int64("records", stats.RecordsCreated))
	return stats, nil
}

// route returns the users whose live session accepted the payload. A selector of "all"
// is routed per user as well, so sessions outside the resolved set never see it.
func (f *DeliveryFanout) route(ctx context.Context, userIDs []uint, entry QueueEntry) []uint {
	var online []uint
	for _, id := range userIDs {
		if f.queue.Dispatch(ctx, id, entry) {
			online = append(online, id)
		}
	}
	return online
}

func (f *DeliveryFanout) sendPush(ctx context.Context, n *models.Notification, targets []Recipient) int {
	tokens := make([]string, 0, len(targets))
	for _, r := range targets {
		if r.Token != "" {
			tokens = append(tokens, r.Token)
		}
	}
	if len(tokens) == 0 {
		return 0
	}
	msg := &PushMessage{
		Title: n.Title,
		Body:  n.Message,
		Data: map[string]string{
			"notificationId": strconv.FormatUint(uint64(n.ID), 10),
			"type":           n.Type,
		},
	}
	res, err := f.push.SendBatch(ctx, tokens, msg)
	if err != nil {
		f.log.Warn("push delivery failed", zap.Uint("notification_id", n.ID), zap.Error(err))
		return 0
	}
	if len(res.Unregistered) > 0 {
		if cleared, err := f.users.ClearFCMTokens(ctx, res.Unregistered); err != nil {
			f.log.Warn("clear unregistered tokens failed", zap.Error(err))
		} else {
			f.log.Info("cleared unregistered tokens", zap.Int64("count", cleared))
		}
	}
	return res.Sent
}

func buildPayload(n *models.Notification) NotificationPayload {
	p := NotificationPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
	}
	applyPriority(&p, n.Priority)
	return p
}
