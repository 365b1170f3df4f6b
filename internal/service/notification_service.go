package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"tvcast/internal/domain"
	"tvcast/internal/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SendRequest is an admin send. A nil TargetUsers addresses every user; a nil SendPush means true.
type SendRequest struct {
	Title       string
	Message     string
	Type        string
	TargetUsers []uint
	ScheduledAt *time.Time
	SendPush    *bool
}

type StatusBarRequest struct {
	Title       string
	Message     string
	Priority    string
	TargetUsers []uint
}

type SendResult struct {
	Notification *models.Notification
	Stats        *DeliveryStats
	Scheduled    bool
}

type NotificationService struct {
	store    NotificationStore
	users    UserDirectory
	resolver *TargetResolver
	fanout   *DeliveryFanout
	clock    clockwork.Clock
	log      *zap.Logger
}

func NewNotificationService(
	store NotificationStore,
	users UserDirectory,
	resolver *TargetResolver,
	fanout *DeliveryFanout,
	clock clockwork.Clock,
	log *zap.Logger,
) *NotificationService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NotificationService{
		store:    store,
		users:    users,
		resolver: resolver,
		fanout:   fanout,
		clock:    clock,
		log:      log,
	}
}

// Send stores the notification and delivers it now, or leaves it for the scheduler when
// ScheduledAt lies in the future.
func (s *NotificationService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	const op = "send notification"
	if req.Type == "" {
		req.Type = domain.TypeGeneral
	}
	if err := validateContent(op, req.Title, req.Message); err != nil {
		return nil, err
	}
	if !domain.IsNotificationType(req.Type) {
		return nil, domain.Validation(op, "unknown type %q", req.Type)
	}

	n := &models.Notification{
		Title:    strings.TrimSpace(req.Title),
		Message:  strings.TrimSpace(req.Message),
		Type:     req.Type,
		SendPush: req.SendPush == nil || *req.SendPush,
		IsActive: true,
	}
	if req.Type == domain.TypeStatusBar {
		n.Priority = domain.PriorityNormal
		n.SendPush = false
	}
	if err := n.SetTargets(req.TargetUsers); err != nil {
		return nil, domain.Validation(op, "invalid targets: %v", err)
	}

	if req.ScheduledAt != nil && req.ScheduledAt.After(s.clock.Now()) {
		at := req.ScheduledAt.UTC()
		n.ScheduledAt = &at
		if err := s.store.Create(ctx, n); err != nil {
			return nil, err
		}
		s.log.Info("notification scheduled", zap.Uint("notification_id", n.ID), zap.Time("scheduled_at", at))
		return &SendResult{Notification: n, Scheduled: true}, nil
	}
	return s.sendNow(ctx, n, req.TargetUsers)
}

// SendStatusBar delivers a transient banner over the realtime path only.
func (s *NotificationService) SendStatusBar(ctx context.Context, req StatusBarRequest) (*SendResult, error) {
	const op = "send status bar notification"
	if err := validateContent(op, req.Title, req.Message); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	if _, ok := domain.AutoHide(req.Priority); !ok {
		return nil, domain.Validation(op, "unknown priority %q", req.Priority)
	}
	n := &models.Notification{
		Title:    strings.TrimSpace(req.Title),
		Message:  strings.TrimSpace(req.Message),
		Type:     domain.TypeStatusBar,
		Priority: req.Priority,
		IsActive: true,
	}
	if err := n.SetTargets(req.TargetUsers); err != nil {
		return nil, domain.Validation(op, "invalid targets: %v", err)
	}
	return s.sendNow(ctx, n, req.TargetUsers)
}

// sendNow resolves recipients before anything is stored, so an empty audience leaves no rows.
func (s *NotificationService) sendNow(ctx context.Context, n *models.Notification, ids []uint) (*SendResult, error) {
	targets, err := s.resolver.Resolve(ctx, ids, ids == nil)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, domain.E(domain.KindNoTargets, "send notification", domain.ErrNoTargets)
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	req := FanoutRequest{
		Notification: n,
		Targets:      targets,
		SendPush:     n.SendPush,
		Event:        domain.EventNewNotification,
		AdminEvent:   domain.EventNotificationSent,
	}
	if n.Type == domain.TypeStatusBar {
		req.Event = domain.EventStatusBarNotification
		req.SendPush = false
	}
	stats, err := s.fanout.Deliver(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SendResult{Notification: n, Stats: stats}, nil
}

func validateContent(op, title, message string) error {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	switch {
	case title == "":
		return domain.Validation(op, "title is required")
	case message == "":
		return domain.Validation(op, "message is required")
	case utf8.RuneCountInString(title) > domain.MaxTitleLength:
		return domain.Validation(op, "title exceeds %d characters", domain.MaxTitleLength)
	case utf8.RuneCountInString(message) > domain.MaxMessageLength:
		return domain.Validation(op, "message exceeds %d characters", domain.MaxMessageLength)
	}
	return nil
}

func (s *NotificationService) RegisterDeviceToken(ctx context.Context, userID uint, token string) error {
	token = strings.TrimSpace(token)
	if err := ValidateToken(token); err != nil {
		return domain.E(domain.KindValidation, "register device token", err)
	}
	return s.users.UpdateFCMToken(ctx, userID, token)
}

func (s *NotificationService) List(ctx context.Context, userID uint, limit, offset int) ([]models.UserNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

func (s *NotificationService) Stats(ctx context.Context, notificationID uint) (*models.DeliveryStats, error) {
	if _, err := s.store.GetByID(ctx, notificationID); err != nil {
		return nil, err
	}
	return s.store.Stats(ctx, notificationID)
}
