package service

import (
	"context"
	"time"

	"tvcast/internal/models"
	"tvcast/internal/ws"
)

// NotificationStore is the persistence the engine needs; *repository.NotificationRepository implements it.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id uint) (*models.Notification, error)
	CommitFanout(ctx context.Context, notificationID uint, userIDs []uint, sentAt time.Time) (int64, error)
	Deactivate(ctx context.Context, id uint) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	GetRecord(ctx context.Context, userID, notificationID uint) (*models.DeliveryRecord, error)
	MarkRead(ctx context.Context, userID, notificationID uint, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, userID, notificationID uint, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error)
	MarkDelivered(ctx context.Context, notificationID uint, userIDs []uint, at time.Time) (int64, error)
	MarkDeliveredForUser(ctx context.Context, userID uint, notificationIDs []uint, at time.Time) (int64, error)
	ListUndelivered(ctx context.Context, userID uint, limit int) ([]models.UserNotification, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.UserNotification, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	Stats(ctx context.Context, notificationID uint) (*models.DeliveryStats, error)
}

// UserDirectory is the read side of the account directory plus device-token upkeep.
type UserDirectory interface {
	ListActive(ctx context.Context, ids []uint) ([]models.User, error)
	UpdateFCMToken(ctx context.Context, userID uint, token string) error
	ClearFCMTokens(ctx context.Context, tokens []string) (int64, error)
}

// Transport is the realtime layer; ws.Hub and ws.RedisBridge implement it.
type Transport interface {
	Publish(ctx context.Context, addr ws.Address, event string, payload any) error
	IsOnline(ctx context.Context, userID uint) bool
}

// NotificationPayload is what clients receive on the realtime channel.
type NotificationPayload struct {
	ID         uint      `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	Priority   string    `json:"priority,omitempty"`
	AutoHideMs *int64    `json:"autoHideMs,omitempty"`
	Persistent bool      `json:"persistent,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	// Replay marks frames sent from the offline backlog; Kind is the original event.
	Replay bool   `json:"replay,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// QueueEntry is one payload held for an offline user.
type QueueEntry struct {
	NotificationID uint
	Event          string
	Payload        NotificationPayload
	QueuedAt       time.Time
}
