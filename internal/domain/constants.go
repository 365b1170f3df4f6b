package domain

import "time"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Notification types accepted by the send API.
const (
	TypeGeneral      = "general"
	TypeSubscription = "subscription"
	TypeUpdate       = "update"
	TypeMaintenance  = "maintenance"
	TypeStatusBar    = "status_bar"
	TypePromotion    = "promotion"
	TypeSystem       = "system"
)

var NotificationTypes = []string{
	TypeGeneral,
	TypeSubscription,
	TypeUpdate,
	TypeMaintenance,
	TypeStatusBar,
	TypePromotion,
	TypeSystem,
}

func IsNotificationType(t string) bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// AutoHide returns how long a status-bar notification stays visible on the client.
// ok is false for an unknown priority; a zero duration with ok means persist until dismissed.
func AutoHide(priority string) (d time.Duration, ok bool) {
	switch priority {
	case PriorityLow:
		return 5 * time.Second, true
	case PriorityNormal:
		return 8 * time.Second, true
	case PriorityHigh:
		return 0, true
	}
	return 0, false
}

// Realtime events.
const (
	EventNewNotification       = "new-notification"
	EventOfflineNotification   = "offline-notification"
	EventStatusBarNotification = "status-bar-notification"

	EventNotificationSent          = "notification-sent"
	EventScheduledNotificationSent = "scheduled-notification-sent"
)

const (
	MaxTitleLength   = 255
	MaxMessageLength = 2000
)
