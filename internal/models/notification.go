package models

import (
	"encoding/json"
	"time"
)

type Notification struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Message       string     `gorm:"type:text;not null" json:"message"`
	Type          string     `gorm:"size:32;not null;index" json:"type"`
	Priority      string     `gorm:"size:16" json:"priority,omitempty"` // status_bar only
	TargetAll     bool       `gorm:"not null" json:"target_all"`
	TargetUserIDs string     `gorm:"type:text" json:"-"` // JSON array, empty when TargetAll
	SendPush      bool       `gorm:"not null" json:"send_push"`
	ScheduledAt   *time.Time `gorm:"index:idx_notifications_due,priority:3" json:"scheduled_at"`
	SentAt        *time.Time `gorm:"index:idx_notifications_due,priority:2" json:"sent_at"`
	IsActive      bool       `gorm:"not null;default:true;index:idx_notifications_due,priority:1" json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// SetTargets stores the target selector; a nil slice means every non-blocked user.
func (n *Notification) SetTargets(ids []uint) error {
	if ids == nil {
		n.TargetAll = true
		n.TargetUserIDs = ""
		return nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	n.TargetAll = false
	n.TargetUserIDs = string(b)
	return nil
}

// Targets returns the explicit target ids; nil when the notification targets everyone.
func (n *Notification) Targets() ([]uint, error) {
	if n.TargetAll {
		return nil, nil
	}
	ids := []uint{}
	if n.TargetUserIDs == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(n.TargetUserIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (n *Notification) IsScheduled() bool { return n.ScheduledAt != nil }

// DeliveryRecord is one row per notification and recipient.
type DeliveryRecord struct {
	UserID         uint       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	NotificationID uint       `gorm:"primaryKey;autoIncrement:false;index" json:"notification_id"`
	IsRead         bool       `gorm:"not null;default:false" json:"is_read"`
	ReadAt         *time.Time `json:"read_at"`
	Clicked        bool       `gorm:"not null;default:false" json:"clicked"`
	ClickedAt      *time.Time `json:"clicked_at"`
	DeliveredAt    *time.Time `gorm:"index" json:"delivered_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (DeliveryRecord) TableName() string {
	return "user_notifications"
}

// UserNotification is a notification joined with the caller's delivery state.
type UserNotification struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Type        string     `json:"type"`
	Priority    string     `json:"priority,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at"`
	Clicked     bool       `json:"clicked"`
	ClickedAt   *time.Time `json:"clicked_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
}

// DeliveryStats aggregates the delivery rows of one notification.
type DeliveryStats struct {
	NotificationID uint  `json:"notification_id"`
	Total          int64 `json:"total"`
	Delivered      int64 `json:"delivered"`
	Read           int64 `json:"read"`
	Clicked        int64 `json:"clicked"`
}
