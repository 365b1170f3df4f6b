package repository

import (
	"context"
	"errors"
	"time"

	"tvcast/internal/domain"
	"tvcast/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordBatchSize = 500

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return domain.E(domain.KindPersistence, "create notification", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uint) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.KindNotFound, "get notification", domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "get notification", err)
	}
	return &n, nil
}

// CommitFanout claims the notification (sent_at null -> sentAt) and creates one delivery
// row per user in a single transaction. Rows that already exist are skipped. If the
// notification was already sent, nothing is written and a Conflict error is returned.
func (r *NotificationRepository) CommitFanout(ctx context.Context, notificationID uint, userIDs []uint, sentAt time.Time) (int64, error) {
	var created int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Notification{}).
			Where("id = ? AND sent_at IS NULL", notificationID).
			Update("sent_at", sentAt)
		if res.Error != nil {
			return domain.E(domain.KindPersistence, "claim notification", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Notification{}).Where("id = ?", notificationID).Count(&count).Error; err != nil {
				return domain.E(domain.KindPersistence, "claim notification", err)
			}
			if count == 0 {
				return domain.E(domain.KindNotFound, "claim notification", domain.ErrNotFound)
			}
			return domain.E(domain.KindConflict, "claim notification", domain.ErrAlreadySent)
		}
		if len(userIDs) == 0 {
			return nil
		}
		records := make([]models.DeliveryRecord, 0, len(userIDs))
		for _, id := range userIDs {
			records = append(records, models.DeliveryRecord{UserID: id, NotificationID: notificationID})
		}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&records, recordBatchSize)
		if res.Error != nil {
			return domain.E(domain.KindPersistence, "create delivery records", res.Error)
		}
		created = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// Deactivate moves a notification to the failed terminal state.
func (r *NotificationRepository) Deactivate(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("is_active", false).Error
	if err != nil {
		return domain.E(domain.KindPersistence, "deactivate notification", err)
	}
	return nil
}

// ListDue returns active, unsent notifications scheduled at or before now, oldest first.
func (r *NotificationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND sent_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= ?", true, now).
		Order("scheduled_at ASC").Order("id ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "list due notifications", err)
	}
	return list, nil
}

func (r *NotificationRepository) GetRecord(ctx context.Context, userID, notificationID uint) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND notification_id = ?", userID, notificationID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.KindNotFound, "get delivery record", domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "get delivery record", err)
	}
	return &rec, nil
}

// MarkRead flips is_read once. It reports false when the row was already read or is missing.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND notification_id = ? AND is_read = ?", userID, notificationID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return false, domain.E(domain.KindPersistence, "mark read", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkClicked flips clicked once and implies read, keeping an earlier read_at.
func (r *NotificationRepository) MarkClicked(ctx context.Context, userID, notificationID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND notification_id = ? AND clicked = ?", userID, notificationID, false).
		Updates(map[string]interface{}{
			"clicked":    true,
			"clicked_at": at,
			"is_read":    true,
			"read_at":    gorm.Expr("COALESCE(read_at, ?)", at),
		})
	if res.Error != nil {
		return false, domain.E(domain.KindPersistence, "mark clicked", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, domain.E(domain.KindPersistence, "mark all read", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkDelivered sets delivered_at for the given recipients of one notification.
// Rows that already carry a delivered_at are left untouched.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, notificationID uint, userIDs []uint, at time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("notification_id = ? AND user_id IN ? AND delivered_at IS NULL", notificationID, userIDs).
		Update("delivered_at", at)
	if res.Error != nil {
		return 0, domain.E(domain.KindPersistence, "mark delivered", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkDeliveredForUser is the per-user counterpart used when replaying a backlog.
func (r *NotificationRepository) MarkDeliveredForUser(ctx context.Context, userID uint, notificationIDs []uint, at time.Time) (int64, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND notification_id IN ? AND delivered_at IS NULL", userID, notificationIDs).
		Update("delivered_at", at)
	if res.Error != nil {
		return 0, domain.E(domain.KindPersistence, "mark delivered", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *NotificationRepository) userNotifications(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("user_notifications AS un").
		Select("n.id, n.title, n.message, n.type, n.priority, n.created_at, " +
			"un.is_read, un.read_at, un.clicked, un.clicked_at, un.delivered_at").
		Joins("JOIN notifications AS n ON n.id = un.notification_id")
}

// ListUndelivered returns the user's rows that never reached a live session, oldest first.
func (r *NotificationRepository) ListUndelivered(ctx context.Context, userID uint, limit int) ([]models.UserNotification, error) {
	var list []models.UserNotification
	err := r.userNotifications(ctx).
		Where("un.user_id = ? AND un.delivered_at IS NULL AND n.is_active = ?", userID, true).
		Order("n.created_at ASC").Order("n.id ASC").
		Limit(limit).
		Scan(&list).Error
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "list undelivered", err)
	}
	return list, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.UserNotification, error) {
	var list []models.UserNotification
	err := r.userNotifications(ctx).
		Where("un.user_id = ? AND n.is_active = ?", userID, true).
		Order("n.created_at DESC").Order("n.id DESC").
		Limit(limit).Offset(offset).
		Scan(&list).Error
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "list notifications", err)
	}
	return list, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, domain.E(domain.KindPersistence, "unread count", err)
	}
	return count, nil
}

func (r *NotificationRepository) Stats(ctx context.Context, notificationID uint) (*models.DeliveryStats, error) {
	var row struct {
		Total          int64
		DeliveredCount int64
		ReadCount      int64
		ClickedCount   int64
	}
	err := r.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN delivered_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS delivered_count, "+
			"COALESCE(SUM(CASE WHEN is_read = ? THEN 1 ELSE 0 END), 0) AS read_count, "+
			"COALESCE(SUM(CASE WHEN clicked = ? THEN 1 ELSE 0 END), 0) AS clicked_count", true, true).
		Where("notification_id = ?", notificationID).
		Scan(&row).Error
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "delivery stats", err)
	}
	return &models.DeliveryStats{
		NotificationID: notificationID,
		Total:          row.Total,
		Delivered:      row.DeliveredCount,
		Read:           row.ReadCount,
		Clicked:        row.ClickedCount,
	}, nil
}
