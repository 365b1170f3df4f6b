package repository

import (
	"context"
	"errors"

	"tvcast/internal/domain"
	"tvcast/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.KindNotFound, "get user", domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "get user", err)
	}
	return &u, nil
}

// ListActive returns non-blocked users. A nil ids slice selects every non-blocked user;
// otherwise only the given ids are considered and unknown ones are dropped.
func (r *UserRepository) ListActive(ctx context.Context, ids []uint) ([]models.User, error) {
	var list []models.User
	q := r.db.WithContext(ctx).Select("id", "fcm_token").Where("is_blocked = ?", false)
	if ids != nil {
		if len(ids) == 0 {
			return list, nil
		}
		q = q.Where("id IN ?", ids)
	}
	if err := q.Order("id ASC").Find(&list).Error; err != nil {
		return nil, domain.E(domain.KindPersistence, "list recipients", err)
	}
	return list, nil
}

func (r *UserRepository) UpdateFCMToken(ctx context.Context, userID uint, token string) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("fcm_token", token)
	if res.Error != nil {
		return domain.E(domain.KindPersistence, "update device token", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.KindNotFound, "update device token", domain.ErrNotFound)
	}
	return nil
}

// ClearFCMTokens drops tokens the push provider reported as no longer registered.
func (r *UserRepository) ClearFCMTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("fcm_token IN ?", tokens).Update("fcm_token", "")
	if res.Error != nil {
		return 0, domain.E(domain.KindPersistence, "clear device tokens", res.Error)
	}
	return res.RowsAffected, nil
}
