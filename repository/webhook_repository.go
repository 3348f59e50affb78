package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakhoreJanvi/product-importer-project/models"

	"gorm.io/gorm"
)

type GormWebhookRepository struct {
	db *gorm.DB
}

func NewGormWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

func (r *GormWebhookRepository) FindEnabledByEvent(ctx context.Context, event string) ([]models.Webhook, error) {
	var hooks []models.Webhook
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND enabled = ?", event, true).
		Order("id").
		Find(&hooks).Error
	if err != nil {
		return nil, fmt.Errorf("find webhooks for %s: %w", event, err)
	}
	return hooks, nil
}

func (r *GormWebhookRepository) FindByID(ctx context.Context, id int64) (*models.Webhook, error) {
	var hook models.Webhook
	err := r.db.WithContext(ctx).First(&hook, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find webhook %d: %w", id, err)
	}
	return &hook, nil
}

type GormDeliveryRepository struct {
	db *gorm.DB
}

func NewGormDeliveryRepository(db *gorm.DB) *GormDeliveryRepository {
	return &GormDeliveryRepository{db: db}
}

func (r *GormDeliveryRepository) Save(ctx context.Context, delivery *models.WebhookDelivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}
