package repository

import (
	"context"
	"time"

	"lipdub/internal/model"

	"gorm.io/gorm"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, e *model.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64, processingErr error) error {
	updates := map[string]interface{}{"processed_at": time.Now().UTC()}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *WebhookEventRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}
