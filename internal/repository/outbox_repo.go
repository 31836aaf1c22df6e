package repository

import (
	"context"
	"time"

	"lipdub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create enqueues msg unless a message with the same key already exists.
// The boolean reports whether a row was inserted.
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_key"}},
			DoNothing: true,
		}).
		Create(msg)
	return result.RowsAffected == 1, result.Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) GetByKey(ctx context.Context, key string) (*model.OutboxMessage, error) {
	var msg model.OutboxMessage
	err := r.db.WithContext(ctx).Where("message_key = ?", key).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *OutboxRepository) CountByTopic(ctx context.Context, topic string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&n).Error
	return n, err
}

// ClaimForSend moves a pending message to SENDING. Only one sender can win.
func (r *OutboxRepository) ClaimForSend(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSending)
	return result.RowsAffected == 1, result.Error
}

// RequeueStale returns messages stuck in SENDING since before the cutoff to
// PENDING, for senders that died mid-delivery.
func (r *OutboxRepository) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ? AND updated_at < ?", model.OutboxStatusSending, before).
		Update("status", model.OutboxStatusPending)
	return result.RowsAffected, result.Error
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// RecordFailure bumps the retry counter and returns the message to PENDING,
// or parks it as FAILED once maxRetry attempts have been spent.
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.OutboxMessage, reason string, maxRetry int) error {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  truncate(reason, 1024),
		"status":      model.OutboxStatusPending,
	}
	if msg.RetryCount+1 >= maxRetry {
		updates["status"] = model.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(updates).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
