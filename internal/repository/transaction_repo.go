package repository

import (
	"context"
	"errors"
	"time"

	"lipdub/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStateConflict       = errors.New("row is not in the expected state")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, t *model.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TransactionRepository) GetByUniqueCode(ctx context.Context, uniqueCode string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("unique_code = ?", uniqueCode).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetOpenByVideo returns the newest transaction for videoID that is still
// pending or already paid, or nil.
func (r *TransactionRepository) GetOpenByVideo(ctx context.Context, videoID string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND status IN ?", videoID,
			[]string{model.TransactionStatusPending, model.TransactionStatusCompleted}).
		Order("id DESC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// UpdateAmount reprices a transaction that has not been paid yet.
func (r *TransactionRepository) UpdateAmount(ctx context.Context, id int64, amount int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ? AND is_paid = ?", id, model.TransactionStatusPending, false).
		Update("amount", amount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// MarkChargeRequested records the first charge request; it reports false
// when a charge had already been requested.
func (r *TransactionRepository) MarkChargeRequested(ctx context.Context, id int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND charge_requested_at IS NULL", id).
		Update("charge_requested_at", at)
	return result.RowsAffected == 1, result.Error
}

// MarkPaid flips is_paid exactly once. The boolean reports whether this call
// performed the transition.
func (r *TransactionRepository) MarkPaid(ctx context.Context, tx *gorm.DB, id int64, providerTxID string, paidAt time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND is_paid = ? AND status IN ?", id, false, model.TransactionSourcesFor(model.TransactionStatusCompleted)).
		Updates(map[string]interface{}{
			"is_paid":           true,
			"status":            model.TransactionStatusCompleted,
			"cp_transaction_id": providerTxID,
			"paid_at":           paidAt,
			"fail_reason":       nil,
		})
	return result.RowsAffected == 1, result.Error
}

// MarkFailed never touches a paid transaction.
func (r *TransactionRepository) MarkFailed(ctx context.Context, tx *gorm.DB, id int64, providerTxID, reason string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND is_paid = ? AND status = ?", id, false, model.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":            model.TransactionStatusFailed,
			"cp_transaction_id": providerTxID,
			"fail_reason":       reason,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *TransactionRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, id int64, at time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status IN ?", id, model.TransactionSourcesFor(model.TransactionStatusRefunded)).
		Updates(map[string]interface{}{
			"status":      model.TransactionStatusRefunded,
			"refunded_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

// Activate marks a paid transaction as delivered. Only one caller can win.
func (r *TransactionRepository) Activate(ctx context.Context, tx *gorm.DB, id int64, at time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND is_paid = ? AND is_activated = ? AND status = ?", id, true, false, model.TransactionStatusCompleted).
		Updates(map[string]interface{}{
			"is_activated": true,
			"activated_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

// ListAwaitingActivation returns paid, not yet activated transactions whose
// video can still make progress. Videos whose job has not started come
// first, then the least recently polled. A transaction without a video has
// nothing to translate and is not listed.
func (r *TransactionRepository) ListAwaitingActivation(ctx context.Context, limit int) ([]*model.Transaction, error) {
	var txs []*model.Transaction
	err := r.db.WithContext(ctx).
		Select("transactions.*").
		Joins("JOIN videos ON videos.id = transactions.video_id").
		Where("transactions.is_paid = ? AND transactions.is_activated = ? AND transactions.status = ?",
			true, false, model.TransactionStatusCompleted).
		Where("videos.status NOT IN ?", []string{model.VideoStatusFailed, model.VideoStatusAbandoned}).
		Order("CASE WHEN videos.job_id IS NULL THEN 0 ELSE 1 END").
		Order("COALESCE(videos.last_checked_at, transactions.paid_at) ASC").
		Order("transactions.id ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
