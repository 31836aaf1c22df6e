package repository

import (
	"context"
	"errors"
	"time"

	"lipdub/internal/model"

	"gorm.io/gorm"
)

var ErrVideoNotFound = errors.New("video not found")

type VideoRepository struct {
	db *gorm.DB
}

func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) Create(ctx context.Context, v *model.Video) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *VideoRepository) GetByID(ctx context.Context, id string) (*model.Video, error) {
	var v model.Video
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	return &v, nil
}

// GetOpenSlot returns the still-valid, unconfirmed upload slot issued for a
// correlation id, or nil.
func (r *VideoRepository) GetOpenSlot(ctx context.Context, correlationID string, now time.Time) (*model.Video, error) {
	var v model.Video
	err := r.db.WithContext(ctx).
		Where("correlation_id = ? AND status = ? AND slot_expires_at > ?", correlationID, model.VideoStatusUploadPending, now).
		Order("created_at DESC").
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// RefreshSlot extends an unconfirmed slot when it is handed out again.
func (r *VideoRepository) RefreshSlot(ctx context.Context, id string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND status = ?", id, model.VideoStatusUploadPending).
		Update("slot_expires_at", expiresAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

type ConfirmUploadParams struct {
	ID               string
	StorageKey       string
	OriginalURL      string
	DurationSeconds  *int
	DurationVerified bool
	OutputLanguage   string
}

// ConfirmUpload records the stored asset. Re-confirming updates duration and
// language only until a charge has been requested for the video; after that
// the priced duration is frozen.
func (r *VideoRepository) ConfirmUpload(ctx context.Context, p ConfirmUploadParams) error {
	charged := r.db.Model(&model.Transaction{}).
		Select("1").
		Where("transactions.video_id = videos.id").
		Where("(transactions.is_paid = ? OR transactions.charge_requested_at IS NOT NULL)", true)

	result := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND storage_key = ? AND status IN ? AND job_id IS NULL",
			p.ID, p.StorageKey, []string{model.VideoStatusUploadPending, model.VideoStatusUploaded}).
		Where("NOT EXISTS (?)", charged).
		Updates(map[string]interface{}{
			"original_url":      p.OriginalURL,
			"duration_seconds":  p.DurationSeconds,
			"duration_verified": p.DurationVerified,
			"output_language":   p.OutputLanguage,
			"status":            model.VideoStatusUploaded,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// ClaimJob is the compare-and-set that decides which sweep may start the
// translation job. A claim older than staleBefore is treated as abandoned
// by a crashed sweep and may be taken over.
func (r *VideoRepository) ClaimJob(ctx context.Context, id, claim string, now, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND job_id IS NULL AND status IN ?", id,
			[]string{model.VideoStatusUploaded, model.VideoStatusPendingTranslation}).
		Where("(job_claim IS NULL OR job_claimed_at < ?)", staleBefore).
		Updates(map[string]interface{}{
			"job_claim":      claim,
			"job_claimed_at": now,
			"status":         model.VideoStatusPendingTranslation,
		})
	return result.RowsAffected == 1, result.Error
}

// AssignJob stores the provider job id. It only succeeds for the holder of
// the claim and only once.
func (r *VideoRepository) AssignJob(ctx context.Context, id, claim, jobID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND job_claim = ? AND job_id IS NULL", id, claim).
		Updates(map[string]interface{}{
			"job_id":       jobID,
			"status":       model.VideoStatusProcessing,
			"job_attempts": gorm.Expr("job_attempts + 1"),
			"last_error":   nil,
		})
	return result.RowsAffected == 1, result.Error
}

// ReleaseClaim gives the claim back after a failed start so the next sweep
// can retry.
func (r *VideoRepository) ReleaseClaim(ctx context.Context, id, claim, reason string) error {
	return r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND job_claim = ? AND job_id IS NULL", id, claim).
		Updates(map[string]interface{}{
			"job_claim":      nil,
			"job_claimed_at": nil,
			"job_attempts":   gorm.Expr("job_attempts + 1"),
			"last_error":     reason,
		}).Error
}

// MarkChecked records a job poll so the sweep rotates through long-running
// jobs instead of re-reading the same ones.
func (r *VideoRepository) MarkChecked(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ?", id).
		UpdateColumn("last_checked_at", at).Error
}

func (r *VideoRepository) UpdateStatus(ctx context.Context, id string, fromStatus, toStatus string) error {
	if !model.CanVideoTransitionTo(fromStatus, toStatus) {
		return ErrStateConflict
	}

	result := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// Complete stores the translation output. The boolean reports whether this
// call performed the transition.
func (r *VideoRepository) Complete(ctx context.Context, tx *gorm.DB, id, translatedURL string, at time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND job_id IS NOT NULL AND status IN ?", id, model.VideoSourcesFor(model.VideoStatusCompleted)).
		Updates(map[string]interface{}{
			"translated_url": translatedURL,
			"status":         model.VideoStatusCompleted,
			"completed_at":   at,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *VideoRepository) Fail(ctx context.Context, tx *gorm.DB, id, reason string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND status IN ?", id, model.VideoSourcesFor(model.VideoStatusFailed)).
		Updates(map[string]interface{}{
			"status":     model.VideoStatusFailed,
			"last_error": reason,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *VideoRepository) GetExpiredSlots(ctx context.Context, now time.Time, limit int) ([]*model.Video, error) {
	var videos []*model.Video
	err := r.db.WithContext(ctx).
		Where("status = ? AND slot_expires_at < ?", model.VideoStatusUploadPending, now).
		Limit(limit).
		Find(&videos).Error
	return videos, err
}
