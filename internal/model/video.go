package model

import (
	"time"
)

const (
	VideoStatusUploadPending      = "upload_pending"
	VideoStatusUploaded           = "uploaded"
	VideoStatusPendingTranslation = "pending_translation"
	VideoStatusProcessing         = "processing"
	VideoStatusCompleted          = "completed"
	VideoStatusFailed             = "failed"
	VideoStatusAbandoned          = "abandoned"
)

// ValidVideoTransitions never lets a video move backwards.
var ValidVideoTransitions = map[string][]string{
	VideoStatusUploadPending:      {VideoStatusUploaded, VideoStatusAbandoned},
	VideoStatusUploaded:           {VideoStatusPendingTranslation, VideoStatusProcessing, VideoStatusFailed},
	VideoStatusPendingTranslation: {VideoStatusProcessing, VideoStatusFailed},
	VideoStatusProcessing:         {VideoStatusCompleted, VideoStatusFailed},
}

func CanVideoTransitionTo(currentStatus, targetStatus string) bool {
	return contains(ValidVideoTransitions[currentStatus], targetStatus)
}

func VideoSourcesFor(targetStatus string) []string {
	return sourcesFor(ValidVideoTransitions, targetStatus)
}

// Video is one uploaded asset and the lifecycle of its translation.
type Video struct {
	ID               string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	CorrelationID    string     `gorm:"type:varchar(64);index;not null" json:"-"`
	FileName         string     `gorm:"type:varchar(255);not null" json:"file_name"`
	ContentType      string     `gorm:"type:varchar(128);not null" json:"content_type"`
	StorageKey       string     `gorm:"type:varchar(512);uniqueIndex;not null" json:"storage_key"`
	OriginalURL      *string    `gorm:"type:varchar(1024)" json:"original_url"`
	TranslatedURL    *string    `gorm:"type:varchar(1024)" json:"translated_url"`
	DurationSeconds  *int       `json:"duration_seconds"`
	DurationVerified bool       `gorm:"not null" json:"duration_verified"`
	OutputLanguage   *string    `gorm:"type:varchar(16)" json:"output_language"`
	JobID            *string    `gorm:"type:varchar(128);index" json:"job_id"`
	JobClaim         *string    `gorm:"type:varchar(64)" json:"-"`
	JobClaimedAt     *time.Time `json:"-"`
	JobAttempts      int        `gorm:"not null" json:"-"`
	LastError        *string    `gorm:"type:varchar(1024)" json:"-"`
	LastCheckedAt    *time.Time `gorm:"index" json:"-"`
	Status           string     `gorm:"type:varchar(32);index;not null" json:"status"`
	SlotExpiresAt    time.Time  `gorm:"index" json:"-"`
	CompletedAt      *time.Time `json:"completed_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}
