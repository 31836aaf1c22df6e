package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"lipdub/internal/config"
	applog "lipdub/internal/logger"
	"lipdub/internal/model"
	"lipdub/internal/repository"
	"lipdub/pkg/idgen"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UploadURLSigner issues presigned PUT URLs.
type UploadURLSigner interface {
	SignUploadURL(bucket, key, contentType string, ttl time.Duration) (string, error)
}

// UploadService is the upload broker: it hands out signed upload slots
// before the bytes exist and records the asset once the client confirms it.
type UploadService struct {
	videoRepo   *repository.VideoRepository
	languages   *LanguageService
	signer      UploadURLSigner
	storage     config.StorageConfig
	maxDuration int
	now         func() time.Time
}

func NewUploadService(
	videoRepo *repository.VideoRepository,
	languages *LanguageService,
	signer UploadURLSigner,
	storage config.StorageConfig,
	business config.BusinessConfig,
) *UploadService {
	return &UploadService{
		videoRepo:   videoRepo,
		languages:   languages,
		signer:      signer,
		storage:     storage,
		maxDuration: business.MaxVideoDurationSeconds,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type UploadSlotRequest struct {
	FileName      string `json:"file_name" validate:"required,max=255"`
	ContentType   string `json:"content_type" validate:"required,max=128,videomime"`
	CorrelationID string `json:"correlation_id" validate:"required,max=64"`
}

type UploadSlot struct {
	VideoID    string    `json:"video_id"`
	StorageKey string    `json:"storage_key"`
	UploadURL  string    `json:"upload_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RequestUploadSlot issues a signed upload URL and the video row it will
// fill. Retrying with the same correlation id returns the same video and
// key while the slot is still open.
func (s *UploadService) RequestUploadSlot(ctx context.Context, req UploadSlotRequest) (*UploadSlot, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := now.Add(s.storage.UploadTTL)
	log := applog.WithContext(ctx).WithField("correlation_id", req.CorrelationID)

	existing, err := s.videoRepo.GetOpenSlot(ctx, req.CorrelationID, now)
	if err != nil {
		return nil, classify("find upload slot", err)
	}
	if existing != nil {
		if !strings.EqualFold(existing.ContentType, req.ContentType) {
			return nil, conflictError("an upload slot for %s is already open under this correlation id", existing.ContentType)
		}
		uploadURL, err := s.sign(existing.StorageKey, existing.ContentType)
		if err != nil {
			return nil, err
		}
		if err := s.videoRepo.RefreshSlot(ctx, existing.ID, expiresAt); err != nil {
			return nil, classify("refresh upload slot", err)
		}
		log.WithField("video_id", existing.ID).Info("upload slot reissued")
		return &UploadSlot{VideoID: existing.ID, StorageKey: existing.StorageKey, UploadURL: uploadURL, ExpiresAt: expiresAt}, nil
	}

	key := storageKey(req.FileName)
	uploadURL, err := s.sign(key, req.ContentType)
	if err != nil {
		return nil, err
	}

	video := &model.Video{
		ID:            uuid.NewString(),
		CorrelationID: req.CorrelationID,
		FileName:      filepath.Base(req.FileName),
		ContentType:   req.ContentType,
		StorageKey:    key,
		Status:        model.VideoStatusUploadPending,
		SlotExpiresAt: expiresAt,
	}
	if err := s.videoRepo.Create(ctx, video); err != nil {
		return nil, classify("create video", err)
	}

	log.WithFields(logrus.Fields{"video_id": video.ID, "storage_key": key}).Info("upload slot issued")
	return &UploadSlot{VideoID: video.ID, StorageKey: key, UploadURL: uploadURL, ExpiresAt: expiresAt}, nil
}

type ConfirmUploadRequest struct {
	VideoID         string `json:"video_id" validate:"required,uuid"`
	StorageKey      string `json:"storage_key" validate:"required,max=512"`
	DurationSeconds *int   `json:"duration_seconds" validate:"omitempty,min=0"`
	OutputLanguage  string `json:"output_language" validate:"required,langcode"`
}

// ConfirmUpload records the stored asset with its client-reported duration.
// The duration is bounded but never trusted as verified.
func (s *UploadService) ConfirmUpload(ctx context.Context, req ConfirmUploadRequest) (*model.Video, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.DurationSeconds != nil && *req.DurationSeconds > s.maxDuration {
		return nil, validationError("duration %ds exceeds the %ds limit", *req.DurationSeconds, s.maxDuration)
	}
	if err := s.languages.Validate(ctx, req.OutputLanguage); err != nil {
		return nil, err
	}

	video, err := s.videoRepo.GetByID(ctx, req.VideoID)
	if err != nil {
		return nil, classify("load video", err)
	}
	if video.StorageKey != req.StorageKey {
		return nil, validationError("storage key does not belong to video %s", video.ID)
	}
	if video.Status == model.VideoStatusUploadPending && !video.SlotExpiresAt.After(s.now()) {
		return nil, conflictError("upload slot for video %s has expired", video.ID)
	}

	err = s.videoRepo.ConfirmUpload(ctx, repository.ConfirmUploadParams{
		ID:               video.ID,
		StorageKey:       video.StorageKey,
		OriginalURL:      s.objectURL(video.StorageKey),
		DurationSeconds:  req.DurationSeconds,
		DurationVerified: false,
		OutputLanguage:   req.OutputLanguage,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, conflictError("video %s can no longer be confirmed (status %s)", video.ID, video.Status)
		}
		return nil, classify("confirm upload", err)
	}

	applog.Audit("unverified_duration").WithFields(logrus.Fields{
		"video_id":         video.ID,
		"duration_seconds": req.DurationSeconds,
	}).Info("accepted client-reported duration")

	return s.videoRepo.GetByID(ctx, video.ID)
}

func (s *UploadService) sign(key, contentType string) (string, error) {
	uploadURL, err := s.signer.SignUploadURL(s.storage.Bucket, key, contentType, s.storage.UploadTTL)
	if err != nil {
		return "", fmt.Errorf("sign upload url: %w", err)
	}
	return uploadURL, nil
}

func (s *UploadService) objectURL(key string) string {
	return strings.TrimRight(s.storage.PublicBaseURL, "/") + "/" + key
}

// storageKey scopes every object under a random namespace so keys cannot be
// guessed from one another.
func storageKey(fileName string) string {
	return fmt.Sprintf("uploads/%s/%s%s", uuid.NewString(), idgen.ObjectName(), safeExt(fileName))
}

func safeExt(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
