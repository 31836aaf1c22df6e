package job

import (
	"context"
	"sync"
	"time"

	"lipdub/internal/config"
	applog "lipdub/internal/logger"
	"lipdub/internal/model"
	"lipdub/internal/repository"

	"gorm.io/gorm"
)

// UploadCleanupJob abandons upload slots whose signed URL expired before the
// client confirmed the upload.
type UploadCleanupJob struct {
	videoRepo *repository.VideoRepository
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewUploadCleanupJob(db *gorm.DB, cfg *config.Config) *UploadCleanupJob {
	return &UploadCleanupJob{
		videoRepo: repository.NewVideoRepository(db),
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.CleanupInterval,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (j *UploadCleanupJob) Start(ctx context.Context) {
	log := applog.WithModule("upload_cleanup")
	log.Info("upload cleanup job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("upload cleanup job stopping: context done")
			return
		case <-j.stopCh:
			log.Info("upload cleanup job stopped")
			return
		case <-ticker.C:
			j.AbandonExpired(ctx)
		}
	}
}

func (j *UploadCleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// AbandonExpired returns the number of slots it abandoned.
func (j *UploadCleanupJob) AbandonExpired(ctx context.Context) int {
	log := applog.WithModule("upload_cleanup")

	videos, err := j.videoRepo.GetExpiredSlots(ctx, j.now(), j.batchSize)
	if err != nil {
		log.WithError(err).Error("load expired upload slots")
		return 0
	}
	if len(videos) == 0 {
		return 0
	}

	abandoned := 0
	for _, v := range videos {
		err := j.videoRepo.UpdateStatus(ctx, v.ID, model.VideoStatusUploadPending, model.VideoStatusAbandoned)
		if err != nil {
			// A confirmation that raced the sweep wins.
			log.WithError(err).WithField("video_id", v.ID).Warn("abandon upload slot")
			continue
		}
		abandoned++
	}

	log.WithField("count", abandoned).Info("abandoned expired upload slots")
	return abandoned
}
