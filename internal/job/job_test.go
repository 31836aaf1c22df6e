package job

import (
	"context"
	"testing"
	"time"

	"lipdub/internal/config"
	"lipdub/internal/model"
	"lipdub/internal/repository"
	"lipdub/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.PaymentEvents = "payment.events"
	cfg.Kafka.Topic.TranslationEvents = "translation.events"
	cfg.Business = config.BusinessConfig{
		ReconcileInterval:    time.Minute,
		ReconcileBatchSize:   50,
		ReconcileConcurrency: 4,
		MaxStartAttempts:     3,
		JobMaxAge:            24 * time.Hour,
		ClaimTTL:             10 * time.Minute,
		CleanupInterval:      time.Minute,
		OutboxInterval:       time.Second,
		OutboxMaxRetry:       3,
	}
	return cfg
}

type paidOrder struct {
	tx    *model.Transaction
	video *model.Video
}

// seedPaidOrder stores a confirmed video and a transaction already marked
// paid by the provider.
func seedPaidOrder(t *testing.T, db *gorm.DB, videoStatus string) paidOrder {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	original := "https://cdn.test/uploads/" + id + "/clip.mp4"
	lang := "es"
	duration := 61

	video := &model.Video{
		ID:              id,
		CorrelationID:   "corr-" + id,
		FileName:        "clip.mp4",
		ContentType:     "video/mp4",
		StorageKey:      "uploads/" + id + "/clip.mp4",
		OriginalURL:     &original,
		DurationSeconds: &duration,
		OutputLanguage:  &lang,
		Status:          videoStatus,
		SlotExpiresAt:   time.Now().UTC().Add(15 * time.Minute),
	}
	if videoStatus == model.VideoStatusUploadPending {
		video.OriginalURL = nil
	}
	require.NoError(t, repository.NewVideoRepository(db).Create(ctx, video))

	txRepo := repository.NewTransactionRepository(db)
	tx := &model.Transaction{
		UniqueCode: uuid.NewString(),
		UserEmail:  "buyer@example.com",
		ProductID:  "lipsync",
		VideoID:    &id,
		Amount:     298,
		Currency:   "RUB",
		Status:     model.TransactionStatusPending,
	}
	require.NoError(t, txRepo.Create(ctx, tx))
	won, err := txRepo.MarkPaid(ctx, nil, tx.ID, "504", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	tx, err = txRepo.GetByUniqueCode(ctx, tx.UniqueCode)
	require.NoError(t, err)
	return paidOrder{tx: tx, video: video}
}

func reload(t *testing.T, db *gorm.DB, o paidOrder) (*model.Transaction, *model.Video) {
	t.Helper()
	ctx := context.Background()
	tx, err := repository.NewTransactionRepository(db).GetByUniqueCode(ctx, o.tx.UniqueCode)
	require.NoError(t, err)
	video, err := repository.NewVideoRepository(db).GetByID(ctx, o.video.ID)
	require.NoError(t, err)
	return tx, video
}

func newTestDB(t *testing.T) *gorm.DB {
	return testutil.NewDB(t)
}
