package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"lipdub/internal/config"
	"lipdub/internal/gateway"
	"lipdub/internal/infrastructure/lock"
	"lipdub/internal/model"
	"lipdub/internal/repository"
	"lipdub/internal/signer"
	"lipdub/internal/testutil"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec-test"

type stubSigner struct {
	calls int
}

func (s *stubSigner) SignUploadURL(bucket, key, contentType string, ttl time.Duration) (string, error) {
	s.calls++
	return "https://storage.test/" + bucket + "/" + key + "?X-Amz-Signature=stub", nil
}

type fixture struct {
	db        *gorm.DB
	cfg       *config.Config
	signer    *stubSigner
	languages *LanguageService
	uploads   *UploadService
	payments  *PaymentService
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.PaymentEvents = "payment.events"
	cfg.Kafka.Topic.TranslationEvents = "translation.events"
	cfg.Storage = config.StorageConfig{
		Endpoint:      "https://storage.test",
		Region:        "us-east-1",
		Bucket:        "lipdub",
		PublicBaseURL: "https://cdn.test/lipdub/",
		UploadTTL:     15 * time.Minute,
	}
	cfg.Payment = config.PaymentConfig{
		Provider:      gateway.PaymentProviderFake,
		WebhookSecret: testWebhookSecret,
		Currency:      "RUB",
		Products:      map[string]int64{"lipsync": 149},
	}
	cfg.Business.MaxVideoDurationSeconds = 4 * 60 * 60
	return cfg
}

func newFixture(t *testing.T, cache *redis.Client) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := testConfig()

	gw, err := gateway.NewPaymentGateway(cfg.Payment)
	require.NoError(t, err)

	f := &fixture{db: db, cfg: cfg, signer: &stubSigner{}}
	f.languages = NewLanguageService(repository.NewLanguageRepository(db), cache, time.Hour)
	f.uploads = NewUploadService(repository.NewVideoRepository(db), f.languages, f.signer, cfg.Storage, cfg.Business)
	f.payments = NewPaymentService(db, gw, lock.NewLocalLocker(), cfg)
	return f
}

// uploadVideo runs the slot and confirm steps and returns the confirmed video.
func (f *fixture) uploadVideo(t *testing.T, durationSeconds *int) *model.Video {
	t.Helper()
	ctx := context.Background()
	slot, err := f.uploads.RequestUploadSlot(ctx, UploadSlotRequest{
		FileName:      "holiday.MP4",
		ContentType:   "video/mp4",
		CorrelationID: uuid.NewString(),
	})
	require.NoError(t, err)

	video, err := f.uploads.ConfirmUpload(ctx, ConfirmUploadRequest{
		VideoID:         slot.VideoID,
		StorageKey:      slot.StorageKey,
		DurationSeconds: durationSeconds,
		OutputLanguage:  "es",
	})
	require.NoError(t, err)
	return video
}

func (f *fixture) order(t *testing.T, durationSeconds *int) (*model.Video, *model.Transaction) {
	t.Helper()
	video := f.uploadVideo(t, durationSeconds)
	tx, err := f.payments.CreateTransaction(context.Background(), CreateTransactionRequest{
		UserEmail: "buyer@example.com",
		ProductID: "lipsync",
		VideoID:   video.ID,
	})
	require.NoError(t, err)
	return video, tx
}

func webhookBody(invoiceID, providerTxID, status, operation string) []byte {
	v := url.Values{}
	v.Set("InvoiceId", invoiceID)
	if providerTxID != "" {
		v.Set("TransactionId", providerTxID)
	}
	v.Set("Status", status)
	v.Set("OperationType", operation)
	v.Set("Amount", "596.00")
	v.Set("Currency", "RUB")
	return []byte(v.Encode())
}

func (f *fixture) deliver(ctx context.Context, body []byte) error {
	return f.payments.HandleWebhook(ctx, body, signer.SignWebhook(body, testWebhookSecret))
}

func intPtr(n int) *int { return &n }
