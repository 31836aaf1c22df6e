package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lipdub/internal/config"
	"lipdub/internal/gateway"
	"lipdub/internal/infrastructure/lock"
	applog "lipdub/internal/logger"
	"lipdub/internal/model"
	"lipdub/internal/repository"
	"lipdub/internal/signer"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	paymentLockTTL = 10 * time.Second
)

// PaymentService owns the transaction ledger. Payment state is written only
// from verified provider notifications; PollStatus never writes.
type PaymentService struct {
	db          *gorm.DB
	txRepo      *repository.TransactionRepository
	videoRepo   *repository.VideoRepository
	outboxRepo  *repository.OutboxRepository
	webhookRepo *repository.WebhookEventRepository
	gateway     gateway.PaymentGateway
	locker      lock.Locker
	pricing     *Pricing
	currency    string
	secret      string
	topic       string
	now         func() time.Time
}

func NewPaymentService(db *gorm.DB, gw gateway.PaymentGateway, locker lock.Locker, cfg *config.Config) *PaymentService {
	return &PaymentService{
		db:          db,
		txRepo:      repository.NewTransactionRepository(db),
		videoRepo:   repository.NewVideoRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		webhookRepo: repository.NewWebhookEventRepository(db),
		gateway:     gw,
		locker:      locker,
		pricing:     NewPricing(cfg.Payment.Products),
		currency:    cfg.Payment.Currency,
		secret:      cfg.Payment.WebhookSecret,
		topic:       cfg.Kafka.Topic.PaymentEvents,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type CreateTransactionRequest struct {
	UserEmail string `json:"user_email" validate:"required,email,max=255"`
	ProductID string `json:"product_id" validate:"required,max=64"`
	VideoID   string `json:"video_id" validate:"required,uuid"`
}

// CreateTransaction opens a pending transaction for a confirmed video, priced
// from the video's current duration. Repeating the request for a video that already
// has an unpaid transaction from the same buyer returns that transaction.
func (s *PaymentService) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*model.Transaction, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	// The open-transaction check and the insert must not interleave with
	// another create for the same video.
	release, err := s.acquire(ctx, lock.VideoOrderKey(req.VideoID), "an order for video %s is already being created", req.VideoID)
	if err != nil {
		return nil, err
	}
	defer release()

	video, err := s.videoRepo.GetByID(ctx, req.VideoID)
	if err != nil {
		return nil, classify("load video", err)
	}
	if video.Status != model.VideoStatusUploaded {
		return nil, conflictError("video %s is %s", video.ID, video.Status)
	}
	if video.DurationSeconds == nil {
		return nil, conflictError("video %s has no confirmed duration", video.ID)
	}

	amount, err := s.pricing.Quote(req.ProductID, video.DurationSeconds)
	if err != nil {
		return nil, err
	}

	existing, err := s.txRepo.GetOpenByVideo(ctx, video.ID)
	if err != nil {
		return nil, classify("find open transaction", err)
	}
	if existing != nil {
		if existing.IsPaid {
			return nil, conflictError("video %s is already paid for", video.ID)
		}
		if existing.UserEmail != req.UserEmail || existing.ProductID != req.ProductID {
			return nil, conflictError("video %s already has an open transaction", video.ID)
		}
		if err := s.reprice(ctx, existing, amount); err != nil {
			return nil, err
		}
		return existing, nil
	}

	videoID := video.ID
	t := &model.Transaction{
		UniqueCode: uuid.NewString(),
		UserEmail:  req.UserEmail,
		ProductID:  req.ProductID,
		VideoID:    &videoID,
		Amount:     amount,
		Currency:   s.currency,
		Status:     model.TransactionStatusPending,
	}
	if err := s.txRepo.Create(ctx, t); err != nil {
		return nil, classify("create transaction", err)
	}

	applog.WithContext(ctx).WithFields(logrus.Fields{
		"uniquecode": t.UniqueCode,
		"video_id":   videoID,
		"amount":     amount,
	}).Info("transaction created")
	return t, nil
}

type InitiatePaymentRequest struct {
	UniqueCode  string `json:"uniquecode" validate:"required,max=64"`
	RedirectURL string `json:"redirect_url" validate:"omitempty,url,max=1024"`
}

// InitiatePayment returns the charge descriptor for the payment widget. It
// never contacts the provider, so repeating it cannot create a second
// provider-side charge.
func (s *PaymentService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*gateway.ChargeRequest, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, lock.PaymentKey(req.UniqueCode), "payment for %s is already being initiated", req.UniqueCode)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := s.txRepo.GetByUniqueCode(ctx, req.UniqueCode)
	if err != nil {
		return nil, classify("load transaction", err)
	}
	if t.Status != model.TransactionStatusPending || t.IsPaid {
		return nil, conflictError("transaction is %s", t.Status)
	}

	if t.VideoID != nil {
		video, err := s.videoRepo.GetByID(ctx, *t.VideoID)
		if err != nil {
			return nil, classify("load video", err)
		}
		amount, err := s.pricing.Quote(t.ProductID, video.DurationSeconds)
		if err != nil {
			return nil, err
		}
		if err := s.reprice(ctx, t, amount); err != nil {
			return nil, err
		}
	}

	charge, err := s.gateway.ChargeRequest(t, req.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	first, err := s.txRepo.MarkChargeRequested(ctx, t.ID, s.now())
	if err != nil {
		return nil, classify("mark charge requested", err)
	}
	applog.WithContext(ctx).WithFields(logrus.Fields{
		"uniquecode": t.UniqueCode,
		"amount":     t.Amount,
		"provider":   s.gateway.Name(),
		"first":      first,
	}).Info("charge descriptor issued")

	return charge, nil
}

// acquire takes the named lock, waiting briefly for a concurrent holder. A
// lock that stays busy is reported as a conflict.
func (s *PaymentService) acquire(ctx context.Context, key, busyFormat string, args ...any) (func(), error) {
	l := s.locker.NewLock(key, uuid.NewString(), paymentLockTTL)
	if err := l.Lock(ctx, 50*time.Millisecond, 20); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, conflictError(busyFormat, args...)
		}
		return nil, fmt.Errorf("%w: lock %s: %v", ErrExternal, key, err)
	}
	return func() {
		if err := l.Unlock(context.Background()); err != nil {
			applog.WithContext(ctx).WithError(err).WithField("key", key).Warn("release lock")
		}
	}, nil
}

func (s *PaymentService) reprice(ctx context.Context, t *model.Transaction, amount int64) error {
	if t.Amount == amount {
		return nil
	}
	if err := s.txRepo.UpdateAmount(ctx, t.ID, amount); err != nil {
		return classify("reprice transaction", err)
	}
	applog.WithContext(ctx).WithFields(logrus.Fields{
		"uniquecode": t.UniqueCode,
		"from":       t.Amount,
		"to":         amount,
	}).Info("transaction repriced")
	t.Amount = amount
	return nil
}

// HandleWebhook authenticates and applies one provider notification. The
// delivery is logged whether or not it is accepted. The signature is checked
// over rawBody exactly as received, before anything is parsed.
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	event := &model.WebhookEvent{
		Provider: s.gateway.Name(),
		RawBody:  string(rawBody),
	}

	if err := signer.CheckWebhook(rawBody, signature, s.secret); err != nil {
		event.ProcessingError = err.Error()
		s.recordDelivery(ctx, event)
		applog.Audit("webhook_signature_rejected").WithContext(ctx).WithError(err).Warn("rejected payment notification")
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	event.SignatureValid = true

	ev, err := s.gateway.ParseNotification(rawBody)
	if err != nil {
		event.ProcessingError = err.Error()
		s.recordDelivery(ctx, event)
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	event.InvoiceID = ev.InvoiceID
	event.ProviderTxID = ev.ProviderTxID
	event.Operation = ev.Operation
	event.Status = ev.Status

	if err := s.webhookRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("record webhook: %w", err)
	}

	applyErr := s.ApplyWebhook(ctx, ev)
	if err := s.webhookRepo.MarkProcessed(ctx, event.ID, applyErr); err != nil {
		applog.WithContext(ctx).WithError(err).Warn("mark webhook processed")
	}
	return applyErr
}

func (s *PaymentService) recordDelivery(ctx context.Context, event *model.WebhookEvent) {
	if err := s.webhookRepo.Create(ctx, event); err != nil {
		applog.WithContext(ctx).WithError(err).Warn("record rejected webhook")
	}
}

// ApplyWebhook moves the ledger for an authenticated notification. Applying
// the same notification again is a no-op. A successful payment is never
// undone by a later failure; a refund applies from any state.
func (s *PaymentService) ApplyWebhook(ctx context.Context, ev *gateway.PaymentEvent) error {
	t, err := s.txRepo.GetByUniqueCode(ctx, ev.InvoiceID)
	if err != nil {
		return classify("load transaction", err)
	}
	log := applog.WithContext(ctx).WithFields(logrus.Fields{
		"uniquecode":     t.UniqueCode,
		"provider_tx_id": ev.ProviderTxID,
		"kind":           ev.Kind,
	})

	switch ev.Kind {
	case gateway.EventCompleted:
		return s.applyCompleted(ctx, t, ev, log)
	case gateway.EventFailed:
		return s.applyFailed(ctx, t, ev, log)
	case gateway.EventRefunded:
		return s.applyRefunded(ctx, t, ev, log)
	default:
		log.WithField("status", ev.Status).Info("notification does not change the ledger")
		return nil
	}
}

func (s *PaymentService) applyCompleted(ctx context.Context, t *model.Transaction, ev *gateway.PaymentEvent, log *logrus.Entry) error {
	if t.IsPaid {
		log.Info("duplicate payment confirmation ignored")
		return nil
	}

	var won bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = s.txRepo.MarkPaid(ctx, tx, t.ID, ev.ProviderTxID, s.now())
		if err != nil || !won {
			return err
		}
		return s.enqueuePaymentEvent(ctx, tx, EventPaymentCompleted, t, ev)
	})
	if err != nil {
		return fmt.Errorf("apply payment confirmation: %w", err)
	}

	if !won {
		current, err := s.txRepo.GetByUniqueCode(ctx, t.UniqueCode)
		if err != nil {
			return classify("reload transaction", err)
		}
		if current.Status == model.TransactionStatusRefunded && !current.IsPaid {
			applog.Audit("late_success_discarded").WithFields(logrus.Fields{
				"uniquecode":     t.UniqueCode,
				"provider_tx_id": ev.ProviderTxID,
			}).Warn("payment confirmation after refund discarded")
		}
		log.Info("payment confirmation already applied")
		return nil
	}

	log.Info("transaction paid")
	return nil
}

func (s *PaymentService) applyFailed(ctx context.Context, t *model.Transaction, ev *gateway.PaymentEvent, log *logrus.Entry) error {
	if t.IsPaid {
		s.auditLateFailure(t, ev)
		return nil
	}

	var won bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = s.txRepo.MarkFailed(ctx, tx, t.ID, ev.ProviderTxID, ev.Reason)
		if err != nil || !won {
			return err
		}
		return s.enqueuePaymentEvent(ctx, tx, EventPaymentFailed, t, ev)
	})
	if err != nil {
		return fmt.Errorf("apply payment failure: %w", err)
	}

	if !won {
		current, err := s.txRepo.GetByUniqueCode(ctx, t.UniqueCode)
		if err != nil {
			return classify("reload transaction", err)
		}
		if current.IsPaid {
			s.auditLateFailure(current, ev)
			return nil
		}
		log.WithField("status", current.Status).Info("payment failure already applied")
		return nil
	}

	log.WithField("reason", ev.Reason).Info("transaction failed")
	return nil
}

func (s *PaymentService) auditLateFailure(t *model.Transaction, ev *gateway.PaymentEvent) {
	applog.Audit("late_failure_discarded").WithFields(logrus.Fields{
		"uniquecode":     t.UniqueCode,
		"provider_tx_id": ev.ProviderTxID,
		"reason":         ev.Reason,
	}).Warn("failure notification for a paid transaction discarded")
}

func (s *PaymentService) applyRefunded(ctx context.Context, t *model.Transaction, ev *gateway.PaymentEvent, log *logrus.Entry) error {
	if t.Status == model.TransactionStatusRefunded {
		log.Info("duplicate refund ignored")
		return nil
	}

	var won bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = s.txRepo.MarkRefunded(ctx, tx, t.ID, s.now())
		if err != nil || !won {
			return err
		}
		return s.enqueuePaymentEvent(ctx, tx, EventPaymentRefunded, t, ev)
	})
	if err != nil {
		return fmt.Errorf("apply refund: %w", err)
	}
	if won {
		log.Info("transaction refunded")
	}
	return nil
}

func (s *PaymentService) enqueuePaymentEvent(ctx context.Context, tx *gorm.DB, event string, t *model.Transaction, ev *gateway.PaymentEvent) error {
	msg, err := model.NewOutboxMessage(event+":"+t.UniqueCode, s.topic, model.PaymentEventPayload{
		Event:        event,
		UniqueCode:   t.UniqueCode,
		Amount:       t.Amount,
		Currency:     t.Currency,
		ProviderTxID: ev.ProviderTxID,
		Reason:       ev.Reason,
		OccurredAt:   s.now(),
	})
	if err != nil {
		return err
	}
	_, err = s.outboxRepo.Create(ctx, tx, msg)
	return err
}

// TransactionStatus is the client-facing view of one order.
type TransactionStatus struct {
	UniqueCode  string       `json:"uniquecode"`
	Status      string       `json:"status"`
	IsPaid      bool         `json:"is_paid"`
	IsActivated bool         `json:"is_activated"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	FailReason  *string      `json:"fail_reason,omitempty"`
	Video       *VideoStatus `json:"video,omitempty"`
}

type VideoStatus struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	OutputLanguage  *string `json:"output_language,omitempty"`
	TranslatedURL   *string `json:"translated_url,omitempty"`
}

// PollStatus is a pure read of the ledger and the linked video.
func (s *PaymentService) PollStatus(ctx context.Context, uniqueCode string) (*TransactionStatus, error) {
	if uniqueCode == "" {
		return nil, validationError("uniquecode is required")
	}

	t, err := s.txRepo.GetByUniqueCode(ctx, uniqueCode)
	if err != nil {
		return nil, classify("load transaction", err)
	}

	status := &TransactionStatus{
		UniqueCode:  t.UniqueCode,
		Status:      t.Status,
		IsPaid:      t.IsPaid,
		IsActivated: t.IsActivated,
		Amount:      t.Amount,
		Currency:    t.Currency,
		FailReason:  t.FailReason,
	}

	if t.VideoID != nil {
		video, err := s.videoRepo.GetByID(ctx, *t.VideoID)
		switch {
		case err == nil:
			status.Video = &VideoStatus{
				ID:              video.ID,
				Status:          video.Status,
				DurationSeconds: video.DurationSeconds,
				OutputLanguage:  video.OutputLanguage,
				TranslatedURL:   video.TranslatedURL,
			}
		case errors.Is(err, repository.ErrVideoNotFound):
		default:
			return nil, classify("load video", err)
		}
	}
	return status, nil
}
