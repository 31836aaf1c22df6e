package job

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lipdub/internal/config"
	"lipdub/internal/gateway"
	"lipdub/internal/infrastructure/mq"
	applog "lipdub/internal/logger"
	"lipdub/internal/model"
	"lipdub/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// sendingStaleAfter bounds how long a message may sit in SENDING before
// another sender picks it up again.
const sendingStaleAfter = 5 * time.Minute

// OutboxSender delivers outbox messages: customer notifications go to the
// notifier, every other topic to the message broker.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	notifier   gateway.Notifier
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
	maxRetry   int
	now        func() time.Time
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, notifier gateway.Notifier, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		notifier:   notifier,
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.OutboxInterval,
		batchSize:  100,
		maxRetry:   cfg.Business.OutboxMaxRetry,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log := applog.WithModule("outbox")
	log.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("outbox sender stopping: context done")
			return
		case <-s.stopCh:
			log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPending delivers one batch and returns how many messages were sent.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	log := applog.WithModule("outbox")

	if n, err := s.outboxRepo.RequeueStale(ctx, s.now().Add(-sendingStaleAfter)); err != nil {
		log.WithError(err).Warn("requeue stale messages")
	} else if n > 0 {
		log.WithField("count", n).Warn("requeued messages stuck in SENDING")
	}

	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.WithError(err).Error("load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg, log) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage, log *logrus.Entry) bool {
	log = log.WithFields(logrus.Fields{"id": msg.ID, "topic": msg.Topic, "key": msg.MessageKey})

	claimed, err := s.outboxRepo.ClaimForSend(ctx, msg.ID)
	if err != nil {
		log.WithError(err).Error("claim message")
		return false
	}
	if !claimed {
		return false
	}

	if err := s.dispatch(ctx, msg); err != nil {
		log.WithError(err).WithField("retry", msg.RetryCount+1).Warn("deliver message")
		if err := s.outboxRepo.RecordFailure(ctx, msg, err.Error(), s.maxRetry); err != nil {
			log.WithError(err).Error("record delivery failure")
		}
		return false
	}

	if err := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
		log.WithError(err).Error("mark message sent")
		return false
	}
	log.Debug("message delivered")
	return true
}

func (s *OutboxSender) dispatch(ctx context.Context, msg *model.OutboxMessage) error {
	if msg.Topic == model.TopicNotifyEmail {
		var p model.NotificationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, gateway.Notification{
			Email:         p.Email,
			UniqueCode:    p.UniqueCode,
			TranslatedURL: p.TranslatedURL,
			Language:      p.Language,
		})
	}
	return s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, string(msg.Payload))
}
