package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lipdub/internal/config"
	"lipdub/internal/gateway"
	"lipdub/internal/infrastructure/lock"
	applog "lipdub/internal/logger"
	"lipdub/internal/model"
	"lipdub/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Outcome is what one sweep did for one transaction.
type Outcome string

const (
	OutcomeStarted    Outcome = "started"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeWaiting    Outcome = "waiting"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeError      Outcome = "error"
)

const (
	EventTranslationStarted   = "translation.started"
	EventTranslationCompleted = "translation.completed"
	EventTranslationFailed    = "translation.failed"
)

// SweepResult counts outcomes of one sweep.
type SweepResult struct {
	Scanned  int
	Outcomes map[Outcome]int
}

// TranslationReconciler drives every paid, not yet activated transaction
// towards activation: it starts the translation job, polls it, and on
// success completes the video, activates the transaction and enqueues the
// customer notification. Concurrent sweeps are safe; the job start is
// guarded by a compare-and-set claim on the video row.
type TranslationReconciler struct {
	db         *gorm.DB
	txRepo     *repository.TransactionRepository
	videoRepo  *repository.VideoRepository
	outboxRepo *repository.OutboxRepository
	translator gateway.Translator
	locker     lock.Locker

	stopCh      chan struct{}
	stopOnce    sync.Once
	interval    time.Duration
	batchSize   int
	concurrency int
	useLease    bool
	maxAttempts int
	jobMaxAge   time.Duration
	claimTTL    time.Duration
	topic       string
	holder      string
	now         func() time.Time
}

func NewTranslationReconciler(db *gorm.DB, translator gateway.Translator, locker lock.Locker, cfg *config.Config) *TranslationReconciler {
	b := cfg.Business
	return &TranslationReconciler{
		db:          db,
		txRepo:      repository.NewTransactionRepository(db),
		videoRepo:   repository.NewVideoRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		translator:  translator,
		locker:      locker,
		stopCh:      make(chan struct{}),
		interval:    b.ReconcileInterval,
		batchSize:   b.ReconcileBatchSize,
		concurrency: b.ReconcileConcurrency,
		useLease:    b.ReconcileLease && locker != nil,
		maxAttempts: b.MaxStartAttempts,
		jobMaxAge:   b.JobMaxAge,
		claimTTL:    b.ClaimTTL,
		topic:       cfg.Kafka.Topic.TranslationEvents,
		holder:      uuid.NewString(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *TranslationReconciler) Start(ctx context.Context) {
	log := applog.WithModule("reconciler")
	log.WithField("interval", r.interval).Info("translation reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("translation reconciler stopping: context done")
			return
		case <-r.stopCh:
			log.Info("translation reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.WithError(err).Error("sweep failed")
			}
		}
	}
}

func (r *TranslationReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Sweep runs one reconciliation pass. A failure on one transaction is
// logged and does not stop the others; only failing to list the batch is
// returned as an error.
func (r *TranslationReconciler) Sweep(ctx context.Context) (*SweepResult, error) {
	log := applog.WithModule("reconciler").WithField("sweep", uuid.NewString())
	result := &SweepResult{Outcomes: make(map[Outcome]int)}

	if r.useLease {
		lease := r.locker.NewLock(lock.SweepLeaseKey, r.holder, r.interval)
		ok, err := lease.TryLock(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warn("sweep lease unavailable, continuing without it")
		case !ok:
			log.Debug("another sweep holds the lease, skipping")
			return result, nil
		default:
			defer func() {
				if err := lease.Unlock(context.Background()); err != nil {
					log.WithError(err).Warn("release sweep lease")
				}
			}()
		}
	}

	txs, err := r.txRepo.ListAwaitingActivation(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list transactions awaiting activation: %w", err)
	}
	result.Scanned = len(txs)
	if len(txs) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.concurrency, 1))
	for _, t := range txs {
		t := t
		g.Go(func() error {
			entry := log.WithField("uniquecode", t.UniqueCode)
			outcome, err := r.reconcile(gctx, t, entry)
			if err != nil {
				entry.WithError(err).Error("reconcile transaction failed")
				outcome = OutcomeError
			}
			mu.Lock()
			result.Outcomes[outcome]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"scanned":  result.Scanned,
		"outcomes": result.Outcomes,
	}).Info("sweep finished")
	return result, nil
}

func (r *TranslationReconciler) reconcile(ctx context.Context, t *model.Transaction, log *logrus.Entry) (Outcome, error) {
	video, err := r.videoRepo.GetByID(ctx, *t.VideoID)
	if err != nil {
		return OutcomeError, err
	}
	log = log.WithField("video_id", video.ID)

	if video.Status == model.VideoStatusCompleted {
		if video.TranslatedURL == nil {
			return OutcomeError, errors.New("completed video has no translated url")
		}
		return r.finalize(ctx, t, video, *video.TranslatedURL, log)
	}

	// A started job is always polled first so a finished output is never
	// discarded by the age bound.
	if video.JobID != nil {
		return r.checkJob(ctx, t, video, log)
	}
	if r.timedOut(t) {
		return r.failVideo(ctx, t, video, reasonTimedOut, log)
	}

	if video.Status == model.VideoStatusUploadPending {
		log.Info("paid video has no confirmed upload yet")
		return OutcomeWaiting, nil
	}
	return r.startJob(ctx, t, video, log)
}

const reasonTimedOut = "translation timed out"

func (r *TranslationReconciler) timedOut(t *model.Transaction) bool {
	return r.jobMaxAge > 0 && t.PaidAt != nil && r.now().Sub(*t.PaidAt) > r.jobMaxAge
}

func (r *TranslationReconciler) startJob(ctx context.Context, t *model.Transaction, video *model.Video, log *logrus.Entry) (Outcome, error) {
	if r.maxAttempts > 0 && video.JobAttempts >= r.maxAttempts {
		return r.failVideo(ctx, t, video, fmt.Sprintf("translation could not be started after %d attempts", video.JobAttempts), log)
	}
	if video.OriginalURL == nil || video.OutputLanguage == nil {
		log.Info("video is missing its source url or output language")
		return OutcomeWaiting, nil
	}

	now := r.now()
	claim := uuid.NewString()
	won, err := r.videoRepo.ClaimJob(ctx, video.ID, claim, now, now.Add(-r.claimTTL))
	if err != nil {
		return OutcomeError, fmt.Errorf("claim job: %w", err)
	}
	if !won {
		log.Debug("job start claimed by another sweep")
		return OutcomeSkipped, nil
	}

	jobID, err := r.translator.StartJob(ctx, *video.OriginalURL, *video.OutputLanguage)
	if err != nil {
		if releaseErr := r.videoRepo.ReleaseClaim(ctx, video.ID, claim, err.Error()); releaseErr != nil {
			log.WithError(releaseErr).Warn("release job claim")
		}
		return OutcomeError, fmt.Errorf("start translation job (attempt %d): %w", video.JobAttempts+1, err)
	}

	assigned, err := r.videoRepo.AssignJob(ctx, video.ID, claim, jobID)
	if err != nil {
		return OutcomeError, fmt.Errorf("assign job %s: %w", jobID, err)
	}
	if !assigned {
		// The claim expired and another sweep took over; this job is orphaned.
		log.WithField("job_id", jobID).Error("translation job started but claim was lost")
		return OutcomeError, errors.New("job claim lost")
	}

	r.enqueueBestEffort(ctx, EventTranslationStarted+":"+video.ID, model.TranslationEventPayload{
		Event:      EventTranslationStarted,
		VideoID:    video.ID,
		UniqueCode: t.UniqueCode,
		JobID:      jobID,
		OccurredAt: r.now(),
	}, log)

	log.WithField("job_id", jobID).Info("translation job started")
	return OutcomeStarted, nil
}

func (r *TranslationReconciler) checkJob(ctx context.Context, t *model.Transaction, video *model.Video, log *logrus.Entry) (Outcome, error) {
	log = log.WithField("job_id", *video.JobID)

	state, err := r.translator.GetJob(ctx, *video.JobID)
	if err != nil {
		if errors.Is(err, gateway.ErrJobNotFound) {
			return r.failVideo(ctx, t, video, "translation job not found at provider", log)
		}
		return OutcomeError, err
	}

	switch state.Status {
	case gateway.JobQueued, gateway.JobProcessing:
		if r.timedOut(t) {
			return r.failVideo(ctx, t, video, reasonTimedOut, log)
		}
		if err := r.videoRepo.MarkChecked(ctx, video.ID, r.now()); err != nil {
			log.WithError(err).Warn("record job poll")
		}
		if video.Status != model.VideoStatusProcessing {
			if err := r.videoRepo.UpdateStatus(ctx, video.ID, video.Status, model.VideoStatusProcessing); err != nil &&
				!errors.Is(err, repository.ErrStateConflict) {
				return OutcomeError, err
			}
		}
		return OutcomeInProgress, nil
	case gateway.JobFailed:
		reason := state.Error
		if reason == "" {
			reason = "translation failed at provider"
		}
		return r.failVideo(ctx, t, video, reason, log)
	case gateway.JobSuccess:
		return r.finalize(ctx, t, video, state.OutputURL, log)
	default:
		return OutcomeError, fmt.Errorf("unexpected job status %q", state.Status)
	}
}

// finalize completes the video and activates the transaction in one DB
// transaction. The notification is enqueued only by the caller whose
// activation update wins, under a unique outbox key.
func (r *TranslationReconciler) finalize(ctx context.Context, t *model.Transaction, video *model.Video, outputURL string, log *logrus.Entry) (Outcome, error) {
	now := r.now()
	var activated bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completed, err := r.videoRepo.Complete(ctx, tx, video.ID, outputURL, now)
		if err != nil {
			return err
		}
		if !completed && video.Status != model.VideoStatusCompleted {
			var current model.Video
			if err := tx.Select("status").Where("id = ?", video.ID).First(&current).Error; err != nil {
				return err
			}
			if current.Status != model.VideoStatusCompleted {
				return nil
			}
		}

		activated, err = r.txRepo.Activate(ctx, tx, t.ID, now)
		if err != nil || !activated {
			return err
		}

		language := ""
		if video.OutputLanguage != nil {
			language = *video.OutputLanguage
		}
		notify, err := model.NewOutboxMessage("notify:"+t.UniqueCode, model.TopicNotifyEmail, model.NotificationPayload{
			Email:         t.UserEmail,
			UniqueCode:    t.UniqueCode,
			TranslatedURL: outputURL,
			Language:      language,
		})
		if err != nil {
			return err
		}
		if _, err := r.outboxRepo.Create(ctx, tx, notify); err != nil {
			return err
		}

		event, err := model.NewOutboxMessage(EventTranslationCompleted+":"+video.ID, r.topic, model.TranslationEventPayload{
			Event:         EventTranslationCompleted,
			VideoID:       video.ID,
			UniqueCode:    t.UniqueCode,
			TranslatedURL: outputURL,
			OccurredAt:    now,
		})
		if err != nil {
			return err
		}
		_, err = r.outboxRepo.Create(ctx, tx, event)
		return err
	})
	if err != nil {
		return OutcomeError, fmt.Errorf("finalize translation: %w", err)
	}

	if !activated {
		log.Debug("translation already finalized")
		return OutcomeSkipped, nil
	}
	log.WithField("translated_url", outputURL).Info("translation completed, transaction activated")
	return OutcomeCompleted, nil
}

// failVideo parks the video as failed. The transaction stays paid and not
// activated so the order shows up for refund handling.
func (r *TranslationReconciler) failVideo(ctx context.Context, t *model.Transaction, video *model.Video, reason string, log *logrus.Entry) (Outcome, error) {
	var failed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		failed, err = r.videoRepo.Fail(ctx, tx, video.ID, reason)
		if err != nil || !failed {
			return err
		}
		jobID := ""
		if video.JobID != nil {
			jobID = *video.JobID
		}
		msg, err := model.NewOutboxMessage(EventTranslationFailed+":"+video.ID, r.topic, model.TranslationEventPayload{
			Event:      EventTranslationFailed,
			VideoID:    video.ID,
			UniqueCode: t.UniqueCode,
			JobID:      jobID,
			Reason:     reason,
			OccurredAt: r.now(),
		})
		if err != nil {
			return err
		}
		_, err = r.outboxRepo.Create(ctx, tx, msg)
		return err
	})
	if err != nil {
		return OutcomeError, fmt.Errorf("fail video: %w", err)
	}
	if !failed {
		log.WithField("status", video.Status).Debug("video already left a failable state")
		return OutcomeSkipped, nil
	}
	log.WithField("reason", reason).Warn("translation failed")
	return OutcomeFailed, nil
}

func (r *TranslationReconciler) enqueueBestEffort(ctx context.Context, key string, payload model.TranslationEventPayload, log *logrus.Entry) {
	msg, err := model.NewOutboxMessage(key, r.topic, payload)
	if err == nil {
		_, err = r.outboxRepo.Create(ctx, nil, msg)
	}
	if err != nil {
		log.WithError(err).Warn("enqueue translation event")
	}
}
