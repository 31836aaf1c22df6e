package main

import (
	"fmt"

	"lipdub/internal/config"
	"lipdub/internal/gateway"
	"lipdub/internal/infrastructure/cache"
	"lipdub/internal/infrastructure/database"
	"lipdub/internal/infrastructure/lock"
	"lipdub/internal/infrastructure/mq"
	"lipdub/internal/job"
	applog "lipdub/internal/logger"
	"lipdub/internal/repository"
	"lipdub/internal/service"
	"lipdub/internal/signer"
	"lipdub/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	redis   *redis.Client
	closers []func() error

	languages  *service.LanguageService
	uploads    *service.UploadService
	payments   *service.PaymentService
	reconciler *job.TranslationReconciler
	outbox     *job.OutboxSender
	cleanup    *job.UploadCleanupJob
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := applog.Init(cfg.Log); err != nil {
		return nil, err
	}
	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.db, err = database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := a.db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		a.redis, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.redis.Close)
		locker = lock.NewRedisLocker(a.redis)
	}

	var publisher mq.Publisher = mq.LogPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			a.Close()
			return nil, err
		}
		kp := mq.NewKafkaPublisher(producer)
		a.closers = append(a.closers, kp.Close)
		publisher = kp
	}

	payGateway, err := gateway.NewPaymentGateway(cfg.Payment)
	if err != nil {
		a.Close()
		return nil, err
	}
	translator, err := gateway.NewTranslator(cfg.Translation)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, err := gateway.NewNotifier(cfg.Notification)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.languages = service.NewLanguageService(repository.NewLanguageRepository(a.db), a.redis, cfg.Business.LanguageCacheTTL)
	a.uploads = service.NewUploadService(
		repository.NewVideoRepository(a.db),
		a.languages,
		signer.NewUploadSigner(cfg.Storage, nil),
		cfg.Storage,
		cfg.Business,
	)
	a.payments = service.NewPaymentService(a.db, payGateway, locker, cfg)
	a.reconciler = job.NewTranslationReconciler(a.db, translator, locker, cfg)
	a.outbox = job.NewOutboxSender(a.db, publisher, notifier, cfg)
	a.cleanup = job.NewUploadCleanupJob(a.db, cfg)

	applog.WithModule("app").WithField("payment", payGateway.Name()).
		WithField("translation", cfg.Translation.Provider).
		WithField("notification", cfg.Notification.Provider).
		Info("components wired")
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			applog.WithModule("app").WithError(fmt.Errorf("close: %w", err)).Warn("shutdown")
		}
	}
}
