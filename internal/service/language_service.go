package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	applog "lipdub/internal/logger"
	"lipdub/internal/model"
	"lipdub/internal/repository"

	"github.com/go-redis/redis/v8"
)

const activeLanguagesCacheKey = "languages:active"

// LanguageService serves the translation target catalog. Reads go through
// redis when a client is configured; any cache failure falls back to the
// database.
type LanguageService struct {
	repo  *repository.LanguageRepository
	cache *redis.Client
	ttl   time.Duration
}

func NewLanguageService(repo *repository.LanguageRepository, cache *redis.Client, ttl time.Duration) *LanguageService {
	return &LanguageService{repo: repo, cache: cache, ttl: ttl}
}

func (s *LanguageService) ListActive(ctx context.Context) ([]*model.Language, error) {
	if langs, ok := s.fromCache(ctx); ok {
		return langs, nil
	}

	langs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, classify("list languages", err)
	}
	s.store(ctx, langs)
	return langs, nil
}

// Validate reports ErrValidation unless isoCode is an active catalog entry.
func (s *LanguageService) Validate(ctx context.Context, isoCode string) error {
	langs, err := s.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, l := range langs {
		if l.ISOCode == isoCode {
			return nil
		}
	}
	return validationError("unsupported output language %q", isoCode)
}

// Invalidate drops the cached catalog.
func (s *LanguageService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, activeLanguagesCacheKey).Err()
}

func (s *LanguageService) fromCache(ctx context.Context) ([]*model.Language, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, err := s.cache.Get(ctx, activeLanguagesCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			applog.WithContext(ctx).WithError(err).Warn("language cache read failed")
		}
		return nil, false
	}

	var langs []*model.Language
	if err := json.Unmarshal(raw, &langs); err != nil {
		applog.WithContext(ctx).WithError(err).Warn("language cache entry is corrupt")
		return nil, false
	}
	return langs, true
}

func (s *LanguageService) store(ctx context.Context, langs []*model.Language) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(langs)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, activeLanguagesCacheKey, raw, s.ttl).Err(); err != nil {
		applog.WithContext(ctx).WithError(err).Warn("language cache write failed")
	}
}
