package service

import (
	"context"
	"testing"

	"lipdub/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLanguageService_CachesCatalog(t *testing.T) {
	mr, client := newRedis(t)
	f := newFixture(t, client)
	ctx := context.Background()

	langs, err := f.languages.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, langs, len(model.DefaultLanguages))
	assert.True(t, mr.Exists(activeLanguagesCacheKey))

	require.NoError(t, f.db.Model(&model.Language{}).Where("iso_code = ?", "es").Update("is_active", false).Error)

	assert.NoError(t, f.languages.Validate(ctx, "es"), "served from cache")

	require.NoError(t, f.languages.Invalidate(ctx))
	assert.ErrorIs(t, f.languages.Validate(ctx, "es"), ErrValidation)
}

func TestLanguageService_FallsBackWhenCacheIsDown(t *testing.T) {
	mr, client := newRedis(t)
	f := newFixture(t, client)
	mr.Close()

	langs, err := f.languages.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, langs, len(model.DefaultLanguages))
}

func TestLanguageService_IgnoresCorruptEntry(t *testing.T) {
	mr, client := newRedis(t)
	f := newFixture(t, client)
	require.NoError(t, mr.Set(activeLanguagesCacheKey, "{not json"))

	require.NoError(t, f.languages.Validate(context.Background(), "ja"))
}

func TestLanguageService_WithoutCache(t *testing.T) {
	f := newFixture(t, nil)

	assert.NoError(t, f.languages.Validate(context.Background(), "zh"))
	assert.ErrorIs(t, f.languages.Validate(context.Background(), "klingon"), ErrValidation)
	assert.NoError(t, f.languages.Invalidate(context.Background()))
}
