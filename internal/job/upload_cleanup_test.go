package job

import (
	"context"
	"testing"
	"time"

	"lipdub/internal/model"
	"lipdub/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbandonExpired(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewVideoRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	create := func(status string, expiresAt time.Time) string {
		id := uuid.NewString()
		require.NoError(t, repo.Create(ctx, &model.Video{
			ID:            id,
			CorrelationID: "c-" + id,
			FileName:      "a.mp4",
			ContentType:   "video/mp4",
			StorageKey:    "uploads/" + id + "/a.mp4",
			Status:        status,
			SlotExpiresAt: expiresAt,
		}))
		return id
	}
	expired := create(model.VideoStatusUploadPending, now.Add(-time.Minute))
	open := create(model.VideoStatusUploadPending, now.Add(time.Minute))
	confirmed := create(model.VideoStatusUploaded, now.Add(-time.Minute))

	j := NewUploadCleanupJob(db, testConfig())
	assert.Equal(t, 1, j.AbandonExpired(ctx))
	assert.Zero(t, j.AbandonExpired(ctx))

	for id, want := range map[string]string{
		expired:   model.VideoStatusAbandoned,
		open:      model.VideoStatusUploadPending,
		confirmed: model.VideoStatusUploaded,
	} {
		v, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, v.Status)
	}
}
