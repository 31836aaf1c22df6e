package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lipdub/internal/gateway"
	"lipdub/internal/infrastructure/lock"
	"lipdub/internal/model"
	"lipdub/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unavailableTranslator struct {
	calls int
}

func (u *unavailableTranslator) StartJob(context.Context, string, string) (string, error) {
	u.calls++
	return "", errors.New("translator unavailable")
}

func (u *unavailableTranslator) GetJob(context.Context, string) (*gateway.JobState, error) {
	return nil, errors.New("translator unavailable")
}

func TestSweep_StartsOnceThenPolls(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(3)
	r := NewTranslationReconciler(db, translator, nil, testConfig())
	ctx := context.Background()

	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Outcomes[OutcomeStarted])

	_, video := reload(t, db, order)
	require.NotNil(t, video.JobID)
	assert.Equal(t, model.VideoStatusProcessing, video.Status)

	result, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeInProgress])
	assert.Equal(t, 1, translator.Starts())

	_, err = repository.NewOutboxRepository(db).GetByKey(ctx, EventTranslationStarted+":"+order.video.ID)
	assert.NoError(t, err)
}

func TestSweep_SuccessNotifiesExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(1)
	r := NewTranslationReconciler(db, translator, nil, testConfig())
	ctx := context.Background()

	_, err := r.Sweep(ctx)
	require.NoError(t, err)

	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeCompleted])

	tx, video := reload(t, db, order)
	assert.True(t, tx.IsActivated)
	assert.NotNil(t, tx.ActivatedAt)
	assert.Equal(t, model.VideoStatusCompleted, video.Status)
	require.NotNil(t, video.TranslatedURL)
	assert.Contains(t, *video.TranslatedURL, "/outputs/es/")

	for i := 0; i < 3; i++ {
		result, err = r.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.Scanned)
	}

	outbox := repository.NewOutboxRepository(db)
	n, err := outbox.CountByTopic(ctx, model.TopicNotifyEmail)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	msg, err := outbox.GetByKey(ctx, "notify:"+order.tx.UniqueCode)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Payload), "buyer@example.com")
}

func TestFinalize_RepeatedCallsActivateOnce(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	r := NewTranslationReconciler(db, gateway.NewFakeTranslator(1), nil, testConfig())
	ctx := context.Background()
	log := logrus.NewEntry(logrus.New())

	require.NoError(t, db.Model(&model.Video{}).Where("id = ?", order.video.ID).
		Updates(map[string]interface{}{"job_id": "job-1", "status": model.VideoStatusProcessing}).Error)
	_, video := reload(t, db, order)

	outcome, err := r.finalize(ctx, order.tx, video, "https://out.test/1.mp4", log)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	outcome, err = r.finalize(ctx, order.tx, video, "https://out.test/1.mp4", log)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	n, err := repository.NewOutboxRepository(db).CountByTopic(ctx, model.TopicNotifyEmail)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSweep_CompletedVideoWithInactiveTransactionIsActivated(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	require.NoError(t, db.Model(&model.Video{}).Where("id = ?", order.video.ID).Updates(map[string]interface{}{
		"job_id":         "job-1",
		"status":         model.VideoStatusCompleted,
		"translated_url": "https://out.test/1.mp4",
	}).Error)
	translator := gateway.NewFakeTranslator(1)
	r := NewTranslationReconciler(db, translator, nil, testConfig())

	result, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeCompleted])
	assert.Zero(t, translator.Starts())

	tx, _ := reload(t, db, order)
	assert.True(t, tx.IsActivated)
}

func TestSweep_ConcurrentReconcilersStartOneJob(t *testing.T) {
	db := newTestDB(t)
	seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(5)
	cfg := testConfig()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		r := NewTranslationReconciler(db, translator, nil, cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Sweep(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, translator.Starts())
}

func TestSweep_ProviderFailureFailsVideo(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(5)
	r := NewTranslationReconciler(db, translator, nil, testConfig())
	ctx := context.Background()

	_, err := r.Sweep(ctx)
	require.NoError(t, err)
	_, video := reload(t, db, order)
	translator.Fail(*video.JobID)

	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeFailed])

	tx, video := reload(t, db, order)
	assert.Equal(t, model.VideoStatusFailed, video.Status)
	assert.True(t, tx.IsPaid)
	assert.False(t, tx.IsActivated)

	_, err = repository.NewOutboxRepository(db).GetByKey(ctx, EventTranslationFailed+":"+order.video.ID)
	assert.NoError(t, err)

	result, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
}

func TestSweep_UnknownJobFailsVideo(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	require.NoError(t, db.Model(&model.Video{}).Where("id = ?", order.video.ID).
		Updates(map[string]interface{}{"job_id": "lost-job", "status": model.VideoStatusProcessing}).Error)
	r := NewTranslationReconciler(db, gateway.NewFakeTranslator(1), nil, testConfig())

	result, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeFailed])
}

func TestSweep_GivesUpAfterMaxStartAttempts(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := &unavailableTranslator{}
	cfg := testConfig()
	r := NewTranslationReconciler(db, translator, nil, cfg)
	ctx := context.Background()

	for i := 0; i < cfg.Business.MaxStartAttempts; i++ {
		result, err := r.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Outcomes[OutcomeError])
	}

	_, video := reload(t, db, order)
	assert.Equal(t, cfg.Business.MaxStartAttempts, video.JobAttempts)
	assert.Nil(t, video.JobClaim)
	require.NotNil(t, video.LastError)

	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeFailed])
	assert.Equal(t, cfg.Business.MaxStartAttempts, translator.calls)

	_, video = reload(t, db, order)
	assert.Equal(t, model.VideoStatusFailed, video.Status)
}

func TestSweep_TimesOutStaleOrders(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(1)
	r := NewTranslationReconciler(db, translator, nil, testConfig())
	r.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }

	result, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeFailed])
	assert.Zero(t, translator.Starts())

	_, video := reload(t, db, order)
	assert.Equal(t, "translation timed out", *video.LastError)
}

func TestSweep_AgedOrderWithFinishedJobIsActivated(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(1)
	r := NewTranslationReconciler(db, translator, nil, testConfig())
	ctx := context.Background()

	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Outcomes[OutcomeStarted])

	r.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	result, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeCompleted])
	assert.Zero(t, result.Outcomes[OutcomeFailed])

	tx, video := reload(t, db, order)
	assert.True(t, tx.IsActivated)
	assert.Equal(t, model.VideoStatusCompleted, video.Status)
	assert.Nil(t, video.LastError)
}

func TestSweep_AgedOrderStillProcessingTimesOut(t *testing.T) {
	db := newTestDB(t)
	order := seedPaidOrder(t, db, model.VideoStatusUploaded)
	translator := gateway.NewFakeTranslator(10)
	r := NewTranslationReconciler(db, translator, nil, testConfig())
	ctx := context.Background()

	_, err := r.Sweep(ctx)
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeFailed])

	tx, video := reload(t, db, order)
	assert.False(t, tx.IsActivated)
	assert.Equal(t, model.VideoStatusFailed, video.Status)
	assert.Equal(t, "translation timed out", *video.LastError)
}

func TestSweep_WaitsForUpload(t *testing.T) {
	db := newTestDB(t)
	seedPaidOrder(t, db, model.VideoStatusUploadPending)
	translator := gateway.NewFakeTranslator(1)
	r := NewTranslationReconciler(db, translator, nil, testConfig())

	result, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeWaiting])
	assert.Zero(t, translator.Starts())
}

func TestSweep_SkipsWhileAnotherSweepHoldsLease(t *testing.T) {
	db := newTestDB(t)
	seedPaidOrder(t, db, model.VideoStatusUploaded)
	locker := lock.NewLocalLocker()
	cfg := testConfig()
	cfg.Business.ReconcileLease = true
	translator := gateway.NewFakeTranslator(1)
	r := NewTranslationReconciler(db, translator, locker, cfg)
	ctx := context.Background()

	held := locker.NewLock(lock.SweepLeaseKey, "other-replica", time.Minute)
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
	assert.Zero(t, translator.Starts())

	require.NoError(t, held.Unlock(ctx))
	result, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeStarted])
}

func TestReconciler_StopEndsLoop(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	cfg.Business.ReconcileInterval = 10 * time.Millisecond
	r := NewTranslationReconciler(db, gateway.NewFakeTranslator(1), nil, cfg)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
