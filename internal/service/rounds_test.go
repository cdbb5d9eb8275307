package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BBrian11/reportes-sub000/internal/config"
	"github.com/BBrian11/reportes-sub000/internal/consumer"
	"github.com/BBrian11/reportes-sub000/internal/models"
	"github.com/BBrian11/reportes-sub000/internal/repository"
	"github.com/BBrian11/reportes-sub000/internal/resolver"
	"github.com/BBrian11/reportes-sub000/internal/session"
)

type fakeRoundsRepo struct {
	mu        sync.Mutex
	created   []*models.Round
	snapshots []*models.Round
	finalized []*models.Round
	active    *models.Round
}

func (f *fakeRoundsRepo) CreateRound(ctx context.Context, round *models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, round)
	return nil
}

func (f *fakeRoundsRepo) UpdateSnapshot(ctx context.Context, round *models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, round)
	return nil
}

func (f *fakeRoundsRepo) FinalizeRound(ctx context.Context, round *models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, round)
	return nil
}

func (f *fakeRoundsRepo) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeRoundsRepo) GetActiveRound(ctx context.Context, operator string) (*models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeRoundsRepo) LatestFinalizedRecords(ctx context.Context, subjectKey string) ([]models.HistoricalCameraRecord, error) {
	return nil, nil
}

type fakeNotationsRepo struct {
	mu      sync.Mutex
	created []*models.Notation
}

func (f *fakeNotationsRepo) CreateNotation(ctx context.Context, n *models.Notation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotationsRepo) ListRecent(ctx context.Context, subjectKey string, limit int) ([]models.Notation, error) {
	return nil, nil
}

func (f *fakeNotationsRepo) LatestRecords(ctx context.Context, subjectKey string, limit int) ([]models.HistoricalCameraRecord, error) {
	return nil, nil
}

type fakeCatalogRepo struct {
	subjects []string
}

func (f *fakeCatalogRepo) ListRiskSubjects(ctx context.Context) ([]string, error) {
	return f.subjects, nil
}

func setupService(t *testing.T) (*miniredis.Miniredis, *redis.Client, *fakeRoundsRepo, *fakeNotationsRepo, *RoundsService) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Rounds.SlotCount = 64
	cfg.Rounds.ShiftDuration = 12 * time.Hour
	cfg.Rounds.MinCameras = 0
	cfg.Rounds.MaxTandas = 20
	cfg.Rounds.PlanSubjects = 2
	cfg.Rounds.AutosaveEvery = 30 * time.Second
	cfg.Cache.IndexKeyPrefix = "rondin:index:"
	cfg.Cache.IndexStream = "rondin:events:index"
	cfg.Cache.NotationStream = "rondin:events:notations"
	cfg.Cache.RoundStream = "rondin:events:rounds"
	cfg.Cache.SlotStream = "rondin:events:slots"
	cfg.Cache.ConsumerGroup = "rondin-resolver"
	cfg.Notify.TopicPrefix = "rondin"

	rounds := &fakeRoundsRepo{}
	notations := &fakeNotationsRepo{}
	catalog := &fakeCatalogRepo{subjects: []string{"Edificio Núñez", "Torre Sur", "Depósito Oeste"}}
	index := repository.NewRedisIndexRepository(client, cfg.Cache.IndexKeyPrefix)

	svc := &RoundsService{
		config:        cfg,
		redisClient:   client,
		logger:        zap.NewNop(),
		roundsRepo:    rounds,
		notationsRepo: notations,
		catalogRepo:   catalog,
		indexRepo:     index,
		sessions:      make(map[string]*session.Session),
	}
	svc.resolver = resolver.New(svc.onMergedView, svc.logger)
	svc.feed = consumer.NewResolverFeed(cfg, client, rounds, notations, index, svc.resolver, svc.logger)

	return mr, client, rounds, notations, svc
}

func answeredTanda(subject string) *models.Tanda {
	yes, no := true, false
	tanda := models.NewTanda(subject)
	tanda.Cameras[0].Status = models.StatusOK
	tanda.Cameras[0].Touched = true
	tanda.Checklist.RecordingsOK = &yes
	tanda.Checklist.PowerCutsDetected = &no
	tanda.Checklist.DeviceOffline = &no
	tanda.Checklist.DeviceClockOK = &yes
	return tanda
}

func TestPlanRound_SamplesCatalog(t *testing.T) {
	_, _, rounds, _, svc := setupService(t)

	sess, err := svc.PlanRound(context.Background(), "operador1", "noche")

	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Len(t, sess.Round().Tandas, 2)
	require.Len(t, rounds.created, 1)

	// 抽中的客户必须来自名录
	valid := map[string]bool{"Edificio Núñez": true, "Torre Sur": true, "Depósito Oeste": true}
	for _, tanda := range sess.Round().Tandas {
		assert.True(t, valid[tanda.Subject], "unexpected subject %q", tanda.Subject)
	}
}

func TestPlanRound_EmptyCatalog(t *testing.T) {
	_, _, _, _, svc := setupService(t)
	svc.catalogRepo = &fakeCatalogRepo{}

	_, err := svc.PlanRound(context.Background(), "operador1", "noche")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "catalog is empty")
}

func TestSetStatus_PublishesIndexEvent(t *testing.T) {
	_, client, _, _, svc := setupService(t)
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, "operador1", "noche")
	require.NoError(t, err)

	tanda, err := sess.AddTanda("Edificio Núñez")
	require.NoError(t, err)

	err = svc.SetStatus(ctx, "operador1", tanda.ID, tanda.Cameras[0].ID, models.StatusSevere)
	require.NoError(t, err)

	count, err := client.XLen(ctx, "rondin:events:index").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// 清单已回答、最后一路摄像头确认后，客户组完成 → 通知流一条完成事件
func TestSetStatus_CompletionPublishesNotification(t *testing.T) {
	_, client, _, _, svc := setupService(t)
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, "operador1", "noche")
	require.NoError(t, err)

	// 清单已回答，两路摄像头都未确认
	tanda := answeredTanda("Edificio Núñez")
	tanda.Cameras[0].Status = models.StatusUnset
	tanda.Cameras[0].Touched = false
	tanda.Cameras = append(tanda.Cameras, &models.CameraEntry{ID: "cam-extra-2", Channel: 2})
	require.NoError(t, sess.SetTandas([]*models.Tanda{tanda}))

	// 还剩一路未确认，不发完成事件
	require.NoError(t, svc.SetStatus(ctx, "operador1", tanda.ID, tanda.Cameras[0].ID, models.StatusMedium))
	count, err := client.XLen(ctx, "rondin:events:slots").Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	// 最后一路确认 → 客户组完成
	require.NoError(t, svc.SetStatus(ctx, "operador1", tanda.ID, tanda.Cameras[1].ID, models.StatusOK))

	count, err = client.XLen(ctx, "rondin:events:slots").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 已完成的客户组再改状态不重复广播
	require.NoError(t, svc.SetStatus(ctx, "operador1", tanda.ID, tanda.Cameras[0].ID, models.StatusSevere))
	count, err = client.XLen(ctx, "rondin:events:slots").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSetStatus_NoSession(t *testing.T) {
	_, _, _, _, svc := setupService(t)

	err := svc.SetStatus(context.Background(), "desconocido", "t", "c", models.StatusOK)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no active session")
}

func TestAddNotation_ParsesChannelFromText(t *testing.T) {
	_, client, _, notations, svc := setupService(t)
	ctx := context.Background()

	notation, err := svc.AddNotation(ctx, "Edificio Núñez", 0, "corte", "cámara canal 7 sin señal", models.StatusMedium)

	require.NoError(t, err)
	assert.Equal(t, "EDIFICIO NUNEZ", notation.SubjectKey)
	assert.Equal(t, 7, notation.Channel)
	require.Len(t, notations.created, 1)

	count, err := client.XLen(ctx, "rondin:events:notations").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFinalize_PersistsAndBroadcasts(t *testing.T) {
	_, client, rounds, _, svc := setupService(t)
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, "operador1", "noche")
	require.NoError(t, err)

	require.NoError(t, sess.SetTandas([]*models.Tanda{
		answeredTanda("Edificio Núñez"),
		answeredTanda("Torre Sur"),
	}))
	require.NoError(t, sess.Start(ctx))

	err = svc.Finalize(ctx, "operador1")
	require.NoError(t, err)

	require.Len(t, rounds.finalized, 1)
	assert.Equal(t, models.RoundCompleted, rounds.finalized[0].Status)

	// 每个客户一条完成事件
	count, err := client.XLen(ctx, "rondin:events:rounds").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 会话已归档
	assert.Nil(t, svc.Session("operador1"))
}

func TestResumeActive_RestoresSession(t *testing.T) {
	_, _, rounds, _, svc := setupService(t)
	ctx := context.Background()

	start := time.Now().Add(-30 * time.Minute)
	round := models.NewRound("operador1", "noche")
	round.Status = models.RoundRunning
	round.StartTime = &start
	round.Tandas = []*models.Tanda{answeredTanda("Edificio Núñez")}
	rounds.active = round

	sess, err := svc.ResumeActive(ctx, "operador1")

	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, models.RoundRunning, sess.Status())
	assert.Same(t, sess, svc.Session("operador1"))
}

func TestResumeActive_NothingToResume(t *testing.T) {
	_, _, _, _, svc := setupService(t)

	sess, err := svc.ResumeActive(context.Background(), "operador1")

	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestAutosave_SnapshotsActiveSessions(t *testing.T) {
	_, _, rounds, _, svc := setupService(t)
	ctx := context.Background()

	_, err := svc.OpenSession(ctx, "operador1", "noche")
	require.NoError(t, err)

	svc.autosave(ctx)

	rounds.mu.Lock()
	defer rounds.mu.Unlock()
	assert.Len(t, rounds.snapshots, 1)
}
