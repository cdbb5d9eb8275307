package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BBrian11/reportes-sub000/common/database"
	mqttcommon "github.com/BBrian11/reportes-sub000/common/mqtt"
	rediscommon "github.com/BBrian11/reportes-sub000/common/redis"
	"github.com/BBrian11/reportes-sub000/internal/config"
	"github.com/BBrian11/reportes-sub000/internal/consumer"
	"github.com/BBrian11/reportes-sub000/internal/models"
	"github.com/BBrian11/reportes-sub000/internal/repository"
	"github.com/BBrian11/reportes-sub000/internal/resolver"
	"github.com/BBrian11/reportes-sub000/internal/scheduler"
	"github.com/BBrian11/reportes-sub000/internal/session"
)

// RoundsService 巡检轮次服务（整合各层）
// 每个操作员最多持有一个活动会话
type RoundsService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	roundsRepo    repository.RoundsRepository
	notationsRepo repository.NotationsRepository
	catalogRepo   repository.CatalogRepository
	indexRepo     *repository.RedisIndexRepository
	resolver      *resolver.Resolver
	feed          *consumer.ResolverFeed

	mu       sync.Mutex
	sessions map[string]*session.Session // operator → 活动会话
}

// NewRoundsService 创建巡检轮次服务
func NewRoundsService(cfg *config.Config, logger *zap.Logger) (*RoundsService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	ctx := context.Background()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（可选，未配置 broker 时跳过）
	var mqttClient *mqttcommon.Client
	if cfg.Notify.Enabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	// 4. 创建 Repository 层
	roundsRepo := repository.NewPostgresRoundsRepository(db)
	notationsRepo := repository.NewPostgresNotationsRepository(db)
	catalogRepo := repository.NewPostgresCatalogRepository(db)
	indexRepo := repository.NewRedisIndexRepository(redisClient, cfg.Cache.IndexKeyPrefix)

	s := &RoundsService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		mqttClient:    mqttClient,
		logger:        logger,
		roundsRepo:    roundsRepo,
		notationsRepo: notationsRepo,
		catalogRepo:   catalogRepo,
		indexRepo:     indexRepo,
		sessions:      make(map[string]*session.Session),
	}

	// 5. 创建归并器和数据源消费者
	s.resolver = resolver.New(s.onMergedView, logger)
	s.feed = consumer.NewResolverFeed(cfg, redisClient, roundsRepo, notationsRepo, indexRepo, s.resolver, logger)

	return s, nil
}

// Start 启动服务：数据源消费者 + 自动保存循环
func (s *RoundsService) Start(ctx context.Context) error {
	s.logger.Info("Starting rounds service",
		zap.Int("slot_count", s.config.Rounds.SlotCount),
		zap.Duration("shift", s.config.Rounds.ShiftDuration),
		zap.Bool("notify_enabled", s.config.Notify.Enabled),
	)

	feedErrChan := make(chan error, 1)
	go func() {
		if err := s.feed.Start(ctx); err != nil {
			feedErrChan <- err
		}
	}()

	ticker := time.NewTicker(s.config.Rounds.AutosaveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedErrChan:
			return fmt.Errorf("resolver feed failed: %w", err)
		case <-ticker.C:
			s.autosave(ctx)
		}
	}
}

// Stop 停止服务
func (s *RoundsService) Stop() error {
	s.logger.Info("Stopping rounds service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	return nil
}

// Resolver 历史状态归并器（展示层查询用）
func (s *RoundsService) Resolver() *resolver.Resolver { return s.resolver }

// Session 操作员当前的活动会话，没有则返回 nil
func (s *RoundsService) Session(operator string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[operator]
}

// OpenSession 为操作员创建空白会话（单客户起步，可继续添加）
func (s *RoundsService) OpenSession(ctx context.Context, operator, shift string) (*session.Session, error) {
	if operator == "" {
		return nil, session.ErrNoOperator
	}

	sess := session.New(operator, shift, s.sessionOptions(operator), s.storeFor(), s.indexRepo, s.logger)

	s.mu.Lock()
	s.sessions[operator] = sess
	s.mu.Unlock()

	if err := s.roundsRepo.CreateRound(ctx, sess.Snapshot()); err != nil {
		s.logger.Warn("Failed to persist round draft",
			zap.String("operator", operator),
			zap.Error(err),
		)
	}

	return sess, nil
}

// PlanRound 自动规划一轮：从风险名录随机抽取客户生成 tandas
// 抽取用洗牌后取前 N，名录不足 N 个时全部纳入
func (s *RoundsService) PlanRound(ctx context.Context, operator, shift string) (*session.Session, error) {
	subjects, err := s.catalogRepo.ListRiskSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk subjects: %w", err)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("risk catalog is empty")
	}

	rand.Shuffle(len(subjects), func(i, j int) {
		subjects[i], subjects[j] = subjects[j], subjects[i]
	})
	count := s.config.Rounds.PlanSubjects
	if count <= 0 || count > len(subjects) {
		count = len(subjects)
	}

	sess, err := s.OpenSession(ctx, operator, shift)
	if err != nil {
		return nil, err
	}

	tandas := make([]*models.Tanda, 0, count)
	for _, subject := range subjects[:count] {
		tandas = append(tandas, models.NewTanda(subject))
	}
	if err := sess.SetTandas(tandas); err != nil {
		return nil, err
	}

	// 预加载抽中客户的历史状态
	for _, key := range sess.Round().SubjectKeys() {
		s.feed.Prime(ctx, key)
	}

	s.logger.Info("Round planned",
		zap.String("operator", operator),
		zap.String("round_id", sess.Round().RoundID),
		zap.Int("subjects", count),
	)

	return sess, nil
}

// ResumeActive 恢复操作员上一次未完成的轮次（进程重启后续跑）
// 没有未完成轮次时返回 nil
func (s *RoundsService) ResumeActive(ctx context.Context, operator string) (*session.Session, error) {
	round, err := s.roundsRepo.GetActiveRound(ctx, operator)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, nil
	}

	sess := session.New(operator, round.Shift, s.sessionOptions(operator), s.storeFor(), s.indexRepo, s.logger)
	if err := sess.ResumeFrom(round); err != nil {
		return nil, fmt.Errorf("failed to resume round %s: %w", round.RoundID, err)
	}

	s.mu.Lock()
	s.sessions[operator] = sess
	s.mu.Unlock()

	for _, key := range round.SubjectKeys() {
		s.feed.Prime(ctx, key)
	}

	s.logger.Info("Round resumed",
		zap.String("operator", operator),
		zap.String("round_id", round.RoundID),
		zap.String("status", string(round.Status)),
	)

	return sess, nil
}

// SetStatus 更新摄像头状态并广播索引变更事件
// 这次变更使客户组转为完成时，向通知流广播一条完成事件
func (s *RoundsService) SetStatus(ctx context.Context, operator, tandaID, cameraID string, status models.CameraStatus) error {
	sess := s.Session(operator)
	if sess == nil {
		return fmt.Errorf("no active session for %s", operator)
	}

	round := sess.Round()
	tanda := round.FindTanda(tandaID)
	wasComplete := tanda != nil && tanda.Complete()

	if err := sess.SetStatus(ctx, tandaID, cameraID, status); err != nil {
		return err
	}
	if tanda == nil {
		return nil
	}

	s.publishSubjectEvent(ctx, s.config.Cache.IndexStream, models.NormalizeSubject(tanda.Subject), round.RoundID)

	if !wasComplete && tanda.Complete() {
		s.announceTandaComplete(operator, round, tanda)
	}

	return nil
}

// announceTandaComplete 客户组完成通知：通知流 + MQTT
func (s *RoundsService) announceTandaComplete(operator string, round *models.Round, tanda *models.Tanda) {
	payload := map[string]interface{}{
		"event":           "subject-completed",
		"operator":        operator,
		"round_id":        round.RoundID,
		"tanda_id":        tanda.ID,
		"subject":         tanda.Subject,
		"next_incomplete": round.NextIncomplete(-1),
		"completed_at":    time.Now().Unix(),
	}

	s.logger.Info("Tanda completed",
		zap.String("operator", operator),
		zap.String("subject", tanda.Subject),
	)

	s.notify(fmt.Sprintf("%s/%s/subject-completed", s.config.Notify.TopicPrefix, operator), payload)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, s.config.Cache.SlotStream, payload); err != nil {
		s.logger.Error("Failed to publish completion event",
			zap.String("subject", tanda.Subject),
			zap.Error(err),
		)
	}
}

// AddNotation 登记一条手工记录并广播事件
// 未提供通道号时从文本解析
func (s *RoundsService) AddNotation(ctx context.Context, subject string, channel int, event, text string, status models.CameraStatus) (*models.Notation, error) {
	subjectKey := models.NormalizeSubject(subject)
	if subjectKey == "" {
		return nil, fmt.Errorf("notation needs a subject")
	}
	if channel <= 0 {
		channel = models.ChannelFromText(text)
	}

	notation := &models.Notation{
		ID:         uuid.New().String(),
		SubjectKey: subjectKey,
		Channel:    channel,
		Event:      event,
		Text:       text,
		Status:     status,
		CreatedAt:  time.Now(),
	}

	if err := s.notationsRepo.CreateNotation(ctx, notation); err != nil {
		return nil, err
	}

	s.publishSubjectEvent(ctx, s.config.Cache.NotationStream, subjectKey, "")
	return notation, nil
}

// Finalize 完成操作员的轮次：校验、持久化、广播完成事件
func (s *RoundsService) Finalize(ctx context.Context, operator string) error {
	sess := s.Session(operator)
	if sess == nil {
		return fmt.Errorf("no active session for %s", operator)
	}

	if err := sess.Finalize(ctx); err != nil {
		// 索引降级不阻断完成，但要让调用方知道
		var degraded *session.DegradedError
		if !errors.As(err, &degraded) {
			return err
		}
		s.logger.Warn("Round completed with degraded index",
			zap.String("operator", operator),
			zap.Error(degraded),
		)
	}

	round := sess.Round()
	for _, key := range round.SubjectKeys() {
		s.publishSubjectEvent(ctx, s.config.Cache.RoundStream, key, round.RoundID)
	}
	s.notify(fmt.Sprintf("%s/%s/round-completed", s.config.Notify.TopicPrefix, operator), round)

	s.mu.Lock()
	delete(s.sessions, operator)
	s.mu.Unlock()

	s.logger.Info("Round finalized",
		zap.String("operator", operator),
		zap.String("round_id", round.RoundID),
		zap.Int64("duration_ms", round.DurationMs),
	)

	return nil
}

// sessionOptions 会话参数，时段到期出口绑定操作员
func (s *RoundsService) sessionOptions(operator string) session.Options {
	return session.Options{
		SlotCount:     s.config.Rounds.SlotCount,
		ShiftDuration: s.config.Rounds.ShiftDuration,
		MinCameras:    s.config.Rounds.MinCameras,
		MaxTandas:     s.config.Rounds.MaxTandas,
		PauseAware:    s.config.Rounds.PauseAware,
		SlotSink: func(due scheduler.SlotDue) {
			s.onSlotDue(operator, due)
		},
	}
}

// storeFor 会话持久化边界的仓储适配
func (s *RoundsService) storeFor() session.RoundStore {
	return &roundStoreAdapter{repo: s.roundsRepo}
}

// onSlotDue 时段到期：记日志、MQTT 通知、写事件流
// 在定时器协程里跑，不能阻塞太久
func (s *RoundsService) onSlotDue(operator string, due scheduler.SlotDue) {
	s.logger.Info("Slot due",
		zap.String("operator", operator),
		zap.Int("slot_index", due.SlotIndex),
		zap.Strings("subjects", due.Subjects),
	)

	payload := map[string]interface{}{
		"operator":   operator,
		"slot_index": due.SlotIndex,
		"subjects":   due.Subjects,
		"due_at":     time.Now().Unix(),
	}
	s.notify(fmt.Sprintf("%s/%s/slot-due", s.config.Notify.TopicPrefix, operator), payload)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, s.config.Cache.SlotStream, payload); err != nil {
		s.logger.Error("Failed to publish slot event",
			zap.Int("slot_index", due.SlotIndex),
			zap.Error(err),
		)
	}
}

// onMergedView 归并视图更新回调，目前只记调试日志
func (s *RoundsService) onMergedView(view resolver.MergedView) {
	s.logger.Debug("Merged view updated",
		zap.String("subject", view.SubjectKey),
		zap.Int("channels", len(view.Records)),
	)
}

// autosave 周期快照全部活动会话
func (s *RoundsService) autosave(ctx context.Context) {
	s.mu.Lock()
	active := make(map[string]*session.Session, len(s.sessions))
	for op, sess := range s.sessions {
		active[op] = sess
	}
	s.mu.Unlock()

	for op, sess := range active {
		if sess.Status() == models.RoundCompleted {
			continue
		}
		if err := s.roundsRepo.UpdateSnapshot(ctx, sess.Snapshot()); err != nil {
			s.logger.Error("Autosave failed",
				zap.String("operator", op),
				zap.Error(err),
			)
		}
	}
}

// publishSubjectEvent 向事件流广播客户变更
func (s *RoundsService) publishSubjectEvent(ctx context.Context, stream, subjectKey, roundID string) {
	event := consumer.SubjectEvent{SubjectKey: subjectKey, RoundID: roundID}
	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, stream, event); err != nil {
		s.logger.Error("Failed to publish subject event",
			zap.String("stream", stream),
			zap.String("subject", subjectKey),
			zap.Error(err),
		)
	}
}

// notify 发送 MQTT 通知，未启用时为 no-op
func (s *RoundsService) notify(topic string, payload interface{}) {
	if s.mqttClient == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}
	if err := s.mqttClient.Publish(topic, s.config.MQTT.QoS, false, data); err != nil {
		s.logger.Error("Failed to publish notification",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// roundStoreAdapter 把仓储适配成会话的持久化边界
type roundStoreAdapter struct {
	repo repository.RoundsRepository
}

func (a *roundStoreAdapter) SaveSnapshot(ctx context.Context, round *models.Round) error {
	return a.repo.UpdateSnapshot(ctx, round)
}

func (a *roundStoreAdapter) Finalize(ctx context.Context, round *models.Round) error {
	return a.repo.FinalizeRound(ctx, round)
}
