package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/BBrian11/reportes-sub000/common/redis"
	"github.com/BBrian11/reportes-sub000/internal/config"
	"github.com/BBrian11/reportes-sub000/internal/models"
	"github.com/BBrian11/reportes-sub000/internal/repository"
	"github.com/BBrian11/reportes-sub000/internal/resolver"
)

// SubjectEvent 流上的事件载荷，三条流共用同一形态
type SubjectEvent struct {
	SubjectKey string `json:"subject_key"`
	RoundID    string `json:"round_id,omitempty"`
}

// Metrics 消费侧监控指标
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数

	ErrorsParse int64 // 解析错误
	ErrorsFetch int64 // 来源查询错误

	LastProcessTime time.Time
	StartTime       time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed: m.MessagesProcessed,
		MessagesSucceeded: m.MessagesSucceeded,
		MessagesFailed:    m.MessagesFailed,
		ErrorsParse:       m.ErrorsParse,
		ErrorsFetch:       m.ErrorsFetch,
		LastProcessTime:   m.LastProcessTime,
		StartTime:         m.StartTime,
	}
}

func (m *Metrics) incrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

func (m *Metrics) incrementSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.LastProcessTime = time.Now()
}

func (m *Metrics) incrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "fetch":
		m.ErrorsFetch++
	}
}

// ResolverFeed Redis Streams 消费者
// 监听三条事件流，把对应来源的最新记录推给归并器：
//   - 索引更新流   → PersistedIndex
//   - 人工记录流   → ManualNotation
//   - 轮次完成流   → FinalizedRound
//
// 某个来源查询失败时只标记该来源失败，不影响其它来源的归并结果
type ResolverFeed struct {
	config      *config.Config
	redisClient *redis.Client
	rounds      repository.RoundsRepository
	notations   repository.NotationsRepository
	index       *repository.RedisIndexRepository
	resolver    *resolver.Resolver
	logger      *zap.Logger
	metrics     *Metrics

	consumerName  string
	notationLimit int
}

// NewResolverFeed 创建归并器数据源消费者
func NewResolverFeed(
	cfg *config.Config,
	redisClient *redis.Client,
	rounds repository.RoundsRepository,
	notations repository.NotationsRepository,
	index *repository.RedisIndexRepository,
	res *resolver.Resolver,
	logger *zap.Logger,
) *ResolverFeed {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "rondin-resolver"
	}

	return &ResolverFeed{
		config:        cfg,
		redisClient:   redisClient,
		rounds:        rounds,
		notations:     notations,
		index:         index,
		resolver:      res,
		logger:        logger,
		metrics:       &Metrics{StartTime: time.Now()},
		consumerName:  hostname,
		notationLimit: 50,
	}
}

// Metrics 当前指标快照
func (f *ResolverFeed) Metrics() Metrics {
	return f.metrics.GetSnapshot()
}

// Start 启动消费者，每条流一个消费循环，ctx 取消后全部退出
func (f *ResolverFeed) Start(ctx context.Context) error {
	feeds := map[string]models.SourceKind{
		f.config.Cache.IndexStream:    models.SourcePersistedIndex,
		f.config.Cache.NotationStream: models.SourceManualNotation,
		f.config.Cache.RoundStream:    models.SourceFinalizedRound,
	}

	for stream := range feeds {
		if err := rediscommon.CreateConsumerGroup(ctx, f.redisClient, stream, f.config.Cache.ConsumerGroup); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}

	f.logger.Info("Resolver feed started",
		zap.String("consumer_group", f.config.Cache.ConsumerGroup),
		zap.String("consumer_name", f.consumerName),
		zap.Int("streams", len(feeds)),
	)

	var wg sync.WaitGroup
	for stream, kind := range feeds {
		wg.Add(1)
		go func(stream string, kind models.SourceKind) {
			defer wg.Done()
			f.consumeLoop(ctx, stream, kind)
		}(stream, kind)
	}
	wg.Wait()

	return nil
}

// Prime 主动加载某客户的全部三个来源
// 打开某客户视图或轮次启动时调用，不等事件流
func (f *ResolverFeed) Prime(ctx context.Context, subjectKey string) {
	for _, kind := range []models.SourceKind{
		models.SourceFinalizedRound,
		models.SourceManualNotation,
		models.SourcePersistedIndex,
	} {
		f.refreshSource(ctx, subjectKey, kind)
	}
}

// consumeLoop 单条流的消费循环，失败时指数退避
func (f *ResolverFeed) consumeLoop(ctx context.Context, stream string, kind models.SourceKind) {
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := f.consumeStream(ctx, stream, kind); err != nil {
				f.logger.Error("Failed to consume stream",
					zap.String("stream", stream),
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 读一批消息并逐条处理，单条失败不中断
func (f *ResolverFeed) consumeStream(ctx context.Context, stream string, kind models.SourceKind) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		f.redisClient,
		stream,
		f.config.Cache.ConsumerGroup,
		f.consumerName,
		10,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		f.metrics.incrementProcessed()
		if err := f.processMessage(ctx, msg, kind); err != nil {
			f.logger.Error("Failed to process message",
				zap.String("stream", stream),
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		f.metrics.incrementSucceeded()
		if err := f.ackMessage(ctx, stream, msg.ID); err != nil {
			f.logger.Warn("Failed to ack message",
				zap.String("stream", stream),
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// ackMessage 确认消息，把它移出消费者组的 pending 列表
func (f *ResolverFeed) ackMessage(ctx context.Context, stream, messageID string) error {
	return f.redisClient.XAck(ctx, stream, f.config.Cache.ConsumerGroup, messageID).Err()
}

// processMessage 处理单条事件：解析出客户键，刷新对应来源
func (f *ResolverFeed) processMessage(ctx context.Context, msg rediscommon.StreamMessage, kind models.SourceKind) error {
	var dataStr string
	if val, ok := msg.Values["data"]; ok {
		if str, ok := val.(string); ok {
			dataStr = str
		} else {
			f.metrics.incrementFailed("parse")
			return fmt.Errorf("invalid data format in message")
		}
	} else {
		f.metrics.incrementFailed("parse")
		return fmt.Errorf("missing data field in message")
	}

	var event SubjectEvent
	if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
		f.metrics.incrementFailed("parse")
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.SubjectKey == "" {
		f.metrics.incrementFailed("parse")
		return fmt.Errorf("event missing subject_key")
	}

	f.refreshSource(ctx, models.NormalizeSubject(event.SubjectKey), kind)
	return nil
}

// refreshSource 从仓储查询某来源的最新记录推给归并器
// 查询失败只标记该来源降级，归并器继续用其余来源出结果
func (f *ResolverFeed) refreshSource(ctx context.Context, subjectKey string, kind models.SourceKind) {
	var records []models.HistoricalCameraRecord
	var err error

	switch kind {
	case models.SourceFinalizedRound:
		records, err = f.rounds.LatestFinalizedRecords(ctx, subjectKey)
	case models.SourceManualNotation:
		records, err = f.notations.LatestRecords(ctx, subjectKey, f.notationLimit)
	case models.SourcePersistedIndex:
		records, err = f.index.GetSubject(ctx, subjectKey)
	default:
		err = fmt.Errorf("unknown source kind: %s", kind)
	}

	if err != nil {
		f.metrics.incrementFailed("fetch")
		f.resolver.MarkFailed(subjectKey, kind, err)
		return
	}

	f.resolver.Update(subjectKey, kind, records)
}
