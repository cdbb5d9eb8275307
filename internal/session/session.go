package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BBrian11/reportes-sub000/internal/ledger"
	"github.com/BBrian11/reportes-sub000/internal/models"
	"github.com/BBrian11/reportes-sub000/internal/scheduler"
	"github.com/BBrian11/reportes-sub000/internal/timeline"
	"github.com/BBrian11/reportes-sub000/internal/validator"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RoundStore 轮次持久化边界
type RoundStore interface {
	// SaveSnapshot 写入进行中轮次的快照（自动保存）
	SaveSnapshot(ctx context.Context, round *models.Round) error
	// Finalize 写入完成态轮次记录
	Finalize(ctx context.Context, round *models.Round) error
}

// IndexWriter 历史状态索引写入边界
type IndexWriter interface {
	// Upsert 按 (subjectKey, channel) 合并写入，不删除无关通道
	Upsert(ctx context.Context, rec models.HistoricalCameraRecord) error
}

// Options 会话参数
type Options struct {
	SlotCount     int
	ShiftDuration time.Duration
	MinCameras    int
	MaxTandas     int
	PauseAware    bool

	// SlotSink 时段到期通知出口；定时器只经由它对外通信
	SlotSink func(scheduler.SlotDue)

	// Now 为 nil 时使用 time.Now（测试注入假时钟）
	Now func() time.Time
}

// Session 轮次会话状态机：Planned → Running ⇄ Paused → Completed
// 单写者：一个操作员的动作流驱动一个会话实例，调用方持有，无包级单例。
type Session struct {
	opts   Options
	round  *models.Round
	ledger *ledger.Ledger
	sched  *scheduler.Scheduler
	val    *validator.Validator

	assignment *scheduler.Assignment

	store  RoundStore
	index  IndexWriter
	logger *zap.Logger
	now    func() time.Time
}

// ErrNoTandas Start 前置条件：至少一个客户组
var ErrNoTandas = errors.New("round has no tandas")

// ErrNoOperator Start 前置条件：已选择操作员
var ErrNoOperator = errors.New("no operator selected")

// ErrMaxTandas 超出单轮次客户组上限
var ErrMaxTandas = errors.New("max tandas reached")

// New 创建会话，轮次初始为 Planned
func New(operator, shift string, opts Options, store RoundStore, index IndexWriter, logger *zap.Logger) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	round := models.NewRound(operator, shift)
	round.Tandas = []*models.Tanda{models.NewTanda("")}

	s := &Session{
		opts:   opts,
		round:  round,
		val:    validator.New(opts.MinCameras),
		store:  store,
		index:  index,
		logger: logger,
		now:    opts.Now,
	}
	s.ledger = ledger.NewLedger(round, logger, opts.Now)
	s.sched = scheduler.New(opts.SlotSink, opts.PauseAware, logger, opts.Now)
	return s
}

// Round 当前轮次（调用方只读使用；结构性修改走会话方法）
func (s *Session) Round() *models.Round { return s.round }

// Ledger 摄像头账本
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Status 当前状态
func (s *Session) Status() models.RoundStatus { return s.round.Status }

// SetTandas 整体替换客户组列表（规划阶段使用）
func (s *Session) SetTandas(tandas []*models.Tanda) error {
	if s.round.Status == models.RoundCompleted {
		return &InvalidTransitionError{From: s.round.Status, Requested: "set tandas"}
	}
	if s.opts.MaxTandas > 0 && len(tandas) > s.opts.MaxTandas {
		return fmt.Errorf("%w: %d > %d", ErrMaxTandas, len(tandas), s.opts.MaxTandas)
	}
	s.round.Tandas = tandas
	return nil
}

// AddTanda 追加一个客户组
func (s *Session) AddTanda(subject string) (*models.Tanda, error) {
	if s.round.Status == models.RoundCompleted {
		return nil, &InvalidTransitionError{From: s.round.Status, Requested: "add tanda"}
	}
	if s.opts.MaxTandas > 0 && len(s.round.Tandas) >= s.opts.MaxTandas {
		return nil, fmt.Errorf("%w: %d", ErrMaxTandas, s.opts.MaxTandas)
	}
	t := models.NewTanda(subject)
	s.round.Tandas = append(s.round.Tandas, t)
	return t, nil
}

// RemoveTanda 删除一个客户组
func (s *Session) RemoveTanda(tandaID string) error {
	if s.round.Status == models.RoundCompleted {
		return &InvalidTransitionError{From: s.round.Status, Requested: "remove tanda"}
	}
	for i, t := range s.round.Tandas {
		if t.ID == tandaID {
			s.round.Tandas = append(s.round.Tandas[:i], s.round.Tandas[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ledger.ErrTandaNotFound, tandaID)
}

// Start 开始轮次：仅允许从 Planned 进入
// 前置：至少一个客户组、已选操作员。分配时段并武装定时器。
func (s *Session) Start(ctx context.Context) error {
	if s.round.Status != models.RoundPlanned {
		return &InvalidTransitionError{From: s.round.Status, Requested: "start"}
	}
	if len(s.round.Tandas) == 0 {
		return ErrNoTandas
	}
	if s.round.Operator == "" {
		return ErrNoOperator
	}

	now := s.now()
	s.round.StartTime = &now
	s.round.Status = models.RoundRunning
	s.round.UpdatedAt = now

	s.assignment = scheduler.Plan(s.round.Tandas, s.opts.ShiftDuration, s.opts.SlotCount)
	s.sched.Arm(s.assignment, now, s.resolveSubject)

	s.logger.Info("round started",
		zap.String("round_id", s.round.RoundID),
		zap.String("operator", s.round.Operator),
		zap.Int("tandas", len(s.round.Tandas)),
	)

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, s.round); err != nil {
			// 快照失败不回滚开始动作，降级继续
			s.logger.Warn("failed to save start snapshot", zap.Error(err))
		}
	}
	return nil
}

// Pause 暂停：仅允许从 Running 进入
// 追加一个未闭合暂停区间
func (s *Session) Pause(ctx context.Context) error {
	if s.round.Status != models.RoundRunning {
		return &InvalidTransitionError{From: s.round.Status, Requested: "pause"}
	}

	now := s.now()
	s.round.Pauses = append(s.round.Pauses, models.PauseInterval{From: now})
	s.round.Status = models.RoundPaused
	s.round.UpdatedAt = now

	s.sched.Suspend()

	s.logger.Info("round paused", zap.String("round_id", s.round.RoundID))

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, s.round); err != nil {
			s.logger.Warn("failed to save pause snapshot", zap.Error(err))
		}
	}
	return nil
}

// Resume 恢复：仅允许从 Paused 进入
// 闭合末尾的未闭合暂停区间
func (s *Session) Resume(ctx context.Context) error {
	if s.round.Status != models.RoundPaused {
		return &InvalidTransitionError{From: s.round.Status, Requested: "resume"}
	}

	now := s.now()
	s.closeOpenPause(now)
	s.round.Status = models.RoundRunning
	s.round.UpdatedAt = now

	if s.assignment != nil {
		s.sched.ResumeShifted(s.resolveSubject, s.assignment.Slots)
	}

	s.logger.Info("round resumed", zap.String("round_id", s.round.RoundID))

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, s.round); err != nil {
			s.logger.Warn("failed to save resume snapshot", zap.Error(err))
		}
	}
	return nil
}

// Finalize 完成轮次：仅允许从 Running/Paused 进入
// Paused 时先隐式闭合暂停区间；校验未通过返回 ValidationFailedError（全部问题）。
// 轮次存储失败回滚状态并返回 PersistenceError；索引回写部分失败返回 DegradedError（轮次已完成）。
func (s *Session) Finalize(ctx context.Context) error {
	if s.round.Status != models.RoundRunning && s.round.Status != models.RoundPaused {
		return &InvalidTransitionError{From: s.round.Status, Requested: "finalize"}
	}

	if issues := s.val.Validate(s.round); len(issues) > 0 {
		return &ValidationFailedError{Issues: issues}
	}

	if err := timeline.ValidatePauses(s.round.Pauses); err != nil {
		return err
	}

	prevStatus := s.round.Status
	now := s.now()
	s.closeOpenPause(now)

	s.round.EndTime = &now
	s.round.Status = models.RoundCompleted
	s.round.UpdatedAt = now
	s.round.TotalPausedMs = timeline.TotalPaused(s.round.Pauses, now).Milliseconds()
	s.round.DurationMs = timeline.Elapsed(now, s.round.StartTime, s.round.EndTime, s.round.Pauses).Milliseconds()

	s.sched.CancelAll()

	if s.store != nil {
		if err := s.store.Finalize(ctx, s.round); err != nil {
			// 回滚，调用方可按自己的策略重试 finalize
			s.round.EndTime = nil
			s.round.Status = prevStatus
			s.round.TotalPausedMs = 0
			s.round.DurationMs = 0
			if prevStatus == models.RoundPaused {
				s.reopenLastPause()
			}
			// CancelAll 已清掉定时器；操作员会继续干活，把未到期的时段重新武装
			if s.assignment != nil && s.round.StartTime != nil {
				s.sched.Arm(s.assignment, *s.round.StartTime, s.resolveSubject)
				if prevStatus == models.RoundPaused {
					s.sched.Suspend()
				}
			}
			return &PersistenceError{Op: "finalize round", Err: err}
		}
	}

	s.logger.Info("round finalized",
		zap.String("round_id", s.round.RoundID),
		zap.Int64("duration_ms", s.round.DurationMs),
		zap.Int64("total_paused_ms", s.round.TotalPausedMs),
		zap.Int("pauses", len(s.round.Pauses)),
	)

	if err := s.flushIndex(ctx); err != nil {
		return &DegradedError{Err: err}
	}
	return nil
}

// Reset 丢弃内存状态，回到全新的 Planned 轮次；总是合法
// 必须取消所有定时器，避免泄漏到新轮次实例
func (s *Session) Reset() {
	s.sched.CancelAll()
	s.assignment = nil

	s.round = models.NewRound(s.round.Operator, s.round.Shift)
	s.round.Tandas = []*models.Tanda{models.NewTanda("")}
	s.ledger.Rebind(s.round)

	s.logger.Info("round session reset", zap.String("round_id", s.round.RoundID))
}

// ResumeFrom 从持久化的进行中轮次重建会话（进程重启/换端恢复）
// 末尾未闭合暂停 ⇒ Paused；重新武装尚未到期的时段
func (s *Session) ResumeFrom(round *models.Round) error {
	if round.Status == models.RoundCompleted {
		return &InvalidTransitionError{From: round.Status, Requested: "resume from snapshot"}
	}
	if err := timeline.ValidatePauses(round.Pauses); err != nil {
		return err
	}

	s.sched.CancelAll()
	s.round = round
	s.ledger.Rebind(round)

	if round.StartTime != nil {
		if n := len(round.Pauses); n > 0 && round.Pauses[n-1].To == nil {
			round.Status = models.RoundPaused
		} else {
			round.Status = models.RoundRunning
		}
		s.assignment = scheduler.Plan(round.Tandas, s.opts.ShiftDuration, s.opts.SlotCount)
		// 已过去的时段被 Arm 跳过，只剩未来的重新武装
		s.sched.Arm(s.assignment, *round.StartTime, s.resolveSubject)
	} else {
		round.Status = models.RoundPlanned
	}

	s.logger.Info("round session resumed from snapshot",
		zap.String("round_id", round.RoundID),
		zap.String("status", string(round.Status)),
	)
	return nil
}

// Elapsed 当前净活动时长（纯函数重算，无隐藏计数器）
func (s *Session) Elapsed() time.Duration {
	return timeline.Elapsed(s.now(), s.round.StartTime, s.round.EndTime, s.round.Pauses)
}

// Snapshot 刷新冗余时长字段并返回轮次（自动保存用）
func (s *Session) Snapshot() *models.Round {
	now := s.now()
	effectiveEnd := s.round.EndTime
	s.round.TotalPausedMs = timeline.TotalPaused(s.round.Pauses, effectiveNowOf(now, effectiveEnd)).Milliseconds()
	s.round.DurationMs = timeline.Elapsed(now, s.round.StartTime, effectiveEnd, s.round.Pauses).Milliseconds()
	s.round.UpdatedAt = now
	return s.round
}

// SetStatus 设置摄像头状态并尽力即时回写索引
// 索引失败只记日志，不影响状态变更（界面数据以内存为准）
func (s *Session) SetStatus(ctx context.Context, tandaID, cameraID string, status models.CameraStatus) error {
	t, c, err := s.ledger.SetStatus(tandaID, cameraID, status)
	if err != nil {
		return err
	}

	if s.index == nil {
		return nil
	}
	key := models.NormalizeSubject(t.Subject)
	if key == "" {
		return nil
	}
	rec := models.HistoricalCameraRecord{
		SubjectKey: key,
		Channel:    c.Channel,
		Status:     c.Status,
		Note:       c.Note,
		UpdatedAt:  s.now(),
		Source:     models.SourcePersistedIndex,
		RoundID:    s.round.RoundID,
	}
	if err := s.index.Upsert(ctx, rec); err != nil {
		s.logger.Warn("live index update failed",
			zap.String("subject_key", key),
			zap.Int("channel", c.Channel),
			zap.Error(err),
		)
	}
	return nil
}

// flushIndex 完成时把所有已确认状态合并写入索引
// 按 (subjectKey, channel) 覆盖；失败聚合为一个降级错误
func (s *Session) flushIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}

	var flushErr error
	now := s.now()
	for _, t := range s.round.Tandas {
		key := models.NormalizeSubject(t.Subject)
		if key == "" {
			continue
		}
		for _, c := range t.Cameras {
			if !c.Status.IsSet() {
				continue
			}
			rec := models.HistoricalCameraRecord{
				SubjectKey: key,
				Channel:    c.Channel,
				Status:     c.Status,
				Note:       c.Note,
				UpdatedAt:  now,
				Source:     models.SourcePersistedIndex,
				RoundID:    s.round.RoundID,
			}
			if err := s.index.Upsert(ctx, rec); err != nil {
				flushErr = multierr.Append(flushErr,
					fmt.Errorf("index upsert %s/%d: %w", key, c.Channel, err))
			}
		}
	}
	return flushErr
}

func (s *Session) resolveSubject(tandaID string) string {
	if t := s.round.FindTanda(tandaID); t != nil {
		return t.Subject
	}
	return ""
}

func (s *Session) closeOpenPause(now time.Time) {
	if n := len(s.round.Pauses); n > 0 && s.round.Pauses[n-1].To == nil {
		s.round.Pauses[n-1].To = &now
	}
}

func (s *Session) reopenLastPause() {
	if n := len(s.round.Pauses); n > 0 {
		s.round.Pauses[n-1].To = nil
	}
}

func effectiveNowOf(now time.Time, end *time.Time) time.Time {
	if end != nil {
		return *end
	}
	return now
}
