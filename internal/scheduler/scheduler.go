package scheduler

import (
	"sync"
	"time"

	"github.com/BBrian11/reportes-sub000/internal/models"

	"go.uber.org/zap"
)

// SlotDue 时段到期通知
// 只向外发事件，绝不直接改轮次状态；如何呈现由上层决定
type SlotDue struct {
	SlotIndex int      `json:"slot_index"`
	Subjects  []string `json:"subjects"`
}

// Assignment 时段分配结果
type Assignment struct {
	SlotCount int
	Interval  time.Duration // 每个时段的间隔 = shiftDuration / slotCount
	Slots     [][]string    // 时段下标 → 客户组 ID 列表
}

// Plan 把客户组按给定顺序轮转分配到固定数量的时段
// 纯函数：slotIndex(i) = i mod slotCount，不哈希、不再平衡
func Plan(tandas []*models.Tanda, shiftDuration time.Duration, slotCount int) *Assignment {
	if slotCount <= 0 {
		slotCount = 1
	}
	slots := make([][]string, slotCount)
	for i, t := range tandas {
		idx := i % slotCount
		slots[idx] = append(slots[idx], t.ID)
	}
	return &Assignment{
		SlotCount: slotCount,
		Interval:  shiftDuration / time.Duration(slotCount),
		Slots:     slots,
	}
}

type armedSlot struct {
	timer  *time.Timer
	fireAt time.Time
	// 暂停挂起时剩余的等待时长（仅 pauseAware 模式）
	remaining time.Duration
	suspended bool
}

// Scheduler 时段提醒调度器
// 一次性定时器按墙钟偏移触发；默认不随暂停顺延（见 DESIGN.md 的取舍）
type Scheduler struct {
	mu         sync.Mutex
	armed      map[int]*armedSlot
	generation int // CancelAll 递增，压制已出队的旧回调

	sink       func(SlotDue)
	logger     *zap.Logger
	pauseAware bool
	now        func() time.Time
}

// New 创建调度器
// sink 为空时事件被丢弃；now 为 nil 时使用 time.Now
func New(sink func(SlotDue), pauseAware bool, logger *zap.Logger, now func() time.Time) *Scheduler {
	if sink == nil {
		sink = func(SlotDue) {}
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		armed:      make(map[int]*armedSlot),
		sink:       sink,
		logger:     logger,
		pauseAware: pauseAware,
		now:        now,
	}
}

// Arm 为每个非空时段武装一个一次性定时器
// 触发时刻 = roundStart + slotIndex*interval；已过去的时段不再触发（恢复会话场景）。
// subjects 在触发时通过 resolve 求值，保证展示最新客户名。
func (s *Scheduler) Arm(assignment *Assignment, roundStart time.Time, resolve func(tandaID string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.generation
	armedCount := 0

	for idx, ids := range assignment.Slots {
		if len(ids) == 0 {
			continue
		}

		fireAt := roundStart.Add(time.Duration(idx) * assignment.Interval)
		delay := fireAt.Sub(s.now())
		if delay < 0 {
			continue
		}

		slotIdx := idx
		slotIDs := ids
		slot := &armedSlot{fireAt: fireAt}
		slot.timer = time.AfterFunc(delay, func() {
			s.fire(gen, slotIdx, slotIDs, resolve)
		})
		s.armed[slotIdx] = slot
		armedCount++
	}

	s.logger.Info("slot timers armed",
		zap.Int("armed", armedCount),
		zap.Duration("interval", assignment.Interval),
	)
}

// fire 定时器回调：先在锁内确认自己仍然有效再发通知
func (s *Scheduler) fire(gen, slotIdx int, ids []string, resolve func(string) string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	slot, ok := s.armed[slotIdx]
	if !ok || slot.suspended {
		s.mu.Unlock()
		return
	}
	delete(s.armed, slotIdx)
	s.mu.Unlock()

	subjects := make([]string, 0, len(ids))
	for _, id := range ids {
		if name := resolve(id); name != "" {
			subjects = append(subjects, name)
		}
	}

	s.logger.Debug("slot due",
		zap.Int("slot_index", slotIdx),
		zap.Strings("subjects", subjects),
	)
	s.sink(SlotDue{SlotIndex: slotIdx, Subjects: subjects})
}

// Suspend 暂停未触发的定时器（仅 pauseAware 模式有效）
func (s *Scheduler) Suspend() {
	if !s.pauseAware {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, slot := range s.armed {
		if slot.suspended {
			continue
		}
		if slot.timer.Stop() {
			slot.remaining = slot.fireAt.Sub(now)
			if slot.remaining < 0 {
				slot.remaining = 0
			}
			slot.suspended = true
		}
	}
}

// ResumeShifted 以暂停时刻剩余的等待时长重新武装（仅 pauseAware 模式有效）
func (s *Scheduler) ResumeShifted(resolve func(string) string, idsBySlot [][]string) {
	if !s.pauseAware {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.generation
	now := s.now()
	for idx, slot := range s.armed {
		if !slot.suspended {
			continue
		}
		slotIdx := idx
		var slotIDs []string
		if slotIdx < len(idsBySlot) {
			slotIDs = idsBySlot[slotIdx]
		}
		slot.fireAt = now.Add(slot.remaining)
		slot.suspended = false
		slot.timer = time.AfterFunc(slot.remaining, func() {
			s.fire(gen, slotIdx, slotIDs, resolve)
		})
	}
}

// CancelAll 取消全部定时器
// reset/finalize 必须调用，否则定时器泄漏到下一个轮次实例
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, slot := range s.armed {
		slot.timer.Stop()
		delete(s.armed, idx)
	}
	s.generation++
}

// ArmedCount 当前仍武装的定时器数（测试与诊断用）
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}
