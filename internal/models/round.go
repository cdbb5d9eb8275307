package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundStatus 轮次状态
type RoundStatus string

const (
	RoundPlanned   RoundStatus = "planned"   // 已创建，未开始
	RoundRunning   RoundStatus = "running"   // 进行中
	RoundPaused    RoundStatus = "paused"    // 已暂停
	RoundCompleted RoundStatus = "completed" // 已完成（终态）
)

// PauseInterval 暂停区间
// To 为 nil 表示仍在暂停中；同一轮次最多只能有一个未闭合区间，且必须位于末尾
type PauseInterval struct {
	From time.Time  `json:"from"`
	To   *time.Time `json:"to"`
}

// Round 巡检轮次（对应 rounds 表，tandas/pauses 存 JSONB）
type Round struct {
	RoundID  string      `json:"round_id"` // UUID, PRIMARY KEY
	Operator string      `json:"operator"` // 操作员
	Shift    string      `json:"shift"`    // 班次标签（"Night"/"Day"）
	Status   RoundStatus `json:"status"`

	StartTime *time.Time      `json:"start_time"` // Running 前为 nil
	EndTime   *time.Time      `json:"end_time"`   // Completed 前为 nil
	Pauses    []PauseInterval `json:"pauses"`

	Tandas []*Tanda `json:"tandas"`

	// 自由文本
	Highlights   string `json:"highlights"`   // 本轮亮点/新鲜事
	Observations string `json:"observations"` // 备注

	// 冗余的时长字段，必须能由 StartTime/EndTime/Pauses 重新算出（往返不变量）
	TotalPausedMs int64 `json:"total_paused_ms"`
	DurationMs    int64 `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRound 创建一个 Planned 状态的空轮次
func NewRound(operator, shift string) *Round {
	now := time.Now()
	return &Round{
		RoundID:   uuid.New().String(),
		Operator:  operator,
		Shift:     shift,
		Status:    RoundPlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SubjectKeys 返回轮次涉及的客户键集合（去重、归一化）
func (r *Round) SubjectKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, t := range r.Tandas {
		key := NormalizeSubject(t.Subject)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// FindTanda 按 ID 查找客户组
func (r *Round) FindTanda(tandaID string) *Tanda {
	for _, t := range r.Tandas {
		if t.ID == tandaID {
			return t
		}
	}
	return nil
}

// NextIncomplete 返回 fromIdx 之后第一个未完成客户组的下标，没有则返回 -1
func (r *Round) NextIncomplete(fromIdx int) int {
	for i := fromIdx + 1; i < len(r.Tandas); i++ {
		if !r.Tandas[i].Complete() {
			return i
		}
	}
	return -1
}
