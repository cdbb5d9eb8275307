package models

import "time"

// SourceKind 历史状态来源
type SourceKind string

const (
	SourceFinalizedRound SourceKind = "finalized_round" // 最近一次已完成轮次的提交
	SourceManualNotation SourceKind = "manual_notation" // 操作员手工记录
	SourcePersistedIndex SourceKind = "persisted_index" // 跨轮次聚合索引
)

// Priority 来源优先级，数值越小优先级越高
func (k SourceKind) Priority() int {
	switch k {
	case SourceFinalizedRound:
		return 0
	case SourceManualNotation:
		return 1
	case SourcePersistedIndex:
		return 2
	}
	return 3
}

// HistoricalCameraRecord 某客户某通道的最近已知状态
type HistoricalCameraRecord struct {
	SubjectKey string       `json:"subject_key"` // 归一化客户键
	Channel    int          `json:"channel"`
	Status     CameraStatus `json:"status"`
	Note       string       `json:"note,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Source     SourceKind   `json:"source"`
	RoundID    string       `json:"round_id,omitempty"` // FinalizedRound/ManualNotation 时有值
}

// Notation 操作员手工记录（novedades）
type Notation struct {
	ID         string       `json:"id"`
	SubjectKey string       `json:"subject_key"`
	Channel    int          `json:"channel"` // 0 表示未知，需从文本解析
	Event      string       `json:"event"`   // 事件/状态描述
	Text       string       `json:"text"`
	RoundID    string       `json:"round_id,omitempty"`
	Status     CameraStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}
