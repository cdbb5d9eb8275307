package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CameraStatus 摄像头状态
type CameraStatus string

const (
	StatusUnset  CameraStatus = ""       // 未确认
	StatusOK     CameraStatus = "ok"     // 正常
	StatusMedium CameraStatus = "medium" // 中度异常
	StatusSevere CameraStatus = "severe" // 严重异常
)

// IsSet 状态是否已确认
func (s CameraStatus) IsSet() bool {
	return s != StatusUnset
}

// Valid 是否为合法状态值
func (s CameraStatus) Valid() bool {
	switch s {
	case StatusUnset, StatusOK, StatusMedium, StatusSevere:
		return true
	}
	return false
}

// HistoryEntry 状态变更历史条目（只追加）
type HistoryEntry struct {
	At   time.Time    `json:"at"`
	From CameraStatus `json:"from"`
	To   CameraStatus `json:"to"`
}

// CameraEntry 单路摄像头条目
// Channel 由调用方提供，同一客户组内不保证唯一（沿用现状，见 DESIGN.md）
type CameraEntry struct {
	ID             string         `json:"id"`
	Channel        int            `json:"channel"`
	Status         CameraStatus   `json:"status"`
	PreviousStatus CameraStatus   `json:"previous_status"`
	Note           string         `json:"note"`
	Touched        bool           `json:"touched"` // 一旦设置过任意状态即为 true
	History        []HistoryEntry `json:"history"`
}

// Resolved 是否已确认且有有效状态
func (c *CameraEntry) Resolved() bool {
	return c.Touched && c.Status.IsSet()
}

// Checklist 客户组检查清单
// 四个三态项：nil=未回答，true/false=已回答
type Checklist struct {
	RecordingsOK      *bool `json:"recordings_ok"`       // 录像是否正常
	PowerCutsDetected *bool `json:"power_cuts_detected"` // 是否检测到 220V 断电
	DeviceOffline     *bool `json:"device_offline"`      // 设备是否离线
	DeviceClockOK     *bool `json:"device_clock_ok"`     // 设备时间是否正确

	// RecordingsOK == false 时，标记具体失败的子通道（固定四槽）
	RecordingsFailing map[string]bool `json:"recordings_failing"`
}

// Answered 四个三态项是否都已回答
func (c *Checklist) Answered() bool {
	return c.RecordingsOK != nil &&
		c.PowerCutsDetected != nil &&
		c.DeviceOffline != nil &&
		c.DeviceClockOK != nil
}

// AnyRecordingFailing 是否至少标记了一个失败子通道
func (c *Checklist) AnyRecordingFailing() bool {
	for _, v := range c.RecordingsFailing {
		if v {
			return true
		}
	}
	return false
}

// NewChecklist 创建空白检查清单
func NewChecklist() Checklist {
	return Checklist{
		RecordingsFailing: map[string]bool{
			"cam1": false,
			"cam2": false,
			"cam3": false,
			"cam4": false,
		},
	}
}

// Tanda 客户组：一个轮次内被巡检的单个客户/站点
type Tanda struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"` // 客户名（自由文本，期望匹配目录项）
	Summary   string         `json:"summary"`
	Cameras   []*CameraEntry `json:"cameras"`
	Checklist Checklist      `json:"checklist"`
}

// NewTanda 创建客户组，默认带一路 1 号通道摄像头
func NewTanda(subject string) *Tanda {
	id := uuid.New().String()
	return &Tanda{
		ID:      "tanda-" + id,
		Subject: subject,
		Cameras: []*CameraEntry{
			{
				ID:      fmt.Sprintf("cam-%s-1", id),
				Channel: 1,
			},
		},
		Checklist: NewChecklist(),
	}
}

// Complete 客户组是否已完成：所有摄像头已确认且清单全部回答
func (t *Tanda) Complete() bool {
	if len(t.Cameras) == 0 {
		return false
	}
	for _, c := range t.Cameras {
		if !c.Resolved() {
			return false
		}
	}
	return t.Checklist.Answered()
}

// FindCamera 按 ID 查找摄像头条目
func (t *Tanda) FindCamera(cameraID string) *CameraEntry {
	for _, c := range t.Cameras {
		if c.ID == cameraID {
			return c
		}
	}
	return nil
}
