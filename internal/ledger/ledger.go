package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/BBrian11/reportes-sub000/internal/models"

	"go.uber.org/zap"
)

// 账本层错误
var (
	ErrRoundCompleted = errors.New("round already completed")
	ErrTandaNotFound  = errors.New("tanda not found")
	ErrCameraNotFound = errors.New("camera not found")
	ErrInvalidStatus  = errors.New("invalid camera status")
)

// Ledger 摄像头状态账本
// 持有轮次内所有客户组的摄像头条目，负责状态流转历史的只追加记录。
// 单写者模型：同一轮次只由一个操作员动作流驱动，无内部锁。
type Ledger struct {
	round  *models.Round
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger 创建账本
// now 为 nil 时使用 time.Now
func NewLedger(round *models.Round, logger *zap.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		round:  round,
		logger: logger,
		now:    now,
	}
}

// Rebind 切换账本指向的轮次（会话 reset 后复用）
func (l *Ledger) Rebind(round *models.Round) {
	l.round = round
}

func (l *Ledger) find(tandaID, cameraID string) (*models.Tanda, *models.CameraEntry, error) {
	t := l.round.FindTanda(tandaID)
	if t == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTandaNotFound, tandaID)
	}
	c := t.FindCamera(cameraID)
	if c == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	return t, c, nil
}

// SetStatus 设置摄像头状态
// 每次调用都是一个离散事件：即便状态相同也追加历史条目。
// 返回所属客户组与更新后的条目，供调用方做索引即时回写。
func (l *Ledger) SetStatus(tandaID, cameraID string, status models.CameraStatus) (*models.Tanda, *models.CameraEntry, error) {
	if l.round.Status == models.RoundCompleted {
		return nil, nil, ErrRoundCompleted
	}
	if !status.Valid() || !status.IsSet() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	t, c, err := l.find(tandaID, cameraID)
	if err != nil {
		return nil, nil, err
	}

	c.PreviousStatus = c.Status
	c.History = append(c.History, models.HistoryEntry{
		At:   l.now(),
		From: c.Status,
		To:   status,
	})
	c.Status = status
	c.Touched = true

	l.logger.Debug("camera status set",
		zap.String("tanda_id", tandaID),
		zap.Int("channel", c.Channel),
		zap.String("from", string(c.PreviousStatus)),
		zap.String("to", string(status)),
	)

	return t, c, nil
}

// SetNote 替换摄像头备注；不影响 touched 和历史
func (l *Ledger) SetNote(tandaID, cameraID, text string) error {
	if l.round.Status == models.RoundCompleted {
		return ErrRoundCompleted
	}
	_, c, err := l.find(tandaID, cameraID)
	if err != nil {
		return err
	}
	c.Note = text
	return nil
}

// SetChannel 修改摄像头通道号（收敛到合法范围）
func (l *Ledger) SetChannel(tandaID, cameraID string, channel int) error {
	if l.round.Status == models.RoundCompleted {
		return ErrRoundCompleted
	}
	_, c, err := l.find(tandaID, cameraID)
	if err != nil {
		return err
	}
	c.Channel = models.ClampChannel(channel)
	return nil
}

// AddCamera 给客户组追加一路摄像头（默认 1 号通道）
func (l *Ledger) AddCamera(tandaID string) (*models.CameraEntry, error) {
	if l.round.Status == models.RoundCompleted {
		return nil, ErrRoundCompleted
	}
	t := l.round.FindTanda(tandaID)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTandaNotFound, tandaID)
	}

	c := &models.CameraEntry{
		ID:      fmt.Sprintf("cam-%s-%d", tandaID, l.now().UnixNano()),
		Channel: 1,
	}
	t.Cameras = append(t.Cameras, c)
	return c, nil
}

// RemoveCamera 删除摄像头条目
func (l *Ledger) RemoveCamera(tandaID, cameraID string) error {
	if l.round.Status == models.RoundCompleted {
		return ErrRoundCompleted
	}
	t := l.round.FindTanda(tandaID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTandaNotFound, tandaID)
	}

	for i, c := range t.Cameras {
		if c.ID == cameraID {
			t.Cameras = append(t.Cameras[:i], t.Cameras[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
}

// ChannelInUse 通道号是否已被同客户组其它条目占用
// 只用于界面提示，不做唯一性强制（沿用现状，见 DESIGN.md）
func (l *Ledger) ChannelInUse(tandaID, excludeCameraID string, channel int) bool {
	t := l.round.FindTanda(tandaID)
	if t == nil {
		return false
	}
	for _, c := range t.Cameras {
		if c.ID != excludeCameraID && c.Channel == channel {
			return true
		}
	}
	return false
}

// Progress 客户组进度：已确认条目数 / 总条目数
func Progress(t *models.Tanda) (resolved, total int) {
	total = len(t.Cameras)
	for _, c := range t.Cameras {
		if c.Resolved() {
			resolved++
		}
	}
	return resolved, total
}

// RoundProgress 整轮进度（跨所有客户组）
func RoundProgress(r *models.Round) (resolved, total int) {
	for _, t := range r.Tandas {
		tr, tt := Progress(t)
		resolved += tr
		total += tt
	}
	return resolved, total
}
