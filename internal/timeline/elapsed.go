package timeline

import (
	"fmt"
	"time"

	"github.com/BBrian11/reportes-sub000/internal/models"
)

// MalformedPauseSequenceError 暂停序列非法：
// 存在多个未闭合区间，或未闭合区间不在末尾
type MalformedPauseSequenceError struct {
	Reason string
}

func (e *MalformedPauseSequenceError) Error() string {
	return fmt.Sprintf("malformed pause sequence: %s", e.Reason)
}

// ValidatePauses 校验暂停序列
// 允许任意多个已闭合区间；最多一个未闭合区间，且必须是最后一个元素
func ValidatePauses(pauses []models.PauseInterval) error {
	for i, p := range pauses {
		if p.To == nil && i != len(pauses)-1 {
			return &MalformedPauseSequenceError{
				Reason: fmt.Sprintf("open interval at position %d is not last", i),
			}
		}
		if p.To != nil && p.To.Before(p.From) {
			return &MalformedPauseSequenceError{
				Reason: fmt.Sprintf("interval at position %d ends before it starts", i),
			}
		}
	}
	return nil
}

// TotalPaused 累计暂停时长
// 未闭合区间按 effectiveNow 截断；单个区间为负时按 0 计
func TotalPaused(pauses []models.PauseInterval, effectiveNow time.Time) time.Duration {
	var total time.Duration
	for _, p := range pauses {
		end := effectiveNow
		if p.To != nil {
			end = *p.To
		}
		d := end.Sub(p.From)
		if d < 0 {
			d = 0
		}
		total += d
	}
	return total
}

// Elapsed 计算净活动时长（纯函数，可由持久化状态幂等重算）
// start 为 nil 时为 0；已结束的轮次用 end 截断未闭合暂停；结果下限为 0
func Elapsed(now time.Time, start, end *time.Time, pauses []models.PauseInterval) time.Duration {
	if start == nil {
		return 0
	}

	effectiveNow := now
	if end != nil {
		effectiveNow = *end
	}

	elapsed := effectiveNow.Sub(*start) - TotalPaused(pauses, effectiveNow)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}
