package session

import (
	"fmt"
	"strings"

	"github.com/BBrian11/reportes-sub000/internal/models"
	"github.com/BBrian11/reportes-sub000/internal/validator"
)

// InvalidTransitionError 非法状态机迁移
// 明确标识当前状态与请求的操作，绝不静默忽略
type InvalidTransitionError struct {
	From      models.RoundStatus
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from %s", e.Requested, e.From)
}

// ValidationFailedError 完成度校验未通过
// 始终携带全部问题列表，调用方必须一次性展示所有问题
type ValidationFailedError struct {
	Issues []validator.Issue
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("validation failed (%d issues): %s", len(e.Issues), strings.Join(parts, "; "))
}

// PersistenceError 轮次存储写入失败
// 引擎不做内部重试；会话状态已回滚，调用方按自己的重试策略重新 finalize
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DegradedError 降级信号：轮次已完成，但索引回写部分失败
// 非致命，界面可继续展示尽力而为的数据
type DegradedError struct {
	Err error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("round completed with degraded index flush: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }
