package validator

import (
	"fmt"

	"github.com/BBrian11/reportes-sub000/internal/ledger"
	"github.com/BBrian11/reportes-sub000/internal/models"
)

// Issue 单条未通过项
// Subject 为所属客户名，Field 为人类可读字段名，供界面一次性展示全部问题
type Issue struct {
	Subject string `json:"subject"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Subject, i.Field, i.Message)
}

// Validator 完成度校验器
type Validator struct {
	MinCameras int // 全轮次最少已确认摄像头数
}

// New 创建校验器
func New(minCameras int) *Validator {
	return &Validator{MinCameras: minCameras}
}

// Validate 校验轮次是否允许完成
// 收集全部问题后一并返回，不短路；返回空切片表示允许完成。
// 顺序：1) 全局摄像头下限 2) 每组清单全部回答 3) 录像失败时至少标记一个子通道
func (v *Validator) Validate(round *models.Round) []Issue {
	var issues []Issue

	// 1. 全局已确认摄像头数下限
	if v.MinCameras > 0 {
		resolved, _ := ledger.RoundProgress(round)
		if resolved < v.MinCameras {
			issues = append(issues, Issue{
				Subject: round.Operator,
				Field:   "CAMARAS",
				Message: fmt.Sprintf("confirmed cameras %d below required minimum %d", resolved, v.MinCameras),
			})
		}
	}

	for _, t := range round.Tandas {
		subject := t.Subject
		if subject == "" {
			subject = "Cliente"
		}

		// 2. 清单三态项必须全部回答
		c := t.Checklist
		if c.RecordingsOK == nil {
			issues = append(issues, unanswered(subject, "GRABACIONES"))
		}
		if c.PowerCutsDetected == nil {
			issues = append(issues, unanswered(subject, "CORTES 220V"))
		}
		if c.DeviceOffline == nil {
			issues = append(issues, unanswered(subject, "EQUIPO OFFLINE"))
		}
		if c.DeviceClockOK == nil {
			issues = append(issues, unanswered(subject, "EQUIPO HORA"))
		}

		// 3. 录像异常时必须标记具体失败子通道
		if c.RecordingsOK != nil && !*c.RecordingsOK && !c.AnyRecordingFailing() {
			issues = append(issues, Issue{
				Subject: subject,
				Field:   "GRABACIONES FALLAN",
				Message: "recordings marked failing but no failing sub-channel flagged",
			})
		}
	}

	return issues
}

func unanswered(subject, field string) Issue {
	return Issue{
		Subject: subject,
		Field:   field,
		Message: "checklist field not answered",
	}
}
