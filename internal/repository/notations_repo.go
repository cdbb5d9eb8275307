package repository

import (
	"context"

	"github.com/BBrian11/reportes-sub000/internal/models"
)

// NotationsRepository 手工记录Repository接口
type NotationsRepository interface {
	// CreateNotation 写入一条手工记录
	CreateNotation(ctx context.Context, notation *models.Notation) error

	// ListRecent 某客户最近的手工记录，按创建时间倒序
	ListRecent(ctx context.Context, subjectKey string, limit int) ([]models.Notation, error)

	// LatestRecords 某客户每个通道最新一条手工记录，转成历史状态记录
	// 通道号缺失时从文本解析，解析不出的条目丢弃
	LatestRecords(ctx context.Context, subjectKey string, limit int) ([]models.HistoricalCameraRecord, error)
}
