package repository

import (
	"context"

	"github.com/BBrian11/reportes-sub000/internal/models"
)

// RoundsRepository 巡检轮次Repository接口
type RoundsRepository interface {
	// CreateRound 创建轮次记录（Planned/进行中草稿）
	CreateRound(ctx context.Context, round *models.Round) error

	// UpdateSnapshot 覆盖写入进行中轮次的快照（自动保存）
	UpdateSnapshot(ctx context.Context, round *models.Round) error

	// FinalizeRound 写入完成态轮次记录
	FinalizeRound(ctx context.Context, round *models.Round) error

	// GetRound 按 ID 获取轮次
	GetRound(ctx context.Context, roundID string) (*models.Round, error)

	// GetActiveRound 获取操作员当前进行中的轮次（没有则返回 nil）
	GetActiveRound(ctx context.Context, operator string) (*models.Round, error)

	// LatestFinalizedRecords 最近一次包含该客户的已完成轮次的摄像头记录
	// 只看最新的一条，供归并器的 FinalizedRound 来源使用
	LatestFinalizedRecords(ctx context.Context, subjectKey string) ([]models.HistoricalCameraRecord, error)
}
