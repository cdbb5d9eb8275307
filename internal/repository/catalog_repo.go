package repository

import "context"

// CatalogRepository 风险客户名录Repository接口
// 名录由外部系统维护，这里只读
type CatalogRepository interface {
	// ListRiskSubjects 全部标记为风险的客户名称
	ListRiskSubjects(ctx context.Context) ([]string, error)
}
