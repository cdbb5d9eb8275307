package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresCatalogRepository 风险客户名录Repository实现
type PostgresCatalogRepository struct {
	db *sql.DB
}

// NewPostgresCatalogRepository 创建名录Repository
func NewPostgresCatalogRepository(db *sql.DB) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

// 确保实现了接口
var _ CatalogRepository = (*PostgresCatalogRepository)(nil)

// ListRiskSubjects 全部标记为风险的客户名称
func (r *PostgresCatalogRepository) ListRiskSubjects(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM catalog_subjects
		WHERE risk = true
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subjects: %w", err)
	}

	return subjects, nil
}
