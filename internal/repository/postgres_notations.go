package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BBrian11/reportes-sub000/internal/models"
)

// PostgresNotationsRepository 手工记录Repository实现
type PostgresNotationsRepository struct {
	db *sql.DB
}

// NewPostgresNotationsRepository 创建手工记录Repository
func NewPostgresNotationsRepository(db *sql.DB) *PostgresNotationsRepository {
	return &PostgresNotationsRepository{db: db}
}

// 确保实现了接口
var _ NotationsRepository = (*PostgresNotationsRepository)(nil)

// CreateNotation 写入一条手工记录
func (r *PostgresNotationsRepository) CreateNotation(ctx context.Context, notation *models.Notation) error {
	if notation == nil || notation.ID == "" {
		return fmt.Errorf("invalid notation")
	}

	query := `
		INSERT INTO notations (
			notation_id, subject_key, channel, event, text, round_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		notation.ID,
		notation.SubjectKey,
		notation.Channel,
		notation.Event,
		notation.Text,
		nullString(notation.RoundID),
		string(notation.Status),
		notation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notation: %w", err)
	}

	return nil
}

// ListRecent 某客户最近的手工记录
func (r *PostgresNotationsRepository) ListRecent(ctx context.Context, subjectKey string, limit int) ([]models.Notation, error) {
	if subjectKey == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			notation_id::text,
			subject_key,
			channel,
			event,
			text,
			round_id,
			status,
			created_at
		FROM notations
		WHERE subject_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, subjectKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notations: %w", err)
	}
	defer rows.Close()

	var notations []models.Notation
	for rows.Next() {
		var n models.Notation
		var roundID sql.NullString
		var status string

		err := rows.Scan(
			&n.ID,
			&n.SubjectKey,
			&n.Channel,
			&n.Event,
			&n.Text,
			&roundID,
			&status,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notation: %w", err)
		}

		if roundID.Valid {
			n.RoundID = roundID.String
		}
		n.Status = models.CameraStatus(status)
		notations = append(notations, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notations: %w", err)
	}

	return notations, nil
}

// LatestRecords 某客户每个通道最新一条手工记录
func (r *PostgresNotationsRepository) LatestRecords(ctx context.Context, subjectKey string, limit int) ([]models.HistoricalCameraRecord, error) {
	notations, err := r.ListRecent(ctx, subjectKey, limit)
	if err != nil {
		return nil, err
	}

	// 倒序遍历，每个通道只保留首次出现的（即最新一条）
	seen := make(map[int]bool)
	var records []models.HistoricalCameraRecord
	for _, n := range notations {
		channel := n.Channel
		if channel <= 0 {
			channel = models.ChannelFromText(n.Text)
		}
		if channel <= 0 || seen[channel] {
			continue
		}
		seen[channel] = true

		note := n.Text
		if note == "" {
			note = n.Event
		}
		records = append(records, models.HistoricalCameraRecord{
			SubjectKey: subjectKey,
			Channel:    channel,
			Status:     n.Status,
			Note:       note,
			UpdatedAt:  n.CreatedAt,
			Source:     models.SourceManualNotation,
			RoundID:    n.RoundID,
		})
	}

	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
