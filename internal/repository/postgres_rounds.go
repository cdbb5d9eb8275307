package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/BBrian11/reportes-sub000/internal/models"
)

// PostgresRoundsRepository 巡检轮次Repository实现（强类型版本）
type PostgresRoundsRepository struct {
	db *sql.DB
}

// NewPostgresRoundsRepository 创建巡检轮次Repository
func NewPostgresRoundsRepository(db *sql.DB) *PostgresRoundsRepository {
	return &PostgresRoundsRepository{db: db}
}

// 确保实现了接口
var _ RoundsRepository = (*PostgresRoundsRepository)(nil)

// CreateRound 创建轮次记录
func (r *PostgresRoundsRepository) CreateRound(ctx context.Context, round *models.Round) error {
	if round == nil || round.RoundID == "" {
		return fmt.Errorf("invalid round")
	}

	tandasJSON, pausesJSON, err := marshalRoundBlobs(round)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rounds (
			round_id, operator, shift, status,
			start_time, end_time,
			tandas, pauses, subject_keys,
			highlights, observations,
			total_paused_ms, duration_ms,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		round.RoundID,
		round.Operator,
		round.Shift,
		string(round.Status),
		round.StartTime,
		round.EndTime,
		tandasJSON,
		pausesJSON,
		pq.Array(round.SubjectKeys()),
		round.Highlights,
		round.Observations,
		round.TotalPausedMs,
		round.DurationMs,
		round.CreatedAt,
		round.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}

	return nil
}

// UpdateSnapshot 覆盖写入轮次快照
func (r *PostgresRoundsRepository) UpdateSnapshot(ctx context.Context, round *models.Round) error {
	if round == nil || round.RoundID == "" {
		return fmt.Errorf("invalid round")
	}

	tandasJSON, pausesJSON, err := marshalRoundBlobs(round)
	if err != nil {
		return err
	}

	query := `
		UPDATE rounds SET
			status = $2,
			start_time = $3,
			end_time = $4,
			tandas = $5,
			pauses = $6,
			subject_keys = $7,
			highlights = $8,
			observations = $9,
			total_paused_ms = $10,
			duration_ms = $11,
			updated_at = $12
		WHERE round_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		round.RoundID,
		string(round.Status),
		round.StartTime,
		round.EndTime,
		tandasJSON,
		pausesJSON,
		pq.Array(round.SubjectKeys()),
		round.Highlights,
		round.Observations,
		round.TotalPausedMs,
		round.DurationMs,
		round.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update round snapshot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		// 快照可能先于 CreateRound 到达（自动保存竞争），退化为插入
		return r.CreateRound(ctx, round)
	}

	return nil
}

// FinalizeRound 写入完成态轮次记录
// 完成态快照和进行中快照字段一致，区别只在 status/end_time，复用 UpdateSnapshot
func (r *PostgresRoundsRepository) FinalizeRound(ctx context.Context, round *models.Round) error {
	if round == nil {
		return fmt.Errorf("invalid round")
	}
	if round.Status != models.RoundCompleted {
		return fmt.Errorf("round %s is not completed: %s", round.RoundID, round.Status)
	}
	return r.UpdateSnapshot(ctx, round)
}

// GetRound 按 ID 获取轮次
func (r *PostgresRoundsRepository) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	if roundID == "" {
		return nil, sql.ErrNoRows
	}

	query := selectRoundColumns + ` WHERE round_id = $1`

	round, err := scanRound(r.db.QueryRowContext(ctx, query, roundID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("round not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}

	return round, nil
}

// GetActiveRound 获取操作员当前进行中的轮次
func (r *PostgresRoundsRepository) GetActiveRound(ctx context.Context, operator string) (*models.Round, error) {
	if operator == "" {
		return nil, nil
	}

	query := selectRoundColumns + `
		WHERE operator = $1 AND status IN ('planned', 'running', 'paused')
		ORDER BY updated_at DESC
		LIMIT 1
	`

	round, err := scanRound(r.db.QueryRowContext(ctx, query, operator))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}

	return round, nil
}

// LatestFinalizedRecords 最近一次已完成轮次中该客户的摄像头记录
func (r *PostgresRoundsRepository) LatestFinalizedRecords(ctx context.Context, subjectKey string) ([]models.HistoricalCameraRecord, error) {
	if subjectKey == "" {
		return nil, nil
	}

	query := selectRoundColumns + `
		WHERE status = 'completed' AND $1 = ANY(subject_keys)
		ORDER BY end_time DESC NULLS LAST
		LIMIT 1
	`

	round, err := scanRound(r.db.QueryRowContext(ctx, query, subjectKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest finalized round: %w", err)
	}

	return finalizedRecords(round, subjectKey), nil
}

// finalizedRecords 从完成态轮次中提取某客户的摄像头记录
// 只保留有内容的条目：状态已设置或有备注
func finalizedRecords(round *models.Round, subjectKey string) []models.HistoricalCameraRecord {
	var records []models.HistoricalCameraRecord
	ts := round.UpdatedAt
	if round.EndTime != nil {
		ts = *round.EndTime
	}

	for _, tanda := range round.Tandas {
		if models.NormalizeSubject(tanda.Subject) != subjectKey {
			continue
		}
		for _, cam := range tanda.Cameras {
			if !cam.Status.IsSet() && cam.Note == "" {
				continue
			}
			if cam.Channel <= 0 {
				continue
			}
			records = append(records, models.HistoricalCameraRecord{
				SubjectKey: subjectKey,
				Channel:    cam.Channel,
				Status:     cam.Status,
				Note:       cam.Note,
				UpdatedAt:  ts,
				Source:     models.SourceFinalizedRound,
				RoundID:    round.RoundID,
			})
		}
	}

	return records
}

const selectRoundColumns = `
	SELECT
		round_id::text,
		operator,
		shift,
		status,
		start_time,
		end_time,
		tandas,
		pauses,
		highlights,
		observations,
		total_paused_ms,
		duration_ms,
		created_at,
		updated_at
	FROM rounds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*models.Round, error) {
	var round models.Round
	var status string
	var startTime, endTime sql.NullTime
	var tandasJSON, pausesJSON []byte
	var highlights, observations sql.NullString

	err := row.Scan(
		&round.RoundID,
		&round.Operator,
		&round.Shift,
		&status,
		&startTime,
		&endTime,
		&tandasJSON,
		&pausesJSON,
		&highlights,
		&observations,
		&round.TotalPausedMs,
		&round.DurationMs,
		&round.CreatedAt,
		&round.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	round.Status = models.RoundStatus(status)
	if startTime.Valid {
		t := startTime.Time
		round.StartTime = &t
	}
	if endTime.Valid {
		t := endTime.Time
		round.EndTime = &t
	}
	if highlights.Valid {
		round.Highlights = highlights.String
	}
	if observations.Valid {
		round.Observations = observations.String
	}

	if len(tandasJSON) > 0 {
		if err := json.Unmarshal(tandasJSON, &round.Tandas); err != nil {
			return nil, fmt.Errorf("failed to parse tandas: %w", err)
		}
	}
	if len(pausesJSON) > 0 {
		if err := json.Unmarshal(pausesJSON, &round.Pauses); err != nil {
			return nil, fmt.Errorf("failed to parse pauses: %w", err)
		}
	}

	return &round, nil
}

func marshalRoundBlobs(round *models.Round) (tandas, pauses []byte, err error) {
	tandas, err = json.Marshal(round.Tandas)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal tandas: %w", err)
	}
	pauses, err = json.Marshal(round.Pauses)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal pauses: %w", err)
	}
	return tandas, pauses, nil
}
