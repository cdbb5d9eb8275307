package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/BBrian11/reportes-sub000/internal/models"
	"github.com/BBrian11/reportes-sub000/internal/session"
)

// RedisIndexRepository 跨轮次历史状态索引
// 每个客户一个 Hash：field 为通道号，value 为该通道最近已知状态的 JSON
type RedisIndexRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIndexRepository 创建索引Repository
func NewRedisIndexRepository(client *redis.Client, keyPrefix string) *RedisIndexRepository {
	return &RedisIndexRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// 确保满足会话层的索引写入边界
var _ session.IndexWriter = (*RedisIndexRepository)(nil)

// indexEntry Hash value 的持久化形态
type indexEntry struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	RoundID   string    `json:"round_id,omitempty"`
}

// Upsert 按 (subjectKey, channel) 合并写入，不删除无关通道
func (r *RedisIndexRepository) Upsert(ctx context.Context, rec models.HistoricalCameraRecord) error {
	if rec.SubjectKey == "" || rec.Channel <= 0 {
		return fmt.Errorf("invalid index record: subject=%q channel=%d", rec.SubjectKey, rec.Channel)
	}

	entry := indexEntry{
		Status:    string(rec.Status),
		Note:      rec.Note,
		UpdatedAt: rec.UpdatedAt,
		RoundID:   rec.RoundID,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal index entry: %w", err)
	}

	key := r.key(rec.SubjectKey)
	if err := r.client.HSet(ctx, key, strconv.Itoa(rec.Channel), data).Err(); err != nil {
		return fmt.Errorf("failed to upsert index entry: %w", err)
	}

	return nil
}

// GetSubject 某客户全部通道的索引记录，按通道号升序
func (r *RedisIndexRepository) GetSubject(ctx context.Context, subjectKey string) ([]models.HistoricalCameraRecord, error) {
	if subjectKey == "" {
		return nil, nil
	}

	fields, err := r.client.HGetAll(ctx, r.key(subjectKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index for %s: %w", subjectKey, err)
	}

	var records []models.HistoricalCameraRecord
	for field, raw := range fields {
		channel, err := strconv.Atoi(field)
		if err != nil || channel <= 0 {
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// 坏条目跳过，不让单条数据拖垮整个客户
			continue
		}
		records = append(records, models.HistoricalCameraRecord{
			SubjectKey: subjectKey,
			Channel:    channel,
			Status:     models.CameraStatus(entry.Status),
			Note:       entry.Note,
			UpdatedAt:  entry.UpdatedAt,
			Source:     models.SourcePersistedIndex,
			RoundID:    entry.RoundID,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Channel < records[j].Channel
	})

	return records, nil
}

// DeleteSubject 删除某客户的全部索引记录
func (r *RedisIndexRepository) DeleteSubject(ctx context.Context, subjectKey string) error {
	if subjectKey == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.key(subjectKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete index for %s: %w", subjectKey, err)
	}
	return nil
}

func (r *RedisIndexRepository) key(subjectKey string) string {
	return r.keyPrefix + subjectKey
}
