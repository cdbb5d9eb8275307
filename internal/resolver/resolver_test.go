package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/BBrian11/reportes-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const subject = "EDIFICIO CENTRO"

func rec(channel int, status models.CameraStatus) models.HistoricalCameraRecord {
	return models.HistoricalCameraRecord{
		Channel:   channel,
		Status:    status,
		UpdatedAt: time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC),
	}
}

// 三个来源都有记录时返回 FinalizedRound，
// 移除后退到 ManualNotation，再退到 PersistedIndex
func TestResolve_PriorityOrder(t *testing.T) {
	r := New(nil, zap.NewNop())

	r.Update(subject, models.SourcePersistedIndex, []models.HistoricalCameraRecord{rec(5, models.StatusOK)})
	r.Update(subject, models.SourceManualNotation, []models.HistoricalCameraRecord{rec(5, models.StatusMedium)})
	r.Update(subject, models.SourceFinalizedRound, []models.HistoricalCameraRecord{rec(5, models.StatusSevere)})

	got := r.Resolve(subject, 5)
	require.NotNil(t, got)
	assert.Equal(t, models.SourceFinalizedRound, got.Source)
	assert.Equal(t, models.StatusSevere, got.Status)

	// 移除 FinalizedRound → ManualNotation 胜出
	r.Update(subject, models.SourceFinalizedRound, nil)
	got = r.Resolve(subject, 5)
	require.NotNil(t, got)
	assert.Equal(t, models.SourceManualNotation, got.Source)

	// 再移除 → PersistedIndex
	r.Update(subject, models.SourceManualNotation, nil)
	got = r.Resolve(subject, 5)
	require.NotNil(t, got)
	assert.Equal(t, models.SourcePersistedIndex, got.Source)

	r.Update(subject, models.SourcePersistedIndex, nil)
	assert.Nil(t, r.Resolve(subject, 5))
}

func TestResolve_UnknownSubject(t *testing.T) {
	r := New(nil, zap.NewNop())
	assert.Nil(t, r.Resolve("NADIE", 1))
}

func TestUpdate_EmitsViewPerSourceArrival(t *testing.T) {
	var views []MergedView
	r := New(func(v MergedView) { views = append(views, v) }, zap.NewNop())

	// 第一个来源到达即产出视图，不等其余两个
	r.Update(subject, models.SourcePersistedIndex, []models.HistoricalCameraRecord{rec(1, models.StatusOK)})
	require.Len(t, views, 1)
	assert.True(t, views[0].Ready[models.SourcePersistedIndex])
	assert.False(t, views[0].Ready[models.SourceFinalizedRound])
	assert.Len(t, views[0].Records, 1)

	// 后续来源到达各自触发一次重算
	r.Update(subject, models.SourceManualNotation, []models.HistoricalCameraRecord{rec(2, models.StatusMedium)})
	require.Len(t, views, 2)
	assert.Len(t, views[1].Records, 2)
}

func TestMarkFailed_PartialFailureSemantics(t *testing.T) {
	var views []MergedView
	r := New(func(v MergedView) { views = append(views, v) }, zap.NewNop())

	r.Update(subject, models.SourcePersistedIndex, []models.HistoricalCameraRecord{rec(3, models.StatusMedium)})
	r.MarkFailed(subject, models.SourceFinalizedRound, errors.New("query timeout"))

	// 失败来源计入 Ready（不阻塞首个视图）并打 Failed 标志
	last := views[len(views)-1]
	assert.True(t, last.Ready[models.SourceFinalizedRound])
	assert.True(t, last.Failed[models.SourceFinalizedRound])
	assert.False(t, last.Failed[models.SourcePersistedIndex])

	// 可用来源的数据仍然产出
	got := r.Resolve(subject, 3)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusMedium, got.Status)

	// 来源恢复后清除失败标志
	r.Update(subject, models.SourceFinalizedRound, []models.HistoricalCameraRecord{rec(3, models.StatusSevere)})
	last = views[len(views)-1]
	assert.False(t, last.Failed[models.SourceFinalizedRound])
	assert.Equal(t, models.StatusSevere, r.Resolve(subject, 3).Status)
}

func TestMerge_Deterministic(t *testing.T) {
	r1 := New(nil, zap.NewNop())
	r2 := New(nil, zap.NewNop())

	finalized := []models.HistoricalCameraRecord{rec(1, models.StatusOK), rec(2, models.StatusSevere)}
	notations := []models.HistoricalCameraRecord{rec(2, models.StatusMedium), rec(3, models.StatusOK)}
	index := []models.HistoricalCameraRecord{rec(1, models.StatusMedium), rec(4, models.StatusSevere)}

	// 到达顺序不同，结果必须一致
	r1.Update(subject, models.SourceFinalizedRound, finalized)
	r1.Update(subject, models.SourceManualNotation, notations)
	r1.Update(subject, models.SourcePersistedIndex, index)

	r2.Update(subject, models.SourcePersistedIndex, index)
	r2.Update(subject, models.SourceFinalizedRound, finalized)
	r2.Update(subject, models.SourceManualNotation, notations)

	v1, v2 := r1.View(subject), r2.View(subject)
	assert.Equal(t, v1.Records, v2.Records)

	// 逐通道优先级
	assert.Equal(t, models.SourceFinalizedRound, v1.Records[1].Source)
	assert.Equal(t, models.SourceFinalizedRound, v1.Records[2].Source)
	assert.Equal(t, models.SourceManualNotation, v1.Records[3].Source)
	assert.Equal(t, models.SourcePersistedIndex, v1.Records[4].Source)
}

func TestChannels_SortedByChannel(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.Update(subject, models.SourcePersistedIndex, []models.HistoricalCameraRecord{
		rec(9, models.StatusOK), rec(2, models.StatusSevere), rec(5, models.StatusMedium),
	})

	out := r.View(subject).Channels()
	require.Len(t, out, 3)
	assert.Equal(t, []int{2, 5, 9}, []int{out[0].Channel, out[1].Channel, out[2].Channel})
}

func TestUpdate_IgnoresNonPositiveChannels(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.Update(subject, models.SourceManualNotation, []models.HistoricalCameraRecord{
		rec(0, models.StatusSevere), // 文本解析不出通道号的手工记录
		rec(7, models.StatusMedium),
	})

	v := r.View(subject)
	assert.Len(t, v.Records, 1)
	assert.Nil(t, r.Resolve(subject, 0))
}

func TestForget(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.Update(subject, models.SourcePersistedIndex, []models.HistoricalCameraRecord{rec(1, models.StatusOK)})
	require.NotNil(t, r.Resolve(subject, 1))

	r.Forget(subject)
	assert.Nil(t, r.Resolve(subject, 1))
}
