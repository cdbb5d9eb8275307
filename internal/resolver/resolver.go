package resolver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BBrian11/reportes-sub000/internal/models"

	"go.uber.org/zap"
)

// PartialSourceUnavailableError 三个来源中的一或两个不可用
// 非致命：合并视图继续用可用来源产出，缺口由 Failed 标志暴露
type PartialSourceUnavailableError struct {
	Kind models.SourceKind
	Err  error
}

func (e *PartialSourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Kind, e.Err)
}

func (e *PartialSourceUnavailableError) Unwrap() error { return e.Err }

// MergedView 某客户的合并历史视图
// Ready 表示该来源至少上报过一次（成功或失败）；Failed 表示最近一次上报失败
type MergedView struct {
	SubjectKey string
	Records    map[int]models.HistoricalCameraRecord // 通道 → 胜出记录
	Ready      map[models.SourceKind]bool
	Failed     map[models.SourceKind]bool
}

// Channels 按通道号升序返回胜出记录（展示用）
func (v MergedView) Channels() []models.HistoricalCameraRecord {
	out := make([]models.HistoricalCameraRecord, 0, len(v.Records))
	for _, r := range v.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

type subjectState struct {
	records map[models.SourceKind]map[int]models.HistoricalCameraRecord
	ready   map[models.SourceKind]bool
	failed  map[models.SourceKind]bool
}

func newSubjectState() *subjectState {
	return &subjectState{
		records: make(map[models.SourceKind]map[int]models.HistoricalCameraRecord),
		ready:   make(map[models.SourceKind]bool),
		failed:  make(map[models.SourceKind]bool),
	}
}

// Resolver 三来源历史状态归并器
// 三条流各自异步到达；任一来源更新即重算该客户的合并视图并向 sink 重发，
// 不等待其余来源，缺席来源只降级不失败。
type Resolver struct {
	mu       sync.RWMutex
	subjects map[string]*subjectState

	sink   func(MergedView)
	logger *zap.Logger
}

// New 创建归并器；sink 为空时只维护内部状态不对外发布
func New(sink func(MergedView), logger *zap.Logger) *Resolver {
	if sink == nil {
		sink = func(MergedView) {}
	}
	return &Resolver{
		subjects: make(map[string]*subjectState),
		sink:     sink,
		logger:   logger,
	}
}

// Update 整体替换某客户某来源的记录集并重发合并视图
// FinalizedRound 来源的调用方只喂最近一次完成轮次的数据（见 repository.LatestFinalizedTanda）
func (r *Resolver) Update(subjectKey string, kind models.SourceKind, records []models.HistoricalCameraRecord) {
	r.mu.Lock()
	st := r.subject(subjectKey)

	byChannel := make(map[int]models.HistoricalCameraRecord, len(records))
	for _, rec := range records {
		if rec.Channel <= 0 {
			continue
		}
		rec.SubjectKey = subjectKey
		rec.Source = kind
		byChannel[rec.Channel] = rec
	}
	st.records[kind] = byChannel
	st.ready[kind] = true
	st.failed[kind] = false

	view := r.mergeLocked(subjectKey, st)
	r.mu.Unlock()

	r.sink(view)
}

// MarkFailed 标记某来源本次拉取失败
// 该来源仍视作已上报（不阻塞首个视图），合并继续使用其余来源
func (r *Resolver) MarkFailed(subjectKey string, kind models.SourceKind, cause error) {
	r.mu.Lock()
	st := r.subject(subjectKey)
	st.ready[kind] = true
	st.failed[kind] = true

	view := r.mergeLocked(subjectKey, st)
	r.mu.Unlock()

	r.logger.Warn("resolver source unavailable",
		zap.String("subject_key", subjectKey),
		zap.String("source", string(kind)),
		zap.Error(&PartialSourceUnavailableError{Kind: kind, Err: cause}),
	)
	r.sink(view)
}

// Resolve 单通道查询：按优先级返回胜出记录，没有则返回 nil
// 优先级：FinalizedRound > ManualNotation > PersistedIndex
func (r *Resolver) Resolve(subjectKey string, channel int) *models.HistoricalCameraRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.subjects[subjectKey]
	if !ok {
		return nil
	}
	for _, kind := range priorityOrder {
		if rec, ok := st.records[kind][channel]; ok {
			out := rec
			return &out
		}
	}
	return nil
}

// View 返回某客户的当前合并视图
func (r *Resolver) View(subjectKey string) MergedView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.subjects[subjectKey]
	if !ok {
		return MergedView{
			SubjectKey: subjectKey,
			Records:    map[int]models.HistoricalCameraRecord{},
			Ready:      map[models.SourceKind]bool{},
			Failed:     map[models.SourceKind]bool{},
		}
	}
	return r.mergeLocked(subjectKey, st)
}

// Forget 丢弃某客户的全部来源状态（客户移出轮次时）
func (r *Resolver) Forget(subjectKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subjects, subjectKey)
}

var priorityOrder = []models.SourceKind{
	models.SourceFinalizedRound,
	models.SourceManualNotation,
	models.SourcePersistedIndex,
}

func (r *Resolver) subject(key string) *subjectState {
	st, ok := r.subjects[key]
	if !ok {
		st = newSubjectState()
		r.subjects[key] = st
	}
	return st
}

// mergeLocked 确定性归并：逐通道取最高优先级来源的记录
// 调用方必须持有锁
func (r *Resolver) mergeLocked(subjectKey string, st *subjectState) MergedView {
	merged := make(map[int]models.HistoricalCameraRecord)
	// 低优先级先写，高优先级覆盖
	for i := len(priorityOrder) - 1; i >= 0; i-- {
		for ch, rec := range st.records[priorityOrder[i]] {
			merged[ch] = rec
		}
	}

	ready := make(map[models.SourceKind]bool, len(st.ready))
	for k, v := range st.ready {
		ready[k] = v
	}
	failed := make(map[models.SourceKind]bool, len(st.failed))
	for k, v := range st.failed {
		failed[k] = v
	}

	return MergedView{
		SubjectKey: subjectKey,
		Records:    merged,
		Ready:      ready,
		Failed:     failed,
	}
}
