package protect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stage 审计阶段
type Stage string

const (
	StageDetected Stage = "detected"
	StageRestored Stage = "restored"
	StageDegraded Stage = "degraded"
)

// AuditRecord 审计记录，只有类型与计数，永远不含片段文本
type AuditRecord struct {
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	SpanType   Type      `json:"span_type,omitempty"`
	Count      int       `json:"count"`
	Detector   string    `json:"detector,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditSink 只追加的审计存储
type AuditSink interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// Auditor 审计记录器
type Auditor struct {
	sink   AuditSink
	now    func() time.Time
	logger *zap.Logger
}

// NewAuditor 创建审计记录器。sink 为 nil 时记录被丢弃。
func NewAuditor(sink AuditSink, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{sink: sink, now: time.Now, logger: logger}
}

// WithClock 替换时钟，用于测试
func (a *Auditor) WithClock(now func() time.Time) *Auditor {
	a.now = now
	return a
}

// Record 记录某类片段的数量
func (a *Auditor) Record(ctx context.Context, docID string, stage Stage, spanType Type, count int) error {
	return a.append(ctx, AuditRecord{
		DocumentID: docID,
		Stage:      stage,
		SpanType:   spanType,
		Count:      count,
	})
}

// RecordCounts 按类型批量记录
func (a *Auditor) RecordCounts(ctx context.Context, docID string, stage Stage, counts []TypeCount) error {
	for _, c := range counts {
		if err := a.Record(ctx, docID, stage, c.Type, c.Count); err != nil {
			return err
		}
	}
	return nil
}

// RecordDegraded 记录检测器降级
func (a *Auditor) RecordDegraded(ctx context.Context, docID, detector string) error {
	return a.append(ctx, AuditRecord{
		DocumentID: docID,
		Stage:      StageDegraded,
		Count:      1,
		Detector:   detector,
	})
}

func (a *Auditor) append(ctx context.Context, rec AuditRecord) error {
	if a.sink == nil {
		return nil
	}
	rec.Timestamp = a.now().UTC()
	if err := a.sink.Append(ctx, rec); err != nil {
		a.logger.Error("audit append failed",
			zap.String("document_id", rec.DocumentID),
			zap.String("stage", string(rec.Stage)),
			zap.Error(err))
		return &Error{Kind: KindAuditUnavailable, Message: "audit sink rejected record", Cause: err}
	}
	return nil
}

// MemorySink 内存审计存储
type MemorySink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemorySink 创建内存审计存储
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append 追加记录
func (s *MemorySink) Append(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records 返回记录副本
func (s *MemorySink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}
