package protect

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 流水线阶段名
const (
	stageDetect    = "detect"
	stageResolve   = "resolve"
	stageTokenize  = "tokenize"
	stageTranslate = "translate"
	stageRestore   = "restore"
	stageAudit     = "audit"
)

// Document 单个翻译请求。除 RawText 外的字段由流水线逐步填充。
type Document struct {
	ID         string
	RawText    string
	SourceLang string
	TargetLang string

	ResolvedSpans ResolvedSpanSet
	Rejections    []Rejection
	Reports       []DetectionReport
	TokenizedText string
	TokenMap      *TokenMap
	RewrittenText string
	RestoredText  string
}

// NewDocument 创建文档并分配 ID
func NewDocument(text, sourceLang, targetLang string) *Document {
	return &Document{
		ID:         uuid.New().String(),
		RawText:    text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}
}

// Degraded 是否有检测器降级
func (d *Document) Degraded() bool {
	return len(d.Reports) > 0
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	Catalog   *PatternCatalog
	Detectors []Detector
	Gateway   TranslationGateway
	AuditSink AuditSink

	Token           TokenConfig
	SourceDateOrder DateOrder
	Restore         RestoreOptions
	Retry           RetryPolicy

	Logger *zap.Logger
}

// Pipeline 单文档处理流水线。各阶段严格串行，可在多个 goroutine 中共享。
type Pipeline struct {
	detector  *SpanDetector
	resolver  *ConflictResolver
	tokenizer *Tokenizer
	gateway   TranslationGateway
	restorer  *Restorer
	auditor   *Auditor
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewPipeline 创建流水线。Detectors 为空时只使用规则检测器。
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Catalog == nil {
		return nil, newError(KindInvalidInput, "pattern catalog is required")
	}
	if cfg.Gateway == nil {
		return nil, newError(KindInvalidInput, "translation gateway is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	detectors := cfg.Detectors
	if len(detectors) == 0 {
		detectors = []Detector{NewRuleDetector(cfg.Catalog)}
	}
	tokenizer, err := NewTokenizer(cfg.Catalog, TokenizerOptions{
		Token:           cfg.Token,
		SourceDateOrder: cfg.SourceDateOrder,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		detector:  NewSpanDetector(logger, detectors...),
		resolver:  NewConflictResolver(logger),
		tokenizer: tokenizer,
		gateway:   cfg.Gateway,
		restorer:  NewRestorer(cfg.Restore, logger),
		auditor:   NewAuditor(cfg.AuditSink, logger),
		retry:     cfg.Retry.withDefaults(),
		logger:    logger,
	}, nil
}

// Auditor 返回流水线使用的审计记录器
func (p *Pipeline) Auditor() *Auditor {
	return p.auditor
}

// Process 处理一个文档：检测、消解、分词、翻译、还原。
// 任何致命错误都以 *Error 返回，此时 RestoredText 为空。
func (p *Pipeline) Process(ctx context.Context, doc *Document) (err error) {
	if doc == nil {
		return newError(KindInvalidInput, "document is nil")
	}
	log := p.begin(doc)
	defer p.fail(doc, log, &err)

	if err := p.protect(ctx, doc, log); err != nil {
		return err
	}

	if err := checkpoint(ctx, doc.ID, stageTranslate); err != nil {
		return err
	}
	rewritten, err := callGateway(ctx, p.gateway, p.retry, log, doc.TokenizedText, doc.SourceLang, doc.TargetLang)
	if err != nil {
		return withDocument(err, doc.ID, stageTranslate)
	}
	doc.RewrittenText = rewritten

	if err := checkpoint(ctx, doc.ID, stageRestore); err != nil {
		return err
	}
	tm := doc.TokenMap
	restored, err := p.restorer.Restore(rewritten, tm)
	if err != nil {
		return withDocument(err, doc.ID, stageRestore)
	}
	if err := p.auditor.RecordCounts(ctx, doc.ID, StageRestored, tm.CountByType()); err != nil {
		return withDocument(err, doc.ID, stageAudit)
	}
	doc.RestoredText = restored

	log.Info("document restored", zap.Int("tokens", tm.Len()))
	return nil
}

// Protect 只执行检测、消解与分词，不调用翻译后端，用于演练与检查
func (p *Pipeline) Protect(ctx context.Context, doc *Document) (err error) {
	if doc == nil {
		return newError(KindInvalidInput, "document is nil")
	}
	log := p.begin(doc)
	defer p.fail(doc, log, &err)
	return p.protect(ctx, doc, log)
}

func (p *Pipeline) begin(doc *Document) *zap.Logger {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	return p.logger.With(zap.String("document_id", doc.ID))
}

// fail 出错时清除可能含原文映射的输出
func (p *Pipeline) fail(doc *Document, log *zap.Logger, errp *error) {
	err := *errp
	if err == nil {
		return
	}
	doc.RestoredText = ""
	doc.TokenMap = nil
	if KindOf(err) == KindTokenLeakDetected {
		doc.TokenizedText = ""
	}
	log.Error("document failed",
		zap.String("kind", string(KindOf(err))),
		zap.String("stage", stageOf(err)))
}

func (p *Pipeline) protect(ctx context.Context, doc *Document, log *zap.Logger) error {
	if err := checkpoint(ctx, doc.ID, stageDetect); err != nil {
		return err
	}
	spans, reports := p.detector.Detect(ctx, doc.RawText)
	doc.Reports = reports
	for _, r := range reports {
		if err := p.auditor.RecordDegraded(ctx, doc.ID, r.Detector); err != nil {
			return withDocument(err, doc.ID, stageAudit)
		}
	}

	if err := checkpoint(ctx, doc.ID, stageResolve); err != nil {
		return err
	}
	doc.ResolvedSpans, doc.Rejections = p.resolver.Resolve(spans, len([]rune(doc.RawText)))
	if err := p.auditor.RecordCounts(ctx, doc.ID, StageDetected, doc.ResolvedSpans.CountByType()); err != nil {
		return withDocument(err, doc.ID, stageAudit)
	}
	log.Info("spans resolved",
		zap.Int("candidates", len(spans)),
		zap.Int("resolved", len(doc.ResolvedSpans)),
		zap.Int("degraded_detectors", len(reports)))

	if err := checkpoint(ctx, doc.ID, stageTokenize); err != nil {
		return err
	}
	tokenized, tm, err := p.tokenizer.Tokenize(doc.RawText, doc.ResolvedSpans)
	if err != nil {
		return withDocument(err, doc.ID, stageTokenize)
	}
	doc.TokenizedText, doc.TokenMap = tokenized, tm
	return nil
}

// checkpoint 阶段边界检查取消
func checkpoint(ctx context.Context, docID, stage string) error {
	if err := ctx.Err(); err != nil {
		return &Error{DocumentID: docID, Kind: KindCanceled, Stage: stage, Message: "document processing canceled", Cause: err}
	}
	return nil
}

func stageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
