package protect

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Detector 候选片段检测器
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Span, error)
}

// RuleDetector 应用规则目录中的全部规则
type RuleDetector struct {
	catalog *PatternCatalog
}

// NewRuleDetector 创建规则检测器
func NewRuleDetector(catalog *PatternCatalog) *RuleDetector {
	return &RuleDetector{catalog: catalog}
}

// Name 检测器名称
func (d *RuleDetector) Name() string { return "rules" }

// Detect 每条规则独立扫描全文，同一规则的匹配互不重叠
func (d *RuleDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	runes := []rune(text)
	var spans []Span
	for _, rule := range d.catalog.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := rule.scan(runes, 0, func(m match) int {
			if m.valEnd > m.valStart {
				spans = append(spans, Span{
					Type:       rule.Type(),
					Text:       m.value,
					Start:      m.valStart,
					End:        m.valEnd,
					Confidence: rule.Confidence(),
					Source:     SourceRule,
					Category:   rule.Category(),
					Priority:   rule.Priority(),
					FormatHint: rule.FormatHint(),
				})
			}
			return m.end
		})
		if err != nil {
			return nil, err
		}
	}
	return spans, nil
}

// DefaultMinEntityConfidence 实体识别的默认最低置信度
const DefaultMinEntityConfidence = 0.5

// EntityDetector 将实体识别结果映射为片段
type EntityDetector struct {
	name          string
	recognizer    EntityRecognizer
	minConfidence float64
}

// NewEntityDetector 创建实体检测器。minConfidence 为 0 时使用默认值。
func NewEntityDetector(name string, recognizer EntityRecognizer, minConfidence float64) *EntityDetector {
	if minConfidence <= 0 {
		minConfidence = DefaultMinEntityConfidence
	}
	if name == "" {
		name = "entities"
	}
	return &EntityDetector{name: name, recognizer: recognizer, minConfidence: minConfidence}
}

// Name 检测器名称
func (d *EntityDetector) Name() string { return d.name }

// Detect 偏移量与文本不一致的实体被丢弃
func (d *EntityDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	entities, err := d.recognizer.Recognize(ctx, text)
	if err != nil {
		return nil, err
	}
	runes := []rune(text)
	spans := make([]Span, 0, len(entities))
	for _, e := range entities {
		if e.Confidence < d.minConfidence || e.Confidence > 1 {
			continue
		}
		if e.Start < 0 || e.End > len(runes) || e.Start >= e.End {
			continue
		}
		if string(runes[e.Start:e.End]) != e.Text {
			continue
		}
		t := MapEntityLabel(e.Label)
		spans = append(spans, Span{
			Type:       t,
			Text:       e.Text,
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
			Source:     SourceModel,
			Category:   CategoryRedact,
			Priority:   TypePriority(t),
		})
	}
	return spans, nil
}

// MapEntityLabel 将识别器标签映射到 NAME/LOCATION/ORGANIZATION/MISC
func MapEntityLabel(label string) Type {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PER", "PERSON", "NAME":
		return TypeName
	case "LOC", "LOCATION", "GPE":
		return TypeLocation
	case "ORG", "ORGANIZATION":
		return TypeOrganization
	}
	return TypeMisc
}

// DefaultTerminologyConfidence 术语片段的默认置信度，低于确定性规则
const DefaultTerminologyConfidence = 0.4

// TerminologyDetector 按词 n-gram 查询本体，命中的术语作为锚定片段
type TerminologyDetector struct {
	lookup     OntologyLookup
	lang       string
	maxWords   int
	confidence float64
}

// NewTerminologyDetector 创建术语检测器
func NewTerminologyDetector(lookup OntologyLookup, lang string, maxWords int) *TerminologyDetector {
	if maxWords <= 0 {
		maxWords = 4
	}
	return &TerminologyDetector{
		lookup:     lookup,
		lang:       lang,
		maxWords:   maxWords,
		confidence: DefaultTerminologyConfidence,
	}
}

// Name 检测器名称
func (d *TerminologyDetector) Name() string { return "terminology" }

// Detect 从每个词开始优先尝试最长的短语，命中后跳过已覆盖的词
func (d *TerminologyDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	runes := []rune(text)
	words := wordRanges(runes)
	var spans []Span
	for i := 0; i < len(words); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := d.maxWords
		if rest := len(words) - i; rest < n {
			n = rest
		}
		matched := 0
		for ; n > 0; n-- {
			start, end := words[i].start, words[i+n-1].end
			term := string(runes[start:end])
			concept, ok, err := d.lookup.Lookup(ctx, term, d.lang)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			spans = append(spans, Span{
				Type:       TypeMedicalTerm,
				Text:       term,
				Start:      start,
				End:        end,
				Confidence: d.confidence,
				Source:     SourceOntology,
				Category:   CategoryAnchor,
				Priority:   TypePriority(TypeMedicalTerm),
				ConceptID:  concept.ID,
				TargetTerm: concept.PreferredTerm,
			})
			matched = n
			break
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return spans, nil
}

// wordRanges 切分词语；词内允许连字符与撇号
func wordRanges(runes []rune) []region {
	var out []region
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	for i := 0; i < len(runes); {
		if !isWord(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) {
			if isWord(runes[i]) {
				i++
				continue
			}
			if (runes[i] == '-' || runes[i] == '\'') && i+1 < len(runes) && isWord(runes[i+1]) {
				i++
				continue
			}
			break
		}
		out = append(out, region{start: start, end: i})
	}
	return out
}

// DetectionReport 检测器降级报告，不含原文内容
type DetectionReport struct {
	Detector string
	Kind     Kind
	Err      error
}

// SpanDetector 并行运行各检测器并拼接结果
type SpanDetector struct {
	detectors []Detector
	logger    *zap.Logger
}

// NewSpanDetector 创建组合检测器
func NewSpanDetector(logger *zap.Logger, detectors ...Detector) *SpanDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanDetector{detectors: detectors, logger: logger}
}

// Detectors 返回检测器名称
func (d *SpanDetector) Detectors() []string {
	names := make([]string, len(d.detectors))
	for i, det := range d.detectors {
		names[i] = det.Name()
	}
	return names
}

// Detect 单个检测器出错或 panic 只会让它的输出为空，并产生一条降级报告。
// 输出按检测器注册顺序拼接。
func (d *SpanDetector) Detect(ctx context.Context, text string) ([]Span, []DetectionReport) {
	outputs := make([][]Span, len(d.detectors))
	failures := make([]error, len(d.detectors))

	var g errgroup.Group
	for i, det := range d.detectors {
		g.Go(func() error {
			outputs[i], failures[i] = runDetector(ctx, det, text)
			return nil
		})
	}
	_ = g.Wait()

	var spans []Span
	var reports []DetectionReport
	for i, det := range d.detectors {
		if failures[i] != nil {
			d.logger.Warn("detector degraded",
				zap.String("detector", det.Name()),
				zap.String("kind", string(KindDetectionDegraded)))
			reports = append(reports, DetectionReport{
				Detector: det.Name(),
				Kind:     KindDetectionDegraded,
				Err:      failures[i],
			})
			continue
		}
		d.logger.Debug("detector finished",
			zap.String("detector", det.Name()),
			zap.Int("spans", len(outputs[i])))
		spans = append(spans, outputs[i]...)
	}
	return spans, reports
}

func runDetector(ctx context.Context, det Detector, text string) (spans []Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			// 只保留运行时错误信息，自定义 panic 值可能带有原文
			if rerr, ok := r.(runtime.Error); ok {
				spans, err = nil, fmt.Errorf("detector %s panicked: %v", det.Name(), rerr)
			} else {
				spans, err = nil, fmt.Errorf("detector %s panicked", det.Name())
			}
		}
	}()
	out, err := det.Detect(ctx, text)
	if err != nil {
		return nil, err
	}
	// 返回副本
	cp := make([]Span, len(out))
	copy(cp, out)
	return cp, nil
}
