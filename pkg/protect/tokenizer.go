package protect

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TokenMapping 令牌与原始片段的对应关系
type TokenMapping struct {
	Token      string
	Span       Span
	FormatHint FormatHint
	// Components 日期分量（day/month/year/sep），仅日期提示且解析成功时存在
	Components map[string]string
	// Replacement 本体锚定片段的首选目标术语
	Replacement string
}

// TokenMap 一个文档的令牌映射，只能被还原一次
type TokenMap struct {
	mu       sync.Mutex
	cfg      TokenConfig
	mappings []TokenMapping
	index    map[string]int
	consumed bool
}

func newTokenMap(cfg TokenConfig, capacity int) *TokenMap {
	return &TokenMap{
		cfg:      cfg,
		mappings: make([]TokenMapping, 0, capacity),
		index:    make(map[string]int, capacity),
	}
}

func (tm *TokenMap) add(m TokenMapping) {
	tm.index[m.Token] = len(tm.mappings)
	tm.mappings = append(tm.mappings, m)
}

// Len 映射数量
func (tm *TokenMap) Len() int {
	return len(tm.mappings)
}

// Tokens 按分配顺序返回所有令牌
func (tm *TokenMap) Tokens() []string {
	out := make([]string, len(tm.mappings))
	for i, m := range tm.mappings {
		out[i] = m.Token
	}
	return out
}

// Mappings 返回映射副本
func (tm *TokenMap) Mappings() []TokenMapping {
	out := make([]TokenMapping, len(tm.mappings))
	copy(out, tm.mappings)
	return out
}

// Lookup 按令牌查找映射
func (tm *TokenMap) Lookup(token string) (TokenMapping, bool) {
	i, ok := tm.index[token]
	if !ok {
		return TokenMapping{}, false
	}
	return tm.mappings[i], true
}

// Config 生成令牌使用的配置
func (tm *TokenMap) Config() TokenConfig {
	return tm.cfg
}

// CountByType 按片段类型统计
func (tm *TokenMap) CountByType() []TypeCount {
	spans := make([]Span, len(tm.mappings))
	for i, m := range tm.mappings {
		spans[i] = m.Span
	}
	return countByType(spans)
}

// Consumed 是否已被还原过
func (tm *TokenMap) Consumed() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.consumed
}

// consume 标记为已使用；重复调用返回 TokenMapConsumed
func (tm *TokenMap) consume() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.consumed {
		return newError(KindTokenMapConsumed, "token map already restored")
	}
	tm.consumed = true
	return nil
}

// TokenizerOptions 分词器选项
type TokenizerOptions struct {
	Token TokenConfig
	// SourceDateOrder 源文档数值日期的分量顺序，默认 DMY
	SourceDateOrder DateOrder
}

// Tokenizer 单遍替换片段为令牌，并对结果做泄漏自检
type Tokenizer struct {
	catalog   *PatternCatalog
	cfg       TokenConfig
	dateOrder DateOrder
	logger    *zap.Logger
}

// NewTokenizer 创建分词器。catalog 同时用于令牌避让和泄漏自检。
func NewTokenizer(catalog *PatternCatalog, opts TokenizerOptions, logger *zap.Logger) (*Tokenizer, error) {
	cfg := opts.Token.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindInvalidInput, "token config: %v", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tokenizer{
		catalog:   catalog,
		cfg:       cfg,
		dateOrder: opts.SourceDateOrder,
		logger:    logger,
	}, nil
}

// region 令牌在分词文本中的位置（码点）
type region struct {
	start, end int
}

// Tokenize 按原始偏移一次遍历完成替换。spans 必须有序且互不重叠。
func (t *Tokenizer) Tokenize(text string, spans ResolvedSpanSet) (string, *TokenMap, error) {
	if strings.Contains(text, t.cfg.Prefix) {
		return "", nil, newError(KindTokenCollision, "document already contains the token prefix")
	}
	runes := []rune(text)
	if err := spans.Validate(len(runes)); err != nil {
		return "", nil, &Error{Kind: KindInvalidInput, Message: "resolved spans rejected", Cause: err}
	}

	gen := newTokenGenerator(t.cfg, t.catalog)
	tm := newTokenMap(t.cfg, len(spans))
	regions := make([]region, 0, len(spans))

	var b strings.Builder
	b.Grow(len(text))
	cursor, outLen := 0, 0
	for i, span := range spans {
		original := string(runes[span.Start:span.End])
		if span.Text != "" && span.Text != original {
			return "", nil, newError(KindInvalidInput, "span %d (%s) text does not match document offsets", i, span.Type)
		}
		token, err := gen.next()
		if err != nil {
			return "", nil, err
		}

		gap := runes[cursor:span.Start]
		b.WriteString(string(gap))
		outLen += len(gap)
		b.WriteString(token)
		tokenLen := len([]rune(token))
		regions = append(regions, region{start: outLen, end: outLen + tokenLen})
		outLen += tokenLen
		cursor = span.End

		span.Text = original
		tm.add(t.mapping(token, span))
	}
	b.WriteString(string(runes[cursor:]))
	tokenized := b.String()

	if err := t.verify([]rune(tokenized), regions); err != nil {
		return "", nil, err
	}

	t.logger.Debug("tokenized document",
		zap.Int("spans", len(spans)),
		zap.Int("tokens", tm.Len()))
	return tokenized, tm, nil
}

func (t *Tokenizer) mapping(token string, span Span) TokenMapping {
	m := TokenMapping{Token: token, Span: span, FormatHint: t.hintFor(span)}
	if m.FormatHint.IsDate() {
		if c, ok := parseDateComponents(span.Text, m.FormatHint); ok {
			m.Components = c
		}
	}
	if span.Category == CategoryAnchor {
		m.Replacement = span.TargetTerm
	}
	return m
}

// hintFor 片段自带提示优先，否则按类型决定
func (t *Tokenizer) hintFor(span Span) FormatHint {
	if span.FormatHint != "" {
		return span.FormatHint
	}
	switch span.Type {
	case TypeDate:
		return dateHint(t.dateOrder)
	case TypePhone, TypeFax:
		return FormatPhone
	case TypeName:
		return FormatName
	}
	return FormatNone
}

// verify 在分词结果上重新执行所有 redact 规则，令牌之外出现的匹配视为泄漏
func (t *Tokenizer) verify(runes []rune, regions []region) error {
	if t.catalog == nil {
		return nil
	}
	for _, rule := range t.catalog.rules {
		if rule.Category() != CategoryRedact {
			continue
		}
		var leak bool
		err := rule.scan(runes, 0, func(m match) int {
			start, end := m.valStart, m.valEnd
			if start == end {
				start, end = m.start, m.end
			}
			if start == end {
				return m.end
			}
			if tokEnd, hit := intersects(regions, start, end); hit {
				return tokEnd
			}
			leak = true
			return -1
		})
		if err != nil {
			return &Error{Kind: KindTokenLeakDetected, Message: "leak check incomplete for " + string(rule.Type()), Cause: err}
		}
		if leak {
			t.logger.Warn("token leak detected", zap.String("type", string(rule.Type())), zap.String("rule", rule.Name()))
			return newError(KindTokenLeakDetected, "%s pattern found outside tokens", rule.Type())
		}
	}
	return nil
}

// intersects 判断 [start,end) 是否与某个令牌区域相交，返回相交区域中最靠后的结束位置
func intersects(regions []region, start, end int) (int, bool) {
	last, hit := 0, false
	for _, r := range regions {
		if r.start >= end {
			break
		}
		if r.end > start {
			last, hit = r.end, true
		}
	}
	return last, hit
}
